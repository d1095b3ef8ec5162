package shell

import "strings"

// Placeholders recognized by Interpolate.
const (
	VarProfile          = "PROFILE"
	VarRemoteProjectDir = "REMOTE_PROJECT_DIR"
	VarRemoteEnvFile    = "REMOTE_ENV_FILE"
	VarRemoteLogPath    = "REMOTE_LOG_PATH"
	VarRemoteStatusFile = "REMOTE_STATUS_FILE"
)

// Interpolate replaces every ${NAME} in template whose NAME is a key of
// vars. Unknown placeholders and all other text are left untouched.
// Substituted values are not rescanned.
func Interpolate(template string, vars map[string]string) string {
	if len(vars) == 0 || !strings.Contains(template, "${") {
		return template
	}
	var b strings.Builder
	rest := template
	for {
		start := strings.Index(rest, "${")
		if start < 0 {
			b.WriteString(rest)
			break
		}
		end := strings.IndexByte(rest[start+2:], '}')
		if end < 0 {
			b.WriteString(rest)
			break
		}
		name := rest[start+2 : start+2+end]
		v, ok := vars[name]
		if !ok {
			// The next placeholder may start inside this span.
			b.WriteString(rest[:start+2])
			rest = rest[start+2:]
			continue
		}
		b.WriteString(rest[:start])
		b.WriteString(v)
		rest = rest[start+2+end+1:]
	}
	return b.String()
}
