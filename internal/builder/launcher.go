package builder

import (
	"context"
	"encoding/base64"
	"fmt"
	"strings"

	"mvdan.cc/sh/v3/syntax"

	"github.com/antonkrylov/htzbuild/internal/console"
	"github.com/antonkrylov/htzbuild/internal/shell"
)

const envHeredocTag = "HTZBUILD_ENV_EOF"

// LaunchPlan is everything rendered into the remote launch script.
type LaunchPlan struct {
	Profile         string
	Layout          Layout
	EnvScript       []string
	ExpoToken       string
	InstallCommand  string
	BuildCommand    string
	OutputFile      string
	ShutdownMinutes int
}

// RenderLaunchScript produces the script that prepares the server and
// starts the build in the background. Every interpolated value passes
// through shell.Quote; the result is parsed locally before use.
func RenderLaunchScript(p LaunchPlan) (string, error) {
	for _, line := range p.EnvScript {
		if strings.TrimSpace(line) == envHeredocTag {
			return "", fmt.Errorf("%w: envScript may not contain the line %q", ErrConfig, envHeredocTag)
		}
	}
	if strings.TrimSpace(p.BuildCommand) == "" {
		return "", fmt.Errorf("%w: buildCommand is empty", ErrConfig)
	}

	inner := renderInner(p)
	if err := checkSyntax(inner, "build"); err != nil {
		return "", err
	}

	env := shell.Quote(p.Layout.EnvFile)
	project := shell.Quote(p.Layout.ProjectDir)
	var b strings.Builder
	w := func(format string, args ...any) { fmt.Fprintf(&b, format+"\n", args...) }

	w("shutdown -h +%d >/dev/null 2>&1 || true", p.ShutdownMinutes)
	w("set -e")
	w("")
	w("cat > %s <<'%s'", env, envHeredocTag)
	for _, line := range p.EnvScript {
		w("%s", line)
	}
	w("%s", envHeredocTag)
	w("")
	if p.ExpoToken != "" {
		encoded := base64.StdEncoding.EncodeToString([]byte(p.ExpoToken))
		w("echo %s", shell.Quote(fmt.Sprintf("Adding EXPO_TOKEN: YES (%d chars)", len(p.ExpoToken))))
		line := fmt.Sprintf(`export EXPO_TOKEN="$(printf '%%s' %s | base64 -d)"`, shell.Quote(encoded))
		w("printf '%%s\\n' %s >> %s", shell.Quote(line), env)
	} else {
		w("echo 'Adding EXPO_TOKEN: NO'")
	}
	w("printf '%%s\\n' %s >> %s", shell.Quote("export PROFILE="+shell.Quote(p.Profile)), env)
	w("rm -f %s", shell.Quote(p.Layout.StatusFile))
	w("")
	w("cd %s", project)
	w("git config --global --add safe.directory %s", project)
	w("git config --global user.email 'build@localhost'")
	w("git config --global user.name 'EAS Builder'")
	w("git init -q")
	w("git add -A")
	w("git commit -q --allow-empty -m 'Build commit'")
	w("")
	w("nohup bash -c %s > %s 2>&1 < /dev/null &", shell.Quote(inner), shell.Quote(p.Layout.LogPath))
	w("echo 'Build started in background'")

	script := b.String()
	if err := checkSyntax(script, "launch"); err != nil {
		return "", err
	}
	return script, nil
}

func renderInner(p LaunchPlan) string {
	var b strings.Builder
	w := func(format string, args ...any) { fmt.Fprintf(&b, format+"\n", args...) }
	w("source %s", shell.Quote(p.Layout.EnvFile))
	w(`if [ -n "${EXPO_TOKEN:-}" ]; then echo 'EXPO_TOKEN: set'; else echo 'EXPO_TOKEN: not set'; fi`)
	w(`echo "PROFILE: $PROFILE"`)
	w("set -e")
	w("cd %s", shell.Quote(p.Layout.ProjectDir))
	if strings.TrimSpace(p.InstallCommand) != "" {
		w("echo 'Installing dependencies...'")
		w("%s", p.InstallCommand)
	}
	w("echo 'Running build...'")
	w("export OUTPUT_FILE=%s", shell.Quote(p.OutputFile))
	w("%s", p.BuildCommand)
	w("echo BUILD_COMPLETE > %s", shell.Quote(p.Layout.StatusFile))
	return b.String()
}

// checkSyntax parses script as bash. The configurable fragments are the
// only way a parse error can arise.
func checkSyntax(script, name string) error {
	parser := syntax.NewParser(syntax.Variant(syntax.LangBash))
	if _, err := parser.Parse(strings.NewReader(script), name); err != nil {
		return fmt.Errorf("%w: %s script does not parse: %v", ErrConfig, name, err)
	}
	return nil
}

// BuildLauncher sends the launch script to the server.
type BuildLauncher struct {
	Remote Remote
	Log    console.Logger
}

// Launch renders the plan and runs its script with streamed output.
func (l *BuildLauncher) Launch(ctx context.Context, p LaunchPlan) error {
	script, err := RenderLaunchScript(p)
	if err != nil {
		return err
	}
	l.Log.Info(fmt.Sprintf("Starting build for profile %q...", p.Profile))
	if err := l.Remote.Stream(ctx, script); err != nil {
		return asRemoteCommandError(err)
	}
	l.Log.Success("Build launched.")
	return nil
}
