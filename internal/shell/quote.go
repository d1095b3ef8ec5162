// Package shell builds shell-safe text for scripts executed on remote hosts.
package shell

import (
	"regexp"
	"strings"
)

var safeWord = regexp.MustCompile(`^[A-Za-z0-9_./=-]+$`)

// Quote returns value as a single shell word. Values made only of
// alphanumerics and _./=- are returned unchanged; anything else is wrapped
// in single quotes with embedded quotes rendered as '\''.
func Quote(value string) string {
	if safeWord.MatchString(value) {
		return value
	}
	return "'" + strings.ReplaceAll(value, "'", `'\''`) + "'"
}

// Join quotes every element and joins them with spaces.
func Join(values ...string) string {
	quoted := make([]string, len(values))
	for i, v := range values {
		quoted[i] = Quote(v)
	}
	return strings.Join(quoted, " ")
}
