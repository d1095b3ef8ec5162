package shell

import (
	"strings"
	"testing"

	"mvdan.cc/sh/v3/expand"
	"mvdan.cc/sh/v3/syntax"
)

// unquote parses word the way a POSIX shell would and returns the literal
// value it expands to.
func unquote(t *testing.T, word string) string {
	t.Helper()
	f, err := syntax.NewParser().Parse(strings.NewReader("echo "+word), "")
	if err != nil {
		t.Fatalf("parse %q: %v", word, err)
	}
	if len(f.Stmts) != 1 {
		t.Fatalf("stmts=%d for %q", len(f.Stmts), word)
	}
	call, ok := f.Stmts[0].Cmd.(*syntax.CallExpr)
	if !ok || len(call.Args) != 2 {
		t.Fatalf("expected a single argument for %q", word)
	}
	lit, err := expand.Literal(nil, call.Args[1])
	if err != nil {
		t.Fatalf("expand %q: %v", word, err)
	}
	return lit
}

func TestQuoteEmbeddedSingleQuote(t *testing.T) {
	got := Quote("it's a test")
	if got != `'it'\''s a test'` {
		t.Fatalf("got %s", got)
	}
}

func TestQuoteSafeValuesUnchanged(t *testing.T) {
	for _, v := range []string{"preview", "/root/build-output.apk", "a=b", "x_y-z.1", "ABC"} {
		if got := Quote(v); got != v {
			t.Fatalf("Quote(%q)=%q", v, got)
		}
	}
}

func TestQuoteRoundTrip(t *testing.T) {
	inputs := []string{
		"",
		"it's a test",
		"$(rm -rf /)",
		"`id`",
		"a b\tc",
		"line1\nline2",
		`back\slash`,
		`"double"`,
		"''''",
		"semi;colon && pipe | amp &",
		"glob * ? [x]",
		"${HOME} $PATH",
		"ünïcødé ✓",
		"!history",
	}
	for _, in := range inputs {
		q := Quote(in)
		if got := unquote(t, q); got != in {
			t.Fatalf("round trip %q: quoted=%s got=%q", in, q, got)
		}
	}
}

func TestJoin(t *testing.T) {
	got := Join("ssh", "-o", "StrictHostKeyChecking=no", "-i", "/home/me/my key")
	want := `ssh -o StrictHostKeyChecking=no -i '/home/me/my key'`
	if got != want {
		t.Fatalf("got %s", got)
	}
}
