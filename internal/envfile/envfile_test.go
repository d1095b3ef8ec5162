package envfile

import (
	"errors"
	"maps"
	"os"
	"path/filepath"
	"testing"
)

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatal(err)
	}
}

func TestParseLine(t *testing.T) {
	cases := []struct {
		line       string
		key, value string
		ok         bool
	}{
		{"FOO=bar", "FOO", "bar", true},
		{"  SPACED = value  ", "SPACED", "value", true},
		{`MULTILINE="Line1\nLine2"`, "MULTILINE", "Line1\nLine2", true},
		{`ESCAPED="say \"hi\""`, "ESCAPED", `say "hi"`, true},
		{`QUOTED='Single \n'`, "QUOTED", `Single \n`, true},
		{"export TOKEN=abc", "TOKEN", "abc", true},
		{"URL=https://x.test/?a=b", "URL", "https://x.test/?a=b", true},
		{"EMPTY=", "EMPTY", "", true},
		{"# comment", "", "", false},
		{"", "", "", false},
		{"NOEQUALS", "", "", false},
		{"=value", "", "", false},
	}
	for _, tc := range cases {
		k, v, ok := ParseLine(tc.line)
		if ok != tc.ok || k != tc.key || v != tc.value {
			t.Fatalf("ParseLine(%q) = %q, %q, %v", tc.line, k, v, ok)
		}
	}
}

func TestLoadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.env")
	writeFile(t, path, "# Comment\r\n\r\nFOO=bar\r\nBAZ=qux\r\n")
	env, err := LoadFile(path)
	if err != nil {
		t.Fatalf("LoadFile: %v", err)
	}
	if !maps.Equal(env, map[string]string{"FOO": "bar", "BAZ": "qux"}) {
		t.Fatalf("env = %v", env)
	}
}

func TestLoadDirMergesInNameOrder(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "b.env"), "A=2\nB=3")
	writeFile(t, filepath.Join(dir, "a.env"), "A=1")
	if err := os.Mkdir(filepath.Join(dir, "nested"), 0o755); err != nil {
		t.Fatal(err)
	}

	env, err := LoadDir(dir)
	if err != nil {
		t.Fatalf("LoadDir: %v", err)
	}
	if !maps.Equal(env, map[string]string{"A": "2", "B": "3"}) {
		t.Fatalf("env = %v", env)
	}
}

func TestLoadMissing(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing"))
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestLoadDispatches(t *testing.T) {
	dir := t.TempDir()
	file := filepath.Join(dir, "one.env")
	writeFile(t, file, "X=1")
	if env, err := Load(file); err != nil || env["X"] != "1" {
		t.Fatalf("file: %v %v", env, err)
	}
	if env, err := Load(dir); err != nil || env["X"] != "1" {
		t.Fatalf("dir: %v %v", env, err)
	}
	if _, err := LoadDir(file); err == nil {
		t.Fatalf("LoadDir accepted a file")
	}
	if _, err := LoadFile(dir); err == nil {
		t.Fatalf("LoadFile accepted a directory")
	}
}
