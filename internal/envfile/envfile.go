// Package envfile reads KEY=VALUE environment files.
package envfile

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// ErrNotFound is returned when the requested file or folder is missing.
var ErrNotFound = errors.New("env path not found")

// ParseLine parses one line. ok is false for blanks, comments and lines
// without '='.
func ParseLine(line string) (key, value string, ok bool) {
	trimmed := strings.TrimSpace(line)
	if trimmed == "" || strings.HasPrefix(trimmed, "#") {
		return "", "", false
	}
	trimmed = strings.TrimPrefix(trimmed, "export ")
	key, value, found := strings.Cut(trimmed, "=")
	if !found {
		return "", "", false
	}
	key = strings.TrimSpace(key)
	value = strings.TrimSpace(value)
	if key == "" {
		return "", "", false
	}
	switch {
	case len(value) >= 2 && value[0] == '"' && value[len(value)-1] == '"':
		value = value[1 : len(value)-1]
		value = strings.ReplaceAll(value, `\"`, `"`)
		value = strings.ReplaceAll(value, `\n`, "\n")
	case len(value) >= 2 && value[0] == '\'' && value[len(value)-1] == '\'':
		value = value[1 : len(value)-1]
	}
	return key, value, true
}

// Parse reads every assignment in data into dst. Later keys win.
func Parse(data []byte, dst map[string]string) error {
	sc := bufio.NewScanner(bytes.NewReader(data))
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for sc.Scan() {
		if k, v, ok := ParseLine(sc.Text()); ok {
			dst[k] = v
		}
	}
	return sc.Err()
}

// LoadFile reads a single env file.
func LoadFile(path string) (map[string]string, error) {
	info, err := os.Stat(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, path)
	}
	if err != nil {
		return nil, err
	}
	if !info.Mode().IsRegular() {
		return nil, fmt.Errorf("env path is not a file: %s", path)
	}
	out := map[string]string{}
	if err := loadInto(path, out); err != nil {
		return nil, err
	}
	return out, nil
}

// LoadDir reads every regular file in dir in name order. Keys in later
// files override earlier ones.
func LoadDir(dir string) (map[string]string, error) {
	info, err := os.Stat(dir)
	if errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, dir)
	}
	if err != nil {
		return nil, err
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("env path is not a directory: %s", dir)
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		if e.Type().IsRegular() {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)
	out := map[string]string{}
	for _, name := range names {
		if err := loadInto(filepath.Join(dir, name), out); err != nil {
			return nil, err
		}
	}
	return out, nil
}

// Load reads path as a folder or a single file.
func Load(path string) (map[string]string, error) {
	info, err := os.Stat(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, path)
	}
	if err != nil {
		return nil, err
	}
	if info.IsDir() {
		return LoadDir(path)
	}
	return LoadFile(path)
}

func loadInto(path string, dst map[string]string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	if err := Parse(data, dst); err != nil {
		return fmt.Errorf("read %s: %w", path, err)
	}
	return nil
}
