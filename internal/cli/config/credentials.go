package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

// ErrInsideProject is returned when credentials would be written into the
// project tree.
var ErrInsideProject = errors.New("credentials must be saved outside the project directory")

// Credentials are saved environment overrides keyed by variable name, for
// example HCLOUD_TOKEN.
type Credentials map[string]string

// HasAny reports whether at least one non-empty value is saved.
func (c Credentials) HasAny() bool {
	for _, v := range c {
		if v != "" {
			return true
		}
	}
	return false
}

// Keys returns the saved variable names in order.
func (c Credentials) Keys() []string {
	keys := make([]string, 0, len(c))
	for k := range c {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// ResolveCredentialsPath returns option expanded against the working
// directory, or DefaultCredentialsPath.
func ResolveCredentialsPath(option string) (string, error) {
	if strings.TrimSpace(option) != "" {
		return expandPath(strings.TrimSpace(option))
	}
	return DefaultCredentialsPath(), nil
}

// LoadCredentials reads path. A missing file yields empty credentials.
// JSON files written by older versions parse as YAML.
func LoadCredentials(path string) (Credentials, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return Credentials{}, nil
	}
	if err != nil {
		return nil, err
	}
	creds := Credentials{}
	if err := yaml.Unmarshal(data, &creds); err != nil {
		return nil, fmt.Errorf("read credentials file %s: %w", path, err)
	}
	return creds, nil
}

// SaveCredentials merges updates into the file at path and writes it with
// mode 0600.
func SaveCredentials(path string, updates Credentials) error {
	creds, err := LoadCredentials(path)
	if err != nil {
		return err
	}
	for k, v := range updates {
		creds[k] = v
	}
	data, err := yaml.Marshal(creds)
	if err != nil {
		return fmt.Errorf("marshal credentials: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return err
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return err
	}
	// WriteFile keeps the mode of an existing file.
	return os.Chmod(path, 0o600)
}

// EnsureOutside rejects path when it is projectDir or lies beneath it.
func EnsureOutside(path, projectDir string) error {
	rel, err := filepath.Rel(filepath.Clean(projectDir), filepath.Clean(path))
	if err != nil {
		return nil
	}
	if rel == "." || (rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator))) {
		return fmt.Errorf("%w: %s", ErrInsideProject, path)
	}
	return nil
}
