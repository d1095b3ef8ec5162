package config

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/tidwall/jsonc"
	"gopkg.in/yaml.v3"

	"github.com/antonkrylov/htzbuild/internal/builder"
)

// ErrConfigNotFound indicates an explicitly requested config file is missing.
var ErrConfigNotFound = errors.New("config file not found")

// ResolveConfigPath returns the config file to read: option relative to the
// working directory when given, else ConfigFileName in projectDir.
func ResolveConfigPath(projectDir, option string) (string, error) {
	if strings.TrimSpace(option) != "" {
		return expandPath(strings.TrimSpace(option))
	}
	return filepath.Join(projectDir, ConfigFileName), nil
}

// Load reads the project config and merges it over builder.DefaultConfig.
// Scalars override, lists replace and artifactForProfile merges key by
// key. A missing default file yields the defaults; a missing explicit file
// is an error.
func Load(projectDir, option string) (builder.Config, string, error) {
	path, err := ResolveConfigPath(projectDir, option)
	if err != nil {
		return builder.Config{}, "", err
	}
	cfg := builder.DefaultConfig()
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		if strings.TrimSpace(option) != "" {
			return builder.Config{}, path, fmt.Errorf("%w: %s", ErrConfigNotFound, path)
		}
		return cfg, path, nil
	}
	if err != nil {
		return builder.Config{}, path, err
	}
	if err := decodeInto(path, data, &cfg); err != nil {
		return builder.Config{}, path, fmt.Errorf("%w: parse %s: %v", builder.ErrConfig, path, err)
	}
	if cfg.ArtifactForProfile == nil {
		cfg.ArtifactForProfile = builder.DefaultConfig().ArtifactForProfile
	}
	return cfg, path, nil
}

// decodeInto overlays data on cfg. Both decoders reuse existing maps and
// replace slices, which gives the merge rules Load documents.
func decodeInto(path string, data []byte, cfg *builder.Config) error {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		if len(bytes.TrimSpace(data)) == 0 {
			return nil
		}
		return yaml.Unmarshal(data, cfg)
	default:
		return json.Unmarshal(jsonc.ToJSON(data), cfg)
	}
}

// Write stores cfg as indented JSON at path unless the file exists.
// It reports whether the file was written.
func Write(path string, cfg any) (bool, error) {
	if _, err := os.Stat(path); err == nil {
		return false, nil
	} else if !errors.Is(err, os.ErrNotExist) {
		return false, err
	}
	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return false, fmt.Errorf("marshal config: %w", err)
	}
	if err := os.WriteFile(path, append(data, '\n'), 0o644); err != nil {
		return false, err
	}
	return true, nil
}

func expandPath(path string) (string, error) {
	switch {
	case strings.HasPrefix(path, "~/"):
		home, err := os.UserHomeDir()
		if err != nil {
			return "", err
		}
		return filepath.Join(home, path[2:]), nil
	case path == "~":
		home, err := os.UserHomeDir()
		if err != nil {
			return "", err
		}
		return home, nil
	case filepath.IsAbs(path):
		return path, nil
	default:
		cwd, err := os.Getwd()
		if err != nil {
			return "", err
		}
		return filepath.Join(cwd, path), nil
	}
}
