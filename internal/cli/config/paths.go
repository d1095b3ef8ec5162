package config

import (
	"os"
	"path/filepath"

	"github.com/adrg/xdg"
)

// ConfigFileName is the project config looked up in the project directory.
const ConfigFileName = "htzbuild.config.json"

// DefaultConfigDir holds user-level state. HTZBUILD_HOME overrides the XDG
// location.
func DefaultConfigDir() string {
	if v := os.Getenv("HTZBUILD_HOME"); v != "" {
		return v
	}
	return filepath.Join(xdg.ConfigHome, "htzbuild")
}

func DefaultCredentialsPath() string {
	return filepath.Join(DefaultConfigDir(), "credentials.yaml")
}

// DefaultSessionsDir holds the local session journal.
func DefaultSessionsDir() string {
	if v := os.Getenv("HTZBUILD_HOME"); v != "" {
		return filepath.Join(v, "sessions")
	}
	return filepath.Join(xdg.StateHome, "htzbuild", "sessions")
}
