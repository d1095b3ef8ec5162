package builder

import (
	"errors"
	"path/filepath"
	"testing"
	"time"
)

func TestDefaultConfigIsFresh(t *testing.T) {
	a := DefaultConfig()
	a.SyncExcludes[0] = "changed"
	a.ArtifactForProfile["default"] = "changed"
	b := DefaultConfig()
	if b.SyncExcludes[0] != "node_modules" || b.ArtifactForProfile["default"] != "/root/build-output.apk" {
		t.Fatalf("defaults were shared between calls")
	}
}

func TestArtifactPath(t *testing.T) {
	cfg := DefaultConfig()
	if p, _ := cfg.ArtifactPath("production"); p != "/root/build-output.aab" {
		t.Fatalf("production = %s", p)
	}
	if p, _ := cfg.ArtifactPath("preview"); p != "/root/build-output.apk" {
		t.Fatalf("preview = %s", p)
	}
	delete(cfg.ArtifactForProfile, "default")
	if _, err := cfg.ArtifactPath("preview"); !errors.Is(err, ErrConfig) {
		t.Fatalf("expected ErrConfig, got %v", err)
	}
}

func TestSettingsFromEnv(t *testing.T) {
	s, err := SettingsFromEnv(map[string]string{
		EnvMaxMinutes:    "1.5",
		EnvCloudInitFile: "ci.yaml",
		EnvSSHKeyFile:    "~/.ssh/custom",
	}, "/work/app", "/home/dev")
	if err != nil {
		t.Fatalf("SettingsFromEnv: %v", err)
	}
	if s.Location != "fsn1" || s.ServerType != "cpx52" {
		t.Fatalf("defaults not applied: %+v", s)
	}
	if s.MaxBuild != 90*time.Second {
		t.Fatalf("MaxBuild = %s", s.MaxBuild)
	}
	if s.ShutdownMinutes() != 12 {
		t.Fatalf("ShutdownMinutes = %d", s.ShutdownMinutes())
	}
	if s.CloudInitFile != filepath.Join("/work/app", "ci.yaml") {
		t.Fatalf("CloudInitFile = %s", s.CloudInitFile)
	}
	if s.SSHKeyFile != filepath.Join("/home/dev", ".ssh/custom") {
		t.Fatalf("SSHKeyFile = %s", s.SSHKeyFile)
	}

	s, _ = SettingsFromEnv(map[string]string{}, "/work/app", "/home/dev")
	if s.MaxBuild != time.Hour || s.ShutdownMinutes() != 70 || s.CloudInitFile != "" {
		t.Fatalf("defaults = %+v", s)
	}

	if _, err := SettingsFromEnv(map[string]string{EnvMaxMinutes: "soon"}, "/", "/"); !errors.Is(err, ErrConfig) {
		t.Fatalf("expected ErrConfig, got %v", err)
	}
}

func TestSettingsFromEnvRejectsUnrepresentableLimit(t *testing.T) {
	for _, raw := range []string{"1e12", "1e300"} {
		if _, err := SettingsFromEnv(map[string]string{EnvMaxMinutes: raw}, "/", "/"); !errors.Is(err, ErrConfig) {
			t.Fatalf("%s: expected ErrConfig, got %v", raw, err)
		}
	}
	s, err := SettingsFromEnv(map[string]string{EnvMaxMinutes: "100000"}, "/", "/")
	if err != nil || s.MaxBuild != 100000*time.Minute {
		t.Fatalf("got %v, %v", s.MaxBuild, err)
	}
}

func TestLayoutValidate(t *testing.T) {
	if err := DefaultConfig().Layout().Validate(); err != nil {
		t.Fatalf("default layout: %v", err)
	}
	l := DefaultConfig().Layout()
	l.StatusFile = ""
	if err := l.Validate(); !errors.Is(err, ErrPrerequisite) {
		t.Fatalf("expected ErrPrerequisite, got %v", err)
	}
}

func TestStateString(t *testing.T) {
	if StateAwaitingConnectivity.String() != "AwaitingConnectivity" || State(99).String() != "State(99)" {
		t.Fatalf("unexpected names")
	}
}
