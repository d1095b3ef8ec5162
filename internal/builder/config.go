package builder

import (
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

// Config is the project build configuration. Field names follow the
// project config file keys.
type Config struct {
	SyncExcludes         []string          `json:"syncExcludes" yaml:"syncExcludes"`
	RemoteProjectDir     string            `json:"remoteProjectDir" yaml:"remoteProjectDir"`
	RemoteEnvFile        string            `json:"remoteEnvFile" yaml:"remoteEnvFile"`
	RemoteLogPath        string            `json:"remoteLogPath" yaml:"remoteLogPath"`
	RemoteStatusFile     string            `json:"remoteStatusFile" yaml:"remoteStatusFile"`
	ArtifactForProfile   map[string]string `json:"artifactForProfile" yaml:"artifactForProfile"`
	ArtifactCandidates   []string          `json:"artifactCandidates" yaml:"artifactCandidates"`
	EnvScript            []string          `json:"envScript" yaml:"envScript"`
	InstallCommand       string            `json:"installCommand" yaml:"installCommand"`
	BuildCommand         string            `json:"buildCommand" yaml:"buildCommand"`
	BuildProcessPatterns []string          `json:"buildProcessPatterns" yaml:"buildProcessPatterns"`
	Image                string            `json:"image" yaml:"image"`
	KeepInstanceOnError  bool              `json:"keepInstanceOnError" yaml:"keepInstanceOnError"`
	// PackageLockTimeout is in minutes.
	PackageLockTimeout int `json:"packageLockTimeout" yaml:"packageLockTimeout"`
}

// DefaultConfig returns the built-in configuration. Every call returns
// fresh slices and maps.
func DefaultConfig() Config {
	return Config{
		SyncExcludes:     []string{"node_modules", ".expo", "android", "ios", ".git", "coverage", "build-output"},
		RemoteProjectDir: "/root/project",
		RemoteEnvFile:    "/root/build-env.sh",
		RemoteLogPath:    "/root/build.log",
		RemoteStatusFile: "/root/build-status",
		ArtifactForProfile: map[string]string{
			"production": "/root/build-output.aab",
			"default":    "/root/build-output.apk",
		},
		ArtifactCandidates: []string{"/root/build-output.apk", "/root/build-output.aab"},
		EnvScript: []string{
			"export ANDROID_HOME=/opt/android-sdk",
			"export ANDROID_SDK_ROOT=/opt/android-sdk",
			"export PATH=$PATH:$ANDROID_HOME/cmdline-tools/latest/bin:$ANDROID_HOME/platform-tools",
		},
		InstallCommand:       "npm install",
		BuildCommand:         `npx eas-cli build --local --platform android --profile "$PROFILE" --non-interactive --output $OUTPUT_FILE`,
		BuildProcessPatterns: []string{"eas-cli build", "npm install", "gradlew"},
		Image:                "ubuntu-24.04",
		PackageLockTimeout:   10,
	}
}

// Layout returns the remote paths of c.
func (c Config) Layout() Layout {
	return Layout{
		ProjectDir: c.RemoteProjectDir,
		EnvFile:    c.RemoteEnvFile,
		LogPath:    c.RemoteLogPath,
		StatusFile: c.RemoteStatusFile,
	}
}

// ArtifactPath returns the remote output path for profile, falling back to
// the "default" entry.
func (c Config) ArtifactPath(profile string) (string, error) {
	if p, ok := c.ArtifactForProfile[profile]; ok && p != "" {
		return p, nil
	}
	if p, ok := c.ArtifactForProfile["default"]; ok && p != "" {
		return p, nil
	}
	return "", fmt.Errorf("%w: no artifact path for profile %q and no default", ErrConfig, profile)
}

func (c Config) packageLockTimeout() time.Duration {
	if c.PackageLockTimeout <= 0 {
		return 10 * time.Minute
	}
	return time.Duration(c.PackageLockTimeout) * time.Minute
}

// Settings are the environment-derived parameters of a build.
type Settings struct {
	Token         string
	SSHKeyName    string
	Location      string
	ServerType    string
	Image         string
	MaxBuild      time.Duration
	// CloudInitFile is empty when the built-in user data is used.
	CloudInitFile string
	SSHKeyFile    string
	ExpoToken     string
}

// Environment variable names read by SettingsFromEnv.
const (
	EnvToken         = "HCLOUD_TOKEN"
	EnvSSHKey        = "HETZNER_SSH_KEY"
	EnvLocation      = "HETZNER_LOCATION"
	EnvServerType    = "HETZNER_SERVER_TYPE"
	EnvMaxMinutes    = "HETZNER_MAX_BUILD_MINUTES"
	EnvCloudInitFile = "CLOUD_INIT_FILE"
	EnvSSHKeyFile    = "HETZNER_SSH_KEY_FILE"
	EnvExpoToken     = "EXPO_TOKEN"
	EnvImage         = "HCLOUD_IMAGE"
)

// maxBuildMinutes keeps the build limit representable as a time.Duration.
const maxBuildMinutes = float64(math.MaxInt64 / int64(time.Minute))

// SettingsFromEnv resolves build settings from env. Relative paths are
// resolved against projectDir and a leading ~ against home.
func SettingsFromEnv(env map[string]string, projectDir, home string) (Settings, error) {
	s := Settings{
		Token:         env[EnvToken],
		SSHKeyName:    env[EnvSSHKey],
		Location:      orDefault(env[EnvLocation], "fsn1"),
		ServerType:    orDefault(env[EnvServerType], "cpx52"),
		Image:         env[EnvImage],
		ExpoToken:     env[EnvExpoToken],
		MaxBuild:      60 * time.Minute,
		SSHKeyFile:    resolvePath(orDefault(env[EnvSSHKeyFile], "~/.ssh/id_hetzner"), projectDir, home),
	}
	if f := strings.TrimSpace(env[EnvCloudInitFile]); f != "" {
		s.CloudInitFile = resolvePath(f, projectDir, home)
	}
	if raw := strings.TrimSpace(env[EnvMaxMinutes]); raw != "" {
		minutes, err := strconv.ParseFloat(raw, 64)
		if err != nil || minutes <= 0 || math.IsInf(minutes, 0) || math.IsNaN(minutes) {
			return Settings{}, fmt.Errorf("%w: %s must be a positive number, got %q", ErrConfig, EnvMaxMinutes, raw)
		}
		if minutes > maxBuildMinutes {
			return Settings{}, fmt.Errorf("%w: %s must not exceed %d, got %q", ErrConfig, EnvMaxMinutes, int64(maxBuildMinutes), raw)
		}
		s.MaxBuild = time.Duration(minutes * float64(time.Minute))
	}
	return s, nil
}

// ShutdownMinutes is the delay of the on-host safety shutdown: the build
// limit rounded up plus ten minutes.
func (s Settings) ShutdownMinutes() int {
	return int(math.Ceil(s.MaxBuild.Minutes())) + 10
}

func orDefault(v, def string) string {
	if strings.TrimSpace(v) == "" {
		return def
	}
	return v
}

func resolvePath(p, base, home string) string {
	if p == "~" || strings.HasPrefix(p, "~/") {
		if home == "" {
			home, _ = os.UserHomeDir()
		}
		return filepath.Join(home, strings.TrimPrefix(p, "~"))
	}
	if filepath.IsAbs(p) {
		return p
	}
	return filepath.Join(base, p)
}
