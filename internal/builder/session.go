package builder

import (
	"fmt"
	"path"
	"sync"
	"time"

	"github.com/antonkrylov/htzbuild/internal/fleet"
	"github.com/antonkrylov/htzbuild/internal/shell"
)

// State is a lifecycle phase of a build session.
type State int

const (
	StateInit State = iota
	StateProvisioning
	StateAwaitingConnectivity
	StateSyncing
	StateBuildLaunched
	StateMonitoring
	StateCompleted
	StateFailed
	StateTimedOut
	StateTearingDown
	StateDone
)

var stateNames = [...]string{
	StateInit:                 "Init",
	StateProvisioning:         "Provisioning",
	StateAwaitingConnectivity: "AwaitingConnectivity",
	StateSyncing:              "Syncing",
	StateBuildLaunched:        "BuildLaunched",
	StateMonitoring:           "Monitoring",
	StateCompleted:            "Completed",
	StateFailed:               "Failed",
	StateTimedOut:             "TimedOut",
	StateTearingDown:          "TearingDown",
	StateDone:                 "Done",
}

func (s State) String() string {
	if s >= 0 && int(s) < len(stateNames) {
		return stateNames[s]
	}
	return fmt.Sprintf("State(%d)", int(s))
}

// Layout is the set of fixed paths on the build server.
type Layout struct {
	ProjectDir string
	EnvFile    string
	LogPath    string
	StatusFile string
}

// Validate requires every path to be absolute.
func (l Layout) Validate() error {
	for _, f := range []struct{ name, value string }{
		{"remoteProjectDir", l.ProjectDir},
		{"remoteEnvFile", l.EnvFile},
		{"remoteLogPath", l.LogPath},
		{"remoteStatusFile", l.StatusFile},
	} {
		if f.value == "" || !path.IsAbs(f.value) {
			return fmt.Errorf("%w: %s must be an absolute path, got %q", ErrPrerequisite, f.name, f.value)
		}
	}
	return nil
}

// Vars returns the placeholder values available to remote path templates.
func (l Layout) Vars(profile string) map[string]string {
	return map[string]string{
		shell.VarProfile:          profile,
		shell.VarRemoteProjectDir: l.ProjectDir,
		shell.VarRemoteEnvFile:    l.EnvFile,
		shell.VarRemoteLogPath:    l.LogPath,
		shell.VarRemoteStatusFile: l.StatusFile,
	}
}

// Session is the state of one orchestration run.
type Session struct {
	ID        string
	Profile   string
	Config    Config
	Settings  Settings
	Env       map[string]string
	StartedAt time.Time
	State     State
	Instance  fleet.Instance
	// Artifact is the local path of the retrieved artifact.
	Artifact string

	// mu serializes state transitions with a signal-driven teardown.
	mu sync.Mutex
}
