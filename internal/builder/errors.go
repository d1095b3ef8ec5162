package builder

import (
	"errors"
	"fmt"

	"github.com/antonkrylov/htzbuild/internal/remote"
)

// Error kinds returned by Orchestrator.Run. Match them with errors.Is.
var (
	ErrPrerequisite        = errors.New("prerequisite not met")
	ErrConfig              = errors.New("invalid configuration")
	ErrProvisioning        = errors.New("server provisioning failed")
	ErrConnectivityTimeout = errors.New("timed out waiting for SSH access")
	ErrPackageLockTimeout  = errors.New("timed out waiting for the package manager lock")
	ErrRemoteCommand       = errors.New("remote command failed")
	ErrSync                = errors.New("project sync failed")
	ErrBuildTimeout        = errors.New("build exceeded the maximum duration")
	ErrBuildFailed         = errors.New("build failed")
	ErrInterrupted         = errors.New("interrupted")
	ErrArtifactNotFound    = errors.New("no build artifact found on the server")
	ErrArtifactRetrieval   = errors.New("artifact download failed")
)

// RemoteCommandError reports a remote command that exited non-zero.
type RemoteCommandError struct {
	Command  string
	ExitCode int
	Stderr   string
}

func (e *RemoteCommandError) Error() string {
	msg := fmt.Sprintf("remote command %q exited with status %d", e.Command, e.ExitCode)
	if e.Stderr != "" {
		msg += ": " + e.Stderr
	}
	return msg
}

func (e *RemoteCommandError) Is(target error) bool { return target == ErrRemoteCommand }

// asRemoteCommandError converts a transport exit error into a
// *RemoteCommandError and leaves other errors untouched.
func asRemoteCommandError(err error) error {
	var exit *remote.ExitError
	if errors.As(err, &exit) {
		return &RemoteCommandError{Command: exit.Command, ExitCode: exit.ExitCode, Stderr: exit.Stderr}
	}
	return err
}
