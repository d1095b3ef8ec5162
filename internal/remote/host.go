// Package remote drives a provisioned host over the system ssh, scp and
// rsync binaries.
package remote

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/antonkrylov/htzbuild/internal/runner"
	"github.com/antonkrylov/htzbuild/internal/shell"
)

// ExitError reports a remote command that ran but exited non-zero.
type ExitError struct {
	Command  string
	ExitCode int
	Stderr   string
}

func (e *ExitError) Error() string {
	msg := fmt.Sprintf("%s exited with status %d", e.Command, e.ExitCode)
	if e.Stderr != "" {
		msg += ": " + e.Stderr
	}
	return msg
}

// ExitUnreachable is the status ssh exits with when the connection itself
// failed, as opposed to the remote command.
const ExitUnreachable = 255

// ErrUnreachable reports that ssh could not reach the host.
var ErrUnreachable = errors.New("host unreachable")

// Host is one reachable machine.
type Host struct {
	Runner  runner.Runner
	Address string
	// User defaults to root.
	User string
	// KeyFile is the private key passed with -i. Empty uses the ssh defaults.
	KeyFile string
	// Stdout and Stderr receive streamed output. They default to the
	// process's own streams.
	Stdout io.Writer
	Stderr io.Writer
}

// Options applied to every ssh and scp invocation. Hosts are fresh and
// short-lived, so host keys are never recorded.
var baseOptions = []string{
	"-o", "StrictHostKeyChecking=no",
	"-o", "UserKnownHostsFile=/dev/null",
	"-o", "LogLevel=ERROR",
	"-o", "BatchMode=yes",
	"-o", "ConnectTimeout=10",
	"-o", "ServerAliveInterval=60",
	"-o", "ServerAliveCountMax=3",
}

// SSHOptions returns the option arguments shared by ssh and scp.
func (h *Host) SSHOptions() []string {
	args := append([]string(nil), baseOptions...)
	if h.KeyFile != "" {
		args = append(args, "-i", h.KeyFile)
	}
	return args
}

// Target returns user@address.
func (h *Host) Target() string {
	user := h.User
	if user == "" {
		user = "root"
	}
	return user + "@" + h.Address
}

// CommandLine renders the ssh invocation as one shell-safe string, suitable
// for rsync -e.
func (h *Host) CommandLine() string {
	return shell.Join(append([]string{"ssh"}, h.SSHOptions()...)...)
}

func (h *Host) stdout() io.Writer {
	if h.Stdout != nil {
		return h.Stdout
	}
	return os.Stdout
}

func (h *Host) stderr() io.Writer {
	if h.Stderr != nil {
		return h.Stderr
	}
	return os.Stderr
}

// sshCommand wraps script in a login bash on the host. The script travels
// as a single quoted word so the remote shell sees it verbatim.
func (h *Host) sshCommand(script string) runner.Command {
	args := h.SSHOptions()
	args = append(args, h.Target(), "bash -lc "+shell.Quote(script))
	return runner.Command{Name: "ssh", Args: args}
}

// Exec runs script and captures its output. A non-zero remote exit is not
// an error; inspect Result.ExitCode.
func (h *Host) Exec(ctx context.Context, script string) (runner.Result, error) {
	return h.Runner.Run(ctx, h.sshCommand(script))
}

// Check runs script and returns an *ExitError when it exits non-zero.
func (h *Host) Check(ctx context.Context, script string) error {
	res, err := h.Exec(ctx, script)
	if err != nil {
		return err
	}
	if !res.OK() {
		return &ExitError{Command: summarize(script), ExitCode: res.ExitCode, Stderr: res.Stderr}
	}
	return nil
}

// Stream runs script with its output forwarded to Stdout and Stderr.
func (h *Host) Stream(ctx context.Context, script string) error {
	c := h.sshCommand(script)
	c.Stdout = h.stdout()
	c.Stderr = h.stderr()
	res, err := h.Runner.Run(ctx, c)
	if err != nil {
		return err
	}
	if !res.OK() {
		return &ExitError{Command: summarize(script), ExitCode: res.ExitCode}
	}
	return nil
}

// Exists reports whether path is a regular file on the host. A failed
// connection is an ErrUnreachable error, never a missing file.
func (h *Host) Exists(ctx context.Context, path string) (bool, error) {
	res, err := h.Exec(ctx, "test -f "+shell.Quote(path))
	if err != nil {
		return false, err
	}
	if res.ExitCode == ExitUnreachable {
		return false, fmt.Errorf("%w: %s", ErrUnreachable, strings.TrimSpace(res.Stderr))
	}
	return res.OK(), nil
}

// Follow tails path from its first line into w until the returned process
// is stopped.
func (h *Host) Follow(ctx context.Context, path string, w io.Writer) (runner.Process, error) {
	args := h.SSHOptions()
	args = append(args, h.Target(), "tail -F -n +1 "+shell.Quote(path))
	return h.Runner.Start(ctx, runner.Command{Name: "ssh", Args: args, Stdout: w, Stderr: io.Discard})
}

// Upload mirrors localDir into remoteDir with rsync, skipping excludes.
func (h *Host) Upload(ctx context.Context, localDir, remoteDir string, excludes []string) error {
	args := []string{"-az", "--progress"}
	for _, ex := range excludes {
		args = append(args, "--exclude", ex)
	}
	args = append(args,
		"-e", h.CommandLine(),
		strings.TrimRight(localDir, "/")+"/",
		h.Target()+":"+strings.TrimRight(remoteDir, "/")+"/",
	)
	res, err := h.Runner.Run(ctx, runner.Command{Name: "rsync", Args: args, Stdout: h.stdout(), Stderr: h.stderr()})
	if err != nil {
		return err
	}
	if !res.OK() {
		return &ExitError{Command: "rsync", ExitCode: res.ExitCode}
	}
	return nil
}

// Download copies remotePath to localPath with scp.
func (h *Host) Download(ctx context.Context, remotePath, localPath string) error {
	args := h.SSHOptions()
	args = append(args, h.Target()+":"+remotePath, localPath)
	res, err := h.Runner.Run(ctx, runner.Command{Name: "scp", Args: args, Stdout: h.stdout(), Stderr: h.stderr()})
	if err != nil {
		return err
	}
	if !res.OK() {
		return &ExitError{Command: "scp", ExitCode: res.ExitCode}
	}
	return nil
}

// summarize keeps error messages to the first line of a script.
func summarize(script string) string {
	line, _, _ := strings.Cut(strings.TrimSpace(script), "\n")
	if len(line) > 80 {
		line = line[:77] + "..."
	}
	return line
}
