// Package runner executes local commands: captured, streamed, or started in
// the background and stopped later.
package runner

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"strings"
	"sync"
)

// Command describes one local process invocation. A nil Stdout or Stderr is
// captured into the Result; a non-nil writer receives the stream instead.
type Command struct {
	Name   string
	Args   []string
	Env    []string
	Dir    string
	Stdin  io.Reader
	Stdout io.Writer
	Stderr io.Writer
}

func (c Command) String() string {
	return strings.TrimSpace(c.Name + " " + strings.Join(c.Args, " "))
}

// Result reports how a finished command exited.
type Result struct {
	ExitCode int
	Stdout   string
	Stderr   string
}

// OK reports whether the command exited with status 0.
func (r Result) OK() bool { return r.ExitCode == 0 }

// Runner runs commands. Run returns an error only when the process could
// not be run at all; a non-zero exit is reported through Result.ExitCode.
type Runner interface {
	Run(ctx context.Context, cmd Command) (Result, error)
	Start(ctx context.Context, cmd Command) (Process, error)
}

// Process is a command running in the background.
type Process interface {
	// Stop terminates the process if it is still running and waits for it
	// to exit. It is safe to call more than once.
	Stop()
	// Done is closed once the process has exited.
	Done() <-chan struct{}
}

var discardLogger = slog.New(slog.NewTextHandler(io.Discard, nil))

// Exec runs commands with os/exec.
type Exec struct {
	// Env is the complete environment for child processes. Nil inherits
	// the current process environment.
	Env    []string
	Logger *slog.Logger
}

func (e *Exec) logger() *slog.Logger {
	if e == nil || e.Logger == nil {
		return discardLogger
	}
	return e.Logger
}

func (e *Exec) command(ctx context.Context, c Command) *exec.Cmd {
	cmd := exec.CommandContext(ctx, c.Name, c.Args...)
	switch {
	case c.Env != nil:
		cmd.Env = c.Env
	case e != nil && e.Env != nil:
		cmd.Env = e.Env
	default:
		cmd.Env = os.Environ()
	}
	cmd.Dir = c.Dir
	cmd.Stdin = c.Stdin
	return cmd
}

// Run executes c and waits for it to exit.
func (e *Exec) Run(ctx context.Context, c Command) (Result, error) {
	cmd := e.command(ctx, c)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = c.Stdout
	if cmd.Stdout == nil {
		cmd.Stdout = &stdout
	}
	cmd.Stderr = c.Stderr
	if cmd.Stderr == nil {
		cmd.Stderr = &stderr
	}
	e.logger().Debug("exec", "cmd", c.Name, "args", len(c.Args))
	err := cmd.Run()
	res := Result{
		ExitCode: exitCodeFromError(err),
		Stdout:   strings.TrimSpace(stdout.String()),
		Stderr:   strings.TrimSpace(stderr.String()),
	}
	var exitErr *exec.ExitError
	if err != nil && !errors.As(err, &exitErr) {
		return res, fmt.Errorf("%s: %w", c.Name, err)
	}
	e.logger().Debug("exec finished", "cmd", c.Name, "exit", res.ExitCode)
	return res, nil
}

// Start launches c without waiting for it.
func (e *Exec) Start(ctx context.Context, c Command) (Process, error) {
	cmd := e.command(ctx, c)
	cmd.Stdout = c.Stdout
	cmd.Stderr = c.Stderr
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("start %s: %w", c.Name, err)
	}
	p := &process{cmd: cmd, done: make(chan struct{}), logger: e.logger()}
	go func() {
		p.err = cmd.Wait()
		close(p.done)
	}()
	e.logger().Debug("started background process", "cmd", c.Name, "pid", cmd.Process.Pid)
	return p, nil
}

type process struct {
	cmd    *exec.Cmd
	done   chan struct{}
	err    error
	once   sync.Once
	logger *slog.Logger
}

func (p *process) Done() <-chan struct{} { return p.done }

func (p *process) Stop() {
	p.once.Do(func() {
		select {
		case <-p.done:
		default:
			_ = p.cmd.Process.Kill()
			<-p.done
		}
		p.logger.Debug("background process stopped", "cmd", p.cmd.Path, "exit", exitCodeFromError(p.err))
	})
}

func exitCodeFromError(err error) int {
	if err == nil {
		return 0
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		if status, ok := exitErr.Sys().(interface{ ExitStatus() int }); ok {
			return status.ExitStatus()
		}
		return exitErr.ExitCode()
	}
	return 1
}

// Require reports an error naming every tool lookPath cannot find. A nil
// lookPath searches PATH.
func Require(lookPath func(file string) (string, error), names ...string) error {
	if lookPath == nil {
		lookPath = exec.LookPath
	}
	var missing []string
	for _, name := range names {
		if _, err := lookPath(name); err != nil {
			missing = append(missing, name)
		}
	}
	if len(missing) > 0 {
		return fmt.Errorf("required tools not found on PATH: %s", strings.Join(missing, ", "))
	}
	return nil
}
