package builder

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/antonkrylov/htzbuild/internal/clock"
	"github.com/antonkrylov/htzbuild/internal/console"
	"github.com/antonkrylov/htzbuild/internal/retry"
)

const (
	// ConnectivityAttempts bounds the SSH readiness probes.
	ConnectivityAttempts = 60
	// PollInterval separates readiness probes, lock probes and monitor
	// iterations.
	PollInterval = 5 * time.Second

	dpkgLock = "/var/lib/dpkg/lock-frontend"
)

// ConnectivityWaiter blocks until a fresh server accepts SSH, has finished
// cloud-init and has released the package manager lock.
type ConnectivityWaiter struct {
	Remote      Remote
	Log         console.Logger
	Clock       clock.Clock
	Attempts    int
	Interval    time.Duration
	LockTimeout time.Duration
}

func (w *ConnectivityWaiter) policy(attempts int) retry.Policy {
	interval := w.Interval
	if interval <= 0 {
		interval = PollInterval
	}
	return retry.Policy{MaxAttempts: attempts, Delay: interval, Clock: w.Clock}
}

// Wait runs the three readiness stages in order.
func (w *ConnectivityWaiter) Wait(ctx context.Context) error {
	if err := w.waitSSH(ctx); err != nil {
		return err
	}
	if err := w.waitCloudInit(ctx); err != nil {
		return err
	}
	return w.waitPackageLock(ctx)
}

func (w *ConnectivityWaiter) waitSSH(ctx context.Context) error {
	attempts := w.Attempts
	if attempts <= 0 {
		attempts = ConnectivityAttempts
	}
	progress := w.Log.StartProgress("Waiting for SSH access...")
	err := retry.Poll(ctx, w.policy(attempts), func(ctx context.Context, _ int) (bool, error) {
		res, err := w.Remote.Exec(ctx, "echo ready")
		if err != nil {
			// ssh could not be spawned at all; retrying will not help.
			return false, err
		}
		return res.OK(), nil
	})
	progress.Stop(err == nil)
	if errors.Is(err, retry.ErrExhausted) {
		return fmt.Errorf("%w (%d attempts)", ErrConnectivityTimeout, attempts)
	}
	if err != nil {
		return err
	}
	w.Log.Success("SSH is ready.")
	return nil
}

func (w *ConnectivityWaiter) waitCloudInit(ctx context.Context) error {
	w.Log.Info("Waiting for cloud-init to finish...")
	res, err := w.Remote.Exec(ctx, "cloud-init status --wait")
	if err != nil {
		return err
	}
	switch res.ExitCode {
	case 0:
	case 2:
		// Recoverable errors: cloud-init finished but reported warnings.
		w.Log.Warn("cloud-init finished with warnings.")
	default:
		return &RemoteCommandError{Command: "cloud-init status --wait", ExitCode: res.ExitCode, Stderr: res.Stderr}
	}
	w.Log.Success("Server initialized.")
	return nil
}

func (w *ConnectivityWaiter) waitPackageLock(ctx context.Context) error {
	timeout := w.LockTimeout
	if timeout <= 0 {
		timeout = 10 * time.Minute
	}
	p := w.policy(0)
	p.MaxAttempts = int(timeout/p.Delay) + 1
	err := retry.Poll(ctx, p, func(ctx context.Context, attempt int) (bool, error) {
		res, err := w.Remote.Exec(ctx, "fuser "+dpkgLock+" >/dev/null 2>&1")
		if err != nil {
			return false, err
		}
		if res.OK() {
			if attempt == 1 {
				w.Log.Info("Waiting for the package manager lock to be released...")
			}
			return false, nil
		}
		return true, nil
	})
	if errors.Is(err, retry.ErrExhausted) {
		return fmt.Errorf("%w after %s", ErrPackageLockTimeout, timeout)
	}
	return err
}
