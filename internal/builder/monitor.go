package builder

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"regexp"
	"strings"
	"time"
	"unicode"
	"unicode/utf8"

	"github.com/antonkrylov/htzbuild/internal/clock"
	"github.com/antonkrylov/htzbuild/internal/console"
	"github.com/antonkrylov/htzbuild/internal/remote"
	"github.com/antonkrylov/htzbuild/internal/retry"
	"github.com/antonkrylov/htzbuild/internal/shell"
)

// Outcome is the terminal result of monitoring a build.
type Outcome int

const (
	OutcomeCompleted Outcome = iota + 1
	OutcomeFailed
	OutcomeTimedOut
)

func (o Outcome) String() string {
	switch o {
	case OutcomeCompleted:
		return "completed"
	case OutcomeFailed:
		return "failed"
	case OutcomeTimedOut:
		return "timed out"
	default:
		return fmt.Sprintf("Outcome(%d)", int(o))
	}
}

// BuildMonitor polls a launched build until it completes, dies or runs
// out of time, while streaming its log.
type BuildMonitor struct {
	Remote      Remote
	Log         console.Logger
	Logger      *slog.Logger
	Clock       clock.Clock
	Interval    time.Duration
	MaxDuration time.Duration
	LogPath     string
	StatusFile  string
	// Candidates are interpolated artifact paths, checked in order once no
	// build process is alive.
	Candidates []string
	Patterns   []string
	// Sink receives the followed build log. Nil discards it.
	Sink io.Writer
}

func (m *BuildMonitor) logger() *slog.Logger {
	if m.Logger == nil {
		return discardLogger
	}
	return m.Logger
}

// Watch returns exactly one outcome, or an error when the server could not
// be queried. The log follower is stopped before Watch returns.
func (m *BuildMonitor) Watch(ctx context.Context) (Outcome, error) {
	clk := m.Clock
	if clk == nil {
		clk = clock.Real()
	}
	interval := m.Interval
	if interval <= 0 {
		interval = PollInterval
	}
	sink := m.Sink
	if sink == nil {
		sink = io.Discard
	}

	follower, err := m.Remote.Follow(ctx, m.LogPath, sink)
	if err != nil {
		m.Log.Warn("Could not stream the build log: " + err.Error())
	} else {
		defer follower.Stop()
	}

	started := clk.Now()
	m.Log.Info(fmt.Sprintf("Monitoring build (limit %s)...", m.MaxDuration))
	var outcome Outcome
	err = retry.Poll(ctx, retry.Policy{Delay: interval, Clock: clk}, func(ctx context.Context, _ int) (bool, error) {
		if clk.Now().Sub(started) > m.MaxDuration {
			m.Log.Error(fmt.Sprintf("Build exceeded %s; stopping build processes.", m.MaxDuration))
			m.killBuild(ctx)
			outcome = OutcomeTimedOut
			return true, nil
		}
		result, done, err := m.check(ctx)
		if errors.Is(err, remote.ErrUnreachable) {
			m.logger().Warn("build server unreachable, checking again", "err", err)
			return false, nil
		}
		if err != nil || !done {
			return false, err
		}
		outcome = result
		return true, nil
	})
	if err != nil {
		return 0, err
	}
	return outcome, nil
}

// check runs one monitoring round. done is false while the build runs.
func (m *BuildMonitor) check(ctx context.Context) (Outcome, bool, error) {
	finished, err := m.Remote.Exists(ctx, m.StatusFile)
	if err != nil {
		return 0, false, err
	}
	if finished {
		return OutcomeCompleted, true, nil
	}
	alive, err := m.buildAlive(ctx)
	if err != nil || alive {
		return 0, false, err
	}
	outcome, err := m.settle(ctx)
	if err != nil {
		return 0, false, err
	}
	return outcome, true, nil
}

// settle decides the outcome once no build process is left: the build may
// have produced its artifact just before the status marker was checked.
func (m *BuildMonitor) settle(ctx context.Context) (Outcome, error) {
	for _, candidate := range m.Candidates {
		ok, err := m.Remote.Exists(ctx, candidate)
		if err != nil {
			return 0, err
		}
		if ok {
			m.logger().Debug("artifact present without status marker", "path", candidate)
			return OutcomeCompleted, nil
		}
	}
	return OutcomeFailed, nil
}

func (m *BuildMonitor) buildAlive(ctx context.Context) (bool, error) {
	if len(m.Patterns) == 0 {
		return false, nil
	}
	checks := make([]string, 0, len(m.Patterns))
	for _, p := range m.Patterns {
		checks = append(checks, "pgrep -f "+shell.Quote(selfSafePattern(p))+" >/dev/null")
	}
	res, err := m.Remote.Exec(ctx, strings.Join(checks, " || "))
	if err != nil {
		return false, err
	}
	if res.ExitCode == remote.ExitUnreachable {
		return false, fmt.Errorf("%w: %s", remote.ErrUnreachable, strings.TrimSpace(res.Stderr))
	}
	return res.OK(), nil
}

func (m *BuildMonitor) killBuild(ctx context.Context) {
	for _, p := range m.Patterns {
		res, err := m.Remote.Exec(ctx, "pkill -f "+shell.Quote(selfSafePattern(p)))
		if err != nil {
			m.logger().Warn("pkill failed", "pattern", p, "err", err)
			continue
		}
		// pkill exits 1 when nothing matched.
		if res.ExitCode > 1 {
			m.logger().Warn("pkill failed", "pattern", p, "exit", res.ExitCode, "stderr", res.Stderr)
		}
	}
}

// selfSafePattern turns a literal process pattern into a regular
// expression that still matches the process but not a command line that
// contains the expression itself, such as the shell running pgrep.
func selfSafePattern(literal string) string {
	r, size := utf8.DecodeRuneInString(literal)
	if r == utf8.RuneError || !(unicode.IsLetter(r) || unicode.IsDigit(r)) {
		return regexp.QuoteMeta(literal)
	}
	return "[" + string(r) + "]" + regexp.QuoteMeta(literal[size:])
}

