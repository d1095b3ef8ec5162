package builder

import (
	"bytes"
	"context"
	"errors"
	"regexp"
	"strings"
	"testing"
	"time"

	"github.com/antonkrylov/htzbuild/internal/clock"
	"github.com/antonkrylov/htzbuild/internal/console"
	"github.com/antonkrylov/htzbuild/internal/remote"
	"github.com/antonkrylov/htzbuild/internal/runner"
)

func newMonitor(r *fakeRemote, clk clock.Clock) *BuildMonitor {
	return &BuildMonitor{
		Remote:      r,
		Log:         console.Discard(),
		Clock:       clk,
		MaxDuration: time.Minute,
		LogPath:     "/root/build.log",
		StatusFile:  "/root/build-status",
		Candidates:  []string{"/root/build-output.apk", "/root/build-output.aab"},
		Patterns:    []string{"eas-cli build", "npm install", "gradlew"},
	}
}

func TestMonitorCompletesOnStatusMarker(t *testing.T) {
	r := newFakeRemote()
	r.setFile("/root/build-status", true)
	var sink bytes.Buffer
	m := newMonitor(r, clock.Fake(time.Unix(0, 0)))
	m.Sink = &sink

	outcome, err := m.Watch(context.Background())
	if err != nil || outcome != OutcomeCompleted {
		t.Fatalf("got %v, %v", outcome, err)
	}
	if !r.follower.stopped() {
		t.Fatalf("follower was not stopped")
	}
	if !strings.Contains(sink.String(), "following /root/build.log") {
		t.Fatalf("log not streamed to sink: %q", sink.String())
	}
}

func TestMonitorMarkerOnSecondPollWhileAlive(t *testing.T) {
	r := newFakeRemote()
	polls := 0
	r.alive = func() bool {
		polls++
		r.files["/root/build-status"] = true
		return true
	}
	clk := clock.Fake(time.Unix(0, 0))

	outcome, err := newMonitor(r, clk).Watch(context.Background())
	if err != nil || outcome != OutcomeCompleted {
		t.Fatalf("got %v, %v", outcome, err)
	}
	if polls != 1 || len(clk.Sleeps()) != 1 {
		t.Fatalf("expected one liveness check and one sleep, got %d and %v", polls, clk.Sleeps())
	}
	if len(r.kills) != 0 {
		t.Fatalf("unexpected termination commands: %v", r.kills)
	}
}

func TestMonitorRidesOutUnreachableLivenessCheck(t *testing.T) {
	r := newFakeRemote()
	pgreps := 0
	r.exec = func(script string) (runner.Result, bool) {
		if !strings.HasPrefix(script, "pgrep") {
			return runner.Result{}, false
		}
		pgreps++
		if pgreps == 2 {
			return runner.Result{ExitCode: remote.ExitUnreachable, Stderr: "Connection reset"}, true
		}
		return runner.Result{}, false
	}
	alive := 0
	r.alive = func() bool {
		alive++
		if alive == 2 {
			r.files["/root/build-status"] = true
		}
		return true
	}

	outcome, err := newMonitor(r, clock.Fake(time.Unix(0, 0))).Watch(context.Background())
	if err != nil || outcome != OutcomeCompleted {
		t.Fatalf("got %v, %v", outcome, err)
	}
	if pgreps != 3 {
		t.Fatalf("pgrep calls = %d", pgreps)
	}
	for _, path := range r.existsCalls {
		if path != "/root/build-status" {
			t.Fatalf("settled on artifacts while unreachable: %s", path)
		}
	}
	if len(r.kills) != 0 {
		t.Fatalf("unexpected termination commands: %v", r.kills)
	}
}

func TestMonitorRidesOutUnreachableStatusCheck(t *testing.T) {
	r := newFakeRemote()
	r.alive = func() bool { return false }
	checks := 0
	r.existsErr = func(path string) error {
		checks++
		if checks == 1 {
			return remote.ErrUnreachable
		}
		return nil
	}
	r.setFile("/root/build-status", true)
	clk := clock.Fake(time.Unix(0, 0))

	outcome, err := newMonitor(r, clk).Watch(context.Background())
	if err != nil || outcome != OutcomeCompleted {
		t.Fatalf("got %v, %v", outcome, err)
	}
	if len(clk.Sleeps()) != 1 {
		t.Fatalf("sleeps = %v", clk.Sleeps())
	}
}

func TestMonitorArtifactWithoutMarkerCompletes(t *testing.T) {
	r := newFakeRemote()
	r.alive = func() bool { return false }
	r.setFile("/root/build-output.apk", true)

	outcome, err := newMonitor(r, clock.Fake(time.Unix(0, 0))).Watch(context.Background())
	if err != nil || outcome != OutcomeCompleted {
		t.Fatalf("got %v, %v", outcome, err)
	}
	if !r.follower.stopped() {
		t.Fatalf("follower was not stopped")
	}
}

func TestMonitorFailsWhenProcessesGoneWithoutArtifact(t *testing.T) {
	r := newFakeRemote()
	alive := 3
	r.alive = func() bool { alive--; return alive > 0 }
	clk := clock.Fake(time.Unix(0, 0))

	outcome, err := newMonitor(r, clk).Watch(context.Background())
	if err != nil || outcome != OutcomeFailed {
		t.Fatalf("got %v, %v", outcome, err)
	}
	if got := len(clk.Sleeps()); got != 2 {
		t.Fatalf("expected 2 sleeps, got %d", got)
	}
	if !r.follower.stopped() {
		t.Fatalf("follower was not stopped")
	}
}

func TestMonitorTimesOutAndKillsBuild(t *testing.T) {
	r := newFakeRemote()
	r.alive = func() bool { return true }
	m := newMonitor(r, clock.Fake(time.Unix(0, 0)))

	outcome, err := m.Watch(context.Background())
	if err != nil || outcome != OutcomeTimedOut {
		t.Fatalf("got %v, %v", outcome, err)
	}
	if len(r.kills) != len(m.Patterns) {
		t.Fatalf("expected %d pkill calls, got %v", len(m.Patterns), r.kills)
	}
	if !r.follower.stopped() {
		t.Fatalf("follower was not stopped")
	}
	for _, path := range r.existsCalls {
		if path != m.StatusFile {
			t.Fatalf("artifact checked after timeout: %s", path)
		}
	}
}

func TestMonitorContinuesWithoutFollower(t *testing.T) {
	r := newFakeRemote()
	r.followErr = errors.New("ssh: spawn failed")
	r.setFile("/root/build-status", true)
	outcome, err := newMonitor(r, clock.Fake(time.Unix(0, 0))).Watch(context.Background())
	if err != nil || outcome != OutcomeCompleted {
		t.Fatalf("got %v, %v", outcome, err)
	}
}

func TestMonitorCancelled(t *testing.T) {
	r := newFakeRemote()
	r.alive = func() bool { return true }
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := newMonitor(r, clock.Fake(time.Unix(0, 0))).Watch(ctx)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if !r.follower.stopped() {
		t.Fatalf("follower was not stopped")
	}
}

func TestSelfSafePattern(t *testing.T) {
	cases := []struct {
		literal string
		want    string
	}{
		{"eas-cli build", "[e]as-cli build"},
		{"gradlew", "[g]radlew"},
		{"./run.sh", `\./run\.sh`},
	}
	for _, tc := range cases {
		got := selfSafePattern(tc.literal)
		if got != tc.want {
			t.Fatalf("selfSafePattern(%q) = %q, want %q", tc.literal, got, tc.want)
		}
		re := regexp.MustCompile(got)
		if !re.MatchString("node /usr/bin/npx " + tc.literal + " --local") {
			t.Fatalf("%q does not match the process", got)
		}
	}
	re := regexp.MustCompile(selfSafePattern("eas-cli build"))
	if re.MatchString("bash -lc pgrep -f '[e]as-cli build'") {
		t.Fatalf("pattern matches the checking shell")
	}
}
