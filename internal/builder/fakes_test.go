package builder

import (
	"context"
	"io"
	"os"
	"strings"
	"sync"

	"github.com/antonkrylov/htzbuild/internal/events"
	"github.com/antonkrylov/htzbuild/internal/fleet"
	"github.com/antonkrylov/htzbuild/internal/remote"
	"github.com/antonkrylov/htzbuild/internal/runner"
)

// fakeRemote answers remote commands by prefix. Unknown scripts succeed.
type fakeRemote struct {
	mu sync.Mutex

	// exec overrides the answer to Exec; return ok=false to fall through.
	exec func(script string) (res runner.Result, ok bool)

	ready     func(attempt int) bool
	cloudInit int
	lockHeld  int
	alive     func() bool
	files     map[string]bool
	existsErr func(path string) error

	streamErr   error
	uploadErr   error
	downloadErr error
	followErr   error

	execs       []string
	streams     []string
	uploads     []string
	existsCalls []string
	downloads   []string
	kills       []string
	readyCalls  int
	follower    *fakeProcess
}

func newFakeRemote() *fakeRemote {
	return &fakeRemote{files: map[string]bool{}}
}

func (f *fakeRemote) Exec(_ context.Context, script string) (runner.Result, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.execs = append(f.execs, script)
	if f.exec != nil {
		if res, ok := f.exec(script); ok {
			return res, nil
		}
	}
	switch {
	case script == "echo ready":
		f.readyCalls++
		if f.ready != nil && !f.ready(f.readyCalls) {
			return runner.Result{ExitCode: 255, Stderr: "connection refused"}, nil
		}
		return runner.Result{Stdout: "ready\n"}, nil
	case strings.HasPrefix(script, "cloud-init"):
		return runner.Result{ExitCode: f.cloudInit}, nil
	case strings.HasPrefix(script, "fuser"):
		if f.lockHeld > 0 {
			f.lockHeld--
			return runner.Result{}, nil
		}
		return runner.Result{ExitCode: 1}, nil
	case strings.HasPrefix(script, "pgrep"):
		if f.alive != nil && f.alive() {
			return runner.Result{}, nil
		}
		return runner.Result{ExitCode: 1}, nil
	case strings.HasPrefix(script, "pkill"):
		f.kills = append(f.kills, script)
		return runner.Result{}, nil
	}
	return runner.Result{}, nil
}

func (f *fakeRemote) Check(ctx context.Context, script string) error {
	res, err := f.Exec(ctx, script)
	if err != nil {
		return err
	}
	if !res.OK() {
		return &remote.ExitError{Command: script, ExitCode: res.ExitCode, Stderr: res.Stderr}
	}
	return nil
}

func (f *fakeRemote) Stream(_ context.Context, script string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.streams = append(f.streams, script)
	return f.streamErr
}

func (f *fakeRemote) Exists(_ context.Context, path string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.existsCalls = append(f.existsCalls, path)
	if f.existsErr != nil {
		if err := f.existsErr(path); err != nil {
			return false, err
		}
	}
	return f.files[path], nil
}

func (f *fakeRemote) Follow(_ context.Context, path string, w io.Writer) (runner.Process, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.followErr != nil {
		return nil, f.followErr
	}
	_, _ = io.WriteString(w, "following "+path+"\n")
	f.follower = newFakeProcess()
	return f.follower, nil
}

func (f *fakeRemote) Upload(_ context.Context, localDir, remoteDir string, _ []string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.uploads = append(f.uploads, localDir+" -> "+remoteDir)
	return f.uploadErr
}

func (f *fakeRemote) Download(_ context.Context, remotePath, localPath string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.downloads = append(f.downloads, remotePath)
	if f.downloadErr != nil {
		return f.downloadErr
	}
	return os.WriteFile(localPath, []byte("artifact"), 0o644)
}

func (f *fakeRemote) setFile(path string, exists bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.files[path] = exists
}

type fakeProcess struct {
	mu    sync.Mutex
	stops int
	done  chan struct{}
}

func newFakeProcess() *fakeProcess { return &fakeProcess{done: make(chan struct{})} }

func (p *fakeProcess) Stop() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.stops == 0 {
		close(p.done)
	}
	p.stops++
}

func (p *fakeProcess) Done() <-chan struct{} { return p.done }

func (p *fakeProcess) stopped() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.stops > 0
}

type fakeFleet struct {
	mu        sync.Mutex
	active    bool
	key       fleet.SSHKey
	keyErr    error
	instance  fleet.Instance
	createErr error
	creates   []fleet.CreateSpec
	destroyed []string
}

func (f *fakeFleet) ActiveContext(context.Context) bool { return f.active }

func (f *fakeFleet) EnsureSSHKey(context.Context, fleet.KeyRequest) (fleet.SSHKey, error) {
	if f.keyErr != nil {
		return fleet.SSHKey{}, f.keyErr
	}
	if f.key.Name == "" {
		return fleet.SSHKey{Name: fleet.DefaultKeyName}, nil
	}
	return f.key, nil
}

func (f *fakeFleet) Create(_ context.Context, spec fleet.CreateSpec) (fleet.Instance, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.creates = append(f.creates, spec)
	return f.instance, f.createErr
}

func (f *fakeFleet) Destroy(_ context.Context, id string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.destroyed = append(f.destroyed, id)
}

func (f *fakeFleet) destroyCalls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.destroyed...)
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []events.Event
}

func (p *recordingPublisher) Publish(_ context.Context, ev events.Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, ev)
	return nil
}

func (p *recordingPublisher) Close() {}

func (p *recordingPublisher) states() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]string, 0, len(p.events))
	for _, ev := range p.events {
		out = append(out, ev.State)
	}
	return out
}
