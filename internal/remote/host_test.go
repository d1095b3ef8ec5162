package remote

import (
	"context"
	"errors"
	"io"
	"strings"
	"testing"

	"github.com/antonkrylov/htzbuild/internal/runner"
)

type fakeRunner struct {
	cmds    []runner.Command
	results []runner.Result
}

func (f *fakeRunner) Run(_ context.Context, c runner.Command) (runner.Result, error) {
	f.cmds = append(f.cmds, c)
	if len(f.results) == 0 {
		return runner.Result{}, nil
	}
	res := f.results[0]
	f.results = f.results[1:]
	return res, nil
}

func (f *fakeRunner) Start(_ context.Context, c runner.Command) (runner.Process, error) {
	f.cmds = append(f.cmds, c)
	return nil, nil
}

func newHost(r *fakeRunner) *Host {
	return &Host{Runner: r, Address: "203.0.113.7", KeyFile: "/home/me/.ssh/id_hetzner", Stdout: io.Discard, Stderr: io.Discard}
}

func TestExecWrapsScriptAsSingleWord(t *testing.T) {
	r := &fakeRunner{}
	h := newHost(r)
	if _, err := h.Exec(context.Background(), "echo ready"); err != nil {
		t.Fatal(err)
	}
	c := r.cmds[0]
	if c.Name != "ssh" {
		t.Fatalf("name=%s", c.Name)
	}
	n := len(c.Args)
	if c.Args[n-2] != "root@203.0.113.7" {
		t.Fatalf("target=%s", c.Args[n-2])
	}
	if c.Args[n-1] != "bash -lc 'echo ready'" {
		t.Fatalf("remote command=%s", c.Args[n-1])
	}
	joined := strings.Join(c.Args, " ")
	if !strings.Contains(joined, "-i /home/me/.ssh/id_hetzner") {
		t.Fatalf("missing key: %s", joined)
	}
}

func TestCheckReturnsExitError(t *testing.T) {
	r := &fakeRunner{results: []runner.Result{{ExitCode: 2, Stderr: "cloud-init failed"}}}
	h := newHost(r)
	err := h.Check(context.Background(), "cloud-init status --wait")
	var exitErr *ExitError
	if !errors.As(err, &exitErr) {
		t.Fatalf("err=%v", err)
	}
	if exitErr.ExitCode != 2 || exitErr.Stderr != "cloud-init failed" {
		t.Fatalf("exitErr=%+v", exitErr)
	}
}

func TestExistsQuotesPath(t *testing.T) {
	r := &fakeRunner{results: []runner.Result{{ExitCode: 1}}}
	h := newHost(r)
	ok, err := h.Exists(context.Background(), "/root/my build.apk")
	if err != nil {
		t.Fatal(err)
	}
	if ok {
		t.Fatalf("expected missing")
	}
	last := r.cmds[0].Args[len(r.cmds[0].Args)-1]
	if last != `bash -lc 'test -f '\''/root/my build.apk'\'''` {
		t.Fatalf("remote command=%s", last)
	}
}

func TestExistsUnreachable(t *testing.T) {
	r := &fakeRunner{results: []runner.Result{{ExitCode: ExitUnreachable, Stderr: "Connection timed out\n"}}}
	ok, err := newHost(r).Exists(context.Background(), "/root/build-status")
	if !errors.Is(err, ErrUnreachable) {
		t.Fatalf("expected ErrUnreachable, got %v", err)
	}
	if ok {
		t.Fatalf("unreachable host reported the file present")
	}
}

func TestUploadBuildsRsyncArgs(t *testing.T) {
	r := &fakeRunner{}
	h := newHost(r)
	if err := h.Upload(context.Background(), "/work/app/", "/root/project", []string{"node_modules", ".git"}); err != nil {
		t.Fatal(err)
	}
	c := r.cmds[0]
	if c.Name != "rsync" {
		t.Fatalf("name=%s", c.Name)
	}
	joined := strings.Join(c.Args, "|")
	for _, want := range []string{"--exclude|node_modules", "--exclude|.git", "/work/app/|root@203.0.113.7:/root/project/"} {
		if !strings.Contains(joined, want) {
			t.Fatalf("missing %q in %s", want, joined)
		}
	}
	if !strings.HasPrefix(h.CommandLine(), "ssh -o StrictHostKeyChecking=no") {
		t.Fatalf("command line=%s", h.CommandLine())
	}
}

func TestUploadFailure(t *testing.T) {
	r := &fakeRunner{results: []runner.Result{{ExitCode: 23}}}
	h := newHost(r)
	err := h.Upload(context.Background(), "/work/app", "/root/project", nil)
	var exitErr *ExitError
	if !errors.As(err, &exitErr) || exitErr.ExitCode != 23 {
		t.Fatalf("err=%v", err)
	}
}

func TestDownloadTarget(t *testing.T) {
	r := &fakeRunner{}
	h := newHost(r)
	if err := h.Download(context.Background(), "/root/build-output.apk", "/tmp/out.apk"); err != nil {
		t.Fatal(err)
	}
	c := r.cmds[0]
	n := len(c.Args)
	if c.Name != "scp" || c.Args[n-2] != "root@203.0.113.7:/root/build-output.apk" || c.Args[n-1] != "/tmp/out.apk" {
		t.Fatalf("cmd=%v", c)
	}
}
