// Package builder runs one remote build: it provisions a server, ships the
// project to it, launches and watches the build, fetches the artifact and
// always destroys the server again.
package builder

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	"github.com/antonkrylov/htzbuild/internal/clock"
	"github.com/antonkrylov/htzbuild/internal/console"
	"github.com/antonkrylov/htzbuild/internal/events"
	"github.com/antonkrylov/htzbuild/internal/fleet"
	"github.com/antonkrylov/htzbuild/internal/runner"
	"github.com/antonkrylov/htzbuild/internal/shell"
)

var discardLogger = slog.New(slog.NewTextHandler(io.Discard, nil))

// RequiredTools must be on PATH before a build starts.
var RequiredTools = []string{"hcloud", "rsync", "ssh", "scp"}

// OutputDirName is the project subdirectory artifacts and logs land in.
const OutputDirName = "build-output"

// Dialer opens the transport to a created server. keyFile is empty when
// ssh should use its defaults.
type Dialer func(inst fleet.Instance, keyFile string) Remote

// Orchestrator runs build sessions. One Run creates and destroys at most
// one server.
type Orchestrator struct {
	ProjectDir string
	Profile    string
	Config     Config
	Env        map[string]string
	// Home resolves ~ in paths. Empty uses the user's home directory.
	Home string

	Fleet  Provisioner
	Dial   Dialer
	Log    console.Logger
	Logger *slog.Logger
	Events events.Publisher
	Clock  clock.Clock
	// Confirm asks before generating an SSH key. Nil declines.
	Confirm func(question string) (bool, error)
	// LookPath defaults to a PATH search.
	LookPath func(file string) (string, error)
	// LogOutput receives the live build log. Nil discards it.
	LogOutput io.Writer
	// KeepOnError keeps the server when Run fails with an error. It is
	// ORed with Config.KeepInstanceOnError.
	KeepOnError bool
	// Signals trigger an immediate teardown followed by Exit(1).
	Signals []os.Signal
	Exit    func(code int)

	// Interval and ConnectivityAttempts override the polling defaults.
	Interval             time.Duration
	ConnectivityAttempts int
}

func (o *Orchestrator) logger() *slog.Logger {
	if o.Logger == nil {
		return discardLogger
	}
	return o.Logger
}

func (o *Orchestrator) ui() console.Logger {
	if o.Log == nil {
		return console.Discard()
	}
	return o.Log
}

func (o *Orchestrator) clock() clock.Clock {
	if o.Clock == nil {
		return clock.Real()
	}
	return o.Clock
}

func (o *Orchestrator) publisher() events.Publisher {
	if o.Events == nil {
		return events.Nop{}
	}
	return o.Events
}

// Run executes one build session and returns the local artifact path.
func (o *Orchestrator) Run(ctx context.Context) (artifact string, err error) {
	clk := o.clock()
	s := &Session{
		ID:        uuid.NewString(),
		Profile:   o.Profile,
		Config:    o.Config,
		Env:       o.Env,
		StartedAt: clk.Now(),
		State:     StateInit,
	}
	o.logger().Debug("session started", "session", s.ID, "profile", s.Profile)
	o.enter(ctx, s, StateInit, nil)

	guard := &Guard{
		Destroy: o.Fleet.Destroy,
		Log:     o.ui(),
		Logger:  o.logger(),
		Exit:    o.Exit,
		Starting: func(ctx context.Context, cause error) {
			o.enter(ctx, s, StateTearingDown, cause)
		},
		Finished: func(ctx context.Context, cause error) {
			o.enter(ctx, s, StateDone, cause)
		},
	}
	if len(o.Signals) > 0 {
		stop := guard.Watch(o.Signals...)
		defer stop()
	}
	defer func() {
		r := recover()
		keep := r == nil && err != nil && (o.KeepOnError || o.Config.KeepInstanceOnError)
		guard.Teardown(ctx, keep, err)
		if r != nil {
			panic(r)
		}
	}()

	settings, err := SettingsFromEnv(o.Env, o.ProjectDir, o.Home)
	if err != nil {
		return "", err
	}
	s.Settings = settings
	if err := o.checkPrerequisites(ctx, s); err != nil {
		return "", err
	}

	layout := s.Config.Layout()
	vars := layout.Vars(s.Profile)
	outputTemplate, err := s.Config.ArtifactPath(s.Profile)
	if err != nil {
		return "", err
	}
	candidates := make([]string, 0, len(s.Config.ArtifactCandidates))
	for _, c := range s.Config.ArtifactCandidates {
		candidates = append(candidates, shell.Interpolate(c, vars))
	}
	plan := LaunchPlan{
		Profile:         s.Profile,
		Layout:          layout,
		EnvScript:       s.Config.EnvScript,
		ExpoToken:       settings.ExpoToken,
		InstallCommand:  s.Config.InstallCommand,
		BuildCommand:    s.Config.BuildCommand,
		OutputFile:      shell.Interpolate(outputTemplate, vars),
		ShutdownMinutes: settings.ShutdownMinutes(),
	}
	// Render once up front so configuration mistakes never cost a server.
	if _, err := RenderLaunchScript(plan); err != nil {
		return "", err
	}

	o.enter(ctx, s, StateProvisioning, nil)
	keyFile, err := o.provision(ctx, s, guard)
	if err != nil {
		return "", err
	}
	rem := o.Dial(s.Instance, keyFile)

	o.enter(ctx, s, StateAwaitingConnectivity, nil)
	waiter := &ConnectivityWaiter{
		Remote:      rem,
		Log:         o.ui(),
		Clock:       clk,
		Attempts:    o.ConnectivityAttempts,
		Interval:    o.Interval,
		LockTimeout: s.Config.packageLockTimeout(),
	}
	if err := waiter.Wait(ctx); err != nil {
		return "", err
	}

	o.enter(ctx, s, StateSyncing, nil)
	syncer := &ProjectSync{Remote: rem, Log: o.ui(), Excludes: s.Config.SyncExcludes}
	if err := syncer.Sync(ctx, o.ProjectDir, layout.ProjectDir); err != nil {
		return "", err
	}

	o.enter(ctx, s, StateBuildLaunched, nil)
	launcher := &BuildLauncher{Remote: rem, Log: o.ui()}
	if err := launcher.Launch(ctx, plan); err != nil {
		return "", err
	}

	o.enter(ctx, s, StateMonitoring, nil)
	outputDir := filepath.Join(o.ProjectDir, OutputDirName)
	outcome, err := o.monitor(ctx, s, rem, outputDir, candidates)
	if err != nil {
		return "", err
	}
	switch outcome {
	case OutcomeTimedOut:
		o.enter(ctx, s, StateTimedOut, nil)
		return "", fmt.Errorf("%w after %s", ErrBuildTimeout, settings.MaxBuild)
	case OutcomeFailed:
		o.enter(ctx, s, StateFailed, nil)
		return "", fmt.Errorf("%w: the build process exited without producing an artifact (see %s on the server)", ErrBuildFailed, layout.LogPath)
	}
	o.enter(ctx, s, StateCompleted, nil)
	o.ui().Success("Build completed.")

	retriever := &ArtifactRetriever{Remote: rem, Log: o.ui(), Clock: clk, OutputDir: outputDir}
	local, err := retriever.Retrieve(ctx, candidates)
	if err != nil {
		return "", err
	}
	s.Artifact = local
	return local, nil
}

func (o *Orchestrator) checkPrerequisites(ctx context.Context, s *Session) error {
	if err := runner.Require(o.LookPath, RequiredTools...); err != nil {
		return fmt.Errorf("%w: %w", ErrPrerequisite, err)
	}
	if s.Settings.Token == "" && !o.Fleet.ActiveContext(ctx) {
		return fmt.Errorf("%w: %s is not set and no hcloud context is active", ErrPrerequisite, EnvToken)
	}
	if f := s.Settings.CloudInitFile; f != "" {
		if _, err := os.Stat(f); err != nil {
			return fmt.Errorf("%w: cloud-init file: %w", ErrPrerequisite, err)
		}
	}
	return s.Config.Layout().Validate()
}

// provision creates the server and returns the private key file to connect
// with.
func (o *Orchestrator) provision(ctx context.Context, s *Session, guard *Guard) (string, error) {
	key, err := o.Fleet.EnsureSSHKey(ctx, fleet.KeyRequest{
		Configured:   s.Settings.SSHKeyName,
		LocalKeyFile: s.Settings.SSHKeyFile,
		Confirm:      o.Confirm,
	})
	if errors.Is(err, fleet.ErrKeyDeclined) {
		return "", fmt.Errorf("%w: %w", ErrPrerequisite, err)
	}
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrProvisioning, err)
	}

	userData := s.Settings.CloudInitFile
	if userData == "" {
		tmp, err := writeTemp("htzbuild-cloud-init-*.yaml", DefaultCloudInit)
		if err != nil {
			return "", fmt.Errorf("%w: %w", ErrProvisioning, err)
		}
		defer os.Remove(tmp)
		userData = tmp
	}

	image := s.Settings.Image
	if image == "" {
		image = s.Config.Image
	}
	spec := fleet.CreateSpec{
		Name:         fmt.Sprintf("eas-builder-%d", s.StartedAt.UnixMilli()),
		ServerType:   s.Settings.ServerType,
		Image:        image,
		Location:     s.Settings.Location,
		SSHKey:       key.Name,
		UserDataFile: userData,
		Labels: map[string]string{
			"managed-by": "htzbuild",
			"session":    s.ID,
		},
	}
	o.ui().Info(fmt.Sprintf("Creating server %s (%s, %s)...", spec.Name, spec.ServerType, spec.Location))
	inst, err := o.Fleet.Create(ctx, spec)
	guard.Record(inst.ID)
	s.mu.Lock()
	s.Instance = inst
	s.mu.Unlock()
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrProvisioning, err)
	}
	o.ui().Success(fmt.Sprintf("Server %s created at %s.", inst.ID, inst.PublicIPv4))

	if key.PrivateKeyFile != "" {
		return key.PrivateKeyFile, nil
	}
	if _, err := os.Stat(s.Settings.SSHKeyFile); err == nil {
		return s.Settings.SSHKeyFile, nil
	}
	return "", nil
}

func (o *Orchestrator) monitor(ctx context.Context, s *Session, rem Remote, outputDir string, candidates []string) (Outcome, error) {
	sink := o.LogOutput
	if sink == nil {
		sink = io.Discard
	}
	archive, err := CreateLogArchive(filepath.Join(outputDir, "build-"+Stamp(s.StartedAt)+".log.zst"))
	if err != nil {
		o.logger().Warn("build log archive disabled", "err", err)
	} else {
		sink = io.MultiWriter(sink, archive)
		defer func() {
			if err := archive.Close(); err != nil {
				o.logger().Warn("closing build log archive", "err", err)
				return
			}
			o.logger().Info("build log archived", "path", archive.Path())
		}()
	}
	m := &BuildMonitor{
		Remote:      rem,
		Log:         o.ui(),
		Logger:      o.logger(),
		Clock:       o.clock(),
		Interval:    o.Interval,
		MaxDuration: s.Settings.MaxBuild,
		LogPath:     s.Config.RemoteLogPath,
		StatusFile:  s.Config.RemoteStatusFile,
		Candidates:  candidates,
		Patterns:    s.Config.BuildProcessPatterns,
		Sink:        sink,
	}
	return m.Watch(ctx)
}

// enter records a state transition and publishes it. Publishing failures
// are logged and otherwise ignored.
// enter records a state transition. Nothing is recorded once the session
// is Done.
func (o *Orchestrator) enter(ctx context.Context, s *Session, state State, cause error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.State == StateDone {
		return
	}
	s.State = state
	attrs := []any{"session", s.ID, "state", state.String()}
	if cause != nil {
		attrs = append(attrs, "err", cause)
	}
	o.logger().Debug("state transition", attrs...)

	ev := events.Event{
		Session:    s.ID,
		Profile:    s.Profile,
		State:      state.String(),
		InstanceID: s.Instance.ID,
		At:         o.clock().Now(),
	}
	if cause != nil {
		ev.Error = cause.Error()
	}
	pctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	if err := o.publisher().Publish(pctx, ev); err != nil {
		o.logger().Warn("publish event failed", "state", state.String(), "err", err)
	}
}

func writeTemp(pattern string, data []byte) (string, error) {
	f, err := os.CreateTemp("", pattern)
	if err != nil {
		return "", err
	}
	if _, err := f.Write(data); err != nil {
		f.Close()
		os.Remove(f.Name())
		return "", err
	}
	return f.Name(), f.Close()
}
