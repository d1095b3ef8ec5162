package main

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/antonkrylov/htzbuild/internal/builder"
	cliconfig "github.com/antonkrylov/htzbuild/internal/cli/config"
	"github.com/antonkrylov/htzbuild/internal/console"
	"github.com/antonkrylov/htzbuild/internal/envfile"
	"github.com/antonkrylov/htzbuild/internal/events"
	"github.com/antonkrylov/htzbuild/internal/fleet"
	"github.com/antonkrylov/htzbuild/internal/remote"
	"github.com/antonkrylov/htzbuild/internal/runner"
	"github.com/antonkrylov/htzbuild/internal/sessionstore"
)

const envNATSURL = "HTZBUILD_NATS_URL"

type runOptions struct {
	profile         string
	envFolder       string
	configPath      string
	credentialsFile string
	keepOnError     bool
}

func (o *runOptions) bind(cmd *cobra.Command) {
	cmd.Flags().StringVarP(&o.profile, "profile", "p", "", "build profile (default preview)")
	cmd.Flags().StringVarP(&o.envFolder, "env-folder", "e", ".env", "folder of env files to load")
	cmd.Flags().StringVarP(&o.configPath, "config", "c", "", "project config file (default "+cliconfig.ConfigFileName+")")
	cmd.Flags().StringVar(&o.credentialsFile, "credentials-file", "", "saved credentials file (default "+cliconfig.DefaultCredentialsPath()+")")
	cmd.Flags().BoolVar(&o.keepOnError, "keep-on-error", false, "keep the server alive when the build fails")
}

func (o *runOptions) resolveProfile(args []string) string {
	if strings.TrimSpace(o.profile) != "" {
		return o.profile
	}
	if len(args) > 0 && strings.TrimSpace(args[0]) != "" {
		return args[0]
	}
	return "preview"
}

func runBuild(cmd *cobra.Command, root *rootOptions, opts *runOptions, args []string) error {
	projectDir, err := os.Getwd()
	if err != nil {
		return err
	}
	cfg, cfgPath, err := cliconfig.Load(projectDir, opts.configPath)
	if err != nil {
		return err
	}
	root.logger.Debug("config loaded", "path", cfgPath)

	credsPath, err := cliconfig.ResolveCredentialsPath(opts.credentialsFile)
	if err != nil {
		return err
	}
	creds, err := cliconfig.LoadCredentials(credsPath)
	if err != nil {
		return err
	}
	envDir := opts.envFolder
	if !filepath.IsAbs(envDir) {
		envDir = filepath.Join(projectDir, envDir)
	}
	env, err := resolveEnv(environMap(os.Environ()), envDir, creds, credsPath, root.ui)
	if err != nil {
		return err
	}

	exec := &runner.Exec{Env: environList(env), Logger: root.logger}
	publisher := events.Fanout{
		sessionstore.New(cliconfig.DefaultSessionsDir()),
		connectEvents(env[envNATSURL], root),
	}
	defer publisher.Close()

	orch := &builder.Orchestrator{
		ProjectDir: projectDir,
		Profile:    opts.resolveProfile(args),
		Config:     cfg,
		Env:        env,
		Fleet:      &fleet.Client{Runner: exec, Log: root.ui, Logger: root.logger},
		Dial: func(inst fleet.Instance, keyFile string) builder.Remote {
			return &remote.Host{Runner: exec, Address: inst.PublicIPv4, KeyFile: keyFile}
		},
		Log:         root.ui,
		Logger:      root.logger,
		Events:      publisher,
		Confirm:     console.Stdio().Confirm,
		LogOutput:   os.Stdout,
		KeepOnError: opts.keepOnError,
		Signals:     []os.Signal{os.Interrupt, syscall.SIGTERM},
		Exit: func(code int) {
			publisher.Close()
			os.Exit(code)
		},
	}
	root.ui.Info(fmt.Sprintf("Building profile %q", orch.Profile))

	artifact, err := orch.Run(cmd.Context())
	if err != nil {
		return err
	}
	root.ui.Success("Done: " + artifact)
	return nil
}

// resolveEnv merges the process environment, the env folder and saved
// credentials. Folder values only fill variables the process does not
// already set; saved credentials override both.
func resolveEnv(process map[string]string, envDir string, creds cliconfig.Credentials, credsPath string, ui console.Logger) (map[string]string, error) {
	env := make(map[string]string, len(process))
	for k, v := range process {
		env[k] = v
	}

	loaded, err := envfile.LoadDir(envDir)
	switch {
	case err == nil:
		ui.Info("Loading environment from " + envDir)
		for k, v := range loaded {
			if _, set := process[k]; !set {
				env[k] = v
			}
		}
	case errors.Is(err, envfile.ErrNotFound) || errors.Is(err, fs.ErrNotExist):
		if !creds.HasAny() {
			return nil, fmt.Errorf("env folder not found: %s (run 'htzbuild init' or 'htzbuild config')", envDir)
		}
		ui.Info(fmt.Sprintf("Env folder not found (%s); using saved credentials from %s", envDir, credsPath))
	default:
		return nil, err
	}

	for k, v := range creds {
		if v != "" {
			env[k] = v
		}
	}
	return env, nil
}

func connectEvents(url string, root *rootOptions) events.Publisher {
	if strings.TrimSpace(url) == "" {
		return events.Nop{}
	}
	pub, err := events.Connect(events.Options{URL: url}, root.logger)
	if err != nil {
		root.ui.Warn("Lifecycle events disabled: " + err.Error())
		return events.Nop{}
	}
	return pub
}

func environMap(environ []string) map[string]string {
	out := make(map[string]string, len(environ))
	for _, kv := range environ {
		if k, v, ok := strings.Cut(kv, "="); ok && k != "" {
			out[k] = v
		}
	}
	return out
}

func environList(env map[string]string) []string {
	out := make([]string, 0, len(env))
	for k, v := range env {
		out = append(out, k+"="+v)
	}
	sort.Strings(out)
	return out
}
