package main

import (
	"context"
	"log/slog"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/antonkrylov/htzbuild/internal/console"
)

type rootOptions struct {
	verbose  bool
	logLevel string
	ui       *console.Console
	logger   *slog.Logger
}

func (r *rootOptions) prepare() {
	level := slog.LevelWarn
	if r.verbose {
		level = slog.LevelDebug
	} else {
		switch strings.ToLower(strings.TrimSpace(r.logLevel)) {
		case "debug":
			level = slog.LevelDebug
		case "info":
			level = slog.LevelInfo
		case "warn", "warning", "":
			level = slog.LevelWarn
		case "error":
			level = slog.LevelError
		}
	}
	r.logger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
}

func main() {
	opts := &rootOptions{ui: console.New(os.Stdout)}
	rootCmd := newRootCmd(opts)
	if err := rootCmd.ExecuteContext(context.Background()); err != nil {
		opts.ui.Error(err.Error())
		os.Exit(1)
	}
}

func newRootCmd(opts *rootOptions) *cobra.Command {
	run := &runOptions{}
	rootCmd := &cobra.Command{
		Use:   "htzbuild [profile]",
		Short: "Run EAS builds on a throwaway Hetzner Cloud server",
		Long: `htzbuild syncs the current project to a freshly created Hetzner Cloud server,
runs the build there, downloads the artifact into build-output/ and deletes
the server again.`,
		Args:          cobra.MaximumNArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runBuild(cmd, opts, run, args)
		},
	}
	rootCmd.PersistentFlags().BoolVar(&opts.verbose, "verbose", false, "enable debug logging (same as --log-level=debug)")
	rootCmd.PersistentFlags().StringVar(&opts.logLevel, "log-level", "warn", "diagnostic log level: debug|info|warn|error")
	rootCmd.PersistentPreRun = func(*cobra.Command, []string) { opts.prepare() }
	run.bind(rootCmd)

	rootCmd.AddCommand(newRunCmd(opts))
	rootCmd.AddCommand(newConfigCmd(opts))
	rootCmd.AddCommand(newInitCmd(opts))
	rootCmd.AddCommand(newDoctorCmd())
	rootCmd.AddCommand(newSessionsCmd(opts))
	return rootCmd
}

func newRunCmd(root *rootOptions) *cobra.Command {
	run := &runOptions{}
	cmd := &cobra.Command{
		Use:   "run [profile]",
		Short: "Run a build (the default command)",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runBuild(cmd, root, run, args)
		},
	}
	run.bind(cmd)
	return cmd
}
