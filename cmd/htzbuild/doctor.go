package main

import (
	"fmt"
	"os"
	"os/exec"
	"strings"

	"github.com/spf13/cobra"

	"github.com/antonkrylov/htzbuild/internal/builder"
	cliconfig "github.com/antonkrylov/htzbuild/internal/cli/config"
)

func newDoctorCmd() *cobra.Command {
	var configPath string
	cmd := &cobra.Command{
		Use:   "doctor",
		Short: "Print local diagnostic information for troubleshooting",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			out := cmd.OutOrStdout()
			exe, _ := os.Executable()
			fmt.Fprintf(out, "htzbuild_executable=%s\n", strings.TrimSpace(exe))

			for _, tool := range builder.RequiredTools {
				path, err := exec.LookPath(tool)
				if err != nil {
					fmt.Fprintf(out, "tool=%s found=false\n", tool)
					continue
				}
				fmt.Fprintf(out, "tool=%s found=true path=%s\n", tool, path)
			}
			fmt.Fprintf(out, "%s_set=%t\n", builder.EnvToken, os.Getenv(builder.EnvToken) != "")

			projectDir, err := os.Getwd()
			if err != nil {
				return err
			}
			cfg, cfgPath, err := cliconfig.Load(projectDir, configPath)
			fmt.Fprintf(out, "config_path=%s\n", cfgPath)
			if err != nil {
				fmt.Fprintf(out, "config_error=%s\n", err.Error())
			} else {
				_, statErr := os.Stat(cfgPath)
				fmt.Fprintf(out, "config_present=%t\n", statErr == nil)
				fmt.Fprintf(out, "image=%s remote_project_dir=%s\n", cfg.Image, cfg.RemoteProjectDir)
				if err := cfg.Layout().Validate(); err != nil {
					fmt.Fprintf(out, "layout_error=%s\n", err.Error())
				}
			}

			credsPath := cliconfig.DefaultCredentialsPath()
			fmt.Fprintf(out, "credentials_path=%s\n", credsPath)
			creds, err := cliconfig.LoadCredentials(credsPath)
			if err != nil {
				fmt.Fprintf(out, "credentials_error=%s\n", err.Error())
				return nil
			}
			fmt.Fprintf(out, "credentials_saved=%s\n", strings.Join(creds.Keys(), ","))
			return nil
		},
	}
	cmd.Flags().StringVarP(&configPath, "config", "c", "", "project config file (default "+cliconfig.ConfigFileName+")")
	return cmd
}
