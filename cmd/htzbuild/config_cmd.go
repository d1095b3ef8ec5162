package main

import (
	"errors"
	"os"

	"github.com/spf13/cobra"

	"github.com/antonkrylov/htzbuild/internal/builder"
	cliconfig "github.com/antonkrylov/htzbuild/internal/cli/config"
)

type configFlags struct {
	credentialsFile string
	token           string
	sshKey          string
	location        string
	serverType      string
}

func (f *configFlags) credentials() cliconfig.Credentials {
	creds := cliconfig.Credentials{}
	for key, value := range map[string]string{
		builder.EnvToken:      f.token,
		builder.EnvSSHKey:     f.sshKey,
		builder.EnvLocation:   f.location,
		builder.EnvServerType: f.serverType,
	} {
		if value != "" {
			creds[key] = value
		}
	}
	return creds
}

func newConfigCmd(root *rootOptions) *cobra.Command {
	flags := &configFlags{}
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Save Hetzner credentials outside the project",
		Long: `Saved credentials override matching values from the .env folder on every run.
At least one credential flag is required.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			projectDir, err := os.Getwd()
			if err != nil {
				return err
			}
			path, err := saveCredentials(flags, projectDir)
			if err != nil {
				return err
			}
			root.ui.Info("Saved Hetzner credentials to " + path)
			root.ui.Info("Subsequent runs will use these credentials instead of the .env folder.")
			return nil
		},
	}
	cmd.Flags().StringVar(&flags.credentialsFile, "credentials-file", "", "credentials file to write (default "+cliconfig.DefaultCredentialsPath()+")")
	cmd.Flags().StringVar(&flags.token, "token", "", "Hetzner API token ("+builder.EnvToken+")")
	cmd.Flags().StringVar(&flags.sshKey, "ssh-key", "", "Hetzner SSH key name ("+builder.EnvSSHKey+")")
	cmd.Flags().StringVar(&flags.location, "location", "", "Hetzner location ("+builder.EnvLocation+")")
	cmd.Flags().StringVar(&flags.serverType, "server-type", "", "Hetzner server type ("+builder.EnvServerType+")")
	return cmd
}

func saveCredentials(flags *configFlags, projectDir string) (string, error) {
	creds := flags.credentials()
	if len(creds) == 0 {
		return "", errors.New("provide at least one credential flag (--token, --ssh-key, --location, --server-type)")
	}
	path, err := cliconfig.ResolveCredentialsPath(flags.credentialsFile)
	if err != nil {
		return "", err
	}
	if err := cliconfig.EnsureOutside(path, projectDir); err != nil {
		return "", err
	}
	if err := cliconfig.SaveCredentials(path, creds); err != nil {
		return "", err
	}
	return path, nil
}
