package main

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/antonkrylov/htzbuild/internal/builder"
	cliconfig "github.com/antonkrylov/htzbuild/internal/cli/config"
	"github.com/antonkrylov/htzbuild/internal/console"
	"github.com/antonkrylov/htzbuild/internal/fleet"
)

func newInitCmd(root *rootOptions) *cobra.Command {
	var withCloudInit bool
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Create htzbuild.config.json, .env/credentials.env and .gitignore entries",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			projectDir, err := os.Getwd()
			if err != nil {
				return err
			}
			return initProject(projectDir, console.Stdio(), root.ui, withCloudInit)
		},
	}
	cmd.Flags().BoolVar(&withCloudInit, "cloud-init", false, "also write the built-in cloud-init.yaml for customization")
	return cmd
}

// asker is satisfied by *console.Prompter.
type asker interface {
	Ask(question string) (string, error)
}

func initProject(projectDir string, prompt asker, ui console.Logger, withCloudInit bool) error {
	ui.Info("Initializing new htzbuild project...")

	configPath := filepath.Join(projectDir, cliconfig.ConfigFileName)
	wrote, err := cliconfig.Write(configPath, projectTemplate())
	if err != nil {
		return err
	}
	if wrote {
		ui.Success("Created " + cliconfig.ConfigFileName)
	} else {
		ui.Warn(cliconfig.ConfigFileName + " already exists. Skipping.")
	}

	if err := writeCredentialsEnv(filepath.Join(projectDir, ".env"), prompt, ui); err != nil {
		return err
	}

	if withCloudInit {
		path := filepath.Join(projectDir, "cloud-init.yaml")
		if _, err := os.Stat(path); err == nil {
			ui.Warn("cloud-init.yaml already exists. Skipping.")
		} else if err := os.WriteFile(path, builder.DefaultCloudInit, 0o644); err != nil {
			return err
		} else {
			ui.Success("Created cloud-init.yaml (set CLOUD_INIT_FILE=cloud-init.yaml to use it)")
		}
	}

	if err := updateGitignore(filepath.Join(projectDir, ".gitignore"), ui); err != nil {
		return err
	}
	ui.Success("Initialization complete! You can now run 'htzbuild'.")
	return nil
}

// projectTemplate is the config written by init: the defaults with a
// per-profile artifact map instead of a fallback.
func projectTemplate() builder.Config {
	cfg := builder.DefaultConfig()
	cfg.ArtifactForProfile = map[string]string{
		"preview":    "/root/build-output.apk",
		"production": "/root/build-output.aab",
	}
	return cfg
}

func writeCredentialsEnv(envDir string, prompt asker, ui console.Logger) error {
	if err := os.MkdirAll(envDir, 0o700); err != nil {
		return err
	}
	path := filepath.Join(envDir, "credentials.env")
	if _, err := os.Stat(path); err == nil {
		ui.Warn(".env/credentials.env already exists. Skipping.")
		return nil
	}

	ui.Info("Please provide your Hetzner credentials (leave empty to skip):")
	token, err := ask(prompt, "Hetzner API Token ("+builder.EnvToken+"): ")
	if err != nil {
		return err
	}
	sshKey, err := ask(prompt, fmt.Sprintf("SSH Key Name (%s) [default: %s]: ", builder.EnvSSHKey, fleet.DefaultKeyName))
	if err != nil {
		return err
	}
	location, err := ask(prompt, "Location ("+builder.EnvLocation+") [default: fsn1]: ")
	if err != nil {
		return err
	}

	content := strings.Join([]string{
		builder.EnvToken + "=" + token,
		builder.EnvSSHKey + "=" + orDefault(sshKey, fleet.DefaultKeyName),
		builder.EnvLocation + "=" + orDefault(location, "fsn1"),
		builder.EnvServerType + "=cpx52",
	}, "\n") + "\n"
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		return err
	}
	ui.Success("Created .env/credentials.env")
	return nil
}

// ask treats a non-interactive stdin as an empty answer.
func ask(prompt asker, question string) (string, error) {
	answer, err := prompt.Ask(question)
	if errors.Is(err, console.ErrNotInteractive) {
		return "", nil
	}
	return answer, err
}

func updateGitignore(path string, ui console.Logger) error {
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		ui.Warn("No .gitignore found. Please ensure you ignore '.env/' manually.")
		return nil
	}
	if err != nil {
		return err
	}
	if strings.Contains(string(data), ".env") {
		return nil
	}
	f, err := os.OpenFile(path, os.O_APPEND|os.O_WRONLY, 0)
	if err != nil {
		return err
	}
	defer f.Close()
	if _, err := f.WriteString("\n# htzbuild env\n.env/\n" + builder.OutputDirName + "/\n"); err != nil {
		return err
	}
	ui.Success("Added .env/ and " + builder.OutputDirName + "/ to .gitignore")
	return nil
}

func orDefault(v, def string) string {
	if strings.TrimSpace(v) == "" {
		return def
	}
	return v
}
