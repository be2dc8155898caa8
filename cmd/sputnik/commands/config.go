package commands

import (
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"golang.org/x/term"
	"gopkg.in/yaml.v3"

	"github.com/avdeenko/sputnik/pkg/sputnik/config"
)

// newConfigCmd creates the `sputnik config` command group.
func newConfigCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Manage configuration and credentials",
	}
	cmd.AddCommand(
		newConfigInitCmd(),
		newConfigSetKeyCmd(),
		newConfigDeleteKeyCmd(),
	)
	return cmd
}

func newConfigInitCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "init",
		Short: "Write a default config.yaml",
		RunE: func(_ *cobra.Command, _ []string) error {
			if _, err := os.Stat("config.yaml"); err == nil {
				return fmt.Errorf("config.yaml already exists")
			}
			data, err := yaml.Marshal(config.DefaultConfig())
			if err != nil {
				return err
			}
			if err := os.WriteFile("config.yaml", data, 0o600); err != nil {
				return fmt.Errorf("writing config.yaml: %w", err)
			}
			fmt.Println("config.yaml created. Fill in telegram.bot_token and telegram.admin_user_id.")
			return nil
		},
	}
}

func newConfigSetKeyCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "set-key",
		Short: "Store the LLM API key in the OS keyring",
		RunE: func(_ *cobra.Command, _ []string) error {
			if !config.KeyringAvailable() {
				return fmt.Errorf("OS keyring is not available in this session")
			}

			key, err := readSecret("API key (hidden input): ")
			if err != nil {
				return fmt.Errorf("reading key: %w", err)
			}
			if key == "" {
				return fmt.Errorf("empty key")
			}

			return config.MigrateKeyToKeyring(key, slog.Default())
		},
	}
}

// readSecret reads a secret from the terminal without echoing.
// Falls back to plain stdin reading for piped input or a non-TTY session.
func readSecret(prompt string) (string, error) {
	fmt.Print(prompt)

	fd := int(os.Stdin.Fd())
	secret, err := term.ReadPassword(fd)
	if err != nil {
		var buf [1024]byte
		n, readErr := os.Stdin.Read(buf[:])
		if readErr != nil {
			return "", readErr
		}
		secret = buf[:n]
	}
	fmt.Println()

	return strings.TrimSpace(string(secret)), nil
}

func newConfigDeleteKeyCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "delete-key",
		Short: "Remove the LLM API key from the OS keyring",
		RunE: func(_ *cobra.Command, _ []string) error {
			if err := config.DeleteKeyring("api_key"); err != nil {
				return fmt.Errorf("deleting key: %w", err)
			}
			fmt.Println("API key removed from the OS keyring.")
			return nil
		},
	}
}
