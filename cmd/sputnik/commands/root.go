// Package commands implements the sputnik CLI commands using cobra.
package commands

import (
	"github.com/spf13/cobra"
)

// NewRootCmd creates the root command with all subcommands registered.
func NewRootCmd(version string) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "sputnik",
		Short: "Sputnik - personal Telegram assistant gateway",
		Long: `Sputnik is a single-owner Telegram assistant: it answers through an
LLM backend, keeps a compacted conversation history, and schedules
natural-language reminders.

Examples:
  sputnik serve
  sputnik serve --config ./config.yaml
  sputnik config set-key`,
		Version: version,
	}

	rootCmd.AddCommand(
		newServeCmd(),
		newConfigCmd(),
		newVersionCmd(version),
	)

	rootCmd.PersistentFlags().StringP("config", "c", "", "path to the configuration file")
	rootCmd.PersistentFlags().BoolP("verbose", "v", false, "enable debug logging")

	return rootCmd
}
