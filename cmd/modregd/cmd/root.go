package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

// Version information
var (
	Version = "dev"
	Commit  = "none"
	Date    = "unknown"
)

// PrintVersion returns version information.
func PrintVersion() string {
	return fmt.Sprintf("modregd v%s (commit: %s, built on: %s)", Version, Commit, Date)
}

// NewRootCommand creates the root command for modregd.
func NewRootCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "modregd",
		Short: "modregd - module lifecycle registry daemon",
		Long: `modregd hosts the feature modules in a lifecycle registry.
It configures, initializes and activates them in dependency order, serves
their state and health over HTTP, and deactivates them on shutdown.`,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}

	flags := cmd.PersistentFlags()
	flags.StringP("config", "c", "", "Configuration file (.yaml, .toml or .json)")
	flags.String("log-format", "", "Log format: console or json (overrides the config file)")
	flags.String("log-level", "", "Log level (overrides the config file)")

	cmd.AddCommand(NewServeCommand())
	cmd.AddCommand(NewCheckCommand())
	cmd.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintln(cmd.OutOrStdout(), PrintVersion())
		},
	})

	return cmd
}
