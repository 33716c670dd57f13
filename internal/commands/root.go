// Package commands contains the bankctl CLI commands.
package commands

import (
	"github.com/spf13/cobra"
)

var configPath string

// NewRootCommand creates the root CLI command with all subcommands registered.
func NewRootCommand() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "bankctl",
		Short: "Establish and inspect bank connections through the aggregator",
		CompletionOptions: cobra.CompletionOptions{
			DisableDefaultCmd: true,
		},
		SilenceUsage: true,
	}

	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "path to a YAML config file (environment variables otherwise)")

	rootCmd.AddCommand(newInstitutionsCommand())
	rootCmd.AddCommand(newConnectCommand())
	rootCmd.AddCommand(newConnectionsCommand())

	return rootCmd
}
