/*
Copyright © 2026 James Lawson (jpl-au) <hello@caelisco.net>
*/

// root.go defines the root command and CLI execution entry point.
//
// Design: PersistentPreRunE loads configuration once for every command, so
// subcommands read the shared cfg variable rather than re-parsing YAML.
// Commands that assemble the full search stack (serve, find, cache clean)
// go through env.go.

package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/svank/appa-backend/internal/config"
)

// cfg is loaded before any command runs.
var cfg *config.Config

var rootCmd = &cobra.Command{
	Use:   "appa",
	Short: "Find chains of coauthorship between astronomers",
	Long: `APPA finds the shortest chains of collaboration between two authors
in the astronomy literature, using the NASA ADS database. Chains are ranked
by the confidence that each name along the way refers to one person.`,
	Run: func(cmd *cobra.Command, _ []string) {
		_ = cmd.Help()
	},
	PersistentPreRunE: func(_ *cobra.Command, _ []string) error {
		loaded, err := config.Load()
		if err != nil {
			return err
		}
		cfg = loaded
		return nil
	},
}

// Execute runs the root command. Exit code 1 indicates error.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

// RootCmd returns the root command for testing.
func RootCmd() *cobra.Command {
	return rootCmd
}
