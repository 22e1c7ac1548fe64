/*
Copyright © 2026 James Lawson (jpl-au) <hello@caelisco.net>
*/

package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/svank/appa-backend/internal/version"
)

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Show build version information",
	Args:  cobra.NoArgs,
	Run: func(_ *cobra.Command, _ []string) {
		fmt.Print(version.Get().String())
	},
}

func init() {
	rootCmd.AddCommand(versionCmd)
}
