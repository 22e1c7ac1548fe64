/*
Copyright © 2026 James Lawson (jpl-au) <hello@caelisco.net>
*/

package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/svank/appa-backend/internal/cache"
)

var (
	cleanAuthors   bool
	cleanDocuments bool
	cleanProgress  bool
	cleanResults   bool
)

var cacheCmd = &cobra.Command{
	Use:   "cache",
	Short: "Manage the persistent cache",
	Run: func(cmd *cobra.Command, _ []string) {
		_ = cmd.Help()
	},
}

var cacheCleanCmd = &cobra.Command{
	Use:   "clean",
	Short: "Remove stale cache entries",
	Long: `Sweeps expired records out of the backing cache. With no flags
every collection is swept; flags restrict the sweep. Clearing documents
while a search is running can force re-fetches, so restrict to --authors
on a busy server.`,
	Args: cobra.NoArgs,
	RunE: func(_ *cobra.Command, _ []string) error {
		e, err := newEnv()
		if err != nil {
			return err
		}
		defer func() { _ = e.close() }()

		opts := cache.ClearOptions{
			Authors:   cleanAuthors,
			Documents: cleanDocuments,
			Progress:  cleanProgress,
			Results:   cleanResults,
		}
		if opts == (cache.ClearOptions{}) {
			opts = cache.ClearAll()
		}
		if err := e.cache.ClearStaleData(context.Background(), opts); err != nil {
			return fmt.Errorf("clearing stale data: %w", err)
		}
		fmt.Println("Stale cache data cleared")
		return nil
	},
}

func init() {
	cacheCleanCmd.Flags().BoolVar(&cleanAuthors, "authors", false, "Sweep author records")
	cacheCleanCmd.Flags().BoolVar(&cleanDocuments, "documents", false, "Sweep document records")
	cacheCleanCmd.Flags().BoolVar(&cleanProgress, "progress", false, "Sweep progress records")
	cacheCleanCmd.Flags().BoolVar(&cleanResults, "results", false, "Sweep cached results")
	cacheCmd.AddCommand(cacheCleanCmd)
	rootCmd.AddCommand(cacheCmd)
}
