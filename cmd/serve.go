/*
Copyright © 2026 James Lawson (jpl-au) <hello@caelisco.net>
*/

package cmd

import (
	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"

	"github.com/svank/appa-backend/internal/ranker"
	"github.com/svank/appa-backend/internal/server"
)

var serveAddress string

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP API",
	Long: `Serves find_route, get_progress and get_graph_data. The listen
address comes from --address, falling back to server.address in the config.`,
	Args: cobra.NoArgs,
	RunE: func(_ *cobra.Command, _ []string) error {
		e, err := newEnv()
		if err != nil {
			return err
		}
		defer func() { _ = e.close() }()

		gin.SetMode(gin.ReleaseMode)
		srv := server.New(server.Config{
			Cache:         e.cache,
			Names:         e.ns,
			Token:         cfg.Token(),
			MaxIterations: cfg.MaxIterations(),
			Weights: ranker.Weights{
				Affil:     cfg.AffilWeight(),
				Detail:    cfg.DetailWeight(),
				OrcidStep: cfg.OrcidStep(),
			},
			Log: e.log,
		})

		address := serveAddress
		if address == "" {
			address = cfg.Address()
		}
		return srv.Run(address)
	},
}

func init() {
	serveCmd.Flags().StringVar(&serveAddress, "address", "", "Listen address (host:port)")
	rootCmd.AddCommand(serveCmd)
}
