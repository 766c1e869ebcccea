package main

import (
	"fmt"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/PratikDhanave/exposure-ingest/internal/config"
	"github.com/PratikDhanave/exposure-ingest/internal/httpserver"
	"github.com/PratikDhanave/exposure-ingest/internal/ingest"
	"github.com/PratikDhanave/exposure-ingest/internal/securexml"
	"github.com/PratikDhanave/exposure-ingest/internal/store"
	"github.com/PratikDhanave/exposure-ingest/internal/transform"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the ingestion HTTP server",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load()
		if err != nil {
			return err
		}
		if cfg.DatabaseURL == "" {
			return fmt.Errorf("DATABASE_URL is required")
		}

		ctx := cmd.Context()
		st, err := store.Open(ctx, cfg.DBBackend, cfg.DatabaseURL, cfg.ChunkSize)
		if err != nil {
			return err
		}
		defer st.Close()

		if err := st.EnsureSchema(ctx); err != nil {
			return err
		}

		registry := transform.DefaultRegistry(securexml.Limits{
			MaxBytes: cfg.MaxScanFileBytes,
			MaxDepth: cfg.MaxXMLDepth,
		})
		svc := ingest.New(registry, st)
		router := httpserver.NewRouter(svc, st)

		log.WithField("addr", cfg.ListenAddr).Info("server started")
		return router.Run(cfg.ListenAddr)
	},
}

var initDBCmd = &cobra.Command{
	Use:   "init-db",
	Short: "Create the database schema and exit",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load()
		if err != nil {
			return err
		}
		if cfg.DatabaseURL == "" {
			return fmt.Errorf("DATABASE_URL is required")
		}

		ctx := cmd.Context()
		st, err := store.Open(ctx, cfg.DBBackend, cfg.DatabaseURL, cfg.ChunkSize)
		if err != nil {
			return err
		}
		defer st.Close()

		if err := st.EnsureSchema(ctx); err != nil {
			return err
		}
		log.Info("schema ready")
		return nil
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(initDBCmd)
}
