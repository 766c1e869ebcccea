package main

import (
	"encoding/json"
	"errors"
	"os"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/PratikDhanave/exposure-ingest/internal/config"
	"github.com/PratikDhanave/exposure-ingest/internal/ingest"
	"github.com/PratikDhanave/exposure-ingest/internal/securexml"
	"github.com/PratikDhanave/exposure-ingest/internal/store"
	"github.com/PratikDhanave/exposure-ingest/internal/transform"
)

var (
	flagOfficeID    string
	flagScannerID   string
	flagScannerType string
	flagJSON        bool
)

var ingestCmd = &cobra.Command{
	Use:   "ingest <file>",
	Short: "Ingest one scanner output file",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load()
		if err != nil {
			return reportError(&ingest.RunError{Kind: ingest.KindConfig, Msg: err.Error(), Err: err})
		}
		if cfg.DatabaseURL == "" {
			return reportError(&ingest.RunError{Kind: ingest.KindConfig, Msg: "DATABASE_URL is required"})
		}

		ctx := cmd.Context()
		st, err := store.Open(ctx, cfg.DBBackend, cfg.DatabaseURL, cfg.ChunkSize)
		if err != nil {
			kind := ingest.KindStorage
			if errors.Is(err, store.ErrUnknownBackend) {
				kind = ingest.KindConfig
			}
			return reportError(&ingest.RunError{Kind: kind, Msg: "cannot open store", Err: err})
		}
		defer st.Close()

		if err := st.EnsureSchema(ctx); err != nil {
			return reportError(&ingest.RunError{Kind: ingest.KindStorage, Msg: "schema bootstrap failed", Err: err})
		}

		registry := transform.DefaultRegistry(securexml.Limits{
			MaxBytes: cfg.MaxScanFileBytes,
			MaxDepth: cfg.MaxXMLDepth,
		})
		svc := ingest.New(registry, st)

		summary, err := svc.IngestFile(ctx, args[0], flagOfficeID, flagScannerID, flagScannerType)
		if err != nil {
			return reportError(err)
		}
		if flagJSON {
			return json.NewEncoder(os.Stdout).Encode(summary)
		}
		return nil
	},
}

// reportError emits the failure in the requested format and passes it up so
// the process exits non-zero.
func reportError(err error) error {
	if flagJSON {
		payload := map[string]any{
			"status":     "error",
			"error":      err.Error(),
			"error_kind": string(ingest.KindOf(err)),
		}
		var re *ingest.RunError
		if errors.As(err, &re) && re.File != "" {
			payload["file"] = re.File
		}
		_ = json.NewEncoder(os.Stdout).Encode(payload)
	} else {
		log.WithError(err).WithField("error_kind", string(ingest.KindOf(err))).Error("ingestion failed")
	}
	return err
}

func init() {
	ingestCmd.Flags().StringVar(&flagOfficeID, "office-id", "", "office identifier (required)")
	ingestCmd.Flags().StringVar(&flagScannerID, "scanner-id", "", "scanner instance identifier (required)")
	ingestCmd.Flags().StringVar(&flagScannerType, "scanner-type", "nmap", "scanner type (nmap, nuclei)")
	ingestCmd.Flags().BoolVar(&flagJSON, "json", false, "print a machine-readable summary to stdout")
	_ = ingestCmd.MarkFlagRequired("office-id")
	_ = ingestCmd.MarkFlagRequired("scanner-id")

	rootCmd.AddCommand(ingestCmd)
}
