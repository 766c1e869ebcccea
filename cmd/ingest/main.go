// exposure-ingest turns raw scanner output into canonical exposure events
// and maintains the current exposure state per office.
package main

import (
	"os"

	"github.com/joho/godotenv"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "exposure-ingest",
	Short: "Ingest network exposure scan results",
	Long: `exposure-ingest transforms scanner output (nmap XML, nuclei JSON)
into canonical exposure events, appends them to the event history, and
merges them into the current exposure state for each office.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func main() {
	// .env is a local-dev convenience; absence is not an error.
	_ = godotenv.Load()

	log.SetFormatter(&log.TextFormatter{FullTimestamp: true})
	log.SetOutput(os.Stderr)
	if lvl, err := log.ParseLevel(os.Getenv("LOG_LEVEL")); err == nil {
		log.SetLevel(lvl)
	}

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
