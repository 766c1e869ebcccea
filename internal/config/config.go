// Package config loads runtime configuration from the environment.
package config

import (
	"fmt"

	"github.com/caarlos0/env/v11"
)

// Config contains runtime configuration for the ingest commands and the
// HTTP server. DatabaseURL is not marked required here because read-only
// invocations (e.g. --help) must not fail; commands that touch the
// database validate it themselves.
type Config struct {
	DatabaseURL string `env:"DATABASE_URL"`
	DBBackend   string `env:"DB_BACKEND" envDefault:"postgres"`

	ChunkSize int `env:"INGEST_CHUNK_SIZE" envDefault:"500"`

	MaxScanFileBytes int64 `env:"MAX_SCAN_FILE_BYTES" envDefault:"10485760"`
	MaxXMLDepth      int   `env:"MAX_XML_DEPTH" envDefault:"50"`

	ListenAddr string `env:"LISTEN_ADDR" envDefault:":8080"`
	LogLevel   string `env:"LOG_LEVEL" envDefault:"info"`
}

// Load parses the environment into a Config.
func Load() (Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("parse environment: %w", err)
	}
	if cfg.ChunkSize <= 0 {
		return Config{}, fmt.Errorf("INGEST_CHUNK_SIZE must be positive, got %d", cfg.ChunkSize)
	}
	if cfg.MaxScanFileBytes <= 0 {
		return Config{}, fmt.Errorf("MAX_SCAN_FILE_BYTES must be positive, got %d", cfg.MaxScanFileBytes)
	}
	if cfg.MaxXMLDepth <= 0 {
		return Config{}, fmt.Errorf("MAX_XML_DEPTH must be positive, got %d", cfg.MaxXMLDepth)
	}
	return cfg, nil
}
