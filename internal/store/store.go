// Package store owns every write to the three persistence tables: the
// append-only exposure_events history, the merged exposures_current state,
// and the quarantined_files dead-letter log.
package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/PratikDhanave/exposure-ingest/internal/models"
)

// ErrUnknownBackend is returned by Open for an unregistered backend name.
var ErrUnknownBackend = errors.New("unknown storage backend")

// IngestStats summarizes one ingest call.
type IngestStats struct {
	InsertedEvents  int `json:"inserted_events"`
	InsertedCurrent int `json:"inserted_current"`
	UpdatedCurrent  int `json:"updated_current"`
}

// QuarantineRecord captures one rejected input for operator triage. Records
// are written once and never mutated.
type QuarantineRecord struct {
	Filename     string
	FileSize     *int64
	FileHash     *string
	ErrorType    string
	ErrorMessage string
	ErrorDetails map[string]any
	ScannerType  *string
	OfficeID     *string
}

// ExposureCount is one (office, class, status) bucket of current exposures.
type ExposureCount struct {
	OfficeID string                `json:"office_id"`
	Class    models.ExposureClass  `json:"exposure_class"`
	Status   models.ExposureStatus `json:"status"`
	Count    int64                 `json:"count"`
}

// Store is the persistence contract. One Store instance is owned by one
// process for its lifetime; the backend is assumed single-writer.
type Store interface {
	// EnsureSchema creates any missing tables and indexes. Idempotent and
	// cheap enough to run on every invocation of a short-lived process.
	EnsureSchema(ctx context.Context) error
	// Ping validates connectivity.
	Ping(ctx context.Context) error
	// Close releases the storage handle.
	Close()

	// Ingest appends every event to history and merges the batch into
	// current state, in bounded transactional chunks. Events must already
	// be validated.
	Ingest(ctx context.Context, events []*models.ExposureEvent) (IngestStats, error)
	// Quarantine records a rejected input. Never part of an ingest
	// transaction, so a quarantine write cannot roll back good rows.
	Quarantine(ctx context.Context, rec QuarantineRecord) error
	// ExposureCounts reports current-state row counts grouped by office,
	// class and status; officeID == "" means all offices.
	ExposureCounts(ctx context.Context, officeID string) ([]ExposureCount, error)
}

// Open builds the configured backend. Backend names form a closed set; an
// unknown name is a configuration error, not a fallback to a default.
func Open(ctx context.Context, backend, dbURL string, chunkSize int) (Store, error) {
	switch backend {
	case "", "postgres", "postgresql":
		return NewPostgresStore(ctx, dbURL, chunkSize)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownBackend, backend)
	}
}
