// Package ingest orchestrates one ingestion run: file in, adapter, canonical
// events, repository out, with per-event failure isolation and quarantine of
// everything rejected along the way.
package ingest

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/PratikDhanave/exposure-ingest/internal/models"
	"github.com/PratikDhanave/exposure-ingest/internal/securexml"
	"github.com/PratikDhanave/exposure-ingest/internal/store"
	"github.com/PratikDhanave/exposure-ingest/internal/transform"
)

// Service runs ingestion invocations against one registry and one store.
type Service struct {
	registry *transform.Registry
	store    store.Store
}

// New wires a Service. The store handle is owned by the caller.
func New(registry *transform.Registry, st store.Store) *Service {
	return &Service{registry: registry, store: st}
}

// Summary is the success payload of one ingestion run.
type Summary struct {
	Status           string `json:"status"`
	File             string `json:"file"`
	Events           int    `json:"events"`
	ExposuresNew     int    `json:"exposures_new"`
	ExposuresUpdated int    `json:"exposures_updated"`
	ProcessingMS     int64  `json:"processing_ms"`
}

// IngestFile processes one scanner output file end to end.
//
// File-level failures (missing file, security rejection, unparseable input)
// abort the run and quarantine the file. Event-level validation failures
// quarantine only the offending event; the rest of the batch proceeds.
func (s *Service) IngestFile(ctx context.Context, path, officeID, scannerID, scannerType string) (*Summary, error) {
	start := time.Now()

	info, err := os.Stat(path)
	if err != nil {
		msg := "cannot access file"
		if errors.Is(err, fs.ErrNotExist) {
			msg = "file not found"
		}
		return nil, &RunError{Kind: KindInput, File: path, Msg: msg, Err: err}
	}

	transformer, err := s.registry.Lookup(scannerType)
	if err != nil {
		return nil, &RunError{Kind: KindConfig, File: path, Msg: err.Error(), Err: err}
	}

	events, err := transformer.Transform(path, officeID, scannerID)
	if err != nil {
		runErr := s.classifyTransformError(err, path)
		s.quarantineFile(ctx, path, info.Size(), scannerType, officeID, runErr)
		return nil, runErr
	}

	valid := events[:0:len(events)]
	for _, ev := range events {
		if verr := ev.Validate(); verr != nil {
			s.quarantineEvent(ctx, path, scannerType, officeID, ev, verr)
			continue
		}
		valid = append(valid, ev)
	}

	stats, err := s.store.Ingest(ctx, valid)
	if err != nil {
		runErr := &RunError{Kind: KindStorage, File: path, Msg: "batch ingestion failed", Err: err}
		s.quarantineFile(ctx, path, info.Size(), scannerType, officeID, runErr)
		return nil, runErr
	}

	summary := &Summary{
		Status:           "success",
		File:             path,
		Events:           stats.InsertedEvents,
		ExposuresNew:     stats.InsertedCurrent,
		ExposuresUpdated: stats.UpdatedCurrent,
		ProcessingMS:     time.Since(start).Milliseconds(),
	}
	log.WithFields(log.Fields{
		"file":              filepath.Base(path),
		"office_id":         officeID,
		"events":            summary.Events,
		"exposures_new":     summary.ExposuresNew,
		"exposures_updated": summary.ExposuresUpdated,
		"processing_ms":     summary.ProcessingMS,
	}).Info("file ingested")
	return summary, nil
}

// IngestEvents pushes pre-built canonical events through the same
// validate-then-store path as file ingestion. Used by the events API.
func (s *Service) IngestEvents(ctx context.Context, events []*models.ExposureEvent) (store.IngestStats, error) {
	for _, ev := range events {
		if verr := ev.Validate(); verr != nil {
			return store.IngestStats{}, &RunError{Kind: KindValidation, Msg: verr.Error(), Err: verr}
		}
	}
	stats, err := s.store.Ingest(ctx, events)
	if err != nil {
		return stats, &RunError{Kind: KindStorage, Msg: "batch ingestion failed", Err: err}
	}
	return stats, nil
}

func (s *Service) classifyTransformError(err error, path string) *RunError {
	switch {
	case securexml.IsSecurityError(err):
		return &RunError{Kind: KindSecurity, File: path, Msg: "input rejected by security checks", Err: err}
	case isParseError(err):
		return &RunError{Kind: KindParse, File: path, Msg: "input is not valid scanner output", Err: err}
	case errors.Is(err, fs.ErrNotExist):
		return &RunError{Kind: KindInput, File: path, Msg: "file not found", Err: err}
	default:
		return &RunError{Kind: KindParse, File: path, Msg: "transformation failed", Err: err}
	}
}

func isParseError(err error) bool {
	var pe *transform.ParseError
	return errors.As(err, &pe)
}

// quarantineFile records a whole-file rejection. Best effort: a quarantine
// write failure is logged, never propagated, so it cannot mask the original
// error.
func (s *Service) quarantineFile(ctx context.Context, path string, size int64, scannerType, officeID string, runErr *RunError) {
	rec := store.QuarantineRecord{
		Filename:     filepath.Base(path),
		FileSize:     &size,
		FileHash:     fileDigest(path, size),
		ErrorType:    string(runErr.Kind),
		ErrorMessage: runErr.Error(),
		ScannerType:  &scannerType,
		OfficeID:     &officeID,
	}
	if err := s.store.Quarantine(ctx, rec); err != nil {
		log.WithError(err).WithField("file", rec.Filename).Error("quarantine write failed")
	}
}

// quarantineEvent records a single invalid event with its full violation
// list, isolating the failure from the rest of the batch.
func (s *Service) quarantineEvent(ctx context.Context, path, scannerType, officeID string, ev *models.ExposureEvent, verr error) {
	details := map[string]any{"event_id": ev.Event.ID}
	var validationErr *models.ValidationError
	if errors.As(verr, &validationErr) {
		details["violations"] = validationErr.Violations
	}
	rec := store.QuarantineRecord{
		Filename:     filepath.Base(path),
		ErrorType:    string(KindValidation),
		ErrorMessage: verr.Error(),
		ErrorDetails: details,
		ScannerType:  &scannerType,
		OfficeID:     &officeID,
	}
	if err := s.store.Quarantine(ctx, rec); err != nil {
		log.WithError(err).WithField("event_id", ev.Event.ID).Error("quarantine write failed")
	}
}

// fileDigest fingerprints the quarantined content so operators can match
// re-submissions. Skipped for files too large to hash cheaply.
const maxDigestBytes = 64 << 20

func fileDigest(path string, size int64) *string {
	if size > maxDigestBytes {
		return nil
	}
	f, err := os.Open(path)
	if err != nil {
		return nil
	}
	defer f.Close()

	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return nil
	}
	sum := hex.EncodeToString(h.Sum(nil))
	return &sum
}
