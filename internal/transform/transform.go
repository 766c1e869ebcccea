// Package transform turns raw scanner output into canonical exposure events.
//
// One Transformer per scanner type, selected through an immutable registry
// built at process start. Unknown scanner types are a configuration error,
// never a silent no-op.
package transform

import (
	"fmt"
	"sort"

	"github.com/PratikDhanave/exposure-ingest/internal/models"
	"github.com/PratikDhanave/exposure-ingest/internal/securexml"
)

// SchemaVersion is stamped on every canonical event this version produces.
const SchemaVersion = "1.0.0"

// Transformer converts one scanner output file into an ordered sequence of
// canonical exposure events.
type Transformer interface {
	// ScannerType is the registry key, e.g. "nmap".
	ScannerType() string
	// Transform parses the file and returns one event per finding. A file
	// with zero findings returns an empty slice, not an error.
	Transform(path, officeID, scannerID string) ([]*models.ExposureEvent, error)
}

// ParseError is a structured parse failure: the input was readable but not
// interpretable as this scanner's output format.
type ParseError struct {
	ScannerType string
	Msg         string
	Err         error
}

func (e *ParseError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s parse: %s: %v", e.ScannerType, e.Msg, e.Err)
	}
	return fmt.Sprintf("%s parse: %s", e.ScannerType, e.Msg)
}

func (e *ParseError) Unwrap() error { return e.Err }

// UnknownScannerError means the requested scanner type has no registered
// adapter. It is a configuration problem, distinct from parse failures.
type UnknownScannerError struct {
	ScannerType string
	Known       []string
}

func (e *UnknownScannerError) Error() string {
	return fmt.Sprintf("unsupported scanner type %q (registered: %v)", e.ScannerType, e.Known)
}

// Registry maps scanner-type keys to adapters. It is populated once at
// construction and never mutated afterwards.
type Registry struct {
	byType map[string]Transformer
}

// NewRegistry builds an immutable registry from the given adapters.
// A duplicate scanner type is a programming error and panics at startup.
func NewRegistry(transformers ...Transformer) *Registry {
	byType := make(map[string]Transformer, len(transformers))
	for _, t := range transformers {
		key := t.ScannerType()
		if _, dup := byType[key]; dup {
			panic(fmt.Sprintf("transform: duplicate transformer for scanner type %q", key))
		}
		byType[key] = t
	}
	return &Registry{byType: byType}
}

// DefaultRegistry returns the registry with all built-in adapters, parsing
// under the given limits.
func DefaultRegistry(limits securexml.Limits) *Registry {
	return NewRegistry(
		NewNmapTransformer(limits),
		NewNucleiTransformer(limits.MaxBytes),
	)
}

// Lookup resolves a scanner type to its adapter.
func (r *Registry) Lookup(scannerType string) (Transformer, error) {
	t, ok := r.byType[scannerType]
	if !ok {
		return nil, &UnknownScannerError{ScannerType: scannerType, Known: r.Types()}
	}
	return t, nil
}

// Types lists the registered scanner types, sorted.
func (r *Registry) Types() []string {
	out := make([]string, 0, len(r.byType))
	for k := range r.byType {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
