package ingest

import (
	"errors"
	"fmt"
)

// Kind partitions failures the way operators need to triage them. Every kind
// maps to the same non-zero process exit; the distinction lives in the
// structured error payload.
type Kind string

const (
	// KindInput: the file is missing or unreadable.
	KindInput Kind = "input"
	// KindSecurity: the file was rejected by a parse ceiling or entity
	// refusal. Reported separately from parse errors so attack attempts
	// are distinguishable from malformed-but-benign input.
	KindSecurity Kind = "security"
	// KindParse: readable input that is not valid scanner output.
	KindParse Kind = "parse"
	// KindValidation: canonical events violating the schema invariants.
	KindValidation Kind = "validation"
	// KindStorage: the database rejected or lost the write.
	KindStorage Kind = "storage"
	// KindConfig: bad invocation, e.g. an unregistered scanner type.
	KindConfig Kind = "config"
)

// RunError is the structured failure of one ingestion invocation.
type RunError struct {
	Kind Kind   `json:"error_kind"`
	File string `json:"file,omitempty"`
	Msg  string `json:"error"`
	Err  error  `json:"-"`
}

func (e *RunError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s error: %s: %v", e.Kind, e.Msg, e.Err)
	}
	return fmt.Sprintf("%s error: %s", e.Kind, e.Msg)
}

func (e *RunError) Unwrap() error { return e.Err }

// KindOf extracts the error kind, or "" for errors from outside the
// ingestion pipeline.
func KindOf(err error) Kind {
	var re *RunError
	if errors.As(err, &re) {
		return re.Kind
	}
	return ""
}
