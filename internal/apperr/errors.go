// Package apperr defines the error taxonomy shared by the session and
// synchronization layers.
package apperr

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

var (
	ErrValidation     = errors.New("validation failed")
	ErrStorageWrite   = errors.New("storage write failed")
	ErrReferenceMint  = errors.New("reference mint failed")
	ErrMetadataCommit = errors.New("metadata commit failed")
	ErrAuth           = errors.New("authentication failed")
	ErrRecordStore    = errors.New("record store failure")
	ErrNotFound       = errors.New("not found")
	ErrForbidden      = errors.New("forbidden")
	ErrDecode         = errors.New("decode failed")

	// ErrAccessUnknown is returned when the access gate is consulted before
	// the session manager resolved. It indicates a caller bug.
	ErrAccessUnknown = errors.New("access state unknown")
)

// Phase names a step of the publication pipeline.
type Phase string

const (
	PhaseBinaryWrite    Phase = "binary_write"
	PhaseReferenceMint  Phase = "reference_mint"
	PhaseMetadataCommit Phase = "metadata_commit"
)

// PhaseError reports a terminal publication failure. Key is the storage key
// written before the failure, empty when nothing reached the object store.
type PhaseError struct {
	Phase Phase
	Key   string
	Err   error
}

func (e *PhaseError) Error() string {
	if e.Key != "" {
		return fmt.Sprintf("publish: %s (orphaned key %s): %v", e.Phase, e.Key, e.Err)
	}
	return fmt.Sprintf("publish: %s: %v", e.Phase, e.Err)
}

func (e *PhaseError) Unwrap() error { return e.Err }

// Is matches the sentinel of the phase that failed.
func (e *PhaseError) Is(target error) bool {
	switch e.Phase {
	case PhaseBinaryWrite:
		return target == ErrStorageWrite
	case PhaseReferenceMint:
		return target == ErrReferenceMint
	case PhaseMetadataCommit:
		return target == ErrMetadataCommit
	}
	return false
}

// ValidationError lists rejected input fields. It is produced before any
// network call and is never retried.
type ValidationError struct {
	Fields map[string]string
}

func (e *ValidationError) Error() string {
	if len(e.Fields) == 0 {
		return ErrValidation.Error()
	}
	names := make([]string, 0, len(e.Fields))
	for name := range e.Fields {
		names = append(names, name)
	}
	sort.Strings(names)
	parts := make([]string, len(names))
	for i, name := range names {
		parts[i] = name + ": " + e.Fields[name]
	}
	return ErrValidation.Error() + ": " + strings.Join(parts, "; ")
}

func (e *ValidationError) Is(target error) bool { return target == ErrValidation }

// Invalid builds a single-field ValidationError.
func Invalid(field, reason string) *ValidationError {
	return &ValidationError{Fields: map[string]string{field: reason}}
}

// DecodeError reports a record that does not match the note schema.
type DecodeError struct {
	Field  string
	Reason string
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("decode: field %q: %s", e.Field, e.Reason)
}

func (e *DecodeError) Is(target error) bool { return target == ErrDecode }
