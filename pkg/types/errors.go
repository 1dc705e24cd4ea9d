package types

import (
	"errors"
	"fmt"
)

// Query errors. These are programming errors in descriptors supplied by the
// caller and are returned synchronously, never routed through notifications.
var (
	ErrInvalidFilter    = errors.New("invalid filter expression")
	ErrInvalidSort      = errors.New("invalid sort descriptor")
	ErrInvalidGroup     = errors.New("invalid group descriptor")
	ErrInvalidAggregate = errors.New("unknown aggregate function")
)

// Record errors.
var (
	ErrNotFound    = errors.New("record not found")
	ErrInvalidID   = errors.New("invalid record id")
	ErrInvalidData = errors.New("invalid record data")
	ErrUnsupported = errors.New("operation not supported by transport")
)

// Backend lifecycle errors.
var (
	ErrBackendDetached    = errors.New("backend is detached")
	ErrAlreadyAttached    = errors.New("backend is already attached")
	ErrCollectionNotFound = errors.New("collection not found")
	ErrInvalidCollection  = errors.New("invalid collection name")
)

// TransportError reports a failed round trip. Status carries the protocol
// status when one was received (zero otherwise).
type TransportError struct {
	Verb   string
	Status int
	Cause  error
}

func (e *TransportError) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("%s request failed with status %d: %v", e.Verb, e.Status, e.Cause)
	}
	return fmt.Sprintf("%s request failed: %v", e.Verb, e.Cause)
}

func (e *TransportError) Unwrap() error { return e.Cause }

// SemanticError reports a successful round trip whose payload carries an
// application error, as extracted by the reader's errors schema.
type SemanticError struct {
	Errors any
}

func (e *SemanticError) Error() string {
	return fmt.Sprintf("response reported errors: %v", e.Errors)
}

// SyncError reports one record that failed to persist during a sync.
type SyncError struct {
	Verb  string
	UID   string
	ID    any
	Cause error
}

func (e *SyncError) Error() string {
	return fmt.Sprintf("sync %s %s (id %v): %v", e.Verb, e.UID, e.ID, e.Cause)
}

func (e *SyncError) Unwrap() error { return e.Cause }
