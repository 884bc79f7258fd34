package tether

import (
	"errors"
	"fmt"
)

// Common errors returned by the Tether client.
var (
	// ErrNotFound is returned when a record is not found.
	ErrNotFound = errors.New("record not found")

	// ErrInvalidKind is returned when an unknown record kind is provided.
	ErrInvalidKind = errors.New("invalid record kind")

	// ErrStoreClosed is returned when operating on a closed store.
	ErrStoreClosed = errors.New("store is closed")

	// ErrStorageUnavailable is returned when the primary store cannot be
	// opened; callers should fall back to the degraded store.
	ErrStorageUnavailable = errors.New("local storage unavailable")

	// ErrSchemaCorrupt is returned when the schema remains incomplete even
	// after a forced upgrade.
	ErrSchemaCorrupt = errors.New("store schema corrupt")

	// ErrSyncRunning is returned when a sync trigger arrives while a cycle
	// is already in flight.
	ErrSyncRunning = errors.New("sync already running")

	// ErrSyncDisabled is returned when cloud sync is not enabled.
	ErrSyncDisabled = errors.New("cloud sync is disabled")

	// ErrOffline is returned when a network operation is attempted with no
	// remote configured.
	ErrOffline = errors.New("operation unavailable in offline mode")
)

// ValidationError is returned when configuration or record validation fails.
// Extractable via errors.As().
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validate: %s: %s", e.Field, e.Message)
}

// SyncError is returned when a remote replica operation fails.
// Extractable via errors.As(). Supports Unwrap().
type SyncError struct {
	Operation  string
	StatusCode int
	Err        error
}

func (e *SyncError) Error() string {
	return fmt.Sprintf("sync: %s failed (status %d): %v", e.Operation, e.StatusCode, e.Err)
}

func (e *SyncError) Unwrap() error { return e.Err }

// Classify maps a sync error to its failure code: missing or rejected
// credentials are auth, any other HTTP status is server, and transport
// errors (including timeouts) are network.
func (e *SyncError) Classify() FailureCode {
	switch {
	case e.StatusCode == 401 || e.StatusCode == 403:
		return FailureAuth
	case e.StatusCode > 0:
		return FailureServer
	default:
		return FailureNetwork
	}
}
