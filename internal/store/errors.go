package store

import (
	"errors"
	"fmt"
)

// Sentinel errors for store operations.
// Use errors.Is() to check for these errors in calling code.
var (
	// ErrNotFound indicates the document or version does not exist. For
	// LoadLatest this is a valid initial state, not a failure.
	ErrNotFound = errors.New("document not found")

	// ErrVersionConflict indicates the document moved past the version the
	// caller expected, or a concurrent writer won the transaction.
	ErrVersionConflict = errors.New("version conflict")

	// ErrCorrupt indicates stored bytes failed their checksum.
	ErrCorrupt = errors.New("corrupt record")

	// ErrLocked indicates another process holds the data directory.
	ErrLocked = errors.New("store locked by another process")

	// ErrUnknownBackend indicates an unsupported backend name.
	ErrUnknownBackend = errors.New("unknown store backend")
)

// PersistenceError wraps a failed store operation. The core propagates it
// unchanged and never retries.
type PersistenceError struct {
	Op  string
	Key string
	Err error
}

func (e *PersistenceError) Error() string {
	if e.Key == "" {
		return fmt.Sprintf("store %s: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("store %s %q: %v", e.Op, e.Key, e.Err)
}

func (e *PersistenceError) Unwrap() error { return e.Err }

func fail(op, key string, err error) error {
	if err == nil {
		return nil
	}
	var pe *PersistenceError
	if errors.As(err, &pe) {
		return err
	}
	return &PersistenceError{Op: op, Key: key, Err: err}
}

// notFound keeps ErrNotFound matchable while still naming the operation.
func notFound(op, key string) error {
	return fail(op, key, ErrNotFound)
}
