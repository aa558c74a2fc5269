// Package store persists versioned documents and append-only line logs.
//
// Every Save produces a new version of a document; earlier versions remain
// readable through LoadVersion. A Commit applies document puts and log
// appends atomically: either everything in the batch becomes visible or
// nothing does.
package store

import (
	"context"
	"hash/crc32"
	"time"
)

// AnyVersion disables the optimistic version check of a Put.
const AnyVersion int64 = -1

// Well-known document and log keys.
const (
	KeyTaste    = "taste"
	KeyPlanning = "planning"
	KeySkips    = "skips"
	KeyPending  = "pending"

	LogLedger  = "ledger"
	LogRatings = "ratings"
)

// Document is one stored version of a keyed document.
type Document struct {
	Key     string
	Version int64
	Data    []byte
	SavedAt time.Time
}

// Put writes a new version of Key. Expect is the version the caller last
// read (0 when the document did not exist yet) or AnyVersion.
type Put struct {
	Key    string
	Data   []byte
	Expect int64
}

// Line is one record appended to the log named Log.
type Line struct {
	Log  string
	Data []byte
}

// Batch groups puts and appends into a single atomic commit.
type Batch struct {
	Puts  []Put
	Lines []Line
}

// Empty reports whether the batch has nothing to write.
func (b Batch) Empty() bool {
	return len(b.Puts) == 0 && len(b.Lines) == 0
}

// Store is the persistence collaborator used by the service layer.
type Store interface {
	// LoadLatest returns the newest version of key or ErrNotFound.
	LoadLatest(ctx context.Context, key string) (Document, error)
	// LoadVersion returns a specific version of key or ErrNotFound.
	LoadVersion(ctx context.Context, key string, version int64) (Document, error)
	// Save writes a new version of key without a version check.
	Save(ctx context.Context, key string, data []byte) (int64, error)
	AppendLine(ctx context.Context, log string, data []byte) error
	// ReadLines returns every line of log in append order.
	ReadLines(ctx context.Context, log string) ([][]byte, error)
	// Commit applies b atomically and returns the new version of each put.
	Commit(ctx context.Context, b Batch) ([]int64, error)
	Close() error
}

func checksum(data []byte) uint32 {
	return crc32.ChecksumIEEE(data)
}
