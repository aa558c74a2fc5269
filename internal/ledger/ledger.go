// Package ledger is the append-only audit trail of every state change.
//
// Each record carries the changed leaves of the document it touched, so any
// mutation can be inspected or compensated later. Records are never edited
// or removed; undo appends compensating records instead.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/goccy/go-json"
	"github.com/google/uuid"

	"github.com/raphaelgruber/watchwise/internal/models"
	"github.com/raphaelgruber/watchwise/internal/store"
)

var (
	// ErrMalformedRecord indicates a stored line that is not a ledger record.
	ErrMalformedRecord = errors.New("malformed ledger record")

	// ErrNothingToUndo indicates fewer undoable records than requested.
	ErrNothingToUndo = errors.New("nothing to undo")
)

// Entry describes a record before it is written. Prev and Next are the
// full encoded document before and after the change; only the difference
// is kept.
type Entry struct {
	Action      models.Action
	Subject     string
	RatingID    string
	Document    string
	Version     int64
	Prev, Next  []byte
	Reason      string
	Context     string
	Compensates int64
	Score       float64
	Strategy    string
	Trace       []string
}

// Ledger appends records to the store's ledger log.
type Ledger struct {
	st      store.Store
	logger  *slog.Logger
	now     func() time.Time
	session string

	mu  sync.Mutex
	seq int64
}

// Option configures a Ledger.
type Option func(*Ledger)

// WithSession sets the session id stamped on every record.
func WithSession(id string) Option { return func(l *Ledger) { l.session = id } }

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option { return func(l *Ledger) { l.now = now } }

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option { return func(l *Ledger) { l.logger = logger } }

// Open positions the ledger after the last stored record.
func Open(ctx context.Context, st store.Store, opts ...Option) (*Ledger, error) {
	l := &Ledger{st: st, logger: slog.Default(), now: time.Now, session: uuid.NewString()}
	for _, opt := range opts {
		opt(l)
	}
	records, err := l.Records(ctx)
	if err != nil {
		return nil, err
	}
	if n := len(records); n > 0 {
		l.seq = records[n-1].Seq
	}
	l.logger.Debug("ledger opened", "records", len(records), "session", l.session)
	return l, nil
}

// Session returns the session id of this ledger.
func (l *Ledger) Session() string { return l.session }

// Stage builds the record and its encoded line without writing anything,
// for callers that commit it in a batch with other changes. A sequence
// number is consumed even if the batch later fails.
func (l *Ledger) Stage(e Entry) (models.LedgerRecord, store.Line, error) {
	rec := models.LedgerRecord{
		Timestamp:   l.now().UTC(),
		SessionID:   l.session,
		Action:      e.Action,
		Subject:     e.Subject,
		RatingID:    e.RatingID,
		Document:    e.Document,
		Version:     e.Version,
		Reason:      e.Reason,
		Context:     e.Context,
		Compensates: e.Compensates,
		Score:       e.Score,
		Strategy:    e.Strategy,
		Trace:       e.Trace,
	}
	if e.Document != "" {
		changes, err := Diff(e.Prev, e.Next)
		if err != nil {
			return models.LedgerRecord{}, store.Line{}, fmt.Errorf("stage %s: %w", e.Action, err)
		}
		rec.Changes = changes
	}

	l.mu.Lock()
	l.seq++
	rec.Seq = l.seq
	l.mu.Unlock()

	data, err := json.Marshal(rec)
	if err != nil {
		return models.LedgerRecord{}, store.Line{}, fmt.Errorf("encode record: %w", err)
	}
	return rec, store.Line{Log: store.LogLedger, Data: data}, nil
}

// Record appends one entry. It fails only when persistence fails.
func (l *Ledger) Record(ctx context.Context, e Entry) (models.LedgerRecord, error) {
	rec, line, err := l.Stage(e)
	if err != nil {
		return models.LedgerRecord{}, err
	}
	if err := l.st.AppendLine(ctx, line.Log, line.Data); err != nil {
		return models.LedgerRecord{}, err
	}
	return rec, nil
}

// Records returns every record in append order.
func (l *Ledger) Records(ctx context.Context) ([]models.LedgerRecord, error) {
	lines, err := l.st.ReadLines(ctx, store.LogLedger)
	if err != nil {
		return nil, err
	}
	records := make([]models.LedgerRecord, 0, len(lines))
	for i, line := range lines {
		var rec models.LedgerRecord
		if err := json.Unmarshal(line, &rec); err != nil {
			return nil, fmt.Errorf("%w: line %d: %v", ErrMalformedRecord, i+1, err)
		}
		records = append(records, rec)
	}
	return records, nil
}

// Replay returns the records after sequence number since, in order.
func (l *Ledger) Replay(ctx context.Context, since int64) ([]models.LedgerRecord, error) {
	records, err := l.Records(ctx)
	if err != nil {
		return nil, err
	}
	i, _ := slices.BinarySearchFunc(records, since+1, func(r models.LedgerRecord, seq int64) int {
		return int(r.Seq - seq)
	})
	return records[i:], nil
}

// Compensated returns the sequence numbers already undone.
func Compensated(records []models.LedgerRecord) map[int64]bool {
	done := make(map[int64]bool)
	for _, r := range records {
		if r.Compensates != 0 {
			done[r.Compensates] = true
		}
	}
	return done
}

// UndoneRatings returns the ids of ratings whose rate record was undone.
func UndoneRatings(records []models.LedgerRecord) map[string]bool {
	done := Compensated(records)
	undone := make(map[string]bool)
	for _, r := range records {
		if r.Action == models.ActionRate && r.RatingID != "" && done[r.Seq] {
			undone[r.RatingID] = true
		}
	}
	return undone
}

// undoTargets picks the last n state-changing records that are neither
// compensations nor already compensated, newest first.
func undoTargets(records []models.LedgerRecord, n int) []models.LedgerRecord {
	done := Compensated(records)
	var targets []models.LedgerRecord
	for i := len(records) - 1; i >= 0 && len(targets) < n; i-- {
		r := records[i]
		if !r.StateChanging() || r.Compensates != 0 || done[r.Seq] {
			continue
		}
		targets = append(targets, r)
	}
	return targets
}

// UndoResult reports what an undo wrote.
type UndoResult struct {
	Records   []models.LedgerRecord
	Documents map[string]store.Document
}

// UndoLast reverts the last n state-changing records by applying their
// inverse deltas in reverse chronological order. Each reverted record gets
// a compensating record; documents and records are committed together.
func (l *Ledger) UndoLast(ctx context.Context, n int, reason string) (UndoResult, error) {
	if n <= 0 {
		return UndoResult{}, fmt.Errorf("%w: count must be positive", ErrNothingToUndo)
	}
	records, err := l.Records(ctx)
	if err != nil {
		return UndoResult{}, err
	}
	targets := undoTargets(records, n)
	if len(targets) < n {
		return UndoResult{}, fmt.Errorf("%w: %d of %d available", ErrNothingToUndo, len(targets), n)
	}

	type working struct {
		version int64
		data    []byte
	}
	docs := map[string]*working{}
	var order []string
	load := func(key string) (*working, error) {
		if w, ok := docs[key]; ok {
			return w, nil
		}
		w := &working{}
		doc, err := l.st.LoadLatest(ctx, key)
		switch {
		case err == nil:
			w.version, w.data = doc.Version, doc.Data
		case errors.Is(err, store.ErrNotFound):
		default:
			return nil, err
		}
		docs[key] = w
		order = append(order, key)
		return w, nil
	}

	var (
		batch store.Batch
		out   UndoResult
	)
	for _, target := range targets {
		w, err := load(target.Document)
		if err != nil {
			return UndoResult{}, err
		}
		next, err := Apply(w.data, target.Changes, true)
		if err != nil {
			return UndoResult{}, fmt.Errorf("undo record %d: %w", target.Seq, err)
		}
		rec, line, err := l.Stage(Entry{
			Action:      models.ActionUndo,
			Subject:     target.Subject,
			RatingID:    target.RatingID,
			Document:    target.Document,
			Version:     w.version + 1,
			Prev:        w.data,
			Next:        next,
			Reason:      reason,
			Compensates: target.Seq,
		})
		if err != nil {
			return UndoResult{}, err
		}
		w.data = next
		out.Records = append(out.Records, rec)
		batch.Lines = append(batch.Lines, line)
	}

	out.Documents = make(map[string]store.Document, len(order))
	for _, key := range order {
		w := docs[key]
		batch.Puts = append(batch.Puts, store.Put{Key: key, Data: w.data, Expect: w.version})
	}
	versions, err := l.st.Commit(ctx, batch)
	if err != nil {
		return UndoResult{}, err
	}
	for i, key := range order {
		out.Documents[key] = store.Document{Key: key, Version: versions[i], Data: docs[key].data}
	}
	l.logger.Info("undo committed", "records", len(out.Records), "documents", len(order))
	return out, nil
}
