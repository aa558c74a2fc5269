package service

import (
	"context"
	"fmt"

	"github.com/goccy/go-json"

	"github.com/raphaelgruber/watchwise/internal/ledger"
	"github.com/raphaelgruber/watchwise/internal/metrics"
	"github.com/raphaelgruber/watchwise/internal/models"
	"github.com/raphaelgruber/watchwise/internal/store"
)

// txn collects document puts, log lines and ledger records for a single
// store commit. Nothing in memory changes until commit succeeds.
// Caller must hold s.mu.
type txn struct {
	s       *Service
	batch   store.Batch
	keys    []string
	bumps   map[string]int64
	records []models.LedgerRecord
}

func (s *Service) begin() *txn {
	return &txn{s: s, bumps: map[string]int64{}}
}

// put stages a new version of a document and the ledger record describing
// the change from prev to next.
func (t *txn) put(key string, prev, next any, e ledger.Entry) error {
	prevData, err := json.Marshal(prev)
	if err != nil {
		return fmt.Errorf("encode %s: %w", key, err)
	}
	nextData, err := json.Marshal(next)
	if err != nil {
		return fmt.Errorf("encode %s: %w", key, err)
	}
	expect := t.s.versions[key] + t.bumps[key]
	e.Document = key
	e.Version = expect + 1
	e.Prev, e.Next = prevData, nextData
	rec, line, err := t.s.ledger.Stage(e)
	if err != nil {
		return err
	}
	t.bumps[key]++
	t.keys = append(t.keys, key)
	t.batch.Puts = append(t.batch.Puts, store.Put{Key: key, Data: nextData, Expect: expect})
	t.batch.Lines = append(t.batch.Lines, line)
	t.records = append(t.records, rec)
	return nil
}

// record stages a ledger record that changes no document.
func (t *txn) record(e ledger.Entry) error {
	rec, line, err := t.s.ledger.Stage(e)
	if err != nil {
		return err
	}
	t.batch.Lines = append(t.batch.Lines, line)
	t.records = append(t.records, rec)
	return nil
}

// line stages an encoded value for an append-only log.
func (t *txn) line(log string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode %s line: %w", log, err)
	}
	t.batch.Lines = append(t.batch.Lines, store.Line{Log: log, Data: data})
	return nil
}

// commit writes the batch and advances the known document versions.
func (t *txn) commit(ctx context.Context) ([]models.LedgerRecord, error) {
	defer t.s.metrics.Time(metrics.OpStoreCommit)()
	versions, err := t.s.st.Commit(ctx, t.batch)
	if err != nil {
		return nil, err
	}
	for i, key := range t.keys {
		t.s.versions[key] = versions[i]
	}
	return t.records, nil
}
