package ledger

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/raphaelgruber/watchwise/internal/models"
	"github.com/raphaelgruber/watchwise/internal/store"
)

func TestDiff(t *testing.T) {
	tests := []struct {
		name  string
		prev  string
		next  string
		paths [][]string
	}{
		{name: "identical", prev: `{"a":1}`, next: `{"a":1}`},
		{name: "whitespace only", prev: `{ "a" : [1, 2] }`, next: `{"a":[1,2]}`},
		{name: "changed leaf", prev: `{"a":1,"b":2}`, next: `{"a":1,"b":3}`, paths: [][]string{{"b"}}},
		{
			name:  "nested add and remove",
			prev:  `{"tags":{"mecha":{"weight":0.5},"drama":{"weight":0.1}}}`,
			next:  `{"tags":{"mecha":{"weight":0.6},"space":{"weight":1}}}`,
			paths: [][]string{{"tags", "drama"}, {"tags", "mecha", "weight"}, {"tags", "space"}},
		},
		{name: "arrays are leaves", prev: `{"a":[1,2]}`, next: `{"a":[1,2,3]}`, paths: [][]string{{"a"}}},
		{name: "null to object", prev: `{"retest":null}`, next: `{"retest":{"x":1}}`, paths: [][]string{{"retest"}}},
		{name: "from nothing", prev: ``, next: `{"a":1}`, paths: [][]string{nil}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			changes, err := Diff([]byte(tt.prev), []byte(tt.next))
			require.NoError(t, err)
			var paths [][]string
			for _, c := range changes {
				paths = append(paths, c.Path)
			}
			assert.Equal(t, tt.paths, paths)
		})
	}
}

func TestApplyRoundTrip(t *testing.T) {
	prev := `{"tags":{"mecha":{"weight":0.5,"confidence":0.1}},"retest":null,"updated_at":"2026-01-01T00:00:00Z"}`
	next := `{"tags":{"mecha":{"weight":0.55,"confidence":0.15},"space":{"weight":1,"confidence":0.05}},"retest":{"drama":{"served":false}},"updated_at":"2026-02-01T00:00:00Z"}`

	changes, err := Diff([]byte(prev), []byte(next))
	require.NoError(t, err)

	forward, err := Apply([]byte(prev), changes, false)
	require.NoError(t, err)
	assert.JSONEq(t, next, string(forward))

	back, err := Apply([]byte(next), changes, true)
	require.NoError(t, err)
	assert.JSONEq(t, prev, string(back))
}

func TestApplyPathConflict(t *testing.T) {
	changes := []models.FieldChange{{Path: []string{"a", "b"}, New: []byte(`1`)}}
	_, err := Apply([]byte(`{"a":[1]}`), changes, false)
	assert.ErrorIs(t, err, ErrPathConflict)
}

func openStore(t *testing.T) store.Store {
	t.Helper()
	s, err := store.OpenSQLite(context.Background(), filepath.Join(t.TempDir(), "ledger.db"), nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func fixedClock() func() time.Time {
	t0 := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	return func() time.Time { return t0 }
}

func TestRecordAndReplay(t *testing.T) {
	ctx := context.Background()
	st := openStore(t)

	l, err := Open(ctx, st, WithSession("s1"), WithClock(fixedClock()))
	require.NoError(t, err)

	for _, subject := range []string{"a", "b", "c"} {
		_, err := l.Record(ctx, Entry{Action: models.ActionRecommend, Subject: subject, Strategy: "vector", Score: 0.7})
		require.NoError(t, err)
	}

	all, err := l.Replay(ctx, 0)
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, int64(1), all[0].Seq)
	assert.Equal(t, "s1", all[0].SessionID)
	assert.False(t, all[0].StateChanging())

	tail, err := l.Replay(ctx, 2)
	require.NoError(t, err)
	require.Len(t, tail, 1)
	assert.Equal(t, "c", tail[0].Subject)

	// A new session continues the sequence.
	l2, err := Open(ctx, st, WithSession("s2"))
	require.NoError(t, err)
	rec, err := l2.Record(ctx, Entry{Action: models.ActionSkip, Subject: "d"})
	require.NoError(t, err)
	assert.Equal(t, int64(4), rec.Seq)
}

func TestRecordKeepsOnlyChangedFields(t *testing.T) {
	ctx := context.Background()
	l, err := Open(ctx, openStore(t))
	require.NoError(t, err)

	rec, err := l.Record(ctx, Entry{
		Action:   models.ActionPlanAdd,
		Subject:  "x",
		Document: models.DocPlanning,
		Prev:     []byte(`{"entries":{"y":{"title":"Y"}}}`),
		Next:     []byte(`{"entries":{"x":{"title":"X"},"y":{"title":"Y"}}}`),
	})
	require.NoError(t, err)
	require.Len(t, rec.Changes, 1)
	assert.Equal(t, []string{"entries", "x"}, rec.Changes[0].Path)
	assert.Nil(t, rec.Changes[0].Old)
	assert.True(t, rec.StateChanging())
}

// commit writes next as a new taste version together with its record.
func commit(t *testing.T, l *Ledger, st store.Store, action models.Action, ratingID string, prev, next string, expect int64) models.LedgerRecord {
	t.Helper()
	ctx := context.Background()
	rec, line, err := l.Stage(Entry{
		Action:   action,
		Subject:  "entry",
		RatingID: ratingID,
		Document: models.DocTaste,
		Version:  expect + 1,
		Prev:     []byte(prev),
		Next:     []byte(next),
	})
	require.NoError(t, err)
	_, err = st.Commit(ctx, store.Batch{
		Puts:  []store.Put{{Key: store.KeyTaste, Data: []byte(next), Expect: expect}},
		Lines: []store.Line{line},
	})
	require.NoError(t, err)
	return rec
}

func TestUndoLast(t *testing.T) {
	ctx := context.Background()
	st := openStore(t)
	l, err := Open(ctx, st)
	require.NoError(t, err)

	v0 := `{"tags":{}}`
	v1 := `{"tags":{"mecha":{"weight":0.8}}}`
	v2 := `{"tags":{"mecha":{"weight":0.9},"drama":{"weight":0.2}}}`

	first := commit(t, l, st, models.ActionRate, "r1", v0, v1, 0)
	_, err = l.Record(ctx, Entry{Action: models.ActionRecommend, Subject: "other"})
	require.NoError(t, err)
	second := commit(t, l, st, models.ActionRate, "r2", v1, v2, 1)

	res, err := l.UndoLast(ctx, 1, "user undo")
	require.NoError(t, err)
	require.Len(t, res.Records, 1)
	assert.Equal(t, second.Seq, res.Records[0].Compensates)
	assert.Equal(t, models.ActionUndo, res.Records[0].Action)
	assert.Equal(t, int64(3), res.Records[0].Version)

	doc, err := st.LoadLatest(ctx, store.KeyTaste)
	require.NoError(t, err)
	assert.Equal(t, int64(3), doc.Version)
	assert.JSONEq(t, v1, string(doc.Data))

	// Nothing was deleted: the original two versions are still readable.
	old, err := st.LoadVersion(ctx, store.KeyTaste, 2)
	require.NoError(t, err)
	assert.JSONEq(t, v2, string(old.Data))

	// The next undo walks past the compensated record.
	res, err = l.UndoLast(ctx, 1, "user undo")
	require.NoError(t, err)
	assert.Equal(t, first.Seq, res.Records[0].Compensates)
	doc, err = st.LoadLatest(ctx, store.KeyTaste)
	require.NoError(t, err)
	assert.JSONEq(t, v0, string(doc.Data))

	records, err := l.Records(ctx)
	require.NoError(t, err)
	assert.Len(t, records, 5)
	assert.Equal(t, map[string]bool{"r1": true, "r2": true}, UndoneRatings(records))

	_, err = l.UndoLast(ctx, 1, "user undo")
	assert.ErrorIs(t, err, ErrNothingToUndo)
}

func TestUndoLastSeveralAtOnce(t *testing.T) {
	ctx := context.Background()
	st := openStore(t)
	l, err := Open(ctx, st)
	require.NoError(t, err)

	v0 := `{"n":{}}`
	v1 := `{"n":{"a":1}}`
	v2 := `{"n":{"a":2,"b":1}}`
	commit(t, l, st, models.ActionRate, "r1", v0, v1, 0)
	commit(t, l, st, models.ActionDecay, "", v1, v2, 1)

	res, err := l.UndoLast(ctx, 2, "")
	require.NoError(t, err)
	require.Len(t, res.Records, 2)
	assert.Equal(t, int64(3), res.Documents[store.KeyTaste].Version)
	assert.JSONEq(t, v0, string(res.Documents[store.KeyTaste].Data))

	_, err = l.UndoLast(ctx, 0, "")
	assert.ErrorIs(t, err, ErrNothingToUndo)
}
