package store

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// runContract exercises the behaviour every backend must share.
func runContract(t *testing.T, open func(t *testing.T) Store) {
	t.Helper()
	ctx := context.Background()

	t.Run("missing document is not found", func(t *testing.T) {
		s := open(t)
		_, err := s.LoadLatest(ctx, KeyTaste)
		require.ErrorIs(t, err, ErrNotFound)

		var pe *PersistenceError
		require.True(t, errors.As(err, &pe))
		assert.Equal(t, "load", pe.Op)
		assert.Equal(t, KeyTaste, pe.Key)
	})

	t.Run("save keeps every version", func(t *testing.T) {
		s := open(t)
		v1, err := s.Save(ctx, KeyTaste, []byte(`{"n":1}`))
		require.NoError(t, err)
		v2, err := s.Save(ctx, KeyTaste, []byte(`{"n":2}`))
		require.NoError(t, err)
		assert.Equal(t, int64(1), v1)
		assert.Equal(t, int64(2), v2)

		latest, err := s.LoadLatest(ctx, KeyTaste)
		require.NoError(t, err)
		assert.Equal(t, int64(2), latest.Version)
		assert.JSONEq(t, `{"n":2}`, string(latest.Data))
		assert.False(t, latest.SavedAt.IsZero())

		first, err := s.LoadVersion(ctx, KeyTaste, 1)
		require.NoError(t, err)
		assert.JSONEq(t, `{"n":1}`, string(first.Data))

		_, err = s.LoadVersion(ctx, KeyTaste, 9)
		assert.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("documents are independent", func(t *testing.T) {
		s := open(t)
		_, err := s.Save(ctx, KeyTaste, []byte(`{}`))
		require.NoError(t, err)
		v, err := s.Save(ctx, KeyPlanning, []byte(`{"entries":{}}`))
		require.NoError(t, err)
		assert.Equal(t, int64(1), v)
	})

	t.Run("lines keep append order", func(t *testing.T) {
		s := open(t)
		for _, l := range []string{`{"seq":1}`, `{"seq":2}`, `{"seq":3}`} {
			require.NoError(t, s.AppendLine(ctx, LogLedger, []byte(l)))
		}
		require.NoError(t, s.AppendLine(ctx, LogRatings, []byte(`{"other":true}`)))

		lines, err := s.ReadLines(ctx, LogLedger)
		require.NoError(t, err)
		require.Len(t, lines, 3)
		assert.JSONEq(t, `{"seq":1}`, string(lines[0]))
		assert.JSONEq(t, `{"seq":3}`, string(lines[2]))

		empty, err := s.ReadLines(ctx, "nothing-here")
		require.NoError(t, err)
		assert.Empty(t, empty)
	})

	t.Run("commit applies puts and lines together", func(t *testing.T) {
		s := open(t)
		versions, err := s.Commit(ctx, Batch{
			Puts: []Put{
				{Key: KeyTaste, Data: []byte(`{"t":1}`), Expect: 0},
				{Key: KeyPending, Data: []byte(`{"p":1}`), Expect: 0},
			},
			Lines: []Line{
				{Log: LogRatings, Data: []byte(`{"r":1}`)},
				{Log: LogLedger, Data: []byte(`{"l":1}`)},
			},
		})
		require.NoError(t, err)
		assert.Equal(t, []int64{1, 1}, versions)

		ratings, err := s.ReadLines(ctx, LogRatings)
		require.NoError(t, err)
		assert.Len(t, ratings, 1)
	})

	t.Run("version conflict writes nothing", func(t *testing.T) {
		s := open(t)
		_, err := s.Save(ctx, KeyTaste, []byte(`{"t":1}`))
		require.NoError(t, err)

		_, err = s.Commit(ctx, Batch{
			Puts:  []Put{{Key: KeyTaste, Data: []byte(`{"t":2}`), Expect: 0}},
			Lines: []Line{{Log: LogLedger, Data: []byte(`{"l":1}`)}},
		})
		require.ErrorIs(t, err, ErrVersionConflict)

		latest, err := s.LoadLatest(ctx, KeyTaste)
		require.NoError(t, err)
		assert.Equal(t, int64(1), latest.Version)

		lines, err := s.ReadLines(ctx, LogLedger)
		require.NoError(t, err)
		assert.Empty(t, lines)
	})

	t.Run("expected version succeeds", func(t *testing.T) {
		s := open(t)
		_, err := s.Save(ctx, KeyTaste, []byte(`{"t":1}`))
		require.NoError(t, err)
		versions, err := s.Commit(ctx, Batch{Puts: []Put{{Key: KeyTaste, Data: []byte(`{"t":2}`), Expect: 1}}})
		require.NoError(t, err)
		assert.Equal(t, []int64{2}, versions)
	})

	t.Run("empty batch is a no-op", func(t *testing.T) {
		s := open(t)
		versions, err := s.Commit(ctx, Batch{})
		require.NoError(t, err)
		assert.Nil(t, versions)
	})
}
