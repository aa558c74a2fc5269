package store

import (
	"context"
	"testing"

	"github.com/dgraph-io/badger/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTestBadger(t *testing.T) *Badger {
	t.Helper()
	s, err := OpenBadger(context.Background(), t.TempDir(), nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestBadgerContract(t *testing.T) {
	runContract(t, func(t *testing.T) Store { return openTestBadger(t) })
}

func TestBadgerDetectsCorruption(t *testing.T) {
	ctx := context.Background()
	s := openTestBadger(t)
	_, err := s.Save(ctx, KeyTaste, []byte(`{"weight":0.5}`))
	require.NoError(t, err)

	err = s.db.Update(func(txn *badger.Txn) error {
		return txn.Set(versionKey(KeyTaste, 1), []byte(`{"data":"e30=","checksum":1}`))
	})
	require.NoError(t, err)

	_, err = s.LoadLatest(ctx, KeyTaste)
	assert.ErrorIs(t, err, ErrCorrupt)
}

func TestBadgerKeyLayoutSortsNumerically(t *testing.T) {
	assert.Less(t, string(lineKey("ledger", 9)), string(lineKey("ledger", 10)))
	assert.Less(t, string(versionKey("taste", 99)), string(versionKey("taste", 100)))
}

func TestOpenUnknownBackend(t *testing.T) {
	_, err := Open(context.Background(), Config{Backend: "etcd"}, nil)
	assert.ErrorIs(t, err, ErrUnknownBackend)
}
