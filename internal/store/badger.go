package store

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/goccy/go-json"
)

// Key layout:
//
//	doc/<key>/head        current version, 8 bytes big endian
//	doc/<key>/v/<version> record
//	log/<log>/seq         last line number
//	log/<log>/l/<n>       record
const (
	docKeyPrefix = "doc/"
	logKeyPrefix = "log/"
)

type badgerRecord struct {
	Data     []byte    `json:"data"`
	Checksum uint32    `json:"checksum"`
	SavedAt  time.Time `json:"saved_at"`
}

// Badger stores documents and logs in an embedded BadgerDB directory.
type Badger struct {
	db     *badger.DB
	lock   *dirLock
	logger *slog.Logger
	now    func() time.Time
}

// OpenBadger opens (creating if needed) the BadgerDB directory at dir.
func OpenBadger(ctx context.Context, dir string, logger *slog.Logger) (*Badger, error) {
	if logger == nil {
		logger = slog.Default()
	}
	lock := newDirLock(dir)
	if err := lock.acquire(ctx); err != nil {
		return nil, fail("open", dir, err)
	}
	opts := badger.DefaultOptions(dir).WithSyncWrites(true)
	opts.Logger = nil // BadgerDB internals are too chatty for a CLI
	db, err := badger.Open(opts)
	if err != nil {
		_ = lock.release()
		return nil, fail("open", dir, err)
	}
	logger.Debug("badger store opened", "dir", dir)
	return &Badger{db: db, lock: lock, logger: logger, now: time.Now}, nil
}

// Close closes the database and releases the directory lock.
func (s *Badger) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	err := s.db.Close()
	if lerr := s.lock.release(); err == nil {
		err = lerr
	}
	return err
}

func headKey(key string) []byte { return []byte(docKeyPrefix + key + "/head") }

func versionKey(key string, v int64) []byte {
	return []byte(fmt.Sprintf("%s%s/v/%020d", docKeyPrefix, key, v))
}

func seqKey(log string) []byte { return []byte(logKeyPrefix + log + "/seq") }

func linePrefix(log string) []byte { return []byte(logKeyPrefix + log + "/l/") }

func lineKey(log string, n int64) []byte {
	return []byte(fmt.Sprintf("%s%s/l/%020d", logKeyPrefix, log, n))
}

func readCounter(txn *badger.Txn, key []byte) (int64, error) {
	item, err := txn.Get(key)
	if errors.Is(err, badger.ErrKeyNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	var n int64
	err = item.Value(func(val []byte) error {
		if len(val) != 8 {
			return fmt.Errorf("%w: counter %s", ErrCorrupt, key)
		}
		n = int64(binary.BigEndian.Uint64(val))
		return nil
	})
	return n, err
}

func writeCounter(txn *badger.Txn, key []byte, n int64) error {
	buf := make([]byte, 8)
	binary.BigEndian.PutUint64(buf, uint64(n))
	return txn.Set(key, buf)
}

func decodeRecord(val []byte) (badgerRecord, error) {
	var rec badgerRecord
	if err := json.Unmarshal(val, &rec); err != nil {
		return rec, fmt.Errorf("%w: %v", ErrCorrupt, err)
	}
	if checksum(rec.Data) != rec.Checksum {
		return rec, ErrCorrupt
	}
	return rec, nil
}

func (s *Badger) LoadLatest(ctx context.Context, key string) (Document, error) {
	var doc Document
	err := s.db.View(func(txn *badger.Txn) error {
		head, err := readCounter(txn, headKey(key))
		if err != nil {
			return err
		}
		if head == 0 {
			return ErrNotFound
		}
		doc, err = s.loadIn(txn, key, head)
		return err
	})
	if err != nil {
		return Document{}, fail("load", key, err)
	}
	return doc, nil
}

func (s *Badger) LoadVersion(ctx context.Context, key string, version int64) (Document, error) {
	var doc Document
	err := s.db.View(func(txn *badger.Txn) error {
		var err error
		doc, err = s.loadIn(txn, key, version)
		return err
	})
	if err != nil {
		return Document{}, fail("load-version", key, err)
	}
	return doc, nil
}

func (s *Badger) loadIn(txn *badger.Txn, key string, version int64) (Document, error) {
	item, err := txn.Get(versionKey(key, version))
	if errors.Is(err, badger.ErrKeyNotFound) {
		return Document{}, ErrNotFound
	}
	if err != nil {
		return Document{}, err
	}
	var rec badgerRecord
	err = item.Value(func(val []byte) error {
		var derr error
		rec, derr = decodeRecord(val)
		return derr
	})
	if err != nil {
		return Document{}, err
	}
	return Document{Key: key, Version: version, Data: rec.Data, SavedAt: rec.SavedAt}, nil
}

func (s *Badger) Save(ctx context.Context, key string, data []byte) (int64, error) {
	versions, err := s.Commit(ctx, Batch{Puts: []Put{{Key: key, Data: data, Expect: AnyVersion}}})
	if err != nil {
		return 0, err
	}
	return versions[0], nil
}

func (s *Badger) AppendLine(ctx context.Context, log string, data []byte) error {
	_, err := s.Commit(ctx, Batch{Lines: []Line{{Log: log, Data: data}}})
	return err
}

func (s *Badger) ReadLines(ctx context.Context, log string) ([][]byte, error) {
	var lines [][]byte
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = linePrefix(log)
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Rewind(); it.ValidForPrefix(opts.Prefix); it.Next() {
			if err := ctx.Err(); err != nil {
				return err
			}
			err := it.Item().Value(func(val []byte) error {
				rec, err := decodeRecord(val)
				if err != nil {
					return fmt.Errorf("line %s: %w", it.Item().Key(), err)
				}
				lines = append(lines, rec.Data)
				return nil
			})
			if err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, fail("read-lines", log, err)
	}
	return lines, nil
}

func (s *Badger) Commit(ctx context.Context, b Batch) ([]int64, error) {
	if b.Empty() {
		return nil, nil
	}
	now := s.now().UTC()
	var versions []int64
	err := s.db.Update(func(txn *badger.Txn) error {
		versions = make([]int64, 0, len(b.Puts))
		for _, p := range b.Puts {
			current, err := readCounter(txn, headKey(p.Key))
			if err != nil {
				return err
			}
			if p.Expect != AnyVersion && p.Expect != current {
				return fmt.Errorf("%w: %s expected version %d, found %d",
					ErrVersionConflict, p.Key, p.Expect, current)
			}
			next := current + 1
			val, err := json.Marshal(badgerRecord{Data: p.Data, Checksum: checksum(p.Data), SavedAt: now})
			if err != nil {
				return err
			}
			if err := txn.Set(versionKey(p.Key, next), val); err != nil {
				return fmt.Errorf("set %s: %w", p.Key, err)
			}
			if err := writeCounter(txn, headKey(p.Key), next); err != nil {
				return err
			}
			versions = append(versions, next)
		}
		for _, l := range b.Lines {
			seq, err := readCounter(txn, seqKey(l.Log))
			if err != nil {
				return err
			}
			seq++
			val, err := json.Marshal(badgerRecord{Data: l.Data, Checksum: checksum(l.Data), SavedAt: now})
			if err != nil {
				return err
			}
			if err := txn.Set(lineKey(l.Log, seq), val); err != nil {
				return fmt.Errorf("append %s: %w", l.Log, err)
			}
			if err := writeCounter(txn, seqKey(l.Log), seq); err != nil {
				return err
			}
		}
		return nil
	})
	if errors.Is(err, badger.ErrConflict) {
		err = fmt.Errorf("%w: %v", ErrVersionConflict, err)
	}
	if err != nil {
		return nil, fail("commit", "", err)
	}
	return versions, nil
}
