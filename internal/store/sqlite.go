package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS documents (
  doc_key   TEXT    NOT NULL,
  version   INTEGER NOT NULL,
  data      BLOB    NOT NULL,
  checksum  INTEGER NOT NULL,
  saved_at  INTEGER NOT NULL,
  PRIMARY KEY (doc_key, version)
);
CREATE TABLE IF NOT EXISTS log_lines (
  id        INTEGER PRIMARY KEY,
  log_key   TEXT    NOT NULL,
  data      BLOB    NOT NULL,
  checksum  INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_log_lines_key ON log_lines(log_key, id);
`

// SQLite stores documents and logs in a single database file.
type SQLite struct {
	db     *sql.DB
	lock   *dirLock
	logger *slog.Logger
	now    func() time.Time
}

// OpenSQLite opens (creating if needed) the database at path.
func OpenSQLite(ctx context.Context, path string, logger *slog.Logger) (*SQLite, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fail("open", path, err)
	}
	lock := newDirLock(path)
	if err := lock.acquire(ctx); err != nil {
		return nil, fail("open", path, err)
	}

	dsn := "file:" + path + "?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&_pragma=synchronous(FULL)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		_ = lock.release()
		return nil, fail("open", path, err)
	}
	// One connection serializes the read-check-write of Commit.
	db.SetMaxOpenConns(1)
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		_ = lock.release()
		return nil, fail("open", path, err)
	}
	if _, err := db.ExecContext(ctx, sqliteSchema); err != nil {
		_ = db.Close()
		_ = lock.release()
		return nil, fail("open", path, fmt.Errorf("init schema: %w", err))
	}
	logger.Debug("sqlite store opened", "path", path)
	return &SQLite{db: db, lock: lock, logger: logger, now: time.Now}, nil
}

// Close closes the database and releases the directory lock.
func (s *SQLite) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	err := s.db.Close()
	if lerr := s.lock.release(); err == nil {
		err = lerr
	}
	return err
}

func (s *SQLite) LoadLatest(ctx context.Context, key string) (Document, error) {
	row := s.db.QueryRowContext(ctx, `
SELECT version, data, checksum, saved_at FROM documents
WHERE doc_key = ? ORDER BY version DESC LIMIT 1`, key)
	return scanDocument("load", key, row)
}

func (s *SQLite) LoadVersion(ctx context.Context, key string, version int64) (Document, error) {
	row := s.db.QueryRowContext(ctx, `
SELECT version, data, checksum, saved_at FROM documents
WHERE doc_key = ? AND version = ?`, key, version)
	return scanDocument("load-version", key, row)
}

func scanDocument(op, key string, row *sql.Row) (Document, error) {
	var (
		doc   = Document{Key: key}
		sum   int64
		saved int64
	)
	if err := row.Scan(&doc.Version, &doc.Data, &sum, &saved); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Document{}, notFound(op, key)
		}
		return Document{}, fail(op, key, err)
	}
	if checksum(doc.Data) != uint32(sum) {
		return Document{}, fail(op, key, fmt.Errorf("%w: version %d", ErrCorrupt, doc.Version))
	}
	doc.SavedAt = time.Unix(0, saved).UTC()
	return doc, nil
}

func (s *SQLite) Save(ctx context.Context, key string, data []byte) (int64, error) {
	versions, err := s.Commit(ctx, Batch{Puts: []Put{{Key: key, Data: data, Expect: AnyVersion}}})
	if err != nil {
		return 0, err
	}
	return versions[0], nil
}

func (s *SQLite) AppendLine(ctx context.Context, log string, data []byte) error {
	_, err := s.Commit(ctx, Batch{Lines: []Line{{Log: log, Data: data}}})
	return err
}

func (s *SQLite) ReadLines(ctx context.Context, log string) ([][]byte, error) {
	rows, err := s.db.QueryContext(ctx, `
SELECT id, data, checksum FROM log_lines WHERE log_key = ? ORDER BY id`, log)
	if err != nil {
		return nil, fail("read-lines", log, err)
	}
	defer rows.Close()

	var lines [][]byte
	for rows.Next() {
		var (
			id   int64
			data []byte
			sum  int64
		)
		if err := rows.Scan(&id, &data, &sum); err != nil {
			return nil, fail("read-lines", log, err)
		}
		if checksum(data) != uint32(sum) {
			return nil, fail("read-lines", log, fmt.Errorf("%w: line %d", ErrCorrupt, id))
		}
		lines = append(lines, data)
	}
	if err := rows.Err(); err != nil {
		return nil, fail("read-lines", log, err)
	}
	return lines, nil
}

func (s *SQLite) Commit(ctx context.Context, b Batch) (versions []int64, err error) {
	if b.Empty() {
		return nil, nil
	}
	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{})
	if err != nil {
		return nil, fail("commit", "", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	now := s.now().UTC().UnixNano()
	versions = make([]int64, 0, len(b.Puts))
	for _, p := range b.Puts {
		var current int64
		if err = tx.QueryRowContext(ctx,
			`SELECT COALESCE(MAX(version), 0) FROM documents WHERE doc_key = ?`, p.Key,
		).Scan(&current); err != nil {
			return nil, fail("commit", p.Key, err)
		}
		if p.Expect != AnyVersion && p.Expect != current {
			err = fmt.Errorf("%w: expected version %d, found %d", ErrVersionConflict, p.Expect, current)
			return nil, fail("commit", p.Key, err)
		}
		next := current + 1
		if _, err = tx.ExecContext(ctx,
			`INSERT INTO documents (doc_key, version, data, checksum, saved_at) VALUES (?, ?, ?, ?, ?)`,
			p.Key, next, p.Data, int64(checksum(p.Data)), now,
		); err != nil {
			return nil, fail("commit", p.Key, err)
		}
		versions = append(versions, next)
	}
	for _, l := range b.Lines {
		if _, err = tx.ExecContext(ctx,
			`INSERT INTO log_lines (log_key, data, checksum) VALUES (?, ?, ?)`,
			l.Log, l.Data, int64(checksum(l.Data)),
		); err != nil {
			return nil, fail("commit", l.Log, err)
		}
	}
	if err = tx.Commit(); err != nil {
		return nil, fail("commit", "", err)
	}
	return versions, nil
}
