package store

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/surrealdb/surrealdb.go"
	"github.com/surrealdb/surrealdb.go/contrib/rews"
	"github.com/surrealdb/surrealdb.go/pkg/connection"
	"github.com/surrealdb/surrealdb.go/pkg/connection/gorillaws"
	"github.com/surrealdb/surrealdb.go/pkg/logger"
	surrealmodels "github.com/surrealdb/surrealdb.go/pkg/models"
	"github.com/surrealdb/surrealdb.go/surrealcbor"
)

func init() {
	// WebSocket upgrade fails under HTTP/2 ALPN negotiation.
	gorillaws.DefaultDialer.TLSClientConfig = &tls.Config{
		NextProtos: []string{"http/1.1"},
	}
}

// SurrealConfig holds SurrealDB connection configuration.
type SurrealConfig struct {
	URL       string
	Namespace string
	Database  string
	Username  string
	Password  string
	AuthLevel string // "root" or "database"
}

type surrealDoc struct {
	ID       *surrealmodels.RecordID `json:"id,omitempty"`
	Key      string                  `json:"doc_key"`
	Version  int64                   `json:"version"`
	Data     []byte                  `json:"data"`
	Checksum int64                   `json:"checksum"`
	SavedAt  time.Time               `json:"saved_at"`
}

type surrealLine struct {
	ID       *surrealmodels.RecordID `json:"id,omitempty"`
	Seq      int64                   `json:"seq"`
	Data     []byte                  `json:"data"`
	Checksum int64                   `json:"checksum"`
}

// Surreal stores documents and logs in a SurrealDB database over an
// auto-reconnecting WebSocket.
type Surreal struct {
	conn   *rews.Connection[*gorillaws.Connection]
	db     *surrealdb.DB
	logger logger.Logger
}

// OpenSurreal connects, authenticates and initializes the schema.
func OpenSurreal(ctx context.Context, cfg SurrealConfig, log *slog.Logger) (*Surreal, error) {
	if log == nil {
		log = slog.Default()
	}
	sdkLogger := logger.New(log.Handler())
	codec := surrealcbor.New()

	// gorillaws appends /rpc itself.
	baseURL := strings.TrimSuffix(cfg.URL, "/rpc")

	conn := rews.New(
		func(ctx context.Context) (*gorillaws.Connection, error) {
			return gorillaws.New(&connection.Config{
				BaseURL:     baseURL,
				Marshaler:   codec,
				Unmarshaler: codec,
				Logger:      sdkLogger,
			}), nil
		},
		5*time.Second,
		codec,
		sdkLogger,
	)
	retryer := rews.NewExponentialBackoffRetryer()
	retryer.InitialDelay = 1 * time.Second
	retryer.MaxDelay = 30 * time.Second
	retryer.Multiplier = 2.0
	retryer.MaxRetries = 10
	conn.Retryer = retryer

	sdkLogger.Info("connecting to SurrealDB", "url", cfg.URL)
	if err := conn.Connect(ctx); err != nil {
		return nil, fail("open", cfg.URL, fmt.Errorf("connect: %w", err))
	}
	db, err := surrealdb.FromConnection(ctx, conn)
	if err != nil {
		_ = conn.Close(ctx)
		return nil, fail("open", cfg.URL, fmt.Errorf("from connection: %w", err))
	}

	auth := surrealdb.Auth{Username: cfg.Username, Password: cfg.Password}
	if cfg.AuthLevel == "database" {
		auth.Namespace = cfg.Namespace
		auth.Database = cfg.Database
	}
	if _, err := db.SignIn(ctx, auth); err != nil {
		_ = conn.Close(ctx)
		return nil, fail("open", cfg.URL, fmt.Errorf("signin: %w", err))
	}
	if err := db.Use(ctx, cfg.Namespace, cfg.Database); err != nil {
		_ = conn.Close(ctx)
		return nil, fail("open", cfg.URL, fmt.Errorf("use: %w", err))
	}
	if _, err := surrealdb.Query[any](ctx, db, surrealSchema, nil); err != nil {
		_ = conn.Close(ctx)
		return nil, fail("open", cfg.URL, fmt.Errorf("init schema: %w", err))
	}
	sdkLogger.Info("SurrealDB store ready", "namespace", cfg.Namespace, "database", cfg.Database)
	return &Surreal{conn: conn, db: db, logger: sdkLogger}, nil
}

// Close closes the SurrealDB connection.
func (s *Surreal) Close() error {
	if s == nil || s.conn == nil {
		return nil
	}
	return s.conn.Close(context.Background())
}

// wipe deletes all rows while keeping the schema. Tests only.
func (s *Surreal) wipe(ctx context.Context) error {
	for _, table := range []string{"document", "log_line"} {
		if _, err := surrealdb.Query[any](ctx, s.db, "DELETE "+table, nil); err != nil {
			return fmt.Errorf("delete %s: %w", table, err)
		}
	}
	return nil
}

func (s *Surreal) LoadLatest(ctx context.Context, key string) (Document, error) {
	return s.loadOne(ctx, "load", key, `
		SELECT * FROM document WHERE doc_key = $key ORDER BY version DESC LIMIT 1
	`, map[string]any{"key": key})
}

func (s *Surreal) LoadVersion(ctx context.Context, key string, version int64) (Document, error) {
	return s.loadOne(ctx, "load-version", key, `
		SELECT * FROM document WHERE doc_key = $key AND version = $version LIMIT 1
	`, map[string]any{"key": key, "version": version})
}

func (s *Surreal) loadOne(ctx context.Context, op, key, sql string, vars map[string]any) (Document, error) {
	results, err := surrealdb.Query[[]surrealDoc](ctx, s.db, sql, vars)
	if err != nil {
		return Document{}, fail(op, key, wrapQueryError(err))
	}
	if results == nil || len(*results) == 0 || len((*results)[0].Result) == 0 {
		return Document{}, notFound(op, key)
	}
	row := (*results)[0].Result[0]
	if checksum(row.Data) != uint32(row.Checksum) {
		return Document{}, fail(op, key, fmt.Errorf("%w: version %d", ErrCorrupt, row.Version))
	}
	return Document{Key: key, Version: row.Version, Data: row.Data, SavedAt: row.SavedAt.UTC()}, nil
}

func (s *Surreal) Save(ctx context.Context, key string, data []byte) (int64, error) {
	versions, err := s.Commit(ctx, Batch{Puts: []Put{{Key: key, Data: data, Expect: AnyVersion}}})
	if err != nil {
		return 0, err
	}
	return versions[0], nil
}

func (s *Surreal) AppendLine(ctx context.Context, log string, data []byte) error {
	_, err := s.Commit(ctx, Batch{Lines: []Line{{Log: log, Data: data}}})
	return err
}

func (s *Surreal) ReadLines(ctx context.Context, log string) ([][]byte, error) {
	results, err := surrealdb.Query[[]surrealLine](ctx, s.db, `
		SELECT * FROM log_line WHERE log_key = $log ORDER BY seq ASC
	`, map[string]any{"log": log})
	if err != nil {
		return nil, fail("read-lines", log, wrapQueryError(err))
	}
	if results == nil || len(*results) == 0 {
		return nil, nil
	}
	rows := (*results)[0].Result
	lines := make([][]byte, 0, len(rows))
	for _, row := range rows {
		if checksum(row.Data) != uint32(row.Checksum) {
			return nil, fail("read-lines", log, fmt.Errorf("%w: line %d", ErrCorrupt, row.Seq))
		}
		lines = append(lines, row.Data)
	}
	return lines, nil
}

func (s *Surreal) latest(ctx context.Context, sql string, vars map[string]any) (int64, error) {
	results, err := surrealdb.Query[[]int64](ctx, s.db, sql, vars)
	if err != nil {
		return 0, wrapQueryError(err)
	}
	if results == nil || len(*results) == 0 || len((*results)[0].Result) == 0 {
		return 0, nil
	}
	return (*results)[0].Result[0], nil
}

// Commit resolves current heads, then re-checks them inside one transaction
// so a concurrent writer surfaces as ErrVersionConflict.
func (s *Surreal) Commit(ctx context.Context, b Batch) ([]int64, error) {
	if b.Empty() {
		return nil, nil
	}
	var (
		sb       strings.Builder
		vars     = map[string]any{}
		heads    = map[string]int64{}
		seqs     = map[string]int64{}
		versions = make([]int64, 0, len(b.Puts))
	)
	sb.WriteString("BEGIN TRANSACTION;\n")
	for i, p := range b.Puts {
		head, seen := heads[p.Key]
		if !seen {
			var err error
			head, err = s.latest(ctx, `
				SELECT VALUE version FROM document WHERE doc_key = $key ORDER BY version DESC LIMIT 1
			`, map[string]any{"key": p.Key})
			if err != nil {
				return nil, fail("commit", p.Key, err)
			}
			if p.Expect != AnyVersion && p.Expect != head {
				return nil, fail("commit", p.Key, fmt.Errorf("%w: expected version %d, found %d",
					ErrVersionConflict, p.Expect, head))
			}
		}
		fmt.Fprintf(&sb, "LET $cur%d = (SELECT VALUE version FROM document WHERE doc_key = $k%d ORDER BY version DESC LIMIT 1)[0] ?? 0;\n", i, i)
		fmt.Fprintf(&sb, "IF $cur%d != $e%d { THROW \"version conflict\" };\n", i, i)
		fmt.Fprintf(&sb, "CREATE document CONTENT { doc_key: $k%d, version: $e%d + 1, data: $d%d, checksum: $c%d, saved_at: time::now() };\n", i, i, i, i)
		vars[fmt.Sprintf("k%d", i)] = p.Key
		vars[fmt.Sprintf("e%d", i)] = head
		vars[fmt.Sprintf("d%d", i)] = p.Data
		vars[fmt.Sprintf("c%d", i)] = int64(checksum(p.Data))
		heads[p.Key] = head + 1
		versions = append(versions, head+1)
	}
	for i, l := range b.Lines {
		seq, seen := seqs[l.Log]
		if !seen {
			var err error
			seq, err = s.latest(ctx, `
				SELECT VALUE seq FROM log_line WHERE log_key = $log ORDER BY seq DESC LIMIT 1
			`, map[string]any{"log": l.Log})
			if err != nil {
				return nil, fail("commit", l.Log, err)
			}
		}
		seq++
		seqs[l.Log] = seq
		fmt.Fprintf(&sb, "CREATE log_line CONTENT { log_key: $l%d, seq: $s%d, data: $ld%d, checksum: $lc%d };\n", i, i, i, i)
		vars[fmt.Sprintf("l%d", i)] = l.Log
		vars[fmt.Sprintf("s%d", i)] = seq
		vars[fmt.Sprintf("ld%d", i)] = l.Data
		vars[fmt.Sprintf("lc%d", i)] = int64(checksum(l.Data))
	}
	sb.WriteString("COMMIT TRANSACTION;\n")

	if _, err := surrealdb.Query[any](ctx, s.db, sb.String(), vars); err != nil {
		return nil, fail("commit", "", wrapQueryError(err))
	}
	return versions, nil
}

// wrapQueryError maps SurrealDB query errors onto store sentinels.
func wrapQueryError(err error) error {
	if err == nil {
		return nil
	}
	var queryErr *surrealdb.QueryError
	if errors.As(err, &queryErr) {
		msg := queryErr.Message
		switch {
		case strings.Contains(msg, "version conflict"),
			strings.Contains(msg, "already contains"),
			strings.Contains(msg, "already exists"),
			strings.Contains(msg, "Transaction conflict"):
			return fmt.Errorf("%w: %s", ErrVersionConflict, msg)
		}
	}
	return err
}
