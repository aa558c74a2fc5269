package store

import (
	"context"
	"fmt"
	"log/slog"
)

// Backend names accepted by Open.
const (
	BackendSQLite  = "sqlite"
	BackendBadger  = "badger"
	BackendSurreal = "surrealdb"
)

// Config selects and configures a backend.
type Config struct {
	Backend    string
	SQLitePath string
	BadgerDir  string
	Surreal    SurrealConfig
}

// Open returns the configured backend.
func Open(ctx context.Context, cfg Config, logger *slog.Logger) (Store, error) {
	switch cfg.Backend {
	case "", BackendSQLite:
		return OpenSQLite(ctx, cfg.SQLitePath, logger)
	case BackendBadger:
		return OpenBadger(ctx, cfg.BadgerDir, logger)
	case BackendSurreal:
		return OpenSurreal(ctx, cfg.Surreal, logger)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownBackend, cfg.Backend)
	}
}
