package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/raphaelgruber/watchwise/internal/matcher"
	"github.com/raphaelgruber/watchwise/internal/scoring"
	"github.com/raphaelgruber/watchwise/internal/service"
	"github.com/raphaelgruber/watchwise/internal/store"
	"github.com/raphaelgruber/watchwise/internal/taste"
)

// Config holds all configuration values.
type Config struct {
	DataDir string

	// Persistence
	Store store.Config

	// Catalog source (offline database JSON)
	CatalogPath string

	// Logging
	LogFile  string
	LogLevel slog.Level

	// Tunables file, empty when no file was configured
	TunablesPath string
	Tunables     Tunables
}

// Tunables are the algorithm knobs read from the YAML file.
type Tunables struct {
	Matcher matcher.Config `yaml:"matcher"`
	Taste   taste.Config   `yaml:"taste"`
	Scoring scoring.Config `yaml:"scoring"`
	Session service.Config `yaml:"session"`
}

// DefaultTunables returns the stock knobs.
func DefaultTunables() Tunables {
	return Tunables{
		Matcher: matcher.DefaultConfig(),
		Taste:   taste.DefaultConfig(),
		Scoring: scoring.DefaultConfig(),
		Session: service.DefaultConfig(),
	}
}

// Load reads configuration from environment variables and the optional
// tunables file named by WATCHWISE_CONFIG (default <data dir>/config.yaml
// when present).
func Load() (Config, error) {
	dataDir := getEnv("WATCHWISE_DATA_DIR", defaultDataDir())
	cfg := Config{
		DataDir: dataDir,
		Store: store.Config{
			Backend:    getEnv("WATCHWISE_STORE", store.BackendSQLite),
			SQLitePath: getEnv("WATCHWISE_SQLITE_PATH", filepath.Join(dataDir, "watchwise.db")),
			BadgerDir:  getEnv("WATCHWISE_BADGER_DIR", filepath.Join(dataDir, "badger")),
			Surreal: store.SurrealConfig{
				URL:       getEnv("WATCHWISE_SURREALDB_URL", "ws://localhost:8000/rpc"),
				Namespace: getEnv("WATCHWISE_SURREALDB_NAMESPACE", "watchwise"),
				Database:  getEnv("WATCHWISE_SURREALDB_DATABASE", "session"),
				Username:  getEnv("WATCHWISE_SURREALDB_USER", "root"),
				Password:  getEnv("WATCHWISE_SURREALDB_PASS", "root"),
				AuthLevel: getEnv("WATCHWISE_SURREALDB_AUTH_LEVEL", "root"),
			},
		},
		CatalogPath: getEnv("WATCHWISE_CATALOG", filepath.Join(dataDir, "anime-offline-database.json")),
		LogFile:     getEnv("WATCHWISE_LOG_FILE", filepath.Join(dataDir, "watchwise.log")),
		LogLevel:    parseLogLevel(getEnv("WATCHWISE_LOG_LEVEL", "INFO")),
		Tunables:    DefaultTunables(),
	}

	path := os.Getenv("WATCHWISE_CONFIG")
	if path == "" {
		candidate := filepath.Join(dataDir, "config.yaml")
		if _, err := os.Stat(candidate); err == nil {
			path = candidate
		}
	}
	if path != "" {
		t, err := LoadTunables(path)
		if err != nil {
			return cfg, err
		}
		cfg.TunablesPath, cfg.Tunables = path, t
	}
	return cfg, nil
}

// LoadTunables reads a YAML tunables file over the defaults. A dimensions
// block replaces the default definitions instead of merging into them.
func LoadTunables(path string) (Tunables, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Tunables{}, fmt.Errorf("read tunables: %w", err)
	}
	t := DefaultTunables()
	t.Taste.Dimensions = nil
	if err := yaml.Unmarshal(data, &t); err != nil {
		return Tunables{}, fmt.Errorf("parse tunables %s: %w", path, err)
	}
	if t.Taste.Dimensions == nil {
		t.Taste.Dimensions = taste.DefaultDefinitions()
	}
	if err := t.Validate(); err != nil {
		return Tunables{}, fmt.Errorf("tunables %s: %w", path, err)
	}
	return t, nil
}

// ErrInvalidTunables is wrapped by Validate failures outside the engine.
var ErrInvalidTunables = errors.New("invalid tunables")

// Validate checks every section.
func (t Tunables) Validate() error {
	if err := t.Scoring.Validate(); err != nil {
		return err
	}
	if t.Taste.DecayFactor <= 0 || t.Taste.DecayFactor > 1 {
		return fmt.Errorf("%w: decay_factor %.3f outside (0,1]", ErrInvalidTunables, t.Taste.DecayFactor)
	}
	if t.Matcher.ReviewThreshold < 0 || t.Matcher.ReviewThreshold > 1 {
		return fmt.Errorf("%w: review_threshold %.3f outside [0,1]", ErrInvalidTunables, t.Matcher.ReviewThreshold)
	}
	if t.Session.SkipCooldown < 0 || t.Session.RetireAfterSkips < 0 {
		return fmt.Errorf("%w: negative session policy", ErrInvalidTunables)
	}
	return nil
}

func defaultDataDir() string {
	if dir, err := os.UserConfigDir(); err == nil {
		return filepath.Join(dir, "watchwise")
	}
	return ".watchwise"
}

func getEnv(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

func parseLogLevel(s string) slog.Level {
	switch strings.ToUpper(s) {
	case "DEBUG":
		return slog.LevelDebug
	case "INFO":
		return slog.LevelInfo
	case "WARN", "WARNING":
		return slog.LevelWarn
	case "ERROR":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
