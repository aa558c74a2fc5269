package config

import (
	"io"
	"log/slog"
	"os"
	"path/filepath"

	slogmulti "github.com/samber/slog-multi"
)

// SetupLogger logs text to stderr at stderrLevel and JSON lines to logFile
// at level. Each CLI run appends to the same file, so file records carry the
// process id. The returned function closes the file.
func SetupLogger(logFile string, level, stderrLevel slog.Level) (*slog.Logger, func() error) {
	noop := func() error { return nil }
	if err := os.MkdirAll(filepath.Dir(logFile), 0o755); err != nil {
		slog.Error("failed to create log directory, using stderr only", "error", err, "file", logFile)
		return slog.New(stderrHandler(os.Stderr, stderrLevel)), noop
	}
	file, err := os.OpenFile(logFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		slog.Error("failed to open log file, using stderr only", "error", err, "file", logFile)
		return slog.New(stderrHandler(os.Stderr, stderrLevel)), noop
	}
	return newLogger(os.Stderr, file, level, stderrLevel), file.Close
}

// SetupLoggerWithWriters creates the same fanout over custom writers (for testing).
func SetupLoggerWithWriters(stderr, file io.Writer, level, stderrLevel slog.Level) *slog.Logger {
	return newLogger(stderr, file, level, stderrLevel)
}

func newLogger(stderr, file io.Writer, level, stderrLevel slog.Level) *slog.Logger {
	fileHandler := slog.NewJSONHandler(file, &slog.HandlerOptions{
		Level:     level,
		AddSource: level <= slog.LevelDebug,
	}).WithAttrs([]slog.Attr{slog.Int("pid", os.Getpid())})
	return slog.New(slogmulti.Fanout(stderrHandler(stderr, stderrLevel), fileHandler))
}

func stderrHandler(w io.Writer, level slog.Level) slog.Handler {
	return slog.NewTextHandler(w, &slog.HandlerOptions{Level: level})
}
