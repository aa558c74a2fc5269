// Package cli provides the command-line interface for watchwise.
package cli

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/raphaelgruber/watchwise/internal/catalog"
	"github.com/raphaelgruber/watchwise/internal/config"
	"github.com/raphaelgruber/watchwise/internal/metrics"
	"github.com/raphaelgruber/watchwise/internal/scoring"
	"github.com/raphaelgruber/watchwise/internal/service"
	"github.com/raphaelgruber/watchwise/internal/store"
	"github.com/raphaelgruber/watchwise/internal/taste"
)

var (
	// Version is set at build time.
	Version = "0.1.0"

	// Global flags
	verbose     bool
	catalogFlag string
	uiContext   string

	// Session state shared by the commands
	cfg       config.Config
	logger    *slog.Logger
	logClose  func() error
	st        store.Store
	holder    *catalog.Holder
	collector *metrics.Collector
	svc       *service.Service
	stopBuild context.CancelFunc
)

// rootCmd represents the base command when called without any subcommands.
var rootCmd = &cobra.Command{
	Use:   "watchwise",
	Short: "Personal anime recommender",
	Long: `Watchwise learns your taste from star ratings and recommends what to
watch next from the offline anime database.

Every change to your taste model is versioned and recorded in an audit
ledger, so ratings can be undone, the model reverted, and each
recommendation explained.`,
	Version:           Version,
	SilenceUsage:      true,
	SilenceErrors:     true,
	PersistentPreRunE: setup,
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		teardown()
	},
}

// needsSession reports whether cmd works on the user's stored state.
func needsSession(cmd *cobra.Command) bool {
	switch cmd.Name() {
	case "version", "help", "completion", "index":
		return false
	}
	return true
}

func setup(cmd *cobra.Command, args []string) error {
	if cmd.Name() == "help" || cmd.Name() == "completion" {
		return nil
	}

	var err error
	cfg, err = config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if catalogFlag != "" {
		cfg.CatalogPath = catalogFlag
	}

	stderrLevel := slog.LevelWarn
	if verbose {
		stderrLevel = slog.LevelDebug
	}
	logger, logClose = config.SetupLogger(cfg.LogFile, cfg.LogLevel, stderrLevel)
	slog.SetDefault(logger)
	collector = metrics.NewCollector()
	holder = catalog.NewHolder(logger)

	if !needsSession(cmd) {
		return nil
	}

	// The catalog builds in the background; commands that need it wait
	// and see the build error if it fails.
	ctx := cmd.Context()
	buildCtx, cancel := context.WithCancel(ctx)
	stopBuild = cancel
	go func() {
		if err := <-buildCatalog(buildCtx, nil); err != nil && buildCtx.Err() == nil {
			logger.Warn("catalog build failed", "source", cfg.CatalogPath, "error", err)
		}
	}()

	st, err = store.Open(ctx, cfg.Store, logger)
	if err != nil {
		return fmt.Errorf("open %s store: %w", cfg.Store.Backend, err)
	}

	tun := cfg.Tunables
	tm := taste.New(tun.Taste)
	engine, err := scoring.NewEngine(tun.Scoring, tm.Dimensions(), scoring.WithLogger(logger))
	if err != nil {
		return err
	}
	svc, err = service.Open(ctx, service.Deps{
		Store:   st,
		Catalog: holder,
		Taste:   tm,
		Engine:  engine,
		Matcher: tun.Matcher,
		Metrics: collector,
		Logger:  logger,
		Config:  tun.Session,
	})
	if err != nil {
		return fmt.Errorf("open session: %w", err)
	}
	return nil
}

// teardown releases the session. It runs after every command, including
// failed ones, and is safe to call twice.
func teardown() {
	if svc != nil {
		svc.Close()
		svc = nil
	}
	if stopBuild != nil {
		stopBuild()
		stopBuild = nil
	}
	if st != nil {
		if err := st.Close(); err != nil {
			fmt.Fprintf(os.Stderr, "Warning: failed to close store: %v\n", err)
		}
		st = nil
	}
	if logClose != nil {
		_ = logClose()
		logClose = nil
	}
}

// buildCatalog rebuilds the index from the configured source and records
// the build timing.
func buildCatalog(ctx context.Context, onRead func(n int64)) <-chan error {
	open := func() (io.ReadCloser, error) {
		f, err := os.Open(cfg.CatalogPath)
		if err != nil {
			return nil, err
		}
		if onRead == nil {
			return f, nil
		}
		return &countingReader{rc: f, onRead: onRead}, nil
	}
	start := time.Now()
	built := holder.RebuildAsync(ctx, open)
	out := make(chan error, 1)
	go func() {
		defer close(out)
		err := <-built
		if err == nil {
			collector.RecordBatch(metrics.OpIndexBuild, time.Since(start), int64(holder.Current().Len()))
		}
		out <- err
	}()
	return out
}

// countingReader reports cumulative bytes read.
type countingReader struct {
	rc     io.ReadCloser
	n      int64
	onRead func(n int64)
}

func (r *countingReader) Read(p []byte) (int, error) {
	n, err := r.rc.Read(p)
	r.n += int64(n)
	r.onRead(r.n)
	return n, err
}

func (r *countingReader) Close() error { return r.rc.Close() }

// Execute adds all child commands to the root command and runs it.
func Execute() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	err := rootCmd.ExecuteContext(ctx)
	teardown()
	return err
}

func init() {
	// Global flags
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose output")
	rootCmd.PersistentFlags().StringVar(&catalogFlag, "catalog", "", "catalog source (overrides WATCHWISE_CATALOG)")
	rootCmd.PersistentFlags().StringVar(&uiContext, "context", "cli", "context recorded on ledger entries")

	// Add subcommands
	rootCmd.AddCommand(indexCmd)
	rootCmd.AddCommand(matchCmd)
	rootCmd.AddCommand(recommendCmd)
	rootCmd.AddCommand(rateCmd)
	rootCmd.AddCommand(pendingCmd)
	rootCmd.AddCommand(skipCmd)
	rootCmd.AddCommand(planCmd)
	rootCmd.AddCommand(importCmd)
	rootCmd.AddCommand(historyCmd)
	rootCmd.AddCommand(undoCmd)
	rootCmd.AddCommand(revertCmd)
	rootCmd.AddCommand(decayCmd)
	rootCmd.AddCommand(whyCmd)
	rootCmd.AddCommand(exportCmd)
	rootCmd.AddCommand(statsCmd)
}
