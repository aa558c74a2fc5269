package catalog

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"runtime"
	"time"

	"github.com/raphaelgruber/watchwise/internal/models"
	"golang.org/x/sync/errgroup"
)

// DefaultChunkSize is how many entries are indexed between yields.
const DefaultChunkSize = 500

// ProgressFunc receives the number of entries indexed so far.
type ProgressFunc func(indexed int)

type buildOptions struct {
	chunkSize int
	sizeHint  int
	progress  ProgressFunc
	logger    *slog.Logger
	now       func() time.Time
}

// Option configures Build.
type Option func(*buildOptions)

// WithChunkSize sets how many entries are indexed between progress reports.
func WithChunkSize(n int) Option {
	return func(o *buildOptions) {
		if n > 0 {
			o.chunkSize = n
		}
	}
}

// WithSizeHint preallocates the tables for roughly n entries.
func WithSizeHint(n int) Option {
	return func(o *buildOptions) { o.sizeHint = n }
}

// WithProgress registers a callback invoked after every chunk.
func WithProgress(fn ProgressFunc) Option {
	return func(o *buildOptions) { o.progress = fn }
}

// WithLogger sets the logger used during the build.
func WithLogger(l *slog.Logger) Option {
	return func(o *buildOptions) { o.logger = l }
}

// Build streams entries from src and indexes them. Decoding and indexing run
// as a two-stage pipeline; any decode failure or cancellation discards the
// partial index and returns an *IndexBuildError.
func Build(ctx context.Context, src io.Reader, opts ...Option) (*Index, error) {
	o := buildOptions{chunkSize: DefaultChunkSize, sizeHint: 1024, now: time.Now}
	for _, opt := range opts {
		opt(&o)
	}
	if o.logger == nil {
		o.logger = slog.Default()
	}

	start := o.now()
	stream, err := newEntryStream(src)
	if err != nil {
		return nil, &IndexBuildError{Err: err}
	}

	ix := newIndex(o.sizeHint)
	entries := make(chan models.CatalogEntry, o.chunkSize)
	decoded := 0

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		defer close(entries)
		var raw rawEntry
		for {
			ok, err := stream.Next(&raw)
			if err != nil {
				return err
			}
			if !ok {
				return nil
			}
			entry, err := raw.toEntry()
			if err != nil {
				return err
			}
			select {
			case entries <- entry:
				decoded++
			case <-gctx.Done():
				return gctx.Err()
			}
		}
	})
	g.Go(func() error {
		n := 0
		for e := range entries {
			ix.add(e)
			n++
			if n%o.chunkSize == 0 {
				if o.progress != nil {
					o.progress(n)
				}
				runtime.Gosched()
			}
		}
		return nil
	})

	if err := g.Wait(); err != nil {
		o.logger.Warn("catalog index build failed", "decoded", decoded, "error", err)
		return nil, &IndexBuildError{Entries: decoded, Err: err}
	}
	if err := ctx.Err(); err != nil {
		return nil, &IndexBuildError{Entries: decoded, Err: err}
	}

	ix.link()
	ix.builtAt = o.now()
	if o.progress != nil {
		o.progress(ix.Len())
	}
	o.logger.Info("catalog index built",
		"entries", ix.Len(),
		"titles", len(ix.byTitle),
		"synonyms", len(ix.bySynonym),
		"tags", len(ix.byTag),
		"duration", ix.builtAt.Sub(start))
	return ix, nil
}

// BuildFile opens path and builds an index from it.
func BuildFile(ctx context.Context, path string, opts ...Option) (*Index, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, &IndexBuildError{Err: fmt.Errorf("open catalog: %w", err)}
	}
	defer f.Close()

	if info, err := f.Stat(); err == nil {
		// offline database entries average about 1.5KB
		opts = append([]Option{WithSizeHint(int(info.Size() / 1500))}, opts...)
	}
	return Build(ctx, f, opts...)
}
