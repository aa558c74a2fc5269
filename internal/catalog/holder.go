package catalog

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
)

// Holder publishes the current index. One writer rebuilds while readers keep
// using the previous ready index; the swap is a single atomic store.
type Holder struct {
	current atomic.Pointer[Index]
	writeMu sync.Mutex
	ready   chan struct{}
	once    sync.Once
	failed  error // first build error when no index was ever published
	logger  *slog.Logger
}

// NewHolder returns an empty holder.
func NewHolder(logger *slog.Logger) *Holder {
	if logger == nil {
		logger = slog.Default()
	}
	return &Holder{ready: make(chan struct{}), logger: logger}
}

// Current returns the published index or nil before the first build.
func (h *Holder) Current() *Index {
	return h.current.Load()
}

// Wait blocks until an index is published, the first build failed, or ctx
// is done.
func (h *Holder) Wait(ctx context.Context) (*Index, error) {
	if ix := h.current.Load(); ix != nil {
		return ix, nil
	}
	select {
	case <-h.ready:
		if ix := h.current.Load(); ix != nil {
			return ix, nil
		}
		return nil, h.failed
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Publish swaps in ix as the current index.
func (h *Holder) Publish(ix *Index) {
	h.current.Store(ix)
	h.once.Do(func() { close(h.ready) })
}

// Rebuild builds a new index from the reader returned by open and publishes
// it. On failure the previous index stays current.
func (h *Holder) Rebuild(ctx context.Context, open func() (io.ReadCloser, error), opts ...Option) (*Index, error) {
	h.writeMu.Lock()
	defer h.writeMu.Unlock()

	rc, err := open()
	if err != nil {
		err = &IndexBuildError{Err: err}
		h.failFirst(err)
		return nil, err
	}
	defer rc.Close()

	ix, err := Build(ctx, rc, append(opts, WithLogger(h.logger))...)
	if err != nil {
		if prev := h.current.Load(); prev != nil {
			h.logger.Warn("keeping previous catalog index", "entries", prev.Len())
		}
		h.failFirst(err)
		return nil, err
	}
	h.Publish(ix)
	return ix, nil
}

// failFirst releases waiters with err when no index was ever published.
func (h *Holder) failFirst(err error) {
	if h.current.Load() != nil {
		return
	}
	h.once.Do(func() {
		h.failed = err
		close(h.ready)
	})
}

// RebuildAsync runs Rebuild in the background. The channel yields the build
// error (nil on success) and is closed afterwards.
func (h *Holder) RebuildAsync(ctx context.Context, open func() (io.ReadCloser, error), opts ...Option) <-chan error {
	done := make(chan error, 1)
	go func() {
		defer close(done)
		_, err := h.Rebuild(ctx, open, opts...)
		done <- err
	}()
	return done
}
