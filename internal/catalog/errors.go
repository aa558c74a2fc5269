package catalog

import (
	"errors"
	"fmt"
)

// ErrMalformedSource is wrapped by IndexBuildError when the source stream is
// not a catalog document.
var ErrMalformedSource = errors.New("malformed catalog source")

// ErrNotReady is returned by Holder.Current callers that need an index before
// the first build finished.
var ErrNotReady = errors.New("catalog index not ready")

// IndexBuildError reports a failed build. The partial index is discarded and
// any previously published index stays in place.
type IndexBuildError struct {
	Entries int // entries decoded before the failure
	Err     error
}

func (e *IndexBuildError) Error() string {
	return fmt.Sprintf("build catalog index (after %d entries): %v", e.Entries, e.Err)
}

func (e *IndexBuildError) Unwrap() error {
	return e.Err
}
