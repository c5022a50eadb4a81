package chunkuploader

import "sync/atomic"

// CancelToken requests cooperative cancellation of an upload.
// The uploader only reads it between chunks, so a request already in flight always completes.
// A nil *CancelToken is never cancelled.
type CancelToken struct {
	cancelled atomic.Bool
}

// NewCancelToken ...
func NewCancelToken() *CancelToken {
	return &CancelToken{}
}

// Cancel marks the token as cancelled. Calling it more than once has no further effect.
func (t *CancelToken) Cancel() {
	t.cancelled.Store(true)
}

// Cancelled reports whether Cancel was called.
func (t *CancelToken) Cancelled() bool {
	if t == nil {
		return false
	}
	return t.cancelled.Load()
}
