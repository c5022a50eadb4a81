package chunkuploader

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/bitrise-io/go-utils/v2/log"
)

// Uploader drives the begin / chunk / end handshake over a Transport.
// Chunks are sent strictly one after the other, in offset order, and are never retried.
type Uploader struct {
	config    Config
	transport Transport
	logger    log.Logger
	stats     *Stats
}

// New creates a new Uploader with the given configuration.
func New(config Config, transport Transport, logger log.Logger) (*Uploader, error) {
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	if transport == nil {
		return nil, fmt.Errorf("transport must not be nil")
	}

	return &Uploader{
		config:    config,
		transport: transport,
		logger:    logger,
		stats:     NewStats(),
	}, nil
}

// Stats returns the chunk statistics collected by this uploader.
func (u *Uploader) Stats() *Stats {
	return u.stats
}

// RunChunked uploads source under name chunk by chunk.
//
// The returned error is non-nil exactly when the outcome state is StateFailed; it is a *HandshakeError,
// *TransportError or *SourceReadError. A failed chunk or source read aborts the run without calling
// Transport.End. Cancellation through token is honored between chunks and reported as StateCancelled.
// The source is closed before RunChunked returns.
func (u *Uploader) RunChunked(ctx context.Context, source Source, name string, progress ProgressFunc, token *CancelToken) (Outcome, error) {
	start := time.Now()
	defer u.closeSource(source)

	session := newSession(source.Size())
	err := u.runChunked(ctx, session, source, name, progress, token)
	return u.finish(session, start, err)
}

// RunWhole uploads source under name in a single request.
//
// The whole source is buffered in memory, so this is only suitable for small files: sources exceeding
// the remote request size or timeout limits fail outright. Cancellation is only observed before the
// request is issued. The source is closed before RunWhole returns.
func (u *Uploader) RunWhole(ctx context.Context, source Source, name string, progress ProgressFunc, token *CancelToken) (Outcome, error) {
	start := time.Now()
	defer u.closeSource(source)

	session := newSession(source.Size())
	err := u.runWhole(ctx, session, source, name, progress, token)
	return u.finish(session, start, err)
}

func (u *Uploader) runChunked(ctx context.Context, session *Session, source Source, name string, progress ProgressFunc, token *CancelToken) error {
	totalSize := session.TotalSize()
	if totalSize < 0 {
		return &SourceReadError{Err: fmt.Errorf("invalid source size: %d", totalSize)}
	}

	u.logger.Debugf("Begin upload of %s (%d bytes)", name, totalSize)
	handle, err := u.transport.Begin(ctx, name)
	if err != nil {
		return &HandshakeError{Phase: "begin", Err: err}
	}
	if err := session.start(handle); err != nil {
		return &HandshakeError{Phase: "begin", Err: err}
	}
	u.logger.Debugf("Upload handle: %s", handle)

	sequencer := NewSequencer(source, totalSize, u.config.ChunkSize)
	numChunks := sequencer.NumChunks()
	u.logger.Debugf("Uploading %d chunks, %dB each", numChunks, u.config.ChunkSize)

	cancelled := token.Cancelled()
	for !cancelled {
		if err := ctx.Err(); err != nil {
			return &TransportError{Offset: sequencer.Offset(), Err: err}
		}

		chunk, err := sequencer.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return err
		}

		if err := u.sendChunk(ctx, handle, chunk, session.chunks+1, numChunks); err != nil {
			return err
		}

		if err := advance(session, chunk.Offset, chunk.Len()); err != nil {
			return err
		}
		if progress != nil {
			progress(session.Transferred(), totalSize)
		}

		cancelled = token.Cancelled()
	}

	if cancelled {
		u.logger.Warnf("Cancellation requested after %d of %d chunks", session.chunks, numChunks)
	}

	u.logger.Debugf("End upload %s (cancelled: %t)", handle, cancelled)
	ack, err := u.transport.End(ctx, handle, totalSize, cancelled)
	if err != nil {
		return &HandshakeError{Phase: "end", Handle: handle, Err: err}
	}

	if cancelled {
		if !ack {
			u.logger.Warnf("Remote side did not acknowledge the cancellation of upload %s", handle)
		}
		return settle(session, StateCancelled)
	}
	if !ack {
		return &HandshakeError{Phase: "end", Handle: handle, Err: ErrNotAcknowledged}
	}

	return settle(session, StateCompleted)
}

func (u *Uploader) sendChunk(ctx context.Context, handle string, chunk Chunk, index, numChunks int64) error {
	u.logger.Debugf("Uploading chunk %d/%d (%d bytes at offset %d) [avg=%v]",
		index, numChunks, chunk.Len(), chunk.Offset, u.stats.Average().Round(time.Millisecond))

	start := time.Now()
	if err := u.transport.SendChunk(ctx, handle, chunk.Data, chunk.Offset); err != nil {
		return &TransportError{Offset: chunk.Offset, Size: chunk.Len(), Err: err}
	}

	took := time.Since(start)
	u.stats.Update(took, chunk.Len())
	u.logger.Debugf("Chunk %d uploaded in %v", index, took.Round(time.Millisecond))

	return nil
}

func (u *Uploader) runWhole(ctx context.Context, session *Session, source Source, name string, progress ProgressFunc, token *CancelToken) error {
	totalSize := session.TotalSize()
	if totalSize < 0 {
		return &SourceReadError{Err: fmt.Errorf("invalid source size: %d", totalSize)}
	}

	if token.Cancelled() {
		u.logger.Warnf("Cancellation requested before the source was read")
		return settle(session, StateCancelled)
	}

	data := make([]byte, totalSize)
	if n, err := io.ReadFull(source, data); err != nil {
		if errors.Is(err, io.EOF) {
			err = io.ErrUnexpectedEOF
		}
		return &SourceReadError{Offset: int64(n), Err: err}
	}

	if token.Cancelled() {
		u.logger.Warnf("Cancellation requested before the upload request was sent")
		return settle(session, StateCancelled)
	}

	// There is no begin handshake on this path; the file name stands in as the handle.
	if err := session.start(name); err != nil {
		return &HandshakeError{Phase: "begin", Err: err}
	}

	u.logger.Debugf("Uploading %s in a single request (%d bytes)", name, totalSize)
	start := time.Now()
	ack, err := u.transport.UploadWhole(ctx, name, data)
	if err != nil {
		return &TransportError{Size: totalSize, Err: err}
	}
	if !ack {
		return &TransportError{Size: totalSize, Err: ErrNotAcknowledged}
	}
	u.stats.Update(time.Since(start), totalSize)

	if err := advance(session, 0, totalSize); err != nil {
		return err
	}
	if progress != nil {
		progress(totalSize, totalSize)
	}

	return settle(session, StateCompleted)
}

// advance records n bytes read from offset as transferred.
// Bytes beyond the declared size mean the source does not match its Size.
func advance(session *Session, offset, n int64) error {
	if err := session.advance(n); err != nil {
		return &SourceReadError{Offset: offset, Err: err}
	}
	return nil
}

// settle moves session to a terminal state after the remote side answered.
func settle(session *Session, state State) error {
	if err := session.finish(state); err != nil {
		return &HandshakeError{Phase: "end", Handle: session.Handle(), Err: err}
	}
	return nil
}

func (u *Uploader) finish(session *Session, start time.Time, err error) (Outcome, error) {
	if err != nil && !session.State().Terminal() {
		if ferr := session.finish(StateFailed); ferr != nil {
			u.logger.Warnf("Failed to mark upload as failed: %s", ferr)
		}
	}

	outcome := session.outcome()
	outcome.Duration = time.Since(start)
	return outcome, err
}

func (u *Uploader) closeSource(source Source) {
	if err := source.Close(); err != nil {
		u.logger.Errorf("failed to close source: %s", err)
	}
}
