// Package chunkuploader splits a local source into bounded-size chunks and pushes them
// sequentially to a remote endpoint through a begin / chunk / end handshake.
// It tracks progress and supports cooperative cancellation between chunks.
package chunkuploader

import (
	"context"
	"io"
	"time"
)

// Chunk is a contiguous piece of the source.
type Chunk struct {
	// Offset is the position in the source where this chunk begins.
	Offset int64
	// Data is a view into the sequencer's buffer. It is only valid until the next call to Sequencer.Next.
	Data []byte
	// Final is true for the last chunk of the source.
	Final bool
}

// Len returns the number of bytes in the chunk.
func (c Chunk) Len() int64 {
	return int64(len(c.Data))
}

// Source is a readable data source of known length.
// The uploader owns the source for the duration of a run and closes it on every exit path.
type Source interface {
	io.ReadCloser
	Size() int64
}

// Transport performs the network calls of an upload.
type Transport interface {
	// Begin announces a new upload and returns the handle issued by the remote side.
	Begin(ctx context.Context, fileName string) (string, error)

	// SendChunk delivers one chunk of the upload identified by handle.
	SendChunk(ctx context.Context, handle string, data []byte, offset int64) error

	// End closes the upload. When cancelled is true the remote side should discard what it received.
	// The returned bool is the remote acknowledgement.
	End(ctx context.Context, handle string, totalSize int64, cancelled bool) (bool, error)

	// UploadWhole sends the complete file in a single request.
	UploadWhole(ctx context.Context, fileName string, data []byte) (bool, error)
}

// ProgressFunc receives the number of bytes sent so far and the total size.
// It is called at most once per chunk and bytesTransferred never decreases.
type ProgressFunc func(bytesTransferred, totalSize int64)

// Outcome is the result of one upload run.
type Outcome struct {
	State            State
	Handle           string
	TotalSize        int64
	BytesTransferred int64
	ChunksSent       int64
	Duration         time.Duration
}
