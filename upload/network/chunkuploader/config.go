package chunkuploader

import (
	"fmt"
)

const (
	// DefaultChunkSize is the number of bytes sent per UploadChunk request unless configured otherwise.
	DefaultChunkSize int64 = 512 * 1024

	// MaxChunkSize caps the per-request buffer; the whole chunk is held in memory while it is sent.
	MaxChunkSize int64 = 100 * 1024 * 1024
)

// Config holds configuration for the chunk uploader.
type Config struct {
	// ChunkSize is the maximum number of bytes sent in a single chunk request.
	// Larger chunks mean fewer requests but more memory and a longer time per request.
	// Default: 512 KiB
	ChunkSize int64
}

// DefaultConfig returns the default configuration.
func DefaultConfig() Config {
	return Config{
		ChunkSize: DefaultChunkSize,
	}
}

// Validate ...
func (c Config) Validate() error {
	if c.ChunkSize <= 0 {
		return fmt.Errorf("chunk size must be positive, got %d", c.ChunkSize)
	}
	if c.ChunkSize > MaxChunkSize {
		return fmt.Errorf("chunk size %d exceeds the maximum of %d bytes", c.ChunkSize, MaxChunkSize)
	}
	return nil
}

// ChunkLayout returns how many chunks a source of totalSize bytes is split into
// and the size of the last one.
func ChunkLayout(totalSize, chunkSize int64) (count int64, lastSize int64) {
	if totalSize <= 0 || chunkSize <= 0 {
		return 0, 0
	}

	count = totalSize / chunkSize
	lastSize = totalSize % chunkSize
	if lastSize == 0 {
		return count, chunkSize
	}
	return count + 1, lastSize
}
