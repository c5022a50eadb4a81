package chunkuploader

import (
	"errors"
	"fmt"
	"io"
)

// Sequencer turns a sequential reader into an ordered, single-pass sequence of chunks.
// Every chunk is ChunkSize bytes long except the last one. A zero-length source yields no chunks.
type Sequencer struct {
	reader    io.Reader
	totalSize int64
	chunkSize int64
	offset    int64
	buf       []byte
	err       error
}

// NewSequencer creates a Sequencer reading exactly totalSize bytes from reader.
func NewSequencer(reader io.Reader, totalSize, chunkSize int64) *Sequencer {
	return &Sequencer{
		reader:    reader,
		totalSize: totalSize,
		chunkSize: chunkSize,
	}
}

// NumChunks returns the total number of chunks the sequence yields.
func (s *Sequencer) NumChunks() int64 {
	count, _ := ChunkLayout(s.totalSize, s.chunkSize)
	return count
}

// Offset returns the offset of the next chunk.
func (s *Sequencer) Offset() int64 {
	return s.offset
}

// Next reads the next chunk. It returns io.EOF once every byte was yielded.
// After a read failure it keeps returning the same *SourceReadError.
// The returned chunk's Data is overwritten by the following call.
func (s *Sequencer) Next() (Chunk, error) {
	if s.err != nil {
		return Chunk{}, s.err
	}
	if s.chunkSize <= 0 {
		s.err = &SourceReadError{Offset: s.offset, Err: fmt.Errorf("invalid chunk size: %d", s.chunkSize)}
		return Chunk{}, s.err
	}

	remaining := s.totalSize - s.offset
	if remaining <= 0 {
		s.err = io.EOF
		return Chunk{}, s.err
	}

	size := s.chunkSize
	if remaining < size {
		size = remaining
	}

	if s.buf == nil {
		capacity := s.chunkSize
		if s.totalSize < capacity {
			capacity = s.totalSize
		}
		s.buf = make([]byte, capacity)
	}

	data := s.buf[:size]
	n, err := io.ReadFull(s.reader, data)
	if err != nil {
		if errors.Is(err, io.EOF) {
			err = io.ErrUnexpectedEOF
		}
		s.err = &SourceReadError{Offset: s.offset + int64(n), Err: err}
		return Chunk{}, s.err
	}

	chunk := Chunk{
		Offset: s.offset,
		Data:   data,
		Final:  s.offset+size == s.totalSize,
	}
	s.offset += size

	return chunk, nil
}
