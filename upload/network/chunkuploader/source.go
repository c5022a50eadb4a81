package chunkuploader

import (
	"fmt"
	"io"
	"os"
)

// FileSource reads an upload source from a file on disk.
type FileSource struct {
	file *os.File
	size int64
}

// OpenFile opens path as an upload Source. The size is taken when the file is opened.
func OpenFile(path string) (*FileSource, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open file: %w", err)
	}

	info, err := file.Stat()
	if err != nil {
		_ = file.Close()
		return nil, fmt.Errorf("stat file: %w", err)
	}
	if info.IsDir() {
		_ = file.Close()
		return nil, fmt.Errorf("%s is a directory", path)
	}

	return &FileSource{
		file: file,
		size: info.Size(),
	}, nil
}

// Read ...
func (s *FileSource) Read(p []byte) (int, error) {
	return s.file.Read(p)
}

// Size ...
func (s *FileSource) Size() int64 {
	return s.size
}

// Name returns the path the source was opened with.
func (s *FileSource) Name() string {
	return s.file.Name()
}

// Close closes the underlying file.
func (s *FileSource) Close() error {
	if s.file != nil {
		return s.file.Close()
	}
	return nil
}

type readerSource struct {
	io.ReadCloser
	size int64
}

// NewSource wraps a stream of known length as a Source.
func NewSource(rc io.ReadCloser, size int64) Source {
	return readerSource{ReadCloser: rc, size: size}
}

func (s readerSource) Size() int64 {
	return s.size
}
