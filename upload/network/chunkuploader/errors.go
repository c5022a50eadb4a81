package chunkuploader

import (
	"errors"
	"fmt"
)

// ErrNotAcknowledged is wrapped when the remote side answers a request with a negative acknowledgement.
var ErrNotAcknowledged = errors.New("remote side did not acknowledge the request")

// HandshakeError means the begin or end call of the handshake was rejected or could not be made.
type HandshakeError struct {
	Phase  string
	Handle string
	Err    error
}

func (e *HandshakeError) Error() string {
	if e.Handle == "" {
		return fmt.Sprintf("%s handshake failed: %s", e.Phase, e.Err)
	}
	return fmt.Sprintf("%s handshake failed (handle: %s): %s", e.Phase, e.Handle, e.Err)
}

func (e *HandshakeError) Unwrap() error {
	return e.Err
}

// TransportError means sending a chunk or the whole file failed.
type TransportError struct {
	Offset int64
	Size   int64
	Err    error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("send %d bytes at offset %d: %s", e.Size, e.Offset, e.Err)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

// SourceReadError means reading the local source failed.
type SourceReadError struct {
	Offset int64
	Err    error
}

func (e *SourceReadError) Error() string {
	return fmt.Sprintf("read source at offset %d: %s", e.Offset, e.Err)
}

func (e *SourceReadError) Unwrap() error {
	return e.Err
}
