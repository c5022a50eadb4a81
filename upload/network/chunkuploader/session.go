package chunkuploader

import (
	"errors"
	"fmt"
)

// ErrInvalidTransition is returned when a session is moved to a state it cannot reach from its current one.
var ErrInvalidTransition = errors.New("invalid session state transition")

// State is the lifecycle state of an upload session.
type State int

const (
	StateNotStarted State = iota
	StateInProgress
	StateCompleted
	StateCancelled
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateNotStarted:
		return "not_started"
	case StateInProgress:
		return "in_progress"
	case StateCompleted:
		return "completed"
	case StateCancelled:
		return "cancelled"
	case StateFailed:
		return "failed"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Terminal reports whether no further transition is possible from s.
func (s State) Terminal() bool {
	return s == StateCompleted || s == StateCancelled || s == StateFailed
}

// Session holds the state of one in-flight upload.
// It is owned by a single run of the Uploader and is not safe for concurrent use.
type Session struct {
	handle      string
	totalSize   int64
	transferred int64
	chunks      int64
	state       State
}

func newSession(totalSize int64) *Session {
	return &Session{
		totalSize: totalSize,
		state:     StateNotStarted,
	}
}

// Handle returns the remote handle. It is empty until the begin handshake succeeded.
func (s *Session) Handle() string {
	return s.handle
}

// TotalSize ...
func (s *Session) TotalSize() int64 {
	return s.totalSize
}

// Transferred returns the number of bytes acknowledged so far.
func (s *Session) Transferred() int64 {
	return s.transferred
}

// State ...
func (s *Session) State() State {
	return s.state
}

func (s *Session) start(handle string) error {
	if s.state != StateNotStarted {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, s.state, StateInProgress)
	}
	if handle == "" {
		return fmt.Errorf("empty upload handle")
	}
	s.handle = handle
	s.state = StateInProgress
	return nil
}

func (s *Session) advance(n int64) error {
	if s.state != StateInProgress {
		return fmt.Errorf("%w: cannot record progress in state %s", ErrInvalidTransition, s.state)
	}
	if n < 0 || s.transferred+n > s.totalSize {
		return fmt.Errorf("progress of %d bytes would move transferred bytes (%d) outside [0, %d]", n, s.transferred, s.totalSize)
	}
	s.transferred += n
	s.chunks++
	return nil
}

func (s *Session) finish(state State) error {
	if !state.Terminal() {
		return fmt.Errorf("%w: %s is not a terminal state", ErrInvalidTransition, state)
	}

	switch s.state {
	case StateInProgress:
	case StateNotStarted:
		// Nothing reached the remote side yet: the run either failed or was cancelled up front.
		if state == StateCompleted {
			return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, s.state, state)
		}
	default:
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, s.state, state)
	}

	if state == StateCompleted && s.transferred != s.totalSize {
		return fmt.Errorf("%w: completed with %d of %d bytes transferred", ErrInvalidTransition, s.transferred, s.totalSize)
	}

	s.state = state
	return nil
}

func (s *Session) outcome() Outcome {
	return Outcome{
		State:            s.state,
		Handle:           s.handle,
		TotalSize:        s.totalSize,
		BytesTransferred: s.transferred,
		ChunksSent:       s.chunks,
	}
}
