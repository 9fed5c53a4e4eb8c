package flasher

import (
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"

	"github.com/SMLunchen/mh-web-flasher/internal/guard"
)

// State is a flashing session state.
type State int

const (
	Idle State = iota
	Connecting
	Preparing
	Writing
	Resetting
	Streaming
	Done
	Failed
)

func (s State) String() string {
	switch s {
	case Idle:
		return "IDLE"
	case Connecting:
		return "CONNECTING"
	case Preparing:
		return "PREPARING"
	case Writing:
		return "WRITING"
	case Resetting:
		return "RESETTING"
	case Streaming:
		return "STREAMING"
	case Done:
		return "DONE"
	case Failed:
		return "FAILED"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// Terminal reports whether no transition leaves s.
func (s State) Terminal() bool {
	return s == Done || s == Failed
}

// next lists the forward transitions; Failed is reachable from every
// non-terminal state.
var next = map[State]State{
	Idle:       Connecting,
	Connecting: Preparing,
	Preparing:  Writing,
	Writing:    Resetting,
	Resetting:  Streaming,
	Streaming:  Done,
}

// ErrInvalidTransition is returned for a transition the state machine forbids.
var ErrInvalidTransition = errors.New("invalid state transition")

func canTransition(from, to State) bool {
	if from.Terminal() {
		return false
	}
	if to == Failed {
		return true
	}
	return next[from] == to
}

// Session is the state of one flashing attempt. It is owned by a single
// Run call; accessors are safe to use from callbacks.
type Session struct {
	id uuid.UUID

	mu           sync.Mutex
	state        State
	bytesWritten int
	fileIndex    int
	err          error
	guard        *guard.Guard

	onChange func(s *Session, from, to State)
}

func newSession(onChange func(*Session, State, State)) *Session {
	return &Session{id: uuid.New(), state: Idle, onChange: onChange}
}

// ID returns the session identifier.
func (s *Session) ID() uuid.UUID {
	return s.id
}

// State returns the current state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// BytesWritten returns the cumulative bytes written across all files.
func (s *Session) BytesWritten() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.bytesWritten
}

// FileIndex returns the index of the file being written.
func (s *Session) FileIndex() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.fileIndex
}

// Err returns the error that failed the session, if any.
func (s *Session) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

func (s *Session) bind(g *guard.Guard) {
	s.mu.Lock()
	s.guard = g
	s.mu.Unlock()
}

func (s *Session) boundGuard() *guard.Guard {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.guard
}

func (s *Session) progress(fileIndex, total int) {
	s.mu.Lock()
	s.fileIndex = fileIndex
	s.bytesWritten = total
	s.mu.Unlock()
}

func (s *Session) transition(to State) error {
	s.mu.Lock()
	from := s.state
	if !canTransition(from, to) {
		s.mu.Unlock()
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, from, to)
	}
	s.state = to
	s.mu.Unlock()

	if s.onChange != nil {
		s.onChange(s, from, to)
	}
	return nil
}

// fail records err and moves to Failed unless already terminal.
func (s *Session) fail(err error) {
	s.mu.Lock()
	if s.err == nil {
		s.err = err
	}
	s.mu.Unlock()
	s.transition(Failed)
}
