package consult

import (
	"context"
	"errors"
	"io"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/wolfman30/medinotes/internal/sse"
)

// State is a session lifecycle state.
type State int

const (
	StateIdle State = iota
	StateAwaitingCredential
	StateStreaming
	StateCompleted
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateAwaitingCredential:
		return "awaiting_credential"
	case StateStreaming:
		return "streaming"
	case StateCompleted:
		return "completed"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Terminal reports whether no further transitions can happen.
func (s State) Terminal() bool {
	return s == StateCompleted || s == StateFailed
}

// Display is the rendering side of a session. Both methods are called
// synchronously from the goroutine running the session, in order.
type Display interface {
	BufferUpdated(buffer string)
	StateChanged(state State)
}

type nopDisplay struct{}

func (nopDisplay) BufferUpdated(string) {}
func (nopDisplay) StateChanged(State)   {}

// Session is one submission's state machine. It owns its buffer; a new
// submission always gets a new Session.
type Session struct {
	client  *Client
	req     SubmissionRequest
	display Display

	mu        sync.Mutex
	state     State
	buf       strings.Builder
	err       error
	cancel    context.CancelFunc
	cancelled bool

	abortOnce sync.Once
	aborts    atomic.Int32
	done      chan struct{}
}

// State returns the current state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Buffer returns everything received so far.
func (s *Session) Buffer() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.buf.String()
}

// Err returns the terminal error, or nil while running or after success.
func (s *Session) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// InProgress is the loading flag: true while waiting for a credential or
// streaming.
func (s *Session) InProgress() bool {
	st := s.State()
	return st == StateAwaitingCredential || st == StateStreaming
}

// Done is closed once the session reaches a terminal state.
func (s *Session) Done() <-chan struct{} {
	return s.done
}

// Cancel aborts the submission. It is safe to call any number of times and
// from any goroutine. Fragments received before the cancel are kept.
func (s *Session) Cancel() {
	s.mu.Lock()
	s.cancelled = true
	idle := s.state == StateIdle
	s.mu.Unlock()

	if idle {
		s.finish(StateFailed, ErrCancelled)
	}
	s.abort()
}

// Run drives the session to a terminal state and returns its error. It
// blocks until the stream closes, fails, or is cancelled.
func (s *Session) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	if !s.begin(cancel) {
		cancel()
		if err := s.Err(); err != nil {
			return err
		}
		return ErrSessionUsed
	}
	// Every exit path releases the connection.
	defer s.abort()

	logger := s.client.logger
	token, err := s.client.identity.Token(ctx)
	if s.wasCancelled() {
		return s.finish(StateFailed, ErrCancelled)
	}
	if err != nil || strings.TrimSpace(token) == "" {
		if err != nil {
			logger.Warn("consult: credential lookup failed", "error", err)
		}
		return s.finish(StateFailed, ErrNoCredential)
	}

	s.mu.Lock()
	s.buf.Reset()
	s.mu.Unlock()
	s.transition(StateStreaming)

	resp, err := s.client.open(ctx, s.req, token)
	if err != nil {
		return s.fail(err)
	}
	defer resp.Body.Close()
	logger.Debug("consult: stream opened", "endpoint", s.client.endpoint)

	reader := sse.NewReader(resp.Body)
	for {
		ev, err := reader.Next()
		if errors.Is(err, io.EOF) {
			return s.finish(StateCompleted, nil)
		}
		if err != nil {
			return s.fail(&TransportError{Op: "read stream", Err: err})
		}
		switch {
		case ev.IsMessage():
			s.append(ev.Data)
		case ev.Event == sse.EventDone:
			return s.finish(StateCompleted, nil)
		case ev.Event == sse.EventError:
			return s.fail(&TransportError{Op: "stream", Remote: true, Message: ev.Data})
		default:
			logger.Debug("consult: ignoring event", "event", ev.Event)
		}
	}
}

// begin moves Idle to AwaitingCredential and records the abort hook.
func (s *Session) begin(cancel context.CancelFunc) bool {
	s.mu.Lock()
	if s.state != StateIdle {
		s.mu.Unlock()
		return false
	}
	s.state = StateAwaitingCredential
	s.cancel = cancel
	s.mu.Unlock()
	s.display.StateChanged(StateAwaitingCredential)
	return true
}

func (s *Session) transition(state State) {
	s.mu.Lock()
	if s.state.Terminal() {
		s.mu.Unlock()
		return
	}
	s.state = state
	s.mu.Unlock()
	s.display.StateChanged(state)
}

func (s *Session) append(fragment string) {
	s.mu.Lock()
	if s.state != StateStreaming {
		s.mu.Unlock()
		return
	}
	s.buf.WriteString(fragment)
	snapshot := s.buf.String()
	s.mu.Unlock()
	s.display.BufferUpdated(snapshot)
}

// fail aborts the request and records the error. A read error caused by
// Cancel is reported as ErrCancelled.
func (s *Session) fail(err error) error {
	s.abort()
	if s.wasCancelled() {
		err = ErrCancelled
	}
	s.client.logger.Warn("consult: submission failed", "error", err)
	return s.finish(StateFailed, err)
}

// finish applies the terminal transition once; later calls return the
// first outcome.
func (s *Session) finish(state State, err error) error {
	s.mu.Lock()
	if s.state.Terminal() {
		first := s.err
		s.mu.Unlock()
		return first
	}
	s.state = state
	s.err = err
	s.mu.Unlock()
	close(s.done)
	s.display.StateChanged(state)
	return err
}

func (s *Session) abort() {
	s.abortOnce.Do(func() {
		s.mu.Lock()
		cancel := s.cancel
		s.mu.Unlock()
		if cancel != nil {
			cancel()
		}
		s.aborts.Add(1)
	})
}

func (s *Session) wasCancelled() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cancelled
}
