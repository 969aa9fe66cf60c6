package consult

import (
	"context"
	"errors"
	"sync"
)

// Form is the submission boundary. It gates access on entitlement and
// refuses a second submission while one is streaming, so at most one
// session owns a live buffer.
type Form struct {
	client  *Client
	display Display

	mu     sync.Mutex
	busy   bool
	active *Session
}

// NewForm returns a form submitting through client.
func NewForm(client *Client, display Display) *Form {
	return &Form{client: client, display: display}
}

// Available reports whether the signed-in session may use the form. It
// returns ErrNoCredential when nobody is signed in.
func (f *Form) Available(ctx context.Context) (bool, error) {
	return f.client.identity.Entitled(ctx)
}

// InProgress mirrors the disabled state of the submit control.
func (f *Form) InProgress() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.busy
}

// Active returns the most recent session, if any.
func (f *Form) Active() *Session {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.active
}

// Submit validates req, checks entitlement, and runs a fresh session to a
// terminal state. The returned session is non-nil whenever a session was
// created, so callers can show partial output on failure.
//
// A signed-out caller skips the plan gate: the session fails while
// awaiting a credential and reports ErrNoCredential, never ErrNotEntitled.
func (f *Form) Submit(ctx context.Context, req SubmissionRequest) (*Session, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	entitled, err := f.Available(ctx)
	switch {
	case errors.Is(err, ErrNoCredential):
	case err != nil:
		return nil, err
	case !entitled:
		return nil, ErrNotEntitled
	}

	f.mu.Lock()
	if f.busy {
		f.mu.Unlock()
		return nil, ErrInFlight
	}
	session, err := f.client.NewSession(req, f.display)
	if err != nil {
		f.mu.Unlock()
		return nil, err
	}
	f.busy = true
	f.active = session
	f.mu.Unlock()

	defer func() {
		f.mu.Lock()
		f.busy = false
		f.mu.Unlock()
	}()
	return session, session.Run(ctx)
}

// Close tears the form down, aborting any in-flight submission.
func (f *Form) Close() {
	if s := f.Active(); s != nil {
		s.Cancel()
	}
}
