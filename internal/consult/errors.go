package consult

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrNoCredential means the identity provider produced no token. No
	// request is sent.
	ErrNoCredential = errors.New("consult: authentication required")
	// ErrEmptyInput means a required form field was blank.
	ErrEmptyInput = errors.New("consult: required field is empty")
	// ErrNotEntitled means the session lacks the plan that unlocks the form.
	ErrNotEntitled = errors.New("consult: subscription required")
	// ErrInFlight means a submission is already streaming.
	ErrInFlight = errors.New("consult: a submission is already in progress")
	// ErrCancelled means the caller aborted the submission.
	ErrCancelled = errors.New("consult: submission cancelled")
	// ErrSessionUsed means Run was called on a session that already ran.
	ErrSessionUsed = errors.New("consult: session already started")
)

// ValidationError names the fields that failed client-side validation.
type ValidationError struct {
	Fields []string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("consult: missing %s", strings.Join(e.Fields, ", "))
}

// Unwrap lets errors.Is match ErrEmptyInput.
func (e *ValidationError) Unwrap() error {
	return ErrEmptyInput
}

// TransportError reports a failed or aborted stream. Server-reported
// failures (an "error" event or a non-2xx status) set Remote so callers can
// tell them apart from a dropped connection.
type TransportError struct {
	Op         string
	StatusCode int
	Remote     bool
	Message    string
	Err        error
}

func (e *TransportError) Error() string {
	var b strings.Builder
	b.WriteString("consult: ")
	b.WriteString(e.Op)
	if e.StatusCode != 0 {
		fmt.Fprintf(&b, ": status %d", e.StatusCode)
	}
	if e.Message != "" {
		b.WriteString(": ")
		b.WriteString(e.Message)
	}
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

// UserMessage is the text a display shows for a terminal error. A clean
// close never reaches here; server failures and lost connections read
// differently.
func UserMessage(err error) string {
	var te *TransportError
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrNoCredential):
		return "Authentication required"
	case errors.Is(err, ErrNotEntitled):
		return "A premium subscription is required to generate summaries"
	case errors.Is(err, ErrEmptyInput):
		return "Patient name and consultation notes are required"
	case errors.Is(err, ErrCancelled):
		return "Summary generation was cancelled"
	case errors.As(err, &te) && te.StatusCode == 401:
		return "Your session has expired. Please sign in again"
	case errors.As(err, &te) && te.Remote:
		return "The summary service reported an error. Please resubmit"
	case errors.As(err, &te):
		return "Connection to the summary service was lost. Please resubmit"
	default:
		return "Something went wrong. Please resubmit"
	}
}
