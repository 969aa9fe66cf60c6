// Package sse encodes and decodes the text/event-stream wire format used
// between the consultation endpoint and its clients.
package sse

// Event names carried in the "event:" field. An empty name means a plain
// message whose data is a text fragment.
const (
	EventMessage = "message"
	EventError   = "error"
	EventDone    = "done"
)

// ContentType is the media type of an event stream response.
const ContentType = "text/event-stream"

// Event is one dispatched server-sent event.
type Event struct {
	ID    string
	Event string
	Data  string
	Retry int
}

// IsMessage reports whether the event carries a text fragment.
func (e Event) IsMessage() bool {
	return e.Event == "" || e.Event == EventMessage
}
