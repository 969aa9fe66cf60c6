package sse

import (
	"errors"
	"io"
	"net/http"
	"strings"
)

// ErrStreamingUnsupported is returned when the response cannot be flushed.
var ErrStreamingUnsupported = errors.New("sse: streaming unsupported")

// Writer emits events to an HTTP response, flushing after each one.
type Writer struct {
	w       io.Writer
	flusher http.Flusher
}

// NewWriter sets the event-stream headers on w and returns a Writer.
func NewWriter(w http.ResponseWriter) (*Writer, error) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		return nil, ErrStreamingUnsupported
	}
	h := w.Header()
	h.Set("Content-Type", ContentType+"; charset=utf-8")
	h.Set("Cache-Control", "no-cache")
	h.Set("Connection", "keep-alive")
	h.Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()
	return &Writer{w: w, flusher: flusher}, nil
}

// Fragment writes text as an unnamed event. Line breaks inside text become
// separate data lines, so a conforming reader gets back
// NormalizeNewlines(text).
func (s *Writer) Fragment(text string) error {
	if text == "" {
		return nil
	}
	return s.Event("", text)
}

// Event writes a named event. An empty data string still produces one
// data line so the event is dispatched.
func (s *Writer) Event(name, data string) error {
	var b strings.Builder
	if name != "" {
		b.WriteString("event: ")
		b.WriteString(name)
		b.WriteByte('\n')
	}
	for _, line := range splitLines(data) {
		b.WriteString("data: ")
		b.WriteString(line)
		b.WriteByte('\n')
	}
	b.WriteByte('\n')
	if _, err := io.WriteString(s.w, b.String()); err != nil {
		return err
	}
	s.flusher.Flush()
	return nil
}

// Comment writes a comment line, used as a keep-alive.
func (s *Writer) Comment(text string) error {
	if _, err := io.WriteString(s.w, ": "+strings.ReplaceAll(text, "\n", " ")+"\n\n"); err != nil {
		return err
	}
	s.flusher.Flush()
	return nil
}

// NormalizeNewlines rewrites \r\n and bare \r as \n. The event-stream
// format treats all three as line terminators, so a carriage return cannot
// travel inside a data field; this is the text a reader reconstructs.
func NormalizeNewlines(s string) string {
	if !strings.ContainsRune(s, '\r') {
		return s
	}
	s = strings.ReplaceAll(s, "\r\n", "\n")
	return strings.ReplaceAll(s, "\r", "\n")
}

// splitLines yields one data line per line of the normalized text. A
// trailing newline gives a trailing empty line, which the reader turns back
// into "\n".
func splitLines(data string) []string {
	return strings.Split(NormalizeNewlines(data), "\n")
}
