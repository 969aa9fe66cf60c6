package sse

import (
	"bufio"
	"errors"
	"io"
	"strconv"
	"strings"
)

// maxLineBytes bounds a single line so a misbehaving server cannot grow
// the read buffer without limit.
const maxLineBytes = 1 << 20

// ErrLineTooLong is returned when a line exceeds the reader's limit.
var ErrLineTooLong = errors.New("sse: line too long")

// Reader decodes events from an event stream body.
type Reader struct {
	r           *bufio.Reader
	lastEventID string
	// skipLF is set after a \r so a following \n is not read as a second
	// line break. Peeking instead would block on a live stream.
	skipLF bool
}

// NewReader returns a Reader over r.
func NewReader(r io.Reader) *Reader {
	return &Reader{r: bufio.NewReaderSize(r, 4096)}
}

// Next returns the next dispatched event. It returns io.EOF once the stream
// ends cleanly; a partially received event at EOF is discarded.
func (r *Reader) Next() (Event, error) {
	var (
		data    strings.Builder
		hasData bool
		ev      Event
	)
	for {
		line, err := r.readLine()
		if err != nil {
			if errors.Is(err, io.EOF) {
				return Event{}, io.EOF
			}
			return Event{}, err
		}

		if line == "" {
			if !hasData {
				ev = Event{}
				continue
			}
			ev.Data = strings.TrimSuffix(data.String(), "\n")
			ev.ID = r.lastEventID
			return ev, nil
		}
		if strings.HasPrefix(line, ":") {
			continue
		}

		field, value := line, ""
		if idx := strings.IndexByte(line, ':'); idx >= 0 {
			field = line[:idx]
			value = strings.TrimPrefix(line[idx+1:], " ")
		}

		switch field {
		case "data":
			data.WriteString(value)
			data.WriteByte('\n')
			hasData = true
		case "event":
			ev.Event = value
		case "id":
			if !strings.ContainsRune(value, 0) {
				r.lastEventID = value
			}
		case "retry":
			if n, err := strconv.Atoi(value); err == nil && n >= 0 {
				ev.Retry = n
			}
		}
	}
}

// readLine returns one line without its terminator. \n, \r\n and a bare
// \r all end a line. A line cut off by EOF is dropped.
func (r *Reader) readLine() (string, error) {
	var b []byte
	for {
		c, err := r.r.ReadByte()
		if err != nil {
			return "", err
		}
		if r.skipLF {
			r.skipLF = false
			if c == '\n' {
				continue
			}
		}
		switch c {
		case '\n':
			return string(b), nil
		case '\r':
			r.skipLF = true
			return string(b), nil
		}
		if len(b) >= maxLineBytes {
			return "", ErrLineTooLong
		}
		b = append(b, c)
	}
}
