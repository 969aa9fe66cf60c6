package main

import (
	"fmt"
	"io"
	"sync"

	"github.com/wolfman30/medinotes/internal/consult"
)

// terminalDisplay prints each newly appended part of the buffer, so the
// summary appears on screen as it streams. Status lines go to a separate
// writer.
type terminalDisplay struct {
	out    io.Writer
	status io.Writer

	mu      sync.Mutex
	printed int
}

func newTerminalDisplay(out, status io.Writer) *terminalDisplay {
	return &terminalDisplay{out: out, status: status}
}

func (d *terminalDisplay) BufferUpdated(buffer string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if len(buffer) < d.printed {
		// A new session reset the buffer.
		d.printed = 0
	}
	_, _ = io.WriteString(d.out, buffer[d.printed:])
	d.printed = len(buffer)
}

func (d *terminalDisplay) StateChanged(state consult.State) {
	switch state {
	case consult.StateAwaitingCredential:
		fmt.Fprintln(d.status, "Signing in...")
	case consult.StateStreaming:
		d.mu.Lock()
		d.printed = 0
		d.mu.Unlock()
		fmt.Fprintln(d.status, "Generating summary...")
	case consult.StateCompleted:
		d.mu.Lock()
		ended := d.printed > 0
		d.mu.Unlock()
		if ended {
			fmt.Fprintln(d.out)
		}
	}
}
