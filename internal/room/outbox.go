package room

import (
	"fmt"
	"sync"
)

// Outbox is a session's exclusively-owned outbound send handle. The
// coordinator enqueues frames; the transport's write pump is the only
// reader. Sends are non-blocking: a full buffer drops the frame with an
// error rather than stalling a protocol handler on a slow peer.
type Outbox struct {
	connID string
	frames chan []byte
	mu     sync.Mutex
	closed bool
}

// NewOutbox creates an Outbox for the given connection id.
//
// Precondition: connID must be non-empty.
// Postcondition: Returns an Outbox with an open frames channel.
func NewOutbox(connID string, bufferSize int) *Outbox {
	if bufferSize <= 0 {
		bufferSize = 64
	}
	return &Outbox{
		connID: connID,
		frames: make(chan []byte, bufferSize),
	}
}

// ConnID returns the owning connection id.
func (o *Outbox) ConnID() string {
	return o.connID
}

// Push enqueues one outbound frame.
//
// Postcondition: The frame is queued, or an error if the outbox is closed
// or full.
func (o *Outbox) Push(data []byte) error {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.closed {
		return fmt.Errorf("outbox %s is closed", o.connID)
	}
	select {
	case o.frames <- data:
		return nil
	default:
		return fmt.Errorf("outbox %s buffer full", o.connID)
	}
}

// Frames returns the read-only frame channel. The transport write pump
// drains it until Close.
func (o *Outbox) Frames() <-chan []byte {
	return o.frames
}

// Close marks the outbox closed and closes the frame channel.
//
// Postcondition: Frames is closed. Further Push calls return an error.
// Safe to call more than once.
func (o *Outbox) Close() {
	o.mu.Lock()
	defer o.mu.Unlock()

	if !o.closed {
		o.closed = true
		close(o.frames)
	}
}

// IsClosed reports whether the outbox has been closed.
func (o *Outbox) IsClosed() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.closed
}
