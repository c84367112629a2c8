package session

import (
	"sync"

	"coderelay/internal/protocol"
)

// RingBuffer is a fixed-capacity circular buffer of the messages sent to a
// session's client. It backs the session transcript.
type RingBuffer struct {
	mu       sync.RWMutex
	buf      []protocol.ServerMessage
	capacity int
	pos      int // next write position
	full     bool
}

// NewRingBuffer creates a ring buffer with the given capacity.
func NewRingBuffer(capacity int) *RingBuffer {
	if capacity < 1 {
		capacity = 1
	}
	return &RingBuffer{
		buf:      make([]protocol.ServerMessage, capacity),
		capacity: capacity,
	}
}

// Write adds a message, overwriting the oldest when full.
func (rb *RingBuffer) Write(msg protocol.ServerMessage) {
	rb.mu.Lock()
	defer rb.mu.Unlock()

	rb.buf[rb.pos] = msg
	rb.pos = (rb.pos + 1) % rb.capacity
	if rb.pos == 0 {
		rb.full = true
	}
}

// ReadAll returns all messages in the buffer in chronological order.
func (rb *RingBuffer) ReadAll() []protocol.ServerMessage {
	rb.mu.RLock()
	defer rb.mu.RUnlock()

	if !rb.full {
		result := make([]protocol.ServerMessage, rb.pos)
		copy(result, rb.buf[:rb.pos])
		return result
	}

	result := make([]protocol.ServerMessage, rb.capacity)
	copy(result, rb.buf[rb.pos:])
	copy(result[rb.capacity-rb.pos:], rb.buf[:rb.pos])
	return result
}
