package cluster

import (
	"context"
	"sync"
)

// DefaultBufferSize is the default buffer of in-memory and stream channels.
const DefaultBufferSize = 256

// Channel is a bidirectional message link between a worker and the master.
// Receive is closed once the link is gone.
type Channel interface {
	Send(ctx context.Context, msg Message) error
	Receive() <-chan Message
	Close() error
}

type memoryPipe struct {
	mu     sync.RWMutex
	closed bool
	ab     chan Message
	ba     chan Message
}

// MemoryChannel is one end of an in-process pipe.
type MemoryChannel struct {
	pipe *memoryPipe
	out  chan Message
	in   chan Message
}

// NewMemoryPipe returns two connected channel ends. Sends never block;
// ErrBufferFull is returned when the peer is not draining.
func NewMemoryPipe(bufferSize int) (*MemoryChannel, *MemoryChannel) {
	if bufferSize < 1 {
		bufferSize = DefaultBufferSize
	}
	p := &memoryPipe{
		ab: make(chan Message, bufferSize),
		ba: make(chan Message, bufferSize),
	}
	return &MemoryChannel{pipe: p, out: p.ab, in: p.ba},
		&MemoryChannel{pipe: p, out: p.ba, in: p.ab}
}

// Send implements Channel.
func (c *MemoryChannel) Send(ctx context.Context, msg Message) error {
	c.pipe.mu.RLock()
	defer c.pipe.mu.RUnlock()

	if c.pipe.closed {
		return ErrChannelClosed
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	select {
	case c.out <- msg:
		return nil
	default:
		return ErrBufferFull
	}
}

// Receive implements Channel.
func (c *MemoryChannel) Receive() <-chan Message {
	return c.in
}

// Close closes both directions. It is idempotent.
func (c *MemoryChannel) Close() error {
	c.pipe.mu.Lock()
	defer c.pipe.mu.Unlock()

	if !c.pipe.closed {
		c.pipe.closed = true
		close(c.pipe.ab)
		close(c.pipe.ba)
	}
	return nil
}
