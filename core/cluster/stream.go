package cluster

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"sync"

	"github.com/dmitrymomot/rproxy/core/logger"
)

// StreamChannel exchanges newline-delimited JSON messages over a reader and
// a writer, typically the two ends of an inherited pipe.
type StreamChannel struct {
	r      io.ReadCloser
	w      io.WriteCloser
	wmu    sync.Mutex
	enc    *json.Encoder
	in     chan Message
	done   chan struct{}
	once   sync.Once
	logger *slog.Logger
}

// NewStreamChannel starts reading r immediately.
func NewStreamChannel(r io.ReadCloser, w io.WriteCloser, log *slog.Logger) *StreamChannel {
	if log == nil {
		log = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	c := &StreamChannel{
		r:      r,
		w:      w,
		enc:    json.NewEncoder(w),
		in:     make(chan Message, DefaultBufferSize),
		done:   make(chan struct{}),
		logger: log,
	}
	go c.readLoop()
	return c
}

func (c *StreamChannel) readLoop() {
	defer close(c.in)

	dec := json.NewDecoder(bufio.NewReader(c.r))
	for {
		var msg Message
		if err := dec.Decode(&msg); err != nil {
			select {
			case <-c.done:
			default:
				if !errors.Is(err, io.EOF) {
					c.logger.Warn("cluster stream read failed", logger.Error(err))
				}
			}
			return
		}

		select {
		case c.in <- msg:
		case <-c.done:
			return
		}
	}
}

// Send implements Channel.
func (c *StreamChannel) Send(ctx context.Context, msg Message) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	c.wmu.Lock()
	defer c.wmu.Unlock()

	select {
	case <-c.done:
		return ErrChannelClosed
	default:
	}
	return c.enc.Encode(msg)
}

// Receive implements Channel.
func (c *StreamChannel) Receive() <-chan Message {
	return c.in
}

// Close closes both streams. It is idempotent.
func (c *StreamChannel) Close() error {
	var err error
	c.once.Do(func() {
		close(c.done)
		c.wmu.Lock()
		werr := c.w.Close()
		c.wmu.Unlock()
		err = errors.Join(werr, c.r.Close())
	})
	return err
}
