package statistics

import (
	"context"
	"io"
	"log/slog"
	"maps"
	"strings"
	"sync"

	"github.com/dmitrymomot/rproxy/core/logger"
)

// Well-known counter names recorded by the proxy.
const (
	Requests   = "requests"
	NotFound   = "notFound"
	BadGateway = "badGateway"
	WebSocket  = "websocket"
)

// Forwarder sends a counter change to the aggregating process.
type Forwarder interface {
	ForwardCount(ctx context.Context, name string, delta int64, workerID string) error
}

// Counter is a table of monotonic counters keyed by worker and name.
type Counter struct {
	mu        sync.RWMutex
	table     map[string]int64
	workerID  string
	forwarder Forwarder
	logger    *slog.Logger
}

// Option configures a Counter.
type Option func(*Counter)

// WithWorkerID sets the id used when UpdateCount is called without one.
func WithWorkerID(id string) Option {
	return func(c *Counter) {
		if id != "" {
			c.workerID = id
		}
	}
}

// WithForwarder puts the counter in worker mode.
func WithForwarder(f Forwarder) Option {
	return func(c *Counter) {
		c.forwarder = f
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(c *Counter) {
		if l != nil {
			c.logger = l
		}
	}
}

// New returns an empty counter table. The default worker id is "master".
func New(opts ...Option) *Counter {
	c := &Counter{
		table:    make(map[string]int64),
		workerID: "master",
		logger:   slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// WorkerID returns the id used for this process's own events.
func (c *Counter) WorkerID() string {
	return c.workerID
}

// UpdateCount records delta for name. An empty workerID means this process.
// Workers forward the change; forwarding failures are logged and dropped.
func (c *Counter) UpdateCount(ctx context.Context, name string, delta int64, workerID string) {
	if workerID == "" {
		workerID = c.workerID
	}

	if c.forwarder != nil {
		if err := c.forwarder.ForwardCount(ctx, name, delta, workerID); err != nil {
			c.logger.WarnContext(ctx, "failed to forward counter",
				logger.Key("counter", name),
				logger.WorkerID(workerID),
				logger.Error(err),
			)
		}
		return
	}

	c.mu.Lock()
	c.table[Key(workerID, name)] += delta
	c.mu.Unlock()
}

// Increment adds one to name for this process.
func (c *Counter) Increment(ctx context.Context, name string) {
	c.UpdateCount(ctx, name, 1, "")
}

// Get returns a single counter value.
func (c *Counter) Get(workerID, name string) int64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.table[Key(workerID, name)]
}

// GetTable returns a snapshot of every counter.
func (c *Counter) GetTable() map[string]int64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return maps.Clone(c.table)
}

// Key builds the table key for a worker's counter.
func Key(workerID, name string) string {
	return workerID + ":" + name
}

// SplitKey reverses Key.
func SplitKey(key string) (workerID, name string) {
	workerID, name, ok := strings.Cut(key, ":")
	if !ok {
		return "", key
	}
	return workerID, name
}
