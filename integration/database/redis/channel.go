package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"sync"

	"github.com/redis/go-redis/v9"

	"github.com/dmitrymomot/rproxy/core/cluster"
	"github.com/dmitrymomot/rproxy/core/logger"
)

// Channel is a cluster.Channel over a Redis pub/sub topic. Every subscriber,
// the publisher included, receives each message, so proxies on separate
// hosts share certificates and challenges the way workers of one master do.
type Channel struct {
	client *redis.Client
	topic  string
	pubsub *redis.PubSub
	in     chan cluster.Message
	done   chan struct{}
	wg     sync.WaitGroup
	once   sync.Once
	logger *slog.Logger
}

// ChannelOption configures a Channel.
type ChannelOption func(*Channel)

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) ChannelOption {
	return func(c *Channel) {
		if l != nil {
			c.logger = l
		}
	}
}

// NewChannel subscribes to topic and starts delivering its messages.
func NewChannel(ctx context.Context, client *redis.Client, topic string, opts ...ChannelOption) (*Channel, error) {
	if topic == "" {
		return nil, ErrEmptyTopic
	}

	c := &Channel{
		client: client,
		topic:  topic,
		in:     make(chan cluster.Message, cluster.DefaultBufferSize),
		done:   make(chan struct{}),
		logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
	for _, opt := range opts {
		opt(c)
	}

	c.pubsub = client.Subscribe(ctx, topic)
	// Wait for the subscription to be confirmed so no message published
	// after NewChannel returns is missed.
	if _, err := c.pubsub.Receive(ctx); err != nil {
		_ = c.pubsub.Close()
		return nil, fmt.Errorf("subscribe to %s: %w", topic, err)
	}

	c.wg.Add(1)
	go c.readLoop()
	return c, nil
}

func (c *Channel) readLoop() {
	defer c.wg.Done()
	defer close(c.in)

	for msg := range c.pubsub.Channel() {
		var m cluster.Message
		if err := json.Unmarshal([]byte(msg.Payload), &m); err != nil {
			c.logger.Warn("dropping malformed cluster message", logger.Key("topic", c.topic), logger.Error(err))
			continue
		}
		select {
		case c.in <- m:
		case <-c.done:
			return
		}
	}
}

// Send implements cluster.Channel.
func (c *Channel) Send(ctx context.Context, msg cluster.Message) error {
	select {
	case <-c.done:
		return cluster.ErrChannelClosed
	default:
	}

	payload, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("encode cluster message: %w", err)
	}
	if err := c.client.Publish(ctx, c.topic, payload).Err(); err != nil {
		return fmt.Errorf("publish to %s: %w", c.topic, err)
	}
	return nil
}

// Receive implements cluster.Channel.
func (c *Channel) Receive() <-chan cluster.Message {
	return c.in
}

// Close unsubscribes. The Redis client stays open.
func (c *Channel) Close() error {
	var err error
	c.once.Do(func() {
		close(c.done)
		err = c.pubsub.Close()
		c.wg.Wait()
	})
	return err
}
