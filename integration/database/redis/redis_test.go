package redis_test

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrymomot/rproxy/core/cluster"
	"github.com/dmitrymomot/rproxy/integration/database/redis"
)

func testConfig(t *testing.T) redis.Config {
	t.Helper()
	url := os.Getenv("REDIS_URL")
	if url == "" {
		t.Skip("REDIS_URL is not set")
	}
	return redis.Config{
		ConnectionURL:  url,
		RetryAttempts:  3,
		RetryInterval:  100 * time.Millisecond,
		ConnectTimeout: 5 * time.Second,
	}
}

func TestConnect_Validation(t *testing.T) {
	t.Parallel()

	_, err := redis.Connect(context.Background(), redis.Config{})
	assert.ErrorIs(t, err, redis.ErrEmptyConnectionURL)

	_, err = redis.Connect(context.Background(), redis.Config{ConnectionURL: "http://localhost:6379"})
	assert.ErrorIs(t, err, redis.ErrFailedToParseRedisConnString)
}

func TestConnect_Unreachable(t *testing.T) {
	t.Parallel()

	_, err := redis.Connect(context.Background(), redis.Config{
		ConnectionURL:  "redis://127.0.0.1:1/0",
		RetryAttempts:  2,
		RetryInterval:  10 * time.Millisecond,
		ConnectTimeout: 2 * time.Second,
	})
	assert.ErrorIs(t, err, redis.ErrRedisNotReady)
}

func TestConnectAndHealthcheck(t *testing.T) {
	cfg := testConfig(t)
	ctx := context.Background()

	client, err := redis.Connect(ctx, cfg)
	require.NoError(t, err)
	defer client.Close()

	assert.NoError(t, redis.Healthcheck(client)(ctx))
}

func TestChannel_BroadcastsToAllSubscribers(t *testing.T) {
	cfg := testConfig(t)
	ctx := context.Background()

	client, err := redis.Connect(ctx, cfg)
	require.NoError(t, err)
	defer client.Close()

	topic := "rproxy:test:" + uuid.NewString()
	a, err := redis.NewChannel(ctx, client, topic)
	require.NoError(t, err)
	defer a.Close()
	b, err := redis.NewChannel(ctx, client, topic)
	require.NoError(t, err)
	defer b.Close()

	sent := cluster.CertificateMessage("host-a", "example.com", []byte("k"), []byte("c"), nil)
	require.NoError(t, a.Send(ctx, sent))

	for _, ch := range []*redis.Channel{a, b} {
		select {
		case got := <-ch.Receive():
			assert.Equal(t, sent, got)
		case <-time.After(5 * time.Second):
			t.Fatal("message not delivered")
		}
	}

	require.NoError(t, a.Close())
	assert.ErrorIs(t, a.Send(ctx, sent), cluster.ErrChannelClosed)
}

func TestNewChannel_EmptyTopic(t *testing.T) {
	t.Parallel()

	_, err := redis.NewChannel(context.Background(), nil, "")
	assert.ErrorIs(t, err, redis.ErrEmptyTopic)
}
