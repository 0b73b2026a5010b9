package cluster_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrymomot/rproxy/core/cluster"
	"github.com/dmitrymomot/rproxy/core/letsencrypt"
)

func receive(t *testing.T, ch cluster.Channel) cluster.Message {
	t.Helper()
	select {
	case msg, ok := <-ch.Receive():
		require.True(t, ok, "channel closed")
		return msg
	case <-time.After(2 * time.Second):
		t.Fatal("no message received")
		return cluster.Message{}
	}
}

func TestNode_Outbound(t *testing.T) {
	t.Parallel()

	master, worker := cluster.NewMemoryPipe(8)
	node := cluster.NewNode("3", worker)
	ctx := context.Background()

	require.NoError(t, node.ForwardCount(ctx, "requests", 2, ""))
	msg := receive(t, master)
	assert.Equal(t, cluster.TypeStatistics, msg.MessageType)
	assert.Equal(t, cluster.ActionUpdateCount, msg.Action)
	assert.Equal(t, "3", msg.WorkerID)
	assert.Equal(t, "requests", msg.Name)
	assert.Equal(t, int64(2), msg.Delta)

	require.NoError(t, node.PropagateCertificate(ctx, "a.test", []byte("k"), []byte("c"), nil))
	msg = receive(t, master)
	assert.Equal(t, cluster.TypeCertificate, msg.MessageType)
	assert.Equal(t, cluster.ActionUpdateCertificate, msg.Action)
	assert.Equal(t, "a.test", msg.Host)
	assert.Equal(t, "k", msg.Key)
	assert.Equal(t, "c", msg.Cert)
	assert.Empty(t, msg.CA)

	ch := letsencrypt.Challenge{Host: "a.test", Token: "t", KeyAuthorization: "t.x"}
	require.NoError(t, node.RelayChallenge(ctx, letsencrypt.ChallengeAdd, ch))
	msg = receive(t, master)
	assert.Equal(t, cluster.TypeLetsEncrypt, msg.MessageType)
	assert.Equal(t, cluster.ActionAddChallenge, msg.Action)
	assert.Equal(t, ch, msg.Challenge())

	require.NoError(t, node.Disconnect(ctx))
	msg = receive(t, master)
	assert.Equal(t, cluster.TypeControl, msg.MessageType)
	assert.Equal(t, cluster.ActionDisconnect, msg.Action)
}

func TestNode_Run(t *testing.T) {
	t.Parallel()

	master, worker := cluster.NewMemoryPipe(8)
	certs := &certRecorder{}
	table := letsencrypt.NewChallengeTable()
	node := cluster.NewNode("1", worker,
		cluster.WithCertificateSink(certs.apply),
		cluster.WithChallengeSink(table),
	)

	done := make(chan error, 1)
	go func() { done <- node.Run(context.Background()) }()

	msg := receive(t, master)
	assert.Equal(t, cluster.ActionOnline, msg.Action)
	assert.Equal(t, "1", msg.WorkerID)

	ctx := context.Background()
	require.NoError(t, master.Send(ctx, cluster.CertificateMessage("2", "b.test", []byte("k"), []byte("c"), nil)))
	require.NoError(t, master.Send(ctx, cluster.ChallengeMessage("2", cluster.ActionAddChallenge,
		letsencrypt.Challenge{Host: "b.test", Token: "t", KeyAuthorization: "t.x"})))
	require.NoError(t, master.Send(ctx, cluster.StatisticsMessage("2", "requests", 1)))

	require.Eventually(t, func() bool {
		_, okCert := certs.get("b.test")
		_, okChal := table.Get("b.test", "t")
		return okCert && okChal
	}, 2*time.Second, 5*time.Millisecond)

	require.NoError(t, master.Close())
	select {
	case err := <-done:
		assert.ErrorIs(t, err, cluster.ErrChannelClosed)
	case <-time.After(2 * time.Second):
		t.Fatal("node did not stop")
	}
}

func TestNode_RunStopsOnContext(t *testing.T) {
	t.Parallel()

	master, worker := cluster.NewMemoryPipe(8)
	defer master.Close()
	node := cluster.NewNode("1", worker)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- node.Run(ctx) }()

	receive(t, master)
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("node did not stop")
	}
}

func TestNode_CertificateSinkError(t *testing.T) {
	t.Parallel()

	_, worker := cluster.NewMemoryPipe(8)
	calls := 0
	node := cluster.NewNode("1", worker, cluster.WithCertificateSink(func(string, []byte, []byte, []byte) error {
		calls++
		return errors.New("bad pem")
	}))

	assert.NotPanics(t, func() {
		node.Handle(cluster.CertificateMessage("2", "c.test", nil, nil, nil))
	})
	assert.Equal(t, 1, calls)
}
