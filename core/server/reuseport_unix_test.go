//go:build unix

package server_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrymomot/rproxy/core/server"
)

func TestServer_ReusePortSharesAddress(t *testing.T) {
	t.Parallel()

	first := server.New("127.0.0.1:0", server.WithReusePort(true))
	require.NoError(t, first.Listen())
	t.Cleanup(func() { _ = first.Stop() })

	second := server.New(first.Addr(), server.WithReusePort(true))
	require.NoError(t, second.Listen())
	t.Cleanup(func() { _ = second.Stop() })
	assert.Equal(t, first.Addr(), second.Addr())

	plain := server.New(first.Addr())
	assert.Error(t, plain.Listen())
}
