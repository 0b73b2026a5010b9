package proxy

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrymomot/rproxy/core/certstore"
	"github.com/dmitrymomot/rproxy/core/letsencrypt"
	le "github.com/dmitrymomot/rproxy/pkg/letsencrypt"
)

func TestStripPrefix(t *testing.T) {
	t.Parallel()

	tests := []struct {
		path, prefix, want string
	}{
		{"/api/users", "/api", "/users"},
		{"/api", "/api", "/"},
		{"/API/users", "/api", "/users"},
		{"/other", "/api", "/other"},
		{"/x", "/", "/x"},
		{"/a", "/abc", "/a"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, stripPrefix(tt.path, tt.prefix), "%s - %s", tt.path, tt.prefix)
	}
}

func TestResponderDialAddr(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "", responderDialAddr(""))
	assert.Equal(t, "127.0.0.1:80", responderDialAddr(":80"))
	assert.Equal(t, "127.0.0.1:80", responderDialAddr("0.0.0.0:80"))
	assert.Equal(t, "127.0.0.1:80", responderDialAddr("[::]:80"))
	assert.Equal(t, "10.0.0.2:8080", responderDialAddr("10.0.0.2:8080"))
}

func TestRouteOptionsRedirect(t *testing.T) {
	t.Parallel()

	off := false
	assert.False(t, RouteOptions{}.redirect())
	assert.True(t, RouteOptions{SSL: &SSLOptions{}}.redirect())
	assert.False(t, RouteOptions{SSL: &SSLOptions{Redirect: &off}}.redirect())
}

// countingAuthority records how often a certificate was ordered.
type countingAuthority struct{ calls atomic.Int32 }

func (a *countingAuthority) Name() string { return "counting" }

func (a *countingAuthority) Obtain(ctx context.Context, req le.Request) (*le.Certificate, error) {
	a.calls.Add(1)
	return le.NewSelfSigned().Obtain(ctx, req)
}

func newManagedServer(t *testing.T, auth le.Authority) *Server {
	t.Helper()

	store := certstore.New()
	cfg := letsencrypt.DefaultConfig()
	cfg.Email = "ops@example.com"
	manager, err := letsencrypt.NewManager(store, cfg,
		letsencrypt.WithAuthority(auth),
		letsencrypt.WithRetryConfig(1, 0),
	)
	require.NoError(t, err)

	s, err := New(DefaultConfig(), WithCertStore(store), WithManager(manager))
	require.NoError(t, err)
	return s
}

func TestRequestCertificate_AfterClose(t *testing.T) {
	t.Parallel()

	auth := &countingAuthority{}
	s := newManagedServer(t, auth)
	require.NoError(t, s.Close())

	s.requestCertificate("example.com", LetsEncryptOptions{})
	s.WaitCertificates()
	assert.Zero(t, auth.calls.Load())
}

func TestRequestCertificate_ConcurrentClose(t *testing.T) {
	t.Parallel()

	s := newManagedServer(t, &countingAuthority{})

	var wg sync.WaitGroup
	for i := range 16 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			s.requestCertificate(fmt.Sprintf("host%d.example.com", i), LetsEncryptOptions{})
		}()
	}
	require.NoError(t, s.Close())
	wg.Wait()

	// Requests that slipped in before Close were waited for; none start after.
	s.WaitCertificates()
}
