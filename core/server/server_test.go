package server_test

import (
	"context"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"io"
	"math/big"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"

	"github.com/dmitrymomot/rproxy/core/server"
)

func hello(w http.ResponseWriter, r *http.Request) {
	_, _ = io.WriteString(w, "hello "+r.Proto)
}

func selfSignedPair(t *testing.T) tls.Certificate {
	t.Helper()

	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)

	tmpl := &x509.Certificate{
		SerialNumber: big.NewInt(1),
		Subject:      pkix.Name{CommonName: "localhost"},
		DNSNames:     []string{"localhost"},
		NotBefore:    time.Now().Add(-time.Hour),
		NotAfter:     time.Now().Add(time.Hour),
	}
	der, err := x509.CreateCertificate(rand.Reader, tmpl, tmpl, &key.PublicKey, key)
	require.NoError(t, err)

	return tls.Certificate{Certificate: [][]byte{der}, PrivateKey: key}
}

func TestServer_ListenReportsBoundAddress(t *testing.T) {
	t.Parallel()

	srv := server.New("127.0.0.1:0")
	assert.Equal(t, "127.0.0.1:0", srv.Addr())

	require.NoError(t, srv.Listen())
	require.NoError(t, srv.Listen(), "second Listen is a no-op")
	assert.NotEqual(t, "127.0.0.1:0", srv.Addr())

	require.NoError(t, srv.Stop())
}

func TestServer_RunServesAndStops(t *testing.T) {
	t.Parallel()

	srv := server.New("127.0.0.1:0", server.WithShutdownTimeout(time.Second))
	require.NoError(t, srv.Listen())

	ctx, cancel := context.WithCancel(t.Context())
	g, gctx := errgroup.WithContext(ctx)
	g.Go(srv.Run(gctx, http.HandlerFunc(hello)))

	require.Eventually(t, func() bool {
		resp, err := http.Get("http://" + srv.Addr() + "/")
		if err != nil {
			return false
		}
		defer resp.Body.Close()
		body, _ := io.ReadAll(resp.Body)
		return string(body) == "hello HTTP/1.1"
	}, 2*time.Second, 10*time.Millisecond)

	cancel()
	require.NoError(t, g.Wait())
}

func TestServer_AlreadyRunning(t *testing.T) {
	t.Parallel()

	srv := server.New("127.0.0.1:0")
	require.NoError(t, srv.Listen())

	ctx, cancel := context.WithCancel(t.Context())
	defer cancel()

	go func() { _ = srv.Start(ctx, http.HandlerFunc(hello)) }()
	require.Eventually(t, func() bool {
		resp, err := http.Get("http://" + srv.Addr() + "/")
		if err != nil {
			return false
		}
		resp.Body.Close()
		return true
	}, 2*time.Second, 10*time.Millisecond)

	require.ErrorIs(t, srv.Start(ctx, http.HandlerFunc(hello)), server.ErrServerAlreadyRunning)
	require.NoError(t, srv.Stop())
}

func TestServer_MissingAddress(t *testing.T) {
	t.Parallel()

	srv := server.New("")
	require.ErrorIs(t, srv.Listen(), server.ErrMissingAddress)
}

func TestServer_TLSNegotiatesHTTP2(t *testing.T) {
	t.Parallel()

	tlsCfg, err := server.NewTLSConfig(server.WithTLSKeyPair(selfSignedPair(t)))
	require.NoError(t, err)

	srv := server.New("127.0.0.1:0", server.WithName("https"), server.WithTLS(tlsCfg))
	require.NoError(t, srv.Listen())

	ctx, cancel := context.WithCancel(t.Context())
	defer cancel()
	go func() { _ = srv.Start(ctx, http.HandlerFunc(hello)) }()
	t.Cleanup(func() { _ = srv.Stop() })

	client := &http.Client{
		Transport: &http.Transport{
			TLSClientConfig:   &tls.Config{InsecureSkipVerify: true},
			ForceAttemptHTTP2: true,
		},
	}

	var body string
	require.Eventually(t, func() bool {
		resp, err := client.Get("https://" + srv.Addr() + "/")
		if err != nil {
			return false
		}
		defer resp.Body.Close()
		b, _ := io.ReadAll(resp.Body)
		body = string(b)
		return true
	}, 2*time.Second, 10*time.Millisecond)

	assert.Equal(t, "hello HTTP/2.0", body)
}

func TestServer_StopWithoutStart(t *testing.T) {
	t.Parallel()

	srv := server.New("127.0.0.1:0")
	require.NoError(t, srv.Stop())
}
