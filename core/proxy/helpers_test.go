package proxy_test

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/dmitrymomot/rproxy/core/proxy"
	le "github.com/dmitrymomot/rproxy/pkg/letsencrypt"
)

type echo struct {
	Name    string      `json:"name"`
	Path    string      `json:"path"`
	Query   string      `json:"query"`
	Host    string      `json:"host"`
	Headers http.Header `json:"headers"`
}

func newBackend(t *testing.T, name string) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(echo{
			Name:    name,
			Path:    r.URL.Path,
			Query:   r.URL.RawQuery,
			Host:    r.Host,
			Headers: r.Header,
		})
	}))
	t.Cleanup(srv.Close)
	return srv
}

func testConfig() proxy.Config {
	cfg := proxy.DefaultConfig()
	cfg.HTTPAddr = "127.0.0.1:0"
	cfg.ShutdownTimeout = 2 * time.Second
	return cfg
}

// startProxy binds and runs a proxy until the test ends.
func startProxy(t *testing.T, cfg proxy.Config, opts ...proxy.Option) *proxy.Server {
	t.Helper()

	p, err := proxy.New(cfg, opts...)
	require.NoError(t, err)
	require.NoError(t, p.Listen())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- p.Run(ctx) }()

	t.Cleanup(func() {
		cancel()
		select {
		case <-done:
		case <-time.After(5 * time.Second):
			t.Error("proxy did not stop")
		}
	})
	return p
}

func get(t *testing.T, client *http.Client, url, host string) *http.Response {
	t.Helper()
	req, err := http.NewRequest(http.MethodGet, url, nil)
	require.NoError(t, err)
	req.Host = host
	resp, err := client.Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { _ = resp.Body.Close() })
	return resp
}

func decodeEcho(t *testing.T, resp *http.Response) echo {
	t.Helper()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var e echo
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&e))
	return e
}

func noRedirectClient() *http.Client {
	return &http.Client{
		Timeout: 5 * time.Second,
		CheckRedirect: func(*http.Request, []*http.Request) error {
			return http.ErrUseLastResponse
		},
	}
}

func tlsClient(serverName string) *http.Client {
	return &http.Client{
		Timeout: 5 * time.Second,
		Transport: &http.Transport{
			TLSClientConfig:   &tls.Config{ServerName: serverName, InsecureSkipVerify: true},
			ForceAttemptHTTP2: true,
		},
	}
}

// writeCertFiles writes a self-signed key pair for host and returns the paths.
func writeCertFiles(t *testing.T, host string) (keyFile, certFile string) {
	t.Helper()
	cert, err := le.GenerateSelfSigned(host, 90*24*time.Hour)
	require.NoError(t, err)

	dir := t.TempDir()
	keyFile = filepath.Join(dir, host+"-key.pem")
	certFile = filepath.Join(dir, host+"-crt.pem")
	require.NoError(t, os.WriteFile(keyFile, cert.KeyPEM, 0o600))
	require.NoError(t, os.WriteFile(certFile, cert.CertPEM, 0o600))
	return keyFile, certFile
}

func peerCommonName(t *testing.T, addr, serverName string) string {
	t.Helper()
	conn, err := tls.Dial("tcp", addr, &tls.Config{ServerName: serverName, InsecureSkipVerify: true})
	require.NoError(t, err)
	defer conn.Close()
	return conn.ConnectionState().PeerCertificates[0].Subject.CommonName
}

func ptr[T any](v T) *T {
	return &v
}
