package letsencrypt_test

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/dmitrymomot/rproxy/core/certstore"
	"github.com/dmitrymomot/rproxy/core/letsencrypt"
	le "github.com/dmitrymomot/rproxy/pkg/letsencrypt"
)

const day = 24 * time.Hour

// countingAuthority issues self-signed certificates and counts calls.
type countingAuthority struct {
	inner le.Authority
	calls atomic.Int32
	errs  []error

	mu            sync.Mutex
	sawChallenges int
	table         *letsencrypt.ChallengeTable
}

func newCountingAuthority() *countingAuthority {
	return &countingAuthority{inner: le.NewSelfSigned()}
}

func (a *countingAuthority) Name() string { return "counting" }

func (a *countingAuthority) Obtain(ctx context.Context, req le.Request) (*le.Certificate, error) {
	n := int(a.calls.Add(1))
	if n <= len(a.errs) && a.errs[n-1] != nil {
		return nil, a.errs[n-1]
	}

	// Observe the table while the challenge is outstanding.
	wrapped := req
	wrapped.Solver = observingSolver{HTTP01Solver: req.Solver, a: a}
	return a.inner.Obtain(ctx, wrapped)
}

type observingSolver struct {
	le.HTTP01Solver
	a *countingAuthority
}

func (o observingSolver) Present(ctx context.Context, host, token, keyAuth string) error {
	if err := o.HTTP01Solver.Present(ctx, host, token, keyAuth); err != nil {
		return err
	}
	if o.a.table != nil {
		o.a.mu.Lock()
		o.a.sawChallenges = o.a.table.Len()
		o.a.mu.Unlock()
	}
	return nil
}

func newStore(t *testing.T, opts ...certstore.Option) *certstore.Store {
	t.Helper()
	backend, err := certstore.NewFileBackend(t.TempDir())
	require.NoError(t, err)
	return certstore.New(append([]certstore.Option{certstore.WithBackend(backend)}, opts...)...)
}

func newManager(t *testing.T, store *certstore.Store, auth le.Authority, opts ...letsencrypt.ManagerOption) *letsencrypt.Manager {
	t.Helper()

	cfg := letsencrypt.DefaultConfig()
	cfg.Email = "ops@example.com"
	cfg.ResponderAddr = "127.0.0.1:0"

	m, err := letsencrypt.NewManager(store, cfg, append([]letsencrypt.ManagerOption{
		letsencrypt.WithAuthority(auth),
		letsencrypt.WithRetryConfig(1, 0),
	}, opts...)...)
	require.NoError(t, err)
	t.Cleanup(func() { _ = m.Close() })
	return m
}

func loadCert(t *testing.T, store *certstore.Store, host string, validity time.Duration) {
	t.Helper()
	cert, err := le.GenerateSelfSigned(host, validity)
	require.NoError(t, err)
	require.True(t, store.LoadCertificate(host, cert.KeyPEM, cert.CertPEM, nil, true))
}

type recordingRelay struct {
	mu      sync.Mutex
	actions []string
	last    letsencrypt.Challenge
}

func (r *recordingRelay) RelayChallenge(_ context.Context, action string, c letsencrypt.Challenge) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.actions = append(r.actions, action)
	r.last = c
	return nil
}

// failingRelay rejects every ChallengeAdd.
type failingRelay struct {
	err error

	mu      sync.Mutex
	actions []string
}

func (r *failingRelay) RelayChallenge(_ context.Context, action string, _ letsencrypt.Challenge) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.actions = append(r.actions, action)
	if action == letsencrypt.ChallengeAdd {
		return r.err
	}
	return nil
}

func (r *failingRelay) seen() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.actions...)
}

type recordingPropagator struct {
	mu    sync.Mutex
	hosts []string
}

func (p *recordingPropagator) PropagateCertificate(_ context.Context, host string, _, _, _ []byte) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.hosts = append(p.hosts, host)
	return nil
}

var errBoom = errors.New("boom")
