package letsencrypt

import (
	"context"
	"encoding/pem"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

type memSolver struct {
	mu        sync.Mutex
	published map[string]string
	presented int
	cleaned   int
	failOn    error
}

func newMemSolver() *memSolver {
	return &memSolver{published: make(map[string]string)}
}

func (m *memSolver) Present(_ context.Context, host, token, keyAuth string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failOn != nil {
		return m.failOn
	}
	m.presented++
	m.published[host+"/"+token] = keyAuth
	return nil
}

func (m *memSolver) CleanUp(_ context.Context, host, token string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.cleaned++
	delete(m.published, host+"/"+token)
	return nil
}

func (m *memSolver) lookup(host, token string) (string, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.published[host+"/"+token]
	return v, ok
}

type memDNS struct {
	mu      sync.Mutex
	records map[string]string
	removed []string
}

func newMemDNS() *memDNS {
	return &memDNS{records: make(map[string]string)}
}

func (m *memDNS) AddChallenge(_ context.Context, domain, value string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.records[domain] = value
	return nil
}

func (m *memDNS) RemoveChallenge(_ context.Context, domain string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.records, domain)
	m.removed = append(m.removed, domain)
	return nil
}

// selfSignedDER returns a DER leaf for host, as an ACME server would.
func selfSignedDER(t *testing.T, host string) ([]byte, *Certificate) {
	t.Helper()
	cert, err := GenerateSelfSigned(host, 24*time.Hour)
	require.NoError(t, err)
	block, _ := pem.Decode(cert.CertPEM)
	require.NotNil(t, block)
	return block.Bytes, cert
}
