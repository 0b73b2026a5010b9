package letsencrypt

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math/rand/v2"
	"net/http"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/dmitrymomot/rproxy/core/certstore"
	"github.com/dmitrymomot/rproxy/core/logger"
	"github.com/dmitrymomot/rproxy/core/route"
	"github.com/dmitrymomot/rproxy/core/server"
	le "github.com/dmitrymomot/rproxy/pkg/letsencrypt"
)

// maxRetryDelay caps the wait between attempts after failed acquisitions.
const maxRetryDelay = time.Hour

// Manager acquires, stores and renews certificates for registered hosts.
// It owns the outstanding-challenge table and serves it over HTTP-01.
type Manager struct {
	cfg       Config
	store     *certstore.Store
	authority le.Authority
	dns       le.DNSProvider

	challenges *ChallengeTable
	relay      ChallengeRelay
	worker     bool
	jitter     time.Duration

	maxRetries   int
	retryBackoff time.Duration

	now    func() time.Time
	sleep  func(ctx context.Context, d time.Duration) error
	logger *slog.Logger

	flight singleflight.Group

	mu        sync.Mutex
	states    map[string]le.State
	renewals  map[string]*time.Timer
	failures  map[string]int
	responder *server.Server
	closed    bool

	ctx    context.Context
	cancel context.CancelFunc
}

// NewManager creates a certificate manager backed by store.
func NewManager(store *certstore.Store, cfg Config, opts ...ManagerOption) (*Manager, error) {
	if store == nil {
		return nil, ErrStoreRequired
	}

	m := &Manager{
		cfg:          cfg,
		store:        store,
		challenges:   NewChallengeTable(),
		jitter:       cfg.Jitter,
		maxRetries:   cfg.MaxRetries,
		retryBackoff: cfg.RetryBackoff,
		now:          time.Now,
		sleep:        sleepContext,
		logger:       slog.New(slog.NewTextHandler(io.Discard, nil)),
		states:       make(map[string]le.State),
		renewals:     make(map[string]*time.Timer),
		failures:     make(map[string]int),
	}
	for _, opt := range opts {
		opt(m)
	}

	if m.authority == nil {
		a, err := NewAuthority(cfg)
		if err != nil {
			return nil, err
		}
		m.authority = a
	}
	if m.maxRetries < 1 {
		m.maxRetries = 1
	}
	if m.cfg.MinRenewDelay <= 0 {
		m.cfg.MinRenewDelay = time.Minute
	}

	m.ctx, m.cancel = context.WithCancel(context.Background())
	m.logger = m.logger.With(logger.Component("letsencrypt"), slog.String("authority", m.authority.Name()))
	return m, nil
}

// Config returns the manager configuration.
func (m *Manager) Config() Config {
	return m.cfg
}

// Challenges returns the outstanding-challenge table.
func (m *Manager) Challenges() *ChallengeTable {
	return m.challenges
}

// Handler returns the HTTP-01 responder handler.
func (m *Manager) Handler() http.Handler {
	return NewResponder(m.challenges)
}

// State returns the last acquisition state reported for host.
func (m *Manager) State(host string) le.State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.states[route.NormalizeHost(host)]
}

// GetCertificate makes sure host has a valid certificate, acquiring one when
// the cached certificate is missing, expires within renewWithin, or
// forceRenew is set. It reports success; failures are logged, never returned.
// Concurrent calls for the same host share one acquisition.
func (m *Manager) GetCertificate(ctx context.Context, host string, production bool, email string, renewWithin time.Duration, forceRenew bool) bool {
	host = route.NormalizeHost(host)
	if host == "" {
		return false
	}
	if email == "" {
		email = m.cfg.Email
	}

	v, _, _ := m.flight.Do(host, func() (any, error) {
		return m.acquire(ctx, host, production, email, renewWithin, forceRenew), nil
	})
	return v.(bool)
}

func (m *Manager) acquire(ctx context.Context, host string, production bool, email string, renewWithin time.Duration, forceRenew bool) bool {
	log := m.logger.With(logger.Host(host))

	var prev *certstore.Entry
	m.setState(host, le.StateCacheCheck)
	if e, ok := m.cached(ctx, host); ok {
		if !forceRenew && e.ExpiresOn.After(m.now().Add(renewWithin)) {
			m.setState(host, le.StateValid)
			m.scheduleRenewal(host, production, email, renewWithin, e.ExpiresOn)
			log.Debug("certificate still valid", logger.ExpiresOn(e.ExpiresOn))
			return true
		}
		prev = e
	}

	m.store.Remove(host)

	if m.worker && m.jitter > 0 {
		m.setState(host, le.StateRandomDelay)
		delay := time.Duration(rand.Int64N(int64(m.jitter)))
		log.Debug("waiting before ordering", logger.Duration(delay))
		if err := m.sleep(ctx, delay); err != nil {
			m.fail(host, prev, production, email, renewWithin)
			return false
		}

		m.setState(host, le.StateRemoteCheck)
		if e, ok := m.store.Get(host); ok {
			m.setState(host, le.StateResolvedElsewhere)
			m.scheduleRenewal(host, production, email, renewWithin, e.ExpiresOn)
			log.Info("certificate resolved by another worker")
			return true
		}
	}

	start := m.now()
	cert, err := m.obtain(ctx, le.Request{
		Host:       host,
		Email:      email,
		Production: production,
		Solver:     m,
		DNS:        m.dns,
		Progress:   func(s le.State) { m.setState(host, s) },
	})
	if err != nil {
		log.Error("certificate acquisition failed", logger.Error(err), logger.Elapsed(start))
		m.fail(host, prev, production, email, renewWithin)
		return false
	}

	if err := m.store.SaveToStore(ctx, host, cert.KeyPEM, cert.CertPEM, cert.CAPEM); err != nil {
		log.Error("failed to persist certificate", logger.Error(err))
	}
	if err := m.store.Propagate(ctx, host, cert.KeyPEM, cert.CertPEM, cert.CAPEM); err != nil {
		log.Error("failed to install certificate", logger.Error(err))
		m.fail(host, prev, production, email, renewWithin)
		return false
	}

	m.setState(host, le.StateIssued)
	m.scheduleRenewal(host, production, email, renewWithin, cert.ExpiresOn)
	log.Info("certificate issued", logger.ExpiresOn(cert.ExpiresOn), logger.Elapsed(start))
	return true
}

// fail marks host failed, reinstates a previous certificate that has not
// expired yet and schedules another attempt.
func (m *Manager) fail(host string, prev *certstore.Entry, production bool, email string, renewWithin time.Duration) {
	m.setState(host, le.StateFailed)
	if prev != nil && prev.ExpiresOn.After(m.now()) {
		m.store.Add(prev)
	}
	m.scheduleRetry(host, production, email, renewWithin)
}

// cached returns the in-memory entry, loading it from the store when absent.
func (m *Manager) cached(ctx context.Context, host string) (*certstore.Entry, bool) {
	if e, ok := m.store.Get(host); ok {
		return e, true
	}
	if m.store.LoadFromStore(ctx, host, true) {
		return m.store.Get(host)
	}
	return nil, false
}

// obtain calls the authority, retrying transient failures with exponential backoff.
func (m *Manager) obtain(ctx context.Context, req le.Request) (*le.Certificate, error) {
	backoff := m.retryBackoff

	var lastErr error
	for attempt := 1; attempt <= m.maxRetries; attempt++ {
		cert, err := m.authority.Obtain(ctx, req)
		if err == nil {
			return cert, nil
		}
		lastErr = err

		if attempt < m.maxRetries && isRetryableError(err) {
			m.logger.Warn("retrying certificate acquisition",
				logger.Host(req.Host),
				logger.RetryCount(attempt),
				logger.Error(err),
			)
			if err := m.sleep(ctx, backoff); err != nil {
				return nil, err
			}
			backoff *= 2
			continue
		}
		break
	}
	return nil, fmt.Errorf("obtain certificate for %s: %w", req.Host, lastErr)
}

// isRetryableError checks if an error is retryable (network errors, rate limits)
func isRetryableError(err error) bool {
	if err == nil || errors.Is(err, context.Canceled) {
		return false
	}
	if errors.Is(err, le.ErrNoSupportedChallenge) || errors.Is(err, le.ErrEmailRequired) {
		return false
	}

	errStr := strings.ToLower(err.Error())
	retryablePatterns := []string{
		"connection refused",
		"network is unreachable",
		"no such host",
		"timeout",
		"rate limit",
		"429", // Too Many Requests
		"503", // Service Unavailable
		"temporary failure",
	}

	for _, pattern := range retryablePatterns {
		if strings.Contains(errStr, pattern) {
			return true
		}
	}
	return false
}

// Present implements le.HTTP01Solver.
func (m *Manager) Present(ctx context.Context, host, token, keyAuth string) error {
	m.challenges.Set(host, token, keyAuth)
	if m.relay != nil {
		c := Challenge{Host: route.NormalizeHost(host), Token: token, KeyAuthorization: keyAuth}
		if err := m.relay.RelayChallenge(ctx, ChallengeAdd, c); err != nil {
			m.challenges.Delete(host, token)
			return fmt.Errorf("relay challenge: %w", err)
		}
	}
	return nil
}

// CleanUp implements le.HTTP01Solver.
func (m *Manager) CleanUp(ctx context.Context, host, token string) error {
	m.challenges.Delete(host, token)
	if m.relay != nil {
		c := Challenge{Host: route.NormalizeHost(host), Token: token}
		if err := m.relay.RelayChallenge(ctx, ChallengeRemove, c); err != nil {
			return fmt.Errorf("relay challenge removal: %w", err)
		}
	}
	return nil
}

// scheduleRenewal arms a timer at expiresOn-renewWithin, replacing any
// earlier timer for host.
func (m *Manager) scheduleRenewal(host string, production bool, email string, renewWithin time.Duration, expiresOn time.Time) {
	delay := expiresOn.Add(-renewWithin).Sub(m.now())
	if delay < m.cfg.MinRenewDelay {
		delay = m.cfg.MinRenewDelay
	}

	m.mu.Lock()
	delete(m.failures, host)
	m.mu.Unlock()

	m.arm(host, delay, production, email, renewWithin)
}

// scheduleRetry arms the next attempt after a failed acquisition. The delay
// starts at MinRenewDelay and doubles per consecutive failure up to
// maxRetryDelay.
func (m *Manager) scheduleRetry(host string, production bool, email string, renewWithin time.Duration) time.Duration {
	m.mu.Lock()
	n := m.failures[host]
	m.failures[host] = n + 1
	m.mu.Unlock()

	limit := max(maxRetryDelay, m.cfg.MinRenewDelay)
	delay := m.cfg.MinRenewDelay
	for i := 0; i < n && delay < limit; i++ {
		delay *= 2
	}
	delay = min(delay, limit)

	m.logger.Warn("certificate acquisition will be retried",
		logger.Host(host),
		logger.RetryCount(n+1),
		logger.Duration(delay),
	)
	m.arm(host, delay, production, email, renewWithin)
	return delay
}

// arm replaces host's timer. A fired timer leaves the map before the
// acquisition it triggers runs.
func (m *Manager) arm(host string, delay time.Duration, production bool, email string, renewWithin time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return
	}
	if t, ok := m.renewals[host]; ok {
		t.Stop()
	}

	var t *time.Timer
	t = time.AfterFunc(delay, func() {
		m.mu.Lock()
		if m.renewals[host] == t {
			delete(m.renewals, host)
		}
		m.mu.Unlock()

		m.logger.Info("renewing certificate", logger.Host(host))
		m.GetCertificate(m.ctx, host, production, email, renewWithin, false)
	})
	m.renewals[host] = t
}

// RenewalScheduled reports whether a renewal timer is armed for host.
func (m *Manager) RenewalScheduled(host string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.renewals[route.NormalizeHost(host)]
	return ok
}

// Unregister cancels host's renewal and forgets its state.
func (m *Manager) Unregister(host string) {
	host = route.NormalizeHost(host)

	m.mu.Lock()
	defer m.mu.Unlock()
	if t, ok := m.renewals[host]; ok {
		t.Stop()
		delete(m.renewals, host)
	}
	delete(m.failures, host)
	delete(m.states, host)
}

// StartResponder binds the HTTP-01 responder and serves it in the background.
// It returns once the socket is bound.
func (m *Manager) StartResponder() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrManagerClosed
	}
	if m.responder != nil {
		return nil
	}

	srv := server.New(m.cfg.ResponderAddr,
		server.WithName("acme"),
		server.WithLogger(m.logger),
		server.WithShutdownTimeout(5*time.Second),
	)
	if err := srv.Listen(); err != nil {
		return err
	}
	m.responder = srv

	go func() {
		if err := srv.Start(m.ctx, m.Handler()); err != nil && !errors.Is(err, context.Canceled) {
			m.logger.Error("acme responder stopped", logger.Error(err))
		}
	}()
	m.logger.Info("acme responder listening", logger.Addr(srv.Addr()))
	return nil
}

// ResponderAddr returns the responder's bound address, or "" if not started.
func (m *Manager) ResponderAddr() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.responder == nil {
		return ""
	}
	return m.responder.Addr()
}

// Close stops renewal timers and the responder. It is safe to call twice.
func (m *Manager) Close() error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	for host, t := range m.renewals {
		t.Stop()
		delete(m.renewals, host)
	}
	responder := m.responder
	m.responder = nil
	m.mu.Unlock()

	m.cancel()
	if responder != nil {
		return responder.Stop()
	}
	return nil
}

func (m *Manager) setState(host string, s le.State) {
	m.mu.Lock()
	m.states[host] = s
	m.mu.Unlock()
	m.logger.Debug("acquisition state", logger.Host(host), logger.State(s.String()))
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
