package letsencrypt

import (
	"context"
	"log/slog"
	"time"

	le "github.com/dmitrymomot/rproxy/pkg/letsencrypt"
)

// ChallengeRelay forwards challenge changes to other processes. Workers use
// it so a validation request can be answered by whichever worker receives it.
type ChallengeRelay interface {
	RelayChallenge(ctx context.Context, action string, c Challenge) error
}

// Relay actions.
const (
	ChallengeAdd    = "addChallenge"
	ChallengeRemove = "removeChallenge"
)

// ManagerOption configures a Manager during initialization.
type ManagerOption func(*Manager)

// WithAuthority sets the issuing strategy. By default it is built from Config.
func WithAuthority(a le.Authority) ManagerOption {
	return func(m *Manager) {
		m.authority = a
	}
}

// WithDNSProvider enables dns-01 challenges.
func WithDNSProvider(p le.DNSProvider) ManagerOption {
	return func(m *Manager) {
		m.dns = p
	}
}

// WithWorker marks the manager as running inside a cluster worker. Challenges
// are relayed and acquisitions wait a random delay before ordering.
func WithWorker(relay ChallengeRelay) ManagerOption {
	return func(m *Manager) {
		m.worker = true
		m.relay = relay
	}
}

// WithJitter overrides the worker random delay bound. Zero disables it.
func WithJitter(d time.Duration) ManagerOption {
	return func(m *Manager) {
		m.jitter = d
	}
}

// WithRetryConfig sets retry configuration for transient authority failures.
// This is primarily useful for testing to avoid long delays.
func WithRetryConfig(maxRetries int, backoff time.Duration) ManagerOption {
	return func(m *Manager) {
		m.maxRetries = maxRetries
		m.retryBackoff = backoff
	}
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) ManagerOption {
	return func(m *Manager) {
		if now != nil {
			m.now = now
		}
	}
}

// WithChallengeTable shares an existing table, e.g. one fed by the cluster.
func WithChallengeTable(t *ChallengeTable) ManagerOption {
	return func(m *Manager) {
		if t != nil {
			m.challenges = t
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) ManagerOption {
	return func(m *Manager) {
		if l != nil {
			m.logger = l
		}
	}
}
