package proxy

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/dmitrymomot/rproxy/core/certstore"
	"github.com/dmitrymomot/rproxy/core/letsencrypt"
	"github.com/dmitrymomot/rproxy/core/route"
	"github.com/dmitrymomot/rproxy/core/statistics"
)

// Option configures a Server.
type Option func(*Server)

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Server) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithCertStore sets the certificate store used for SNI.
func WithCertStore(store *certstore.Store) Option {
	return func(s *Server) {
		s.store = store
	}
}

// WithManager enables ACME certificates for routes with LetsEncrypt options.
func WithManager(m *letsencrypt.Manager) Option {
	return func(s *Server) {
		s.manager = m
	}
}

// WithCounter sets the statistics counter.
func WithCounter(c *statistics.Counter) Option {
	return func(s *Server) {
		s.counter = c
	}
}

// WithTable sets the routing table.
func WithTable(t *route.Table) Option {
	return func(s *Server) {
		s.table = t
	}
}

// WithTransport sets the round tripper used for backends. Targets that
// disable verification still get a transport with InsecureSkipVerify.
func WithTransport(rt *http.Transport) Option {
	return func(s *Server) {
		s.transport = rt
	}
}

// WithReadinessChecks adds dependency probes served on /health/ready next to
// the metrics endpoint.
func WithReadinessChecks(fn ...func(context.Context) error) Option {
	return func(s *Server) {
		s.checks = append(s.checks, fn...)
	}
}
