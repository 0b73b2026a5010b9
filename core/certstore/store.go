package certstore

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/dmitrymomot/rproxy/core/logger"
)

// Entry is the TLS credential known for one host. Entries are replaced
// wholesale, never mutated in place.
type Entry struct {
	Hostname    string
	Certificate *tls.Certificate
	ExpiresOn   time.Time
	CommonName  string

	KeyPEM  []byte
	CertPEM []byte
	CAPEM   []byte
}

// Propagator forwards new certificates to other processes instead of
// applying them locally. The cluster worker implements it.
type Propagator interface {
	PropagateCertificate(ctx context.Context, host string, key, cert, ca []byte) error
}

// Store maps host names to TLS credentials and persists PEM material.
type Store struct {
	mu          sync.RWMutex
	entries     map[string]*Entry
	backend     Backend
	propagator  Propagator
	defaultCert *tls.Certificate
	logger      *slog.Logger
}

// Option configures a Store.
type Option func(*Store)

// WithBackend sets the persistence backend used by the *FromStore/*ToStore methods.
func WithBackend(b Backend) Option {
	return func(s *Store) {
		s.backend = b
	}
}

// WithPropagator puts the store in clustered mode.
func WithPropagator(p Propagator) Option {
	return func(s *Store) {
		s.propagator = p
	}
}

// WithDefaultCertificate sets the credential served when SNI matches nothing.
func WithDefaultCertificate(cert *tls.Certificate) Option {
	return func(s *Store) {
		s.defaultCert = cert
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Store) {
		if l != nil {
			s.logger = l
		}
	}
}

// New creates an empty store.
func New(opts ...Option) *Store {
	s := &Store{
		entries: make(map[string]*Entry),
		logger:  slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// SetPropagator switches the store into (or out of, with nil) clustered mode.
func (s *Store) SetPropagator(p Propagator) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.propagator = p
}

// Add inserts e. It returns false when the host already has an entry.
func (s *Store) Add(e *Entry) bool {
	if e == nil {
		return false
	}
	host := normalize(e.Hostname)

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.entries[host]; ok {
		return false
	}
	s.entries[host] = e
	return true
}

// Update replaces the entry for e.Hostname. It returns false when absent.
func (s *Store) Update(e *Entry) bool {
	if e == nil {
		return false
	}
	host := normalize(e.Hostname)

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.entries[host]; !ok {
		return false
	}
	s.entries[host] = e
	return true
}

// Remove deletes the entry for host. It returns false when absent.
func (s *Store) Remove(host string) bool {
	host = normalize(host)

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.entries[host]; !ok {
		return false
	}
	delete(s.entries, host)
	return true
}

// Get returns the entry for host.
func (s *Store) Get(host string) (*Entry, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	e, ok := s.entries[normalize(host)]
	return e, ok
}

// Hosts returns every host with a loaded certificate.
func (s *Store) Hosts() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]string, 0, len(s.entries))
	for h := range s.entries {
		out = append(out, h)
	}
	return out
}

// LoadCertificate builds a credential from PEM material and adds it.
// It returns false when the host is already loaded, material is missing or
// the PEM cannot be parsed. With extractInfo, expiry and common name are
// read from the certificate.
func (s *Store) LoadCertificate(host string, key, cert, ca []byte, extractInfo bool) bool {
	if _, ok := s.Get(host); ok {
		return false
	}

	e, err := BuildEntry(host, key, cert, ca, extractInfo)
	if err != nil {
		s.logger.Warn("failed to load certificate", logger.Host(host), logger.Error(err))
		return false
	}
	return s.Add(e)
}

// BuildEntry parses PEM material into an Entry.
func BuildEntry(host string, key, cert, ca []byte, extractInfo bool) (*Entry, error) {
	if len(key) == 0 || len(cert) == 0 {
		return nil, ErrMissingMaterial
	}

	chain := cert
	if len(ca) > 0 {
		chain = make([]byte, 0, len(cert)+len(ca)+1)
		chain = append(chain, cert...)
		if cert[len(cert)-1] != '\n' {
			chain = append(chain, '\n')
		}
		chain = append(chain, ca...)
	}

	pair, err := tls.X509KeyPair(chain, key)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidCertificate, err)
	}
	if len(pair.Certificate) > 0 {
		if leaf, err := x509.ParseCertificate(pair.Certificate[0]); err == nil {
			pair.Leaf = leaf
		}
	}

	e := &Entry{
		Hostname:    normalize(host),
		Certificate: &pair,
		KeyPEM:      key,
		CertPEM:     cert,
		CAPEM:       ca,
	}
	if extractInfo {
		info, err := ParseCertificateInfo(cert)
		if err != nil {
			return nil, err
		}
		e.ExpiresOn = info.ExpiresOn
		e.CommonName = info.CommonName
	}
	return e, nil
}

// Apply parses the material and replaces the host's entry wholesale,
// adding it when absent.
func (s *Store) Apply(host string, key, cert, ca []byte) error {
	e, err := BuildEntry(host, key, cert, ca, true)
	if err != nil {
		return err
	}

	s.mu.Lock()
	s.entries[e.Hostname] = e
	s.mu.Unlock()

	s.logger.Info("certificate installed",
		logger.Host(e.Hostname),
		logger.ExpiresOn(e.ExpiresOn),
	)
	return nil
}

// Propagate publishes a newly issued certificate. In clustered mode the
// material is handed to the propagator and local state is left for the
// broadcast to update; otherwise the entry is replaced immediately.
func (s *Store) Propagate(ctx context.Context, host string, key, cert, ca []byte) error {
	s.mu.RLock()
	p := s.propagator
	s.mu.RUnlock()

	if p != nil {
		return p.PropagateCertificate(ctx, normalize(host), key, cert, ca)
	}
	return s.Apply(host, key, cert, ca)
}

// StoreKey returns the backend key for a host's PEM object of the given
// kind ("key", "crt" or "ca"): <host_with_underscores>/<host>-<kind>.pem.
func StoreKey(host, kind string) string {
	host = normalize(host)
	return strings.ReplaceAll(host, ".", "_") + "/" + host + "-" + kind + ".pem"
}

// ReadFromStore returns the persisted key, certificate and optional CA for host.
func (s *Store) ReadFromStore(ctx context.Context, host string) (key, cert, ca []byte, err error) {
	if s.backend == nil {
		return nil, nil, nil, fmt.Errorf("%w: no backend configured", ErrCertificateNotFound)
	}

	key, err = s.backend.Read(ctx, StoreKey(host, "key"))
	if err != nil {
		return nil, nil, nil, mapNotFound(err)
	}
	cert, err = s.backend.Read(ctx, StoreKey(host, "crt"))
	if err != nil {
		return nil, nil, nil, mapNotFound(err)
	}
	ca, err = s.backend.Read(ctx, StoreKey(host, "ca"))
	if err != nil && !errors.Is(err, ErrObjectNotFound) {
		return nil, nil, nil, err
	}
	return key, cert, ca, nil
}

// LoadFromStore reads host's material from the backend and loads it.
// It returns false on any failure, including an already loaded host.
func (s *Store) LoadFromStore(ctx context.Context, host string, extractInfo bool) bool {
	key, cert, ca, err := s.ReadFromStore(ctx, host)
	if err != nil {
		s.logger.Debug("certificate not in store", logger.Host(host), logger.Error(err))
		return false
	}
	return s.LoadCertificate(host, key, cert, ca, extractInfo)
}

// SaveToStore persists host's material. Each object is written atomically;
// the three objects are not written as one transaction.
func (s *Store) SaveToStore(ctx context.Context, host string, key, cert, ca []byte) error {
	if s.backend == nil {
		return fmt.Errorf("no certificate backend configured")
	}
	if len(key) == 0 || len(cert) == 0 {
		return ErrMissingMaterial
	}

	if err := s.backend.Write(ctx, StoreKey(host, "key"), key); err != nil {
		return err
	}
	if err := s.backend.Write(ctx, StoreKey(host, "crt"), cert); err != nil {
		return err
	}
	if len(ca) == 0 {
		// A chain left by an earlier certificate would be appended on load.
		if err := s.backend.Delete(ctx, StoreKey(host, "ca")); err != nil && !errors.Is(err, ErrObjectNotFound) {
			return err
		}
		return nil
	}
	return s.backend.Write(ctx, StoreKey(host, "ca"), ca)
}

// DeleteFromStore removes host's persisted material.
func (s *Store) DeleteFromStore(ctx context.Context, host string) error {
	if s.backend == nil {
		return nil
	}
	var errs []error
	for _, kind := range []string{"key", "crt", "ca"} {
		if err := s.backend.Delete(ctx, StoreKey(host, kind)); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// GetCertificate is the SNI callback for tls.Config.
func (s *Store) GetCertificate(hello *tls.ClientHelloInfo) (*tls.Certificate, error) {
	name := ""
	if hello != nil {
		name = hello.ServerName
	}
	if name != "" {
		if e, ok := s.Get(name); ok && e.Certificate != nil {
			return e.Certificate, nil
		}
	}

	s.mu.RLock()
	def := s.defaultCert
	s.mu.RUnlock()

	if def != nil {
		return def, nil
	}
	return nil, fmt.Errorf("%w: %q", ErrCertificateNotFound, name)
}

func mapNotFound(err error) error {
	if errors.Is(err, ErrObjectNotFound) {
		return fmt.Errorf("%w: %v", ErrCertificateNotFound, err)
	}
	return err
}

func normalize(host string) string {
	return strings.TrimSuffix(strings.ToLower(strings.TrimSpace(host)), ".")
}
