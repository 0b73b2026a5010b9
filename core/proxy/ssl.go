package proxy

import (
	"crypto/tls"
	"strings"

	"github.com/dmitrymomot/rproxy/core/certstore"
	"github.com/dmitrymomot/rproxy/core/logger"
)

func (s *Server) validateSSL(ssl *SSLOptions) error {
	if ssl == nil {
		return nil
	}
	if s.cfg.HTTPSAddr == "" {
		return ErrHTTPSDisabled
	}
	if ssl.LetsEncrypt != nil {
		if s.manager == nil {
			return ErrLetsEncryptDisabled
		}
		return nil
	}
	if ssl.Key == "" || ssl.Cert == "" {
		return ErrSSLSourceMissing
	}
	return nil
}

// registerSSL records host's TLS settings and loads or requests its certificate.
func (s *Server) registerSSL(host string, opts RouteOptions) error {
	s.mu.Lock()
	s.ssl[host] = opts
	s.mu.Unlock()

	ssl := opts.SSL
	if ssl.LetsEncrypt != nil {
		s.requestCertificate(host, *ssl.LetsEncrypt)
		return nil
	}

	if _, ok := s.store.Get(host); ok {
		return nil
	}
	paths := []string{ssl.Key, ssl.Cert}
	if ssl.CA != "" {
		paths = append(paths, ssl.CA)
	}
	data, err := certstore.GetCertificateData(false, paths...)
	if err != nil {
		return err
	}
	var ca []byte
	if len(data) > 2 {
		ca = []byte(data[2])
	}
	if !s.store.LoadCertificate(host, []byte(data[0]), []byte(data[1]), ca, true) {
		return certstore.ErrInvalidCertificate
	}
	return nil
}

// requestCertificate acquires host's certificate in the background. It is a
// no-op once Close has started.
func (s *Server) requestCertificate(host string, le LetsEncryptOptions) {
	renewWithin := le.RenewWithin
	if renewWithin <= 0 {
		renewWithin = s.manager.Config().RenewWithin
	}
	production := le.Production || s.manager.Config().Production

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.pending.Add(1)
	s.mu.Unlock()

	go func() {
		defer s.pending.Done()
		if s.manager.GetCertificate(s.ctx, host, production, le.Email, renewWithin, le.ForceRenew) {
			s.logger.Info("certificate ready", logger.Host(host))
			return
		}
		s.logger.Warn("certificate not available", logger.Host(host))
	}()
}

// WaitCertificates blocks until background certificate requests finish.
func (s *Server) WaitCertificates() {
	s.pending.Wait()
}

func (s *Server) sslOptions(host string) (RouteOptions, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	opts, ok := s.ssl[host]
	return opts, ok
}

func (s *Server) usesLetsEncrypt(host string) bool {
	if s.manager == nil {
		return false
	}
	opts, ok := s.sslOptions(host)
	return ok && opts.SSL != nil && opts.SSL.LetsEncrypt != nil
}

func (s *Server) redirectsToHTTPS(host string) bool {
	opts, ok := s.sslOptions(host)
	return ok && opts.redirect()
}

// getCertificate is the SNI callback: the host's entry, then the listener's
// default certificate.
func (s *Server) getCertificate(hello *tls.ClientHelloInfo) (*tls.Certificate, error) {
	cert, err := s.store.GetCertificate(hello)
	if err == nil {
		return cert, nil
	}
	if s.defaultCert != nil {
		return s.defaultCert, nil
	}
	s.logger.Debug("no certificate for handshake", logger.Host(hello.ServerName), logger.Error(err))
	return nil, err
}

// loadKeyPair reads a key, a certificate and an optional CA chain.
func loadKeyPair(keyFile, certFile, caFile string) (*tls.Certificate, error) {
	paths := []string{keyFile, certFile}
	if caFile != "" {
		paths = append(paths, caFile)
	}
	data, err := certstore.GetCertificateData(false, paths...)
	if err != nil {
		return nil, err
	}
	chain := data[1]
	if len(data) > 2 {
		chain = strings.TrimRight(chain, "\n") + "\n" + data[2]
	}
	cert, err := tls.X509KeyPair([]byte(chain), []byte(data[0]))
	if err != nil {
		return nil, err
	}
	return &cert, nil
}
