package proxy

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/http/httputil"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"golang.org/x/sync/errgroup"

	"github.com/dmitrymomot/rproxy/core/certstore"
	"github.com/dmitrymomot/rproxy/core/health"
	"github.com/dmitrymomot/rproxy/core/letsencrypt"
	"github.com/dmitrymomot/rproxy/core/logger"
	"github.com/dmitrymomot/rproxy/core/route"
	"github.com/dmitrymomot/rproxy/core/server"
	"github.com/dmitrymomot/rproxy/core/statistics"
)

// Server is a host and path based reverse proxy with per-host TLS.
type Server struct {
	cfg       Config
	table     *route.Table
	store     *certstore.Store
	manager   *letsencrypt.Manager
	counter   *statistics.Counter
	transport *http.Transport
	logger    *slog.Logger

	forward     *httputil.ReverseProxy
	upgrader    websocket.Upgrader
	dialer      *websocket.Dialer
	insecure    *websocket.Dialer
	defaultCert *tls.Certificate
	checks      []func(context.Context) error

	mu      sync.RWMutex
	ssl     map[string]RouteOptions
	http    *server.Server
	https   *server.Server
	metrics *server.Server
	closed  bool

	ctx     context.Context
	cancel  context.CancelFunc
	pending sync.WaitGroup
}

// New creates a proxy. Listeners are bound by Listen or Run.
func New(cfg Config, opts ...Option) (*Server, error) {
	s := &Server{
		cfg:    cfg,
		logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
		ssl:    make(map[string]RouteOptions),
	}
	for _, opt := range opts {
		opt(s)
	}

	s.logger = s.logger.With(logger.Component("proxy"))
	if s.table == nil {
		s.table = route.NewTable()
	}
	if s.store == nil {
		s.store = certstore.New(certstore.WithLogger(s.logger))
	}
	if s.counter == nil {
		s.counter = statistics.New(statistics.WithLogger(s.logger))
	}

	if cfg.TLSCertFile != "" || cfg.TLSKeyFile != "" {
		cert, err := loadKeyPair(cfg.TLSKeyFile, cfg.TLSCertFile, cfg.TLSCAFile)
		if err != nil {
			return nil, fmt.Errorf("load default certificate: %w", err)
		}
		s.defaultCert = cert
	}

	s.setupForwarding()
	s.ctx, s.cancel = context.WithCancel(context.Background())
	return s, nil
}

// Table returns the routing table.
func (s *Server) Table() *route.Table {
	return s.table
}

// Store returns the certificate store.
func (s *Server) Store() *certstore.Store {
	return s.store
}

// Counter returns the statistics counter.
func (s *Server) Counter() *statistics.Counter {
	return s.counter
}

// AddRoute registers from ("host[/path]") to forward to the given targets.
// Failures are *route.RegistrationError and leave the routing table as it
// was. When opts.SSL asks for an ACME certificate, acquisition starts in
// the background.
func (s *Server) AddRoute(from string, to []string, opts RouteOptions) error {
	s.mu.RLock()
	closed := s.closed
	s.mu.RUnlock()
	if closed {
		return &route.RegistrationError{From: from, Reason: "proxy closed", Err: ErrServerClosed}
	}

	if err := s.validateSSL(opts.SSL); err != nil {
		return &route.RegistrationError{From: from, Reason: "invalid ssl options", Err: err}
	}

	router, rt, err := s.table.Add(from, to, route.Options{
		TargetOptions: route.TargetOptions{
			Secure:              opts.Secure,
			UseTargetHostHeader: opts.UseTargetHostHeader,
		},
	})
	if err != nil {
		return err
	}
	host := router.Hostname

	s.logger.Info("route registered",
		logger.Host(host),
		logger.Path(rt.Path),
		logger.Count("targets", rt.Len()),
	)

	if opts.SSL != nil {
		if err := s.registerSSL(host, opts); err != nil {
			// Key material that cannot be loaded is logged, not fatal.
			s.logger.Error("failed to load certificate", logger.Host(host), logger.Error(err))
		}
	}
	return nil
}

// RemoveRoute unregisters targets from from; with no targets, the whole
// path. When the host loses its last route, its certificate is dropped and
// its renewal cancelled. Unknown hosts and paths are a no-op.
func (s *Server) RemoveRoute(from string, to ...string) {
	if !s.table.Remove(from, to) {
		return
	}

	host, _, err := route.ParseSource(from)
	if err != nil {
		return
	}

	s.mu.Lock()
	delete(s.ssl, host)
	s.mu.Unlock()

	s.store.Remove(host)
	if s.manager != nil {
		s.manager.Unregister(host)
	}
	s.logger.Info("host removed", logger.Host(host))
}

// Listen binds every configured listener. It is safe to call more than once.
func (s *Server) Listen() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrServerClosed
	}

	if s.http == nil {
		srv := server.New(s.cfg.HTTPAddr, append(s.listenerOptions(),
			server.WithName("http"),
		)...)
		if err := srv.Listen(); err != nil {
			return err
		}
		s.http = srv
	}

	if s.cfg.HTTPSAddr != "" && s.https == nil {
		tlsCfg, err := server.NewTLSConfigFromProfile(s.cfg.TLSProfile, server.WithGetCertificate(s.getCertificate))
		if err != nil {
			return err
		}
		srv := server.New(s.cfg.HTTPSAddr, append(s.listenerOptions(),
			server.WithName("https"),
			server.WithTLS(tlsCfg),
			server.WithHTTP2(s.cfg.HTTP2),
		)...)
		if err := srv.Listen(); err != nil {
			return err
		}
		s.https = srv
	}

	if s.cfg.MetricsAddr != "" && s.metrics == nil {
		srv := server.New(s.cfg.MetricsAddr,
			server.WithName("metrics"),
			server.WithLogger(s.logger),
		)
		if err := srv.Listen(); err != nil {
			return err
		}
		s.metrics = srv
	}

	if s.manager != nil {
		if err := s.manager.StartResponder(); err != nil {
			return fmt.Errorf("start acme responder: %w", err)
		}
	}
	return nil
}

// Run binds the listeners and serves until ctx is cancelled or Close is
// called, then shuts everything down.
func (s *Server) Run(ctx context.Context) error {
	if err := s.Listen(); err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() {
		select {
		case <-s.ctx.Done():
			cancel()
		case <-ctx.Done():
		}
	}()

	s.mu.RLock()
	httpSrv, httpsSrv, metricsSrv := s.http, s.https, s.metrics
	s.mu.RUnlock()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(httpSrv.Run(gctx, s))
	if httpsSrv != nil {
		g.Go(httpsSrv.Run(gctx, s))
	}
	if metricsSrv != nil {
		g.Go(metricsSrv.Run(gctx, AdminHandler(s.counter, s.logger, s.checks...)))
	}

	err := g.Wait()
	if cerr := s.Close(); err == nil {
		err = cerr
	}
	return err
}

// AdminHandler serves Prometheus metrics on /metrics and the health probes
// on /health/live and /health/ready.
func AdminHandler(counter *statistics.Counter, log *slog.Logger, checks ...func(context.Context) error) http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/metrics", statistics.Handler(counter))
	health.Mount(mux, log, checks...)
	return mux
}

// HTTPAddr returns the bound plain-HTTP address.
func (s *Server) HTTPAddr() string {
	return s.addrOf(func() *server.Server { return s.http })
}

// HTTPSAddr returns the bound HTTPS address, or "" when disabled.
func (s *Server) HTTPSAddr() string {
	return s.addrOf(func() *server.Server { return s.https })
}

// MetricsAddr returns the bound metrics address, or "" when disabled.
func (s *Server) MetricsAddr() string {
	return s.addrOf(func() *server.Server { return s.metrics })
}

func (s *Server) addrOf(pick func() *server.Server) string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if srv := pick(); srv != nil {
		return srv.Addr()
	}
	return ""
}

// Close stops the listeners, cancels pending certificate acquisitions and
// releases the ACME responder. It is idempotent.
func (s *Server) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	servers := []*server.Server{s.http, s.https, s.metrics}
	s.mu.Unlock()

	s.cancel()

	var errs []error
	for _, srv := range servers {
		if srv == nil {
			continue
		}
		if err := srv.Stop(); err != nil {
			errs = append(errs, err)
		}
	}
	s.pending.Wait()

	if s.manager != nil {
		if err := s.manager.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	s.transport.CloseIdleConnections()
	s.logger.Info("proxy closed")
	return errors.Join(errs...)
}

// ServeHTTP dispatches a request to the route resolved from its host and path.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	host := route.NormalizeHost(r.Host)

	if r.TLS == nil {
		if letsencrypt.IsChallengePath(r.URL.Path) && s.usesLetsEncrypt(host) {
			s.serveChallenge(w, r)
			return
		}
		if s.redirectsToHTTPS(host) {
			s.redirect(w, r, host)
			return
		}
	}

	rt := s.table.Resolve(host, r.URL.Path)
	var tgt *route.Target
	if rt != nil {
		tgt = rt.NextTarget()
	}
	if tgt == nil {
		s.counter.Increment(r.Context(), statistics.NotFound)
		s.logger.DebugContext(r.Context(), "no route", logger.Host(host), logger.Path(r.URL.Path))
		http.Error(w, http.StatusText(http.StatusNotFound), http.StatusNotFound)
		return
	}

	s.counter.Increment(r.Context(), statistics.Requests)

	if websocket.IsWebSocketUpgrade(r) {
		s.serveWebSocket(w, r, rt, tgt)
		return
	}
	s.forward.ServeHTTP(w, r.WithContext(withTarget(r.Context(), rt, tgt)))
}

// serveChallenge sends an ACME validation request to the responder through a
// synthetic single-target route.
func (s *Server) serveChallenge(w http.ResponseWriter, r *http.Request) {
	addr := responderDialAddr(s.manager.ResponderAddr())
	if addr == "" {
		s.manager.Handler().ServeHTTP(w, r)
		return
	}

	tgt, err := route.ParseTarget("http://"+addr, route.TargetOptions{})
	if err != nil {
		s.manager.Handler().ServeHTTP(w, r)
		return
	}
	rt := route.NewRoute("/", tgt)
	s.forward.ServeHTTP(w, r.WithContext(withTarget(r.Context(), rt, rt.NextTarget())))
}

func (s *Server) redirect(w http.ResponseWriter, r *http.Request, host string) {
	location := "https://" + host
	if port := s.httpsPort(); port != "" && port != "443" {
		location = "https://" + net.JoinHostPort(host, port)
	}
	location += r.URL.RequestURI()
	http.Redirect(w, r, location, http.StatusFound)
}

func (s *Server) httpsPort() string {
	addr := s.HTTPSAddr()
	if addr == "" {
		addr = s.cfg.HTTPSAddr
	}
	_, port, err := net.SplitHostPort(addr)
	if err != nil {
		return ""
	}
	return port
}

// listenerOptions are shared by the proxying listeners. Read and write
// timeouts are left to the backends.
func (s *Server) listenerOptions() []server.Option {
	return []server.Option{
		server.WithLogger(s.logger),
		server.WithReusePort(s.cfg.ReusePort),
		server.WithShutdownTimeout(s.shutdownTimeout()),
		server.WithReadTimeout(0),
		server.WithReadHeaderTimeout(s.cfg.ReadHeaderTimeout),
		server.WithWriteTimeout(s.cfg.WriteTimeout),
		server.WithIdleTimeout(s.cfg.IdleTimeout),
	}
}

func (s *Server) shutdownTimeout() time.Duration {
	if s.cfg.ShutdownTimeout > 0 {
		return s.cfg.ShutdownTimeout
	}
	return server.DefaultShutdownTimeout
}

// responderDialAddr turns a wildcard listen address into a dialable one.
func responderDialAddr(addr string) string {
	if addr == "" {
		return ""
	}
	host, port, err := net.SplitHostPort(addr)
	if err != nil {
		return addr
	}
	if ip := net.ParseIP(host); host == "" || (ip != nil && ip.IsUnspecified()) {
		host = "127.0.0.1"
	}
	return net.JoinHostPort(host, port)
}

func stripPrefix(path, prefix string) string {
	if prefix == "/" || len(path) < len(prefix) || !strings.EqualFold(path[:len(prefix)], prefix) {
		return path
	}
	rest := path[len(prefix):]
	if rest == "" {
		return "/"
	}
	return rest
}
