package proxy

import (
	"context"
	"crypto/tls"
	"log/slog"
	"net"
	"net/http"
	"net/http/httputil"
	"time"

	"github.com/gorilla/websocket"

	"github.com/dmitrymomot/rproxy/core/logger"
	"github.com/dmitrymomot/rproxy/core/route"
	"github.com/dmitrymomot/rproxy/core/statistics"
)

type targetKey struct{}

type resolved struct {
	route  *route.Route
	target *route.Target
}

func withTarget(ctx context.Context, rt *route.Route, tgt *route.Target) context.Context {
	return context.WithValue(ctx, targetKey{}, resolved{route: rt, target: tgt})
}

func targetFrom(ctx context.Context) (resolved, bool) {
	v, ok := ctx.Value(targetKey{}).(resolved)
	return v, ok
}

// targetTransport skips certificate verification for targets that are not
// marked secure.
type targetTransport struct {
	verify   http.RoundTripper
	insecure http.RoundTripper
}

func (t targetTransport) RoundTrip(r *http.Request) (*http.Response, error) {
	if res, ok := targetFrom(r.Context()); ok && !res.target.Secure {
		return t.insecure.RoundTrip(r)
	}
	return t.verify.RoundTrip(r)
}

func (s *Server) setupForwarding() {
	if s.transport == nil {
		dialTimeout := s.cfg.DialTimeout
		if dialTimeout <= 0 {
			dialTimeout = 10 * time.Second
		}
		t := http.DefaultTransport.(*http.Transport).Clone()
		t.DialContext = (&net.Dialer{Timeout: dialTimeout, KeepAlive: 30 * time.Second}).DialContext
		t.ResponseHeaderTimeout = s.cfg.ResponseHeaderTimeout
		s.transport = t
	}

	insecure := s.transport.Clone()
	if insecure.TLSClientConfig == nil {
		insecure.TLSClientConfig = &tls.Config{}
	}
	insecure.TLSClientConfig.InsecureSkipVerify = true

	s.forward = &httputil.ReverseProxy{
		Rewrite:      s.rewrite,
		Transport:    targetTransport{verify: s.transport, insecure: insecure},
		ErrorHandler: s.badGateway,
		ErrorLog:     slog.NewLogLogger(s.logger.Handler(), slog.LevelDebug),
	}

	s.upgrader = websocket.Upgrader{
		ReadBufferSize:  4096,
		WriteBufferSize: 4096,
		// Origin policy belongs to the backend.
		CheckOrigin: func(*http.Request) bool { return true },
	}
	s.dialer = &websocket.Dialer{
		Proxy:            http.ProxyFromEnvironment,
		HandshakeTimeout: s.transport.TLSHandshakeTimeout + s.cfg.DialTimeout,
		NetDialContext:   s.transport.DialContext,
		TLSClientConfig:  s.transport.TLSClientConfig,
	}
	s.insecure = &websocket.Dialer{
		Proxy:            http.ProxyFromEnvironment,
		HandshakeTimeout: s.dialer.HandshakeTimeout,
		NetDialContext:   s.transport.DialContext,
		TLSClientConfig:  insecure.TLSClientConfig,
	}
}

// rewrite maps the inbound request onto the resolved target: the route
// prefix is replaced by the target path and X-Forwarded-* headers are set.
func (s *Server) rewrite(pr *httputil.ProxyRequest) {
	res, ok := targetFrom(pr.In.Context())
	if !ok {
		return
	}

	pr.Out.URL.Path = stripPrefix(pr.In.URL.Path, res.route.Path)
	pr.Out.URL.RawPath = ""
	pr.SetURL(res.target.URL())
	pr.SetXForwarded()
	pr.Out.Header.Set("X-Forwarded-Port", inboundPort(pr.In))

	if !res.target.UseTargetHostHeader {
		pr.Out.Host = pr.In.Host
	}
}

func (s *Server) badGateway(w http.ResponseWriter, r *http.Request, err error) {
	s.counter.Increment(r.Context(), statistics.BadGateway)

	attrs := []any{logger.Host(r.Host), logger.Path(r.URL.Path), logger.Error(err)}
	if res, ok := targetFrom(r.Context()); ok {
		attrs = append(attrs, logger.Target(res.target.Href))
	}
	s.logger.WarnContext(r.Context(), "backend request failed", attrs...)

	w.WriteHeader(http.StatusBadGateway)
}

func inboundPort(r *http.Request) string {
	if _, port, err := net.SplitHostPort(r.Host); err == nil && port != "" {
		return port
	}
	if addr, ok := r.Context().Value(http.LocalAddrContextKey).(net.Addr); ok {
		if _, port, err := net.SplitHostPort(addr.String()); err == nil {
			return port
		}
	}
	if r.TLS != nil {
		return "443"
	}
	return "80"
}
