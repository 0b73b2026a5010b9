package route

import (
	"fmt"
	"net"
	"net/url"
	"strings"
)

// Target is a backend address a route forwards to.
// Targets are immutable; equality is by Href.
type Target struct {
	Protocol            string
	Hostname            string
	Port                string
	Pathname            string
	Secure              bool
	UseTargetHostHeader bool
	Href                string

	url *url.URL
}

// TargetOptions overrides per-target flags. Nil fields keep the defaults:
// Secure follows the target scheme, UseTargetHostHeader is false.
type TargetOptions struct {
	Secure              *bool
	UseTargetHostHeader *bool
}

// ParseTarget parses raw into a Target. Bare host names default to http.
func ParseTarget(raw string, opts TargetOptions) (*Target, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, fmt.Errorf("%w: empty target", ErrInvalidTarget)
	}
	if !strings.Contains(raw, "://") {
		raw = "http://" + raw
	}

	u, err := url.Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidTarget, err)
	}

	scheme := strings.ToLower(u.Scheme)
	switch scheme {
	case "http", "ws":
		scheme = "http"
	case "https", "wss":
		scheme = "https"
	default:
		return nil, fmt.Errorf("%w: unsupported scheme %q", ErrInvalidTarget, u.Scheme)
	}

	hostname := strings.ToLower(u.Hostname())
	if hostname == "" {
		return nil, fmt.Errorf("%w: missing host in %q", ErrInvalidTarget, raw)
	}

	port := u.Port()
	if port == "" {
		port = "80"
		if scheme == "https" {
			port = "443"
		}
	}

	pathname := u.EscapedPath()
	if pathname == "" {
		pathname = "/"
	}

	t := &Target{
		Protocol: scheme,
		Hostname: hostname,
		Port:     port,
		Pathname: pathname,
		Secure:   scheme == "https",
	}
	if opts.Secure != nil {
		t.Secure = *opts.Secure
	}
	if opts.UseTargetHostHeader != nil {
		t.UseTargetHostHeader = *opts.UseTargetHostHeader
	}

	t.url = &url.URL{
		Scheme:  scheme,
		Host:    net.JoinHostPort(hostname, port),
		Path:    u.Path,
		RawPath: u.RawPath,
	}
	if t.url.Path == "" {
		t.url.Path = "/"
	}
	t.Href = scheme + "://" + t.url.Host + pathname
	return t, nil
}

// URL returns a copy of the target URL.
func (t *Target) URL() *url.URL {
	u := *t.url
	return &u
}

// Host returns host:port.
func (t *Target) Host() string {
	return t.url.Host
}

// Equal reports whether both targets share the same canonical href.
func (t *Target) Equal(o *Target) bool {
	if t == nil || o == nil {
		return t == o
	}
	return t.Href == o.Href
}

func (t *Target) String() string {
	return t.Href
}
