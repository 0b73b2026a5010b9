package route

import (
	"net"
	"net/url"
	"strings"
	"sync"

	"golang.org/x/net/idna"
)

// Options controls how targets are created on registration.
type Options struct {
	TargetOptions
}

// Table maps inbound host names to their routers.
type Table struct {
	mu      sync.RWMutex
	routers map[string]*Router
}

// NewTable creates an empty routing table.
func NewTable() *Table {
	return &Table{routers: make(map[string]*Router)}
}

// Add parses from ("host[/path]") and to, then registers the targets.
// It returns the host's router and the resolved route. Any failure is a
// *RegistrationError and leaves the table as it was.
func (t *Table) Add(from string, to []string, opts Options) (*Router, *Route, error) {
	host, path, err := ParseSource(from)
	if err != nil {
		return nil, nil, registrationError(from, "cannot parse source", err)
	}

	if len(to) == 0 {
		return nil, nil, registrationError(from, "no targets given", nil)
	}

	targets := make([]*Target, 0, len(to))
	for _, raw := range to {
		tgt, err := ParseTarget(raw, opts.TargetOptions)
		if err != nil {
			return nil, nil, registrationError(from, "cannot parse target", err)
		}
		targets = append(targets, tgt)
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	router, existed := t.routers[host]
	if !existed {
		router = NewRouter(host)
	}

	rt, err := router.Add(path, targets)
	if err != nil {
		return nil, nil, err
	}
	if !existed {
		t.routers[host] = router
	}
	return router, rt, nil
}

// Remove unregisters targets for from. With no targets, every target on
// the path is removed. It reports whether the host lost its last route.
// Unknown hosts and paths are a no-op.
func (t *Table) Remove(from string, to []string) (hostRemoved bool) {
	host, path, err := ParseSource(from)
	if err != nil {
		return false
	}

	hrefs := make([]string, 0, len(to))
	for _, raw := range to {
		tgt, err := ParseTarget(raw, TargetOptions{})
		if err != nil {
			continue
		}
		hrefs = append(hrefs, tgt.Href)
	}
	if len(to) > 0 && len(hrefs) == 0 {
		return false
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	router, ok := t.routers[host]
	if !ok {
		return false
	}
	router.Remove(path, hrefs)
	if router.Empty() {
		delete(t.routers, host)
		return true
	}
	return false
}

// Router returns the router for host, or nil.
func (t *Table) Router(host string) *Router {
	host = NormalizeHost(host)

	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.routers[host]
}

// Resolve finds the route for host and path.
func (t *Table) Resolve(host, path string) *Route {
	router := t.Router(host)
	if router == nil {
		return nil
	}
	return router.Resolve(path)
}

// Hosts returns the registered host names.
func (t *Table) Hosts() []string {
	t.mu.RLock()
	defer t.mu.RUnlock()

	out := make([]string, 0, len(t.routers))
	for h := range t.routers {
		out = append(out, h)
	}
	return out
}

// ParseSource splits "host[/path]" (optionally with a scheme) into a
// normalized host name and path prefix.
func ParseSource(from string) (host, path string, err error) {
	from = strings.TrimSpace(from)
	if from == "" {
		return "", "", ErrInvalidSource
	}
	if !strings.Contains(from, "://") {
		from = "http://" + from
	}
	u, err := url.Parse(from)
	if err != nil {
		return "", "", err
	}
	host = NormalizeHost(u.Hostname())
	if host == "" {
		return "", "", ErrInvalidSource
	}
	return host, NormalizePath(u.Path), nil
}

// NormalizeHost strips any port, lowercases and converts to the ASCII (punycode) form.
func NormalizeHost(host string) string {
	host = strings.TrimSpace(host)
	if h, _, err := net.SplitHostPort(host); err == nil {
		host = h
	}
	host = strings.TrimSuffix(strings.ToLower(host), ".")
	if ascii, err := idna.Lookup.ToASCII(host); err == nil {
		return ascii
	}
	return host
}
