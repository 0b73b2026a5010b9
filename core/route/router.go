package route

import (
	"sort"
	"strings"
	"sync"
)

// Router holds the routes registered for one inbound host name.
// Routes are kept sorted by descending prefix length, so a linear scan
// finds the longest matching prefix first.
type Router struct {
	Hostname string

	mu     sync.RWMutex
	routes []*Route
}

// NewRouter creates an empty router for hostname.
func NewRouter(hostname string) *Router {
	return &Router{Hostname: NormalizeHost(hostname)}
}

// Add registers targets under path. The route for path is created when
// missing; if no target ends up on a freshly created route it is rolled back
// and a *RegistrationError is returned.
func (r *Router) Add(path string, targets []*Target) (*Route, error) {
	path = NormalizePath(path)

	r.mu.Lock()
	defer r.mu.Unlock()

	rt := r.find(path)
	created := false
	if rt == nil {
		rt = &Route{Path: path}
		r.routes = append(r.routes, rt)
		created = true
	}

	rt.add(targets)

	if rt.Len() == 0 {
		if created {
			r.drop(rt)
		}
		return nil, registrationError(r.Hostname+path, "no targets", nil)
	}

	r.sort()
	return rt, nil
}

// Remove removes targets matching hrefs from the route at path, or every
// target when hrefs is empty. Empty routes are dropped. Unknown paths are ignored.
func (r *Router) Remove(path string, hrefs []string) {
	path = NormalizePath(path)

	r.mu.Lock()
	defer r.mu.Unlock()

	rt := r.find(path)
	if rt == nil {
		return
	}
	rt.remove(hrefs)
	if rt.Len() == 0 {
		r.drop(rt)
	}
}

// Resolve returns the route with the longest prefix matching path, or nil.
func (r *Router) Resolve(path string) *Route {
	path = strings.ToLower(path)
	if path == "" {
		path = "/"
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, rt := range r.routes {
		if rt.Matches(path) {
			return rt
		}
	}
	return nil
}

// Routes returns the routes in resolution order.
func (r *Router) Routes() []*Route {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]*Route, len(r.routes))
	copy(out, r.routes)
	return out
}

// Empty reports whether the router has no routes left.
func (r *Router) Empty() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.routes) == 0
}

func (r *Router) find(path string) *Route {
	for _, rt := range r.routes {
		if rt.Path == path {
			return rt
		}
	}
	return nil
}

func (r *Router) drop(rt *Route) {
	for i, cur := range r.routes {
		if cur == rt {
			r.routes = append(r.routes[:i], r.routes[i+1:]...)
			return
		}
	}
}

func (r *Router) sort() {
	sort.SliceStable(r.routes, func(i, j int) bool {
		return len(r.routes[i].Path) > len(r.routes[j].Path)
	})
}
