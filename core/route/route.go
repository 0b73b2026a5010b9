package route

import (
	"strings"
	"sync"
)

// Route is a path-scoped list of targets with round-robin selection.
type Route struct {
	Path string

	mu      sync.Mutex
	targets []*Target
	cursor  int
}

// NewRoute builds a route for path with the given targets. Duplicate hrefs are dropped.
func NewRoute(path string, targets ...*Target) *Route {
	r := &Route{Path: NormalizePath(path)}
	r.add(targets)
	return r
}

// NextTarget advances the cursor and returns the target it lands on.
// The cursor is incremented before indexing, so with targets [A,B,C] the
// sequence is B,C,A,B,C,A...
func (r *Route) NextTarget() *Target {
	r.mu.Lock()
	defer r.mu.Unlock()

	if len(r.targets) == 0 {
		return nil
	}
	r.cursor = (r.cursor + 1) % len(r.targets)
	return r.targets[r.cursor]
}

// Targets returns a copy of the target list in insertion order.
func (r *Route) Targets() []*Target {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]*Target, len(r.targets))
	copy(out, r.targets)
	return out
}

// Len returns the number of targets.
func (r *Route) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.targets)
}

// Matches reports whether path falls under this route: the prefix must be
// followed by end of string or a slash.
func (r *Route) Matches(path string) bool {
	if r.Path == "/" {
		return true
	}
	if !strings.HasPrefix(path, r.Path) {
		return false
	}
	return len(path) == len(r.Path) || path[len(r.Path)] == '/'
}

// add appends targets not already present and returns how many were added.
func (r *Route) add(targets []*Target) int {
	r.mu.Lock()
	defer r.mu.Unlock()

	added := 0
	for _, t := range targets {
		if t == nil || r.indexOf(t.Href) >= 0 {
			continue
		}
		r.targets = append(r.targets, t)
		added++
	}
	return added
}

// remove drops targets by href; an empty list clears the route.
func (r *Route) remove(hrefs []string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if len(hrefs) == 0 {
		r.targets = nil
		r.cursor = 0
		return
	}

	kept := r.targets[:0]
	for _, t := range r.targets {
		drop := false
		for _, h := range hrefs {
			if t.Href == h {
				drop = true
				break
			}
		}
		if !drop {
			kept = append(kept, t)
		}
	}
	for i := len(kept); i < len(r.targets); i++ {
		r.targets[i] = nil
	}
	r.targets = kept
	if len(r.targets) > 0 {
		r.cursor %= len(r.targets)
	} else {
		r.cursor = 0
	}
}

func (r *Route) indexOf(href string) int {
	for i, t := range r.targets {
		if t.Href == href {
			return i
		}
	}
	return -1
}

// NormalizePath lowercases p, ensures a leading slash and strips trailing
// slashes except for the root.
func NormalizePath(p string) string {
	p = strings.ToLower(strings.TrimSpace(p))
	if p == "" {
		return "/"
	}
	if !strings.HasPrefix(p, "/") {
		p = "/" + p
	}
	for len(p) > 1 && strings.HasSuffix(p, "/") {
		p = p[:len(p)-1]
	}
	return p
}
