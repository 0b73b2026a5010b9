package letsencrypt

import (
	"net/http"
	"strings"
	"sync"

	"github.com/dmitrymomot/rproxy/core/route"
	le "github.com/dmitrymomot/rproxy/pkg/letsencrypt"
)

// Challenge is an outstanding http-01 challenge.
type Challenge struct {
	Host             string `json:"host"`
	Token            string `json:"token"`
	KeyAuthorization string `json:"keyAuthorization"`
}

// ChallengeTable holds outstanding http-01 challenges keyed by host+token.
type ChallengeTable struct {
	mu      sync.RWMutex
	entries map[string]Challenge
}

// NewChallengeTable returns an empty table.
func NewChallengeTable() *ChallengeTable {
	return &ChallengeTable{entries: make(map[string]Challenge)}
}

func challengeKey(host, token string) string {
	return route.NormalizeHost(host) + token
}

// Set records the key authorization for host and token.
func (t *ChallengeTable) Set(host, token, keyAuth string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.entries[challengeKey(host, token)] = Challenge{
		Host:             route.NormalizeHost(host),
		Token:            token,
		KeyAuthorization: keyAuth,
	}
}

// Delete removes a challenge. It reports whether one was present.
func (t *ChallengeTable) Delete(host, token string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	k := challengeKey(host, token)
	_, ok := t.entries[k]
	delete(t.entries, k)
	return ok
}

// Get returns the key authorization for host and token.
func (t *ChallengeTable) Get(host, token string) (string, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	c, ok := t.entries[challengeKey(host, token)]
	return c.KeyAuthorization, ok
}

// Len returns the number of outstanding challenges.
func (t *ChallengeTable) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.entries)
}

// Snapshot returns a copy of every outstanding challenge.
func (t *ChallengeTable) Snapshot() []Challenge {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]Challenge, 0, len(t.entries))
	for _, c := range t.entries {
		out = append(out, c)
	}
	return out
}

// IsChallengePath reports whether path targets the HTTP-01 responder.
func IsChallengePath(path string) bool {
	return strings.HasPrefix(path, le.ChallengePathPrefix)
}

// ExtractToken pulls the token out of a challenge request path: the last
// path segment, with anything outside the base64url alphabet removed.
func ExtractToken(path string) string {
	p := strings.TrimSuffix(strings.TrimSpace(path), "/")
	if i := strings.LastIndexByte(p, '/'); i >= 0 {
		p = p[i+1:]
	}
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
			return r
		}
		return -1
	}, p)
}

// Responder answers HTTP-01 validation requests from a ChallengeTable.
type Responder struct {
	table *ChallengeTable
}

// NewResponder returns a handler serving table.
func NewResponder(table *ChallengeTable) *Responder {
	return &Responder{table: table}
}

// ServeHTTP responds 200 with the key authorization, 404 otherwise.
func (h *Responder) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if !IsChallengePath(r.URL.Path) {
		http.NotFound(w, r)
		return
	}

	keyAuth, ok := h.table.Get(r.Host, ExtractToken(r.URL.Path))
	if !ok {
		http.NotFound(w, r)
		return
	}

	w.Header().Set("Content-Type", "text/plain")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(keyAuth))
}
