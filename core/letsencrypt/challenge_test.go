package letsencrypt_test

import (
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/dmitrymomot/rproxy/core/letsencrypt"
)

func TestExtractToken(t *testing.T) {
	t.Parallel()

	tests := []struct {
		path string
		want string
	}{
		{"/.well-known/acme-challenge/abc_DEF-123", "abc_DEF-123"},
		{"/.well-known/acme-challenge/abc/", "abc"},
		{"  /.well-known/acme-challenge/abc  ", "abc"},
		{"/.well-known/acme-challenge/nested/tok", "tok"},
		{"/.well-known/acme-challenge/a.b$c%20", "abc20"},
		{"/.well-known/acme-challenge/", "acme-challenge"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, letsencrypt.ExtractToken(tt.path), tt.path)
	}
}

func TestChallengeTable(t *testing.T) {
	t.Parallel()

	table := letsencrypt.NewChallengeTable()
	table.Set("Example.com", "tok", "tok.auth")

	v, ok := table.Get("example.com:80", "tok")
	assert.True(t, ok)
	assert.Equal(t, "tok.auth", v)

	_, ok = table.Get("other.com", "tok")
	assert.False(t, ok)

	assert.Equal(t, []letsencrypt.Challenge{{Host: "example.com", Token: "tok", KeyAuthorization: "tok.auth"}}, table.Snapshot())

	assert.True(t, table.Delete("example.com", "tok"))
	assert.False(t, table.Delete("example.com", "tok"))
	assert.Zero(t, table.Len())
}

func TestResponder(t *testing.T) {
	t.Parallel()

	table := letsencrypt.NewChallengeTable()
	table.Set("example.com", "tok", "tok.auth")
	h := letsencrypt.NewResponder(table)

	tests := []struct {
		name   string
		host   string
		path   string
		status int
		body   string
	}{
		{"known token", "example.com", "/.well-known/acme-challenge/tok", http.StatusOK, "tok.auth"},
		{"host with port and case", "EXAMPLE.com:80", "/.well-known/acme-challenge/tok/", http.StatusOK, "tok.auth"},
		{"unknown token", "example.com", "/.well-known/acme-challenge/nope", http.StatusNotFound, ""},
		{"other host", "other.com", "/.well-known/acme-challenge/tok", http.StatusNotFound, ""},
		{"not a challenge path", "example.com", "/tok", http.StatusNotFound, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "http://"+tt.host+tt.path, nil)
			req.Host = tt.host
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, req)

			assert.Equal(t, tt.status, rec.Code)
			if tt.status == http.StatusOK {
				body, _ := io.ReadAll(rec.Body)
				assert.Equal(t, tt.body, string(body))
			}
		})
	}
}
