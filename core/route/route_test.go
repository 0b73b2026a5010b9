package route_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrymomot/rproxy/core/route"
)

func mustTarget(t *testing.T, raw string) *route.Target {
	t.Helper()
	tgt, err := route.ParseTarget(raw, route.TargetOptions{})
	require.NoError(t, err)
	return tgt
}

func TestNextTargetSkipsFirstOnInitialCall(t *testing.T) {
	t.Parallel()
	a := mustTarget(t, "a.example.com")
	b := mustTarget(t, "b.example.com")
	c := mustTarget(t, "c.example.com")
	rt := route.NewRoute("/", a, b, c)

	got := make([]string, 0, 7)
	for range 7 {
		got = append(got, rt.NextTarget().Hostname)
	}
	assert.Equal(t, []string{
		"b.example.com", "c.example.com", "a.example.com",
		"b.example.com", "c.example.com", "a.example.com",
		"b.example.com",
	}, got)
}

func TestNextTargetSingleAndEmpty(t *testing.T) {
	t.Parallel()
	a := mustTarget(t, "a.example.com")
	rt := route.NewRoute("/", a)
	assert.Same(t, a, rt.NextTarget())
	assert.Same(t, a, rt.NextTarget())

	assert.Nil(t, route.NewRoute("/").NextTarget())
}

func TestNewRouteDeduplicates(t *testing.T) {
	t.Parallel()
	rt := route.NewRoute("/x/", mustTarget(t, "a.example.com"), mustTarget(t, "http://a.example.com:80/"))
	assert.Equal(t, 1, rt.Len())
	assert.Equal(t, "/x", rt.Path)
}

func TestRouteMatchesBoundary(t *testing.T) {
	t.Parallel()
	rt := route.NewRoute("/test")
	assert.True(t, rt.Matches("/test"))
	assert.True(t, rt.Matches("/test/"))
	assert.True(t, rt.Matches("/test/abc"))
	assert.False(t, rt.Matches("/testing"))
	assert.False(t, rt.Matches("/tes"))

	root := route.NewRoute("/")
	assert.True(t, root.Matches("/anything"))
}

func TestNormalizePath(t *testing.T) {
	t.Parallel()
	tests := map[string]string{
		"":          "/",
		"/":         "/",
		"//":        "/",
		"/Test/":    "/test",
		"abc":       "/abc",
		"/a/b/c///": "/a/b/c",
	}
	for in, want := range tests {
		assert.Equal(t, want, route.NormalizePath(in), "input %q", in)
	}
}
