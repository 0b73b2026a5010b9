package route_test

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrymomot/rproxy/core/route"
)

func TestTableLongestPrefix(t *testing.T) {
	t.Parallel()
	tbl := route.NewTable()
	backends := map[string]string{"/": "root.example.com", "/test": "test.example.com", "/test/abc": "abc.example.com"}
	for p, b := range backends {
		_, _, err := tbl.Add("h.example.com"+p, []string{b}, route.Options{})
		require.NoError(t, err)
	}

	rt := tbl.Resolve("h.example.com", "/test/abc/x")
	require.NotNil(t, rt)
	assert.Equal(t, "/test/abc", rt.Path)

	rt = tbl.Resolve("h.example.com", "/testing")
	require.NotNil(t, rt)
	assert.Equal(t, "/", rt.Path)

	rt = tbl.Resolve("h.example.com", "/test")
	require.NotNil(t, rt)
	assert.Equal(t, "/test", rt.Path)
}

func TestTableScenarioOrdering(t *testing.T) {
	t.Parallel()
	tbl := route.NewTable()
	targets := []string{"server1.remote.com", "server2.remote.com", "server3.remote.com"}
	paths := []string{"/", "/test/abc", "/abc"}
	for i, p := range paths {
		_, _, err := tbl.Add("test.local1.com"+p, []string{targets[i]}, route.Options{})
		require.NoError(t, err)
	}

	router := tbl.Router("test.local1.com")
	require.NotNil(t, router)
	var order []string
	for _, rt := range router.Routes() {
		order = append(order, rt.Path)
	}
	assert.Equal(t, []string{"/test/abc", "/abc", "/"}, order)

	rt := tbl.Resolve("test.local1.com", "/test/abc/def")
	require.NotNil(t, rt)
	assert.Equal(t, "server2.remote.com", rt.NextTarget().Hostname)
}

func TestTableCaseInsensitiveHost(t *testing.T) {
	t.Parallel()
	tbl := route.NewTable()
	_, _, err := tbl.Add("Test.Local.com", []string{"a.remote.com"}, route.Options{})
	require.NoError(t, err)

	assert.NotNil(t, tbl.Resolve("TEST.local.COM", "/"))
	assert.NotNil(t, tbl.Resolve("test.local.com:8080", "/x"))
	assert.Same(t, tbl.Router("test.local.com"), tbl.Router("TEST.LOCAL.COM"))
}

func TestTableAddAppendsAndDedupes(t *testing.T) {
	t.Parallel()
	tbl := route.NewTable()
	_, _, err := tbl.Add("a.com", []string{"b1.com", "b2.com"}, route.Options{})
	require.NoError(t, err)
	_, rt, err := tbl.Add("a.com/", []string{"b2.com", "b3.com"}, route.Options{})
	require.NoError(t, err)

	var hosts []string
	for _, tgt := range rt.Targets() {
		hosts = append(hosts, tgt.Hostname)
	}
	assert.Equal(t, []string{"b1.com", "b2.com", "b3.com"}, hosts)
	assert.Len(t, tbl.Router("a.com").Routes(), 1)
}

func TestTableAddErrors(t *testing.T) {
	t.Parallel()
	tbl := route.NewTable()

	tests := []struct {
		name string
		from string
		to   []string
	}{
		{name: "empty from", from: "", to: []string{"b.com"}},
		{name: "empty to", from: "a.com", to: nil},
		{name: "bad target", from: "a.com/x", to: []string{"ftp://b.com"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, _, err := tbl.Add(tt.from, tt.to, route.Options{})
			require.Error(t, err)
			assert.ErrorIs(t, err, route.ErrRouteRegistration)
			var regErr *route.RegistrationError
			assert.True(t, errors.As(err, &regErr))
		})
	}

	assert.Empty(t, tbl.Hosts(), "failed registrations must not leave routers behind")
}

func TestRouterRollsBackEmptyRoute(t *testing.T) {
	t.Parallel()
	router := route.NewRouter("a.com")
	_, err := router.Add("/x", nil)
	require.ErrorIs(t, err, route.ErrRouteRegistration)
	assert.True(t, router.Empty())
}

func TestTableRemove(t *testing.T) {
	t.Parallel()
	tbl := route.NewTable()
	_, _, err := tbl.Add("a.com/api", []string{"b1.com", "b2.com"}, route.Options{})
	require.NoError(t, err)
	_, _, err = tbl.Add("a.com", []string{"root.com"}, route.Options{})
	require.NoError(t, err)

	assert.False(t, tbl.Remove("a.com/api", []string{"b1.com"}))
	rt := tbl.Resolve("a.com", "/api/v1")
	require.NotNil(t, rt)
	assert.Equal(t, 1, rt.Len())

	assert.False(t, tbl.Remove("a.com/api", nil))
	rt = tbl.Resolve("a.com", "/api/v1")
	require.NotNil(t, rt)
	assert.Equal(t, "/", rt.Path)

	assert.True(t, tbl.Remove("a.com", []string{"root.com"}))
	assert.Nil(t, tbl.Router("a.com"))
}

func TestTableRemoveUnknownIsNoop(t *testing.T) {
	t.Parallel()
	tbl := route.NewTable()
	_, _, err := tbl.Add("a.com", []string{"b.com"}, route.Options{})
	require.NoError(t, err)

	assert.NotPanics(t, func() {
		assert.False(t, tbl.Remove("unknown.host.com", nil))
		assert.False(t, tbl.Remove("a.com/missing", nil))
		assert.False(t, tbl.Remove("", nil))
	})
	assert.Equal(t, []string{"a.com"}, tbl.Hosts())
}

func TestNormalizeHost(t *testing.T) {
	t.Parallel()
	assert.Equal(t, "example.com", route.NormalizeHost("Example.COM:443"))
	assert.Equal(t, "example.com", route.NormalizeHost("example.com."))
	assert.Equal(t, "xn--bcher-kva.example", route.NormalizeHost("Bücher.example"))
}

func TestParseSource(t *testing.T) {
	t.Parallel()
	host, path, err := route.ParseSource("https://Foo.com/Bar/")
	require.NoError(t, err)
	assert.Equal(t, "foo.com", host)
	assert.Equal(t, "/bar", path)

	_, _, err = route.ParseSource("")
	assert.ErrorIs(t, err, route.ErrInvalidSource)
}
