package route_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrymomot/rproxy/core/route"
)

func TestParseTarget(t *testing.T) {
	t.Parallel()
	yes := true

	tests := []struct {
		name       string
		raw        string
		opts       route.TargetOptions
		wantHref   string
		wantSecure bool
		wantPort   string
		wantErr    bool
	}{
		{name: "bare host", raw: "server1.remote.com", wantHref: "http://server1.remote.com:80/", wantPort: "80"},
		{name: "https default port", raw: "https://Secure.Remote.com/api", wantHref: "https://secure.remote.com:443/api", wantSecure: true, wantPort: "443"},
		{name: "explicit port", raw: "http://10.0.0.1:8080", wantHref: "http://10.0.0.1:8080/", wantPort: "8080"},
		{name: "secure override", raw: "http://a.com", opts: route.TargetOptions{Secure: &yes}, wantHref: "http://a.com:80/", wantSecure: true, wantPort: "80"},
		{name: "websocket scheme", raw: "ws://a.com:9000", wantHref: "http://a.com:9000/", wantPort: "9000"},
		{name: "empty", raw: " ", wantErr: true},
		{name: "bad scheme", raw: "ftp://a.com", wantErr: true},
		{name: "no host", raw: "http:///path", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tgt, err := route.ParseTarget(tt.raw, tt.opts)
			if tt.wantErr {
				assert.ErrorIs(t, err, route.ErrInvalidTarget)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantHref, tgt.Href)
			assert.Equal(t, tt.wantSecure, tgt.Secure)
			assert.Equal(t, tt.wantPort, tgt.Port)
			assert.False(t, tgt.UseTargetHostHeader)
		})
	}
}

func TestTargetEqualAndURL(t *testing.T) {
	t.Parallel()
	a := mustTarget(t, "a.com/x")
	b := mustTarget(t, "http://a.com:80/x")
	assert.True(t, a.Equal(b))

	u := a.URL()
	u.Host = "mutated"
	assert.Equal(t, "a.com:80", a.Host())
}
