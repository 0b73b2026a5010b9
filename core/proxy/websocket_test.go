package proxy_test

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrymomot/rproxy/core/proxy"
	"github.com/dmitrymomot/rproxy/core/statistics"
)

func newEchoSocket(t *testing.T) *httptest.Server {
	t.Helper()
	upgrader := websocket.Upgrader{Subprotocols: []string{"chat"}}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/echo" {
			http.NotFound(w, r)
			return
		}
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		for {
			mt, data, err := conn.ReadMessage()
			if err != nil {
				return
			}
			if err := conn.WriteMessage(mt, append([]byte(r.Host+":"), data...)); err != nil {
				return
			}
		}
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestProxy_WebSocketRelay(t *testing.T) {
	t.Parallel()

	backend := newEchoSocket(t)
	p := startProxy(t, testConfig())
	require.NoError(t, p.AddRoute("ws.test/socket", []string{backend.URL}, proxy.RouteOptions{}))

	dialer := websocket.Dialer{HandshakeTimeout: 5 * time.Second, Subprotocols: []string{"chat"}}
	conn, resp, err := dialer.Dial("ws://"+p.HTTPAddr()+"/socket/echo", http.Header{"Host": {"ws.test"}})
	require.NoError(t, err)
	defer conn.Close()
	assert.Equal(t, http.StatusSwitchingProtocols, resp.StatusCode)
	assert.Equal(t, "chat", conn.Subprotocol())

	for _, msg := range []string{"hello", "world"} {
		require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte(msg)))
		require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
		mt, data, err := conn.ReadMessage()
		require.NoError(t, err)
		assert.Equal(t, websocket.TextMessage, mt)
		assert.Equal(t, "ws.test:"+msg, string(data))
	}

	require.NoError(t, conn.WriteMessage(websocket.BinaryMessage, []byte{0x01, 0x02}))
	mt, data, err := conn.ReadMessage()
	require.NoError(t, err)
	assert.Equal(t, websocket.BinaryMessage, mt)
	assert.Equal(t, append([]byte("ws.test:"), 0x01, 0x02), data)

	c := p.Counter()
	assert.Equal(t, int64(1), c.Get(c.WorkerID(), statistics.WebSocket))
	assert.Equal(t, int64(1), c.Get(c.WorkerID(), statistics.Requests))
}

func TestProxy_WebSocketBackendDown(t *testing.T) {
	t.Parallel()

	backend := newEchoSocket(t)
	url := backend.URL
	backend.Close()

	p := startProxy(t, testConfig())
	require.NoError(t, p.AddRoute("ws.test", []string{url}, proxy.RouteOptions{}))

	dialer := websocket.Dialer{HandshakeTimeout: 5 * time.Second}
	_, resp, err := dialer.Dial("ws://"+p.HTTPAddr()+"/echo", http.Header{"Host": {"ws.test"}})
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusBadGateway, resp.StatusCode)

	c := p.Counter()
	assert.Equal(t, int64(1), c.Get(c.WorkerID(), statistics.BadGateway))
	assert.Zero(t, c.Get(c.WorkerID(), statistics.WebSocket))
}
