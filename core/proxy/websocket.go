package proxy

import (
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/dmitrymomot/rproxy/core/logger"
	"github.com/dmitrymomot/rproxy/core/route"
	"github.com/dmitrymomot/rproxy/core/statistics"
)

// Handshake headers the dialer writes itself.
var skipWebSocketHeaders = map[string]bool{
	"Upgrade":                  true,
	"Connection":               true,
	"Sec-Websocket-Key":        true,
	"Sec-Websocket-Version":    true,
	"Sec-Websocket-Extensions": true,
	"Host":                     true,
}

// serveWebSocket dials the target, upgrades the client and relays frames in
// both directions until either side closes.
func (s *Server) serveWebSocket(w http.ResponseWriter, r *http.Request, rt *route.Route, tgt *route.Target) {
	ctx := r.Context()
	log := s.logger.With(logger.Host(r.Host), logger.Target(tgt.Href))

	u := tgt.URL()
	u.Scheme = "ws"
	if tgt.Protocol == "https" {
		u.Scheme = "wss"
	}
	u = u.JoinPath(stripPrefix(r.URL.Path, rt.Path))
	u.RawQuery = r.URL.RawQuery

	header := http.Header{}
	for k, vs := range r.Header {
		if skipWebSocketHeaders[http.CanonicalHeaderKey(k)] {
			continue
		}
		header[k] = vs
	}
	if !tgt.UseTargetHostHeader {
		header.Set("Host", r.Host)
	}
	if ip, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		if prior := r.Header.Get("X-Forwarded-For"); prior != "" {
			ip = prior + ", " + ip
		}
		header.Set("X-Forwarded-For", ip)
	}
	header.Set("X-Forwarded-Host", r.Host)
	header.Set("X-Forwarded-Port", inboundPort(r))
	if r.TLS != nil {
		header.Set("X-Forwarded-Proto", "https")
	} else {
		header.Set("X-Forwarded-Proto", "http")
	}

	dialer := s.dialer
	if !tgt.Secure {
		dialer = s.insecure
	}
	backend, resp, err := dialer.DialContext(ctx, u.String(), header)
	if err != nil {
		if resp != nil {
			_ = resp.Body.Close()
		}
		s.badGateway(w, r.WithContext(withTarget(ctx, rt, tgt)), err)
		return
	}
	defer backend.Close()

	var upgradeHeader http.Header
	if proto := backend.Subprotocol(); proto != "" {
		upgradeHeader = http.Header{"Sec-Websocket-Protocol": {proto}}
	}
	client, err := s.upgrader.Upgrade(w, r, upgradeHeader)
	if err != nil {
		log.DebugContext(ctx, "websocket upgrade failed", logger.Error(err))
		return
	}
	defer client.Close()

	s.counter.Increment(ctx, statistics.WebSocket)

	errc := make(chan error, 2)
	go relayFrames(backend, client, errc)
	go relayFrames(client, backend, errc)

	if err := <-errc; err != nil && !isNormalClose(err) {
		log.DebugContext(ctx, "websocket relay ended", logger.Error(err))
	}
}

// relayFrames copies messages from src to dst. A close frame from src is
// forwarded to dst before returning.
func relayFrames(dst, src *websocket.Conn, errc chan<- error) {
	for {
		msgType, data, err := src.ReadMessage()
		if err != nil {
			msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
			var ce *websocket.CloseError
			if errors.As(err, &ce) && ce.Code != websocket.CloseNoStatusReceived {
				msg = websocket.FormatCloseMessage(ce.Code, ce.Text)
			}
			_ = dst.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second))
			errc <- err
			return
		}
		if err := dst.WriteMessage(msgType, data); err != nil {
			errc <- err
			return
		}
	}
}

func isNormalClose(err error) bool {
	return websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway, websocket.CloseNoStatusReceived) ||
		errors.Is(err, net.ErrClosed)
}
