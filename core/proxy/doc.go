// Package proxy implements the multi-tenant reverse proxy server.
//
// Requests are matched by Host header and longest path prefix against a
// route.Table, then forwarded to the route's next target in round robin
// order. WebSocket upgrades are relayed frame by frame. Hosts registered with
// SSL options get a certificate from files or from an ACME authority via
// letsencrypt.Manager, served by SNI on the HTTPS listener; their plain HTTP
// traffic is redirected unless the redirect is disabled.
//
//	p, err := proxy.New(proxy.Config{HTTPAddr: ":80", HTTPSAddr: ":443"},
//		proxy.WithManager(manager),
//		proxy.WithLogger(log),
//	)
//	if err != nil {
//		return err
//	}
//	_ = p.AddRoute("example.com", []string{"http://127.0.0.1:3000"}, proxy.RouteOptions{
//		SSL: &proxy.SSLOptions{LetsEncrypt: &proxy.LetsEncryptOptions{Email: "ops@example.com"}},
//	})
//	return p.Run(ctx)
//
// Every served request bumps a statistics.Counter entry (requests, notFound,
// badGateway, websocket). With MetricsAddr set, the counter table is exposed
// in the Prometheus format.
package proxy
