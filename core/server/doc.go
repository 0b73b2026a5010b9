// Package server wraps http.Server with graceful shutdown, early binding and
// TLS presets. The proxy runs three of them: the plain HTTP listener, the
// HTTPS listener and the ACME HTTP-01 responder.
//
// # Basic Usage
//
//	srv := server.New(":8080",
//		server.WithName("http"),
//		server.WithShutdownTimeout(10*time.Second),
//		server.WithLogger(logger),
//	)
//	if err := srv.Listen(); err != nil {
//		return err // port already in use
//	}
//
//	g, ctx := errgroup.WithContext(ctx)
//	g.Go(srv.Run(ctx, handler))
//	return g.Wait()
//
// Listen binds the socket without serving, so Addr reports the actual port
// when the configured address is ":0". Start and Run call Listen themselves
// when needed.
//
// # TLS
//
// WithTLS wraps the listener in TLS. HTTP/2 is negotiated through ALPN using
// golang.org/x/net/http2 unless disabled with WithHTTP2(false). Certificates
// are usually selected per connection through an SNI callback:
//
//	tlsCfg, err := server.NewTLSConfig(
//		server.WithGetCertificate(store.GetCertificate),
//	)
//
// DefaultTLSConfig, ModernTLSConfig, IntermediateTLSConfig and StrictTLSConfig
// follow Mozilla's compatibility profiles. NewTLSConfigFromProfile starts
// from one of them by name.
//
// # Shared listeners
//
// WithReusePort sets SO_REUSEPORT, letting cluster workers bind one address
// and have the kernel spread connections across them.
//
// # Defaults
//
//   - ReadTimeout: 15 seconds
//   - ReadHeaderTimeout: 10 seconds
//   - WriteTimeout: 15 seconds
//   - IdleTimeout: 60 seconds
//   - MaxHeaderBytes: 1MB
//   - Graceful shutdown timeout: 30 seconds
//   - Logger: discards everything
package server
