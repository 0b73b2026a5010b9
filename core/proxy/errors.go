package proxy

import "errors"

var (
	// ErrHTTPSDisabled is returned when a route asks for SSL but no HTTPS
	// listener is configured.
	ErrHTTPSDisabled = errors.New("https listener is not configured")

	// ErrLetsEncryptDisabled is returned when a route asks for an ACME
	// certificate but no certificate manager is configured.
	ErrLetsEncryptDisabled = errors.New("certificate manager is not configured")

	// ErrSSLSourceMissing is returned when SSL options name neither files
	// nor an ACME authority.
	ErrSSLSourceMissing = errors.New("ssl options need key and cert files or letsencrypt")

	// ErrServerClosed is returned by operations on a closed proxy.
	ErrServerClosed = errors.New("proxy server is closed")
)
