package server

import "errors"

var (
	// TLS configuration errors
	ErrEmptyCertPath         = errors.New("certificate or key file path cannot be empty")
	ErrFailedLoadCert        = errors.New("failed to load certificate")
	ErrInvalidTLSVersion     = errors.New("invalid TLS version")
	ErrInvalidClientAuthType = errors.New("invalid client auth type")
	ErrUnknownTLSProfile     = errors.New("unknown TLS profile")

	// Server lifecycle errors
	ErrMissingAddress       = errors.New("server address is required")
	ErrServerAlreadyRunning = errors.New("server is already running")
	ErrReusePortUnsupported = errors.New("SO_REUSEPORT is not supported on this platform")
)
