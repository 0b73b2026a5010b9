package proxy

import "time"

// Config holds listener and forwarding settings.
type Config struct {
	// HTTPAddr is the plain-HTTP listener address.
	HTTPAddr string `env:"PROXY_HTTP_ADDR" envDefault:":8080"`

	// HTTPSAddr enables the TLS listener when set.
	HTTPSAddr string `env:"PROXY_HTTPS_ADDR"`

	// Default certificate served when SNI has no entry.
	TLSKeyFile  string `env:"PROXY_TLS_KEY_FILE"`
	TLSCertFile string `env:"PROXY_TLS_CERT_FILE"`
	TLSCAFile   string `env:"PROXY_TLS_CA_FILE"`

	// TLSProfile selects the HTTPS listener preset: default, modern,
	// intermediate or strict.
	TLSProfile string `env:"PROXY_TLS_PROFILE" envDefault:"default"`

	// Inbound connection limits. WriteTimeout stays zero so long responses
	// and WebSocket relays are not cut off.
	ReadHeaderTimeout time.Duration `env:"PROXY_READ_HEADER_TIMEOUT" envDefault:"10s"`
	WriteTimeout      time.Duration `env:"PROXY_WRITE_TIMEOUT" envDefault:"0s"`
	IdleTimeout       time.Duration `env:"PROXY_IDLE_TIMEOUT" envDefault:"120s"`

	// ReusePort lets cluster workers bind the same listener addresses.
	ReusePort bool `env:"PROXY_REUSE_PORT" envDefault:"false"`

	// HTTP2 negotiates h2 on the TLS listener.
	HTTP2 bool `env:"PROXY_HTTP2" envDefault:"true"`

	// MetricsAddr serves Prometheus metrics when set.
	MetricsAddr string `env:"PROXY_METRICS_ADDR"`

	// DialTimeout and ResponseHeaderTimeout bound backend connections.
	DialTimeout           time.Duration `env:"PROXY_DIAL_TIMEOUT" envDefault:"10s"`
	ResponseHeaderTimeout time.Duration `env:"PROXY_RESPONSE_HEADER_TIMEOUT" envDefault:"60s"`

	ShutdownTimeout time.Duration `env:"PROXY_SHUTDOWN_TIMEOUT" envDefault:"30s"`
}

// DefaultConfig returns the configuration used when nothing is set.
func DefaultConfig() Config {
	return Config{
		HTTPAddr:              ":8080",
		TLSProfile:            "default",
		ReadHeaderTimeout:     10 * time.Second,
		IdleTimeout:           120 * time.Second,
		HTTP2:                 true,
		DialTimeout:           10 * time.Second,
		ResponseHeaderTimeout: 60 * time.Second,
		ShutdownTimeout:       30 * time.Second,
	}
}

// RouteOptions tunes a registration. Nil pointer fields keep the defaults.
type RouteOptions struct {
	// Secure verifies the backend TLS certificate. Defaults to true for
	// https targets.
	Secure *bool `yaml:"secure,omitempty"`

	// UseTargetHostHeader sends the target host as Host instead of the
	// inbound one.
	UseTargetHostHeader *bool `yaml:"useTargetHostHeader,omitempty"`

	// SSL serves the host over HTTPS.
	SSL *SSLOptions `yaml:"ssl,omitempty"`
}

// SSLOptions selects where a host's certificate comes from: PEM files, or
// an ACME authority when LetsEncrypt is set.
type SSLOptions struct {
	Key  string `yaml:"key,omitempty"`
	Cert string `yaml:"cert,omitempty"`
	CA   string `yaml:"ca,omitempty"`

	// Redirect sends plain-HTTP requests to HTTPS. Defaults to true.
	Redirect *bool `yaml:"redirect,omitempty"`

	LetsEncrypt *LetsEncryptOptions `yaml:"letsencrypt,omitempty"`
}

// LetsEncryptOptions controls certificate acquisition for one host.
// Zero values fall back to the certificate manager's configuration.
type LetsEncryptOptions struct {
	Email       string        `yaml:"email,omitempty"`
	Production  bool          `yaml:"production,omitempty"`
	RenewWithin time.Duration `yaml:"renewWithin,omitempty"`
	ForceRenew  bool          `yaml:"forceRenew,omitempty"`
}

func (o RouteOptions) redirect() bool {
	if o.SSL == nil {
		return false
	}
	if o.SSL.Redirect == nil {
		return true
	}
	return *o.SSL.Redirect
}
