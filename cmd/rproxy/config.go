package main

import "time"

// Certificate backends.
const (
	backendFile = "file"
	backendS3   = "s3"
)

// Transports linking processes that share certificates and challenges.
const (
	transportNone  = ""
	transportRedis = "redis"
)

type appConfig struct {
	LogLevel  string `env:"LOG_LEVEL" envDefault:"info"`
	LogFormat string `env:"LOG_FORMAT" envDefault:"text"`

	// RoutesFile is the YAML route definitions file.
	RoutesFile string `env:"RPROXY_ROUTES_FILE" envDefault:"routes.yaml"`

	// Cluster forks worker processes under a supervising master.
	Cluster bool `env:"RPROXY_CLUSTER" envDefault:"false"`

	// LetsEncrypt enables ACME certificate acquisition.
	LetsEncrypt bool `env:"RPROXY_LETSENCRYPT" envDefault:"false"`

	// CertBackend persists certificates: file or s3.
	CertBackend string `env:"RPROXY_CERT_BACKEND" envDefault:"file"`
	CertDir     string `env:"RPROXY_CERT_DIR" envDefault:"certs"`

	// DNSProvider enables dns-01 challenges: route53 or empty.
	DNSProvider string `env:"RPROXY_DNS_PROVIDER"`

	// Transport links standalone proxies on separate hosts: redis or empty.
	Transport string `env:"RPROXY_TRANSPORT"`

	// StartupTimeout bounds connecting to external services.
	StartupTimeout time.Duration `env:"RPROXY_STARTUP_TIMEOUT" envDefault:"30s"`
}
