package letsencrypt

import (
	"fmt"
	"time"

	le "github.com/dmitrymomot/rproxy/pkg/letsencrypt"
)

// Authority names accepted by Config.Authority.
const (
	AuthorityACME       = "acme"
	AuthorityLego       = "lego"
	AuthoritySelfSigned = "self-signed"
)

// Config holds certificate manager settings.
type Config struct {
	// Email is the default ACME account contact.
	Email string `env:"LETSENCRYPT_EMAIL"`

	// Production selects the production directory by default.
	Production bool `env:"LETSENCRYPT_PRODUCTION" envDefault:"false"`

	// RenewWithin is how long before expiry a certificate is renewed.
	RenewWithin time.Duration `env:"LETSENCRYPT_RENEW_WITHIN" envDefault:"720h"`

	// MinRenewDelay bounds how soon a renewal timer may fire.
	MinRenewDelay time.Duration `env:"LETSENCRYPT_MIN_RENEW_DELAY" envDefault:"1m"`

	// Jitter is the upper bound of the random delay workers wait before
	// ordering, so one worker usually wins and broadcasts to the others.
	Jitter time.Duration `env:"LETSENCRYPT_JITTER" envDefault:"60s"`

	// ResponderAddr is where the HTTP-01 responder listens.
	ResponderAddr string `env:"LETSENCRYPT_RESPONDER_ADDR" envDefault:"127.0.0.1:3000"`

	// Authority selects the issuing strategy: acme, lego or self-signed.
	Authority string `env:"LETSENCRYPT_AUTHORITY" envDefault:"acme"`

	// DirectoryURL overrides the production ACME directory.
	DirectoryURL string `env:"LETSENCRYPT_DIRECTORY_URL"`

	// StagingDirectoryURL overrides the staging ACME directory.
	StagingDirectoryURL string `env:"LETSENCRYPT_STAGING_DIRECTORY_URL"`

	// DNSNameserver, when set, is polled for dns-01 records before validation.
	DNSNameserver   string        `env:"LETSENCRYPT_DNS_NAMESERVER"`
	DNSPollAttempts int           `env:"LETSENCRYPT_DNS_POLL_ATTEMPTS" envDefault:"10"`
	DNSPollInterval time.Duration `env:"LETSENCRYPT_DNS_POLL_INTERVAL" envDefault:"5s"`

	// MaxRetries and RetryBackoff control retries of transient authority failures.
	MaxRetries   int           `env:"LETSENCRYPT_MAX_RETRIES" envDefault:"3"`
	RetryBackoff time.Duration `env:"LETSENCRYPT_RETRY_BACKOFF" envDefault:"5s"`
}

// DefaultConfig returns a Config with the same defaults as the env tags.
func DefaultConfig() Config {
	return Config{
		RenewWithin:     30 * 24 * time.Hour,
		MinRenewDelay:   time.Minute,
		Jitter:          60 * time.Second,
		ResponderAddr:   "127.0.0.1:3000",
		Authority:       AuthorityACME,
		DNSPollAttempts: 10,
		DNSPollInterval: 5 * time.Second,
		MaxRetries:      3,
		RetryBackoff:    5 * time.Second,
	}
}

// NewAuthority builds the issuing strategy named by cfg.Authority.
func NewAuthority(cfg Config) (le.Authority, error) {
	var checker *le.PropagationChecker
	if cfg.DNSNameserver != "" {
		checker = le.NewPropagationChecker(cfg.DNSNameserver, cfg.DNSPollAttempts, cfg.DNSPollInterval)
	}

	switch cfg.Authority {
	case AuthorityACME, "":
		return le.NewACMEAuthority(
			le.WithDirectoryURL(cfg.DirectoryURL),
			le.WithStagingDirectoryURL(cfg.StagingDirectoryURL),
			le.WithPropagationCheck(checker),
		), nil
	case AuthorityLego:
		return le.NewLegoAuthority(
			le.WithLegoDirectoryURL(cfg.DirectoryURL),
			le.WithLegoStagingDirectoryURL(cfg.StagingDirectoryURL),
			le.WithLegoPropagationCheck(checker),
		), nil
	case AuthoritySelfSigned:
		return le.NewSelfSigned(), nil
	}
	return nil, fmt.Errorf("%w: %q", ErrUnknownAuthority, cfg.Authority)
}
