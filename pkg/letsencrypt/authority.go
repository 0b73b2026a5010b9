package letsencrypt

import (
	"context"
	"time"
)

const (
	// ProductionDirectoryURL is the Let's Encrypt production directory.
	ProductionDirectoryURL = "https://acme-v02.api.letsencrypt.org/directory"

	// StagingDirectoryURL is the Let's Encrypt staging directory.
	StagingDirectoryURL = "https://acme-staging-v02.api.letsencrypt.org/directory"

	// ChallengeHTTP01 and ChallengeDNS01 are the supported challenge types.
	ChallengeHTTP01 = "http-01"
	ChallengeDNS01  = "dns-01"

	// DNSChallengePrefix is prepended to the host for dns-01 TXT records.
	DNSChallengePrefix = "_acme-challenge."
)

// Authority issues certificates for a single host.
type Authority interface {
	Name() string
	Obtain(ctx context.Context, req Request) (*Certificate, error)
}

// HTTP01Solver publishes key authorizations for http-01 validation.
// CleanUp is always called once Present succeeded, whatever the outcome.
type HTTP01Solver interface {
	Present(ctx context.Context, host, token, keyAuth string) error
	CleanUp(ctx context.Context, host, token string) error
}

// DNSProvider publishes and removes dns-01 TXT records.
// domain is the full record name, e.g. "_acme-challenge.example.com".
type DNSProvider interface {
	AddChallenge(ctx context.Context, domain, value string) error
	RemoveChallenge(ctx context.Context, domain string) error
}

// Request describes one certificate acquisition.
type Request struct {
	Host       string
	Email      string
	Production bool

	Solver HTTP01Solver
	DNS    DNSProvider

	// Progress, when set, is called on every state transition.
	Progress func(State)
}

func (r Request) progress(s State) {
	if r.Progress != nil {
		r.Progress(s)
	}
}

// Certificate is the PEM material returned by an authority.
type Certificate struct {
	KeyPEM    []byte
	CertPEM   []byte
	CAPEM     []byte
	ExpiresOn time.Time
}
