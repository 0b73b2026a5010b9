package letsencrypt

import "errors"

var (
	// ErrNoSupportedChallenge is returned when the authority offers no challenge type we can solve.
	ErrNoSupportedChallenge = errors.New("no supported challenge offered")

	// ErrDNSProviderRequired is returned for dns-01 when no DNS provider is configured.
	ErrDNSProviderRequired = errors.New("dns-01 requires a DNS provider")

	// ErrDNSUpdateFailed is returned when the DNS provider fails to publish a record.
	ErrDNSUpdateFailed = errors.New("dns challenge update failed")

	// ErrPropagationTimeout is returned when the TXT record never appears on the nameserver.
	ErrPropagationTimeout = errors.New("dns challenge record did not propagate")

	// ErrVerificationFailed is returned when the authority rejects the challenge.
	ErrVerificationFailed = errors.New("challenge verification failed")

	// ErrEmailRequired is returned when an ACME account email is missing.
	ErrEmailRequired = errors.New("email is required for ACME account")

	// ErrHostRequired is returned for requests without a host.
	ErrHostRequired = errors.New("host is required")

	// ErrSolverRequired is returned when http-01 is selected without a solver.
	ErrSolverRequired = errors.New("http-01 requires a challenge solver")
)
