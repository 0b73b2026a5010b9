package letsencrypt

import (
	"context"
	"crypto"
	"errors"
	"fmt"
	"time"

	"golang.org/x/crypto/acme"
)

// acmeClient is the subset of *acme.Client the authority drives.
type acmeClient interface {
	Register(ctx context.Context, acct *acme.Account, prompt func(tosURL string) bool) (*acme.Account, error)
	AuthorizeOrder(ctx context.Context, id []acme.AuthzID, opt ...acme.OrderOption) (*acme.Order, error)
	GetAuthorization(ctx context.Context, url string) (*acme.Authorization, error)
	HTTP01ChallengeResponse(token string) (string, error)
	DNS01ChallengeRecord(token string) (string, error)
	Accept(ctx context.Context, chal *acme.Challenge) (*acme.Challenge, error)
	WaitAuthorization(ctx context.Context, url string) (*acme.Authorization, error)
	WaitOrder(ctx context.Context, url string) (*acme.Order, error)
	CreateOrderCert(ctx context.Context, url string, csr []byte, bundle bool) (der [][]byte, certURL string, err error)
}

// ACMEAuthority obtains certificates from an ACME server one step at a time.
type ACMEAuthority struct {
	directoryURL string
	stagingURL   string
	verifyWait   time.Duration
	propagation  *PropagationChecker

	accountKey    func() (crypto.Signer, error)
	clientFactory func(key crypto.Signer, directoryURL string) acmeClient
}

// ACMEOption configures an ACMEAuthority.
type ACMEOption func(*ACMEAuthority)

// WithDirectoryURL overrides the production directory URL.
func WithDirectoryURL(url string) ACMEOption {
	return func(a *ACMEAuthority) {
		if url != "" {
			a.directoryURL = url
		}
	}
}

// WithStagingDirectoryURL overrides the directory used for non-production requests.
func WithStagingDirectoryURL(url string) ACMEOption {
	return func(a *ACMEAuthority) {
		if url != "" {
			a.stagingURL = url
		}
	}
}

// WithVerifyTimeout bounds how long to wait for the authority to validate a challenge.
func WithVerifyTimeout(d time.Duration) ACMEOption {
	return func(a *ACMEAuthority) {
		if d > 0 {
			a.verifyWait = d
		}
	}
}

// WithPropagationCheck polls a nameserver for dns-01 records before asking for validation.
func WithPropagationCheck(p *PropagationChecker) ACMEOption {
	return func(a *ACMEAuthority) {
		a.propagation = p
	}
}

// NewACMEAuthority returns an authority talking to Let's Encrypt by default.
func NewACMEAuthority(opts ...ACMEOption) *ACMEAuthority {
	a := &ACMEAuthority{
		directoryURL: ProductionDirectoryURL,
		stagingURL:   StagingDirectoryURL,
		verifyWait:   2 * time.Minute,
		accountKey: func() (crypto.Signer, error) {
			return newKey()
		},
		clientFactory: func(key crypto.Signer, directoryURL string) acmeClient {
			return &acme.Client{Key: key, DirectoryURL: directoryURL}
		},
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Name implements Authority.
func (a *ACMEAuthority) Name() string {
	return "acme"
}

// Obtain runs account registration, order, authorization, challenge and
// finalization for req.Host.
func (a *ACMEAuthority) Obtain(ctx context.Context, req Request) (*Certificate, error) {
	if req.Host == "" {
		return nil, ErrHostRequired
	}
	if req.Email == "" {
		return nil, ErrEmailRequired
	}

	accountKey, err := a.accountKey()
	if err != nil {
		return nil, fmt.Errorf("generate account key: %w", err)
	}

	dir := a.stagingURL
	if req.Production {
		dir = a.directoryURL
	}
	client := a.clientFactory(accountKey, dir)

	_, err = client.Register(ctx, &acme.Account{Contact: []string{"mailto:" + req.Email}}, acme.AcceptTOS)
	if err != nil && !errors.Is(err, acme.ErrAccountAlreadyExists) {
		return nil, fmt.Errorf("register account: %w", err)
	}

	order, err := client.AuthorizeOrder(ctx, acme.DomainIDs(req.Host))
	if err != nil {
		return nil, fmt.Errorf("create order: %w", err)
	}
	req.progress(StateOrderCreated)

	for _, authzURL := range order.AuthzURLs {
		if err := a.authorize(ctx, client, authzURL, req); err != nil {
			return nil, err
		}
	}

	req.progress(StateCompleting)

	order, err = client.WaitOrder(ctx, order.URI)
	if err != nil {
		return nil, fmt.Errorf("wait order: %w", err)
	}

	certKey, err := newKey()
	if err != nil {
		return nil, fmt.Errorf("generate certificate key: %w", err)
	}
	csr, err := createCSR(req.Host, certKey)
	if err != nil {
		return nil, fmt.Errorf("create csr: %w", err)
	}

	der, _, err := client.CreateOrderCert(ctx, order.FinalizeURL, csr, true)
	if err != nil {
		return nil, fmt.Errorf("finalize order: %w", err)
	}

	leaf, ca, notAfter, err := encodeChain(der)
	if err != nil {
		return nil, err
	}
	keyPEM, err := encodeKey(certKey)
	if err != nil {
		return nil, err
	}

	return &Certificate{KeyPEM: keyPEM, CertPEM: leaf, CAPEM: ca, ExpiresOn: notAfter}, nil
}

// authorize satisfies one authorization. The published challenge is removed
// before returning, whatever the result of validation.
func (a *ACMEAuthority) authorize(ctx context.Context, client acmeClient, authzURL string, req Request) (err error) {
	authz, err := client.GetAuthorization(ctx, authzURL)
	if err != nil {
		return fmt.Errorf("fetch authorization: %w", err)
	}
	if authz.Status == acme.StatusValid {
		return nil
	}
	req.progress(StateAuthorizationFetched)

	chal := a.selectChallenge(authz.Challenges, req)
	if chal == nil {
		return fmt.Errorf("%w for %s", ErrNoSupportedChallenge, req.Host)
	}
	req.progress(StateChallengeSelected)

	cleanup, err := a.present(ctx, client, chal, req)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := cleanup(); cerr != nil && err == nil {
			err = cerr
		}
	}()
	req.progress(StateChallengeIssued)

	if _, err := client.Accept(ctx, chal); err != nil {
		return fmt.Errorf("%w: accept: %v", ErrVerificationFailed, err)
	}
	req.progress(StateVerifying)

	waitCtx, cancel := context.WithTimeout(ctx, a.verifyWait)
	defer cancel()

	if _, err := client.WaitAuthorization(waitCtx, authz.URI); err != nil {
		return fmt.Errorf("%w: %v", ErrVerificationFailed, err)
	}
	return nil
}

// selectChallenge takes the first offered challenge this request can solve.
func (a *ACMEAuthority) selectChallenge(offered []*acme.Challenge, req Request) *acme.Challenge {
	for _, c := range offered {
		switch c.Type {
		case ChallengeHTTP01:
			if req.Solver != nil {
				return c
			}
		case ChallengeDNS01:
			if req.DNS != nil {
				return c
			}
		}
	}
	return nil
}

func (a *ACMEAuthority) present(ctx context.Context, client acmeClient, chal *acme.Challenge, req Request) (func() error, error) {
	switch chal.Type {
	case ChallengeHTTP01:
		keyAuth, err := client.HTTP01ChallengeResponse(chal.Token)
		if err != nil {
			return nil, fmt.Errorf("compute key authorization: %w", err)
		}
		if err := req.Solver.Present(ctx, req.Host, chal.Token, keyAuth); err != nil {
			return nil, fmt.Errorf("present http-01 challenge: %w", err)
		}
		return func() error {
			return req.Solver.CleanUp(context.WithoutCancel(ctx), req.Host, chal.Token)
		}, nil

	case ChallengeDNS01:
		value, err := client.DNS01ChallengeRecord(chal.Token)
		if err != nil {
			return nil, fmt.Errorf("compute dns record: %w", err)
		}
		record := DNSChallengePrefix + req.Host
		if err := req.DNS.AddChallenge(ctx, record, value); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrDNSUpdateFailed, err)
		}
		cleanup := func() error {
			return req.DNS.RemoveChallenge(context.WithoutCancel(ctx), record)
		}
		if a.propagation != nil {
			if err := a.propagation.Wait(ctx, record, value); err != nil {
				_ = cleanup()
				return nil, err
			}
		}
		return cleanup, nil
	}
	return nil, fmt.Errorf("%w: %s", ErrNoSupportedChallenge, chal.Type)
}
