package letsencrypt

import (
	"context"
	"crypto"
	"errors"
	"fmt"
	"strings"

	"github.com/go-acme/lego/v4/certcrypto"
	"github.com/go-acme/lego/v4/certificate"
	"github.com/go-acme/lego/v4/challenge"
	"github.com/go-acme/lego/v4/challenge/dns01"
	"github.com/go-acme/lego/v4/lego"
	"github.com/go-acme/lego/v4/registration"
)

// LegoOption configures a LegoAuthority.
type LegoOption func(*LegoAuthority)

// WithLegoDirectoryURL overrides the production directory URL.
func WithLegoDirectoryURL(url string) LegoOption {
	return func(a *LegoAuthority) {
		if url = strings.TrimSpace(url); url != "" {
			a.directoryURL = url
		}
	}
}

// WithLegoStagingDirectoryURL overrides the directory used for non-production requests.
func WithLegoStagingDirectoryURL(url string) LegoOption {
	return func(a *LegoAuthority) {
		if url = strings.TrimSpace(url); url != "" {
			a.stagingURL = url
		}
	}
}

// WithCertificateKeyType overrides the key type used for the issued certificate's private key.
func WithCertificateKeyType(keyType certcrypto.KeyType) LegoOption {
	return func(a *LegoAuthority) {
		if keyType != "" {
			a.keyType = keyType
		}
	}
}

// WithLegoPropagationCheck replaces lego's recursive-resolver check with a
// poll against a single nameserver.
func WithLegoPropagationCheck(p *PropagationChecker) LegoOption {
	return func(a *LegoAuthority) {
		a.propagation = p
	}
}

// LegoAuthority issues certificates through the lego ACME client.
// lego drives the order itself, so only the coarse states are reported.
type LegoAuthority struct {
	directoryURL string
	stagingURL   string
	keyType      certcrypto.KeyType
	propagation  *PropagationChecker

	clientFactory   legoClientFactory
	accountKeyMaker func() (crypto.PrivateKey, error)
}

// NewLegoAuthority returns a lego-backed authority.
func NewLegoAuthority(opts ...LegoOption) *LegoAuthority {
	a := &LegoAuthority{
		directoryURL:  lego.LEDirectoryProduction,
		stagingURL:    lego.LEDirectoryStaging,
		keyType:       certcrypto.EC256,
		clientFactory: defaultLegoClientFactory,
		accountKeyMaker: func() (crypto.PrivateKey, error) {
			return newKey()
		},
	}
	for _, opt := range opts {
		if opt != nil {
			opt(a)
		}
	}
	return a
}

// Name implements Authority.
func (a *LegoAuthority) Name() string {
	return "lego"
}

// Obtain registers an account and obtains a bundled certificate for req.Host.
func (a *LegoAuthority) Obtain(ctx context.Context, req Request) (*Certificate, error) {
	if req.Host == "" {
		return nil, ErrHostRequired
	}
	if req.Email == "" {
		return nil, ErrEmailRequired
	}
	if req.Solver == nil && req.DNS == nil {
		return nil, ErrSolverRequired
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	accountKey, err := a.accountKeyMaker()
	if err != nil {
		return nil, fmt.Errorf("generate account key: %w", err)
	}
	user := &accountUser{email: req.Email, key: accountKey}

	cfg := lego.NewConfig(user)
	cfg.CADirURL = a.stagingURL
	if req.Production {
		cfg.CADirURL = a.directoryURL
	}
	cfg.Certificate.KeyType = a.keyType

	client, err := a.clientFactory(cfg)
	if err != nil {
		return nil, fmt.Errorf("create acme client: %w", err)
	}

	if req.Solver != nil {
		if err := client.SetHTTP01Provider(&http01Provider{ctx: ctx, solver: req.Solver}); err != nil {
			return nil, fmt.Errorf("configure http-01 provider: %w", err)
		}
	}
	if req.DNS != nil {
		var opts []dns01.ChallengeOption
		if a.propagation != nil {
			opts = append(opts, dns01.WrapPreCheck(a.preCheck(ctx)))
		}
		if err := client.SetDNS01Provider(&dns01Provider{ctx: ctx, dns: req.DNS}, opts...); err != nil {
			return nil, fmt.Errorf("configure dns-01 provider: %w", err)
		}
	}

	reg, err := client.Register(registration.RegisterOptions{TermsOfServiceAgreed: true})
	if err != nil {
		return nil, fmt.Errorf("register account: %w", err)
	}
	user.registration = reg
	req.progress(StateOrderCreated)

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	res, err := client.Obtain(certificate.ObtainRequest{
		Domains: []string{req.Host},
		Bundle:  false,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrVerificationFailed, err)
	}
	req.progress(StateCompleting)

	return certificateFromResource(res)
}

func (a *LegoAuthority) preCheck(ctx context.Context) dns01.WrapPreCheckFunc {
	return func(_, fqdn, value string, _ dns01.PreCheckFunc) (bool, error) {
		if err := a.propagation.Wait(ctx, fqdn, value); err != nil {
			return false, err
		}
		return true, nil
	}
}

func certificateFromResource(res *certificate.Resource) (*Certificate, error) {
	if res == nil {
		return nil, errors.New("certificate resource is nil")
	}
	if len(res.PrivateKey) == 0 {
		return nil, errors.New("empty private key received from ACME server")
	}
	if len(res.Certificate) == 0 {
		return nil, errors.New("empty certificate payload received from ACME server")
	}

	leaf, err := certcrypto.ParsePEMCertificate(res.Certificate)
	if err != nil {
		return nil, fmt.Errorf("parse issued certificate: %w", err)
	}

	return &Certificate{
		KeyPEM:    res.PrivateKey,
		CertPEM:   res.Certificate,
		CAPEM:     res.IssuerCertificate,
		ExpiresOn: leaf.NotAfter,
	}, nil
}

type legoClientFactory func(*lego.Config) (legoClient, error)

type legoClient interface {
	Register(options registration.RegisterOptions) (*registration.Resource, error)
	SetHTTP01Provider(provider challenge.Provider) error
	SetDNS01Provider(provider challenge.Provider, opts ...dns01.ChallengeOption) error
	Obtain(request certificate.ObtainRequest) (*certificate.Resource, error)
}

func defaultLegoClientFactory(cfg *lego.Config) (legoClient, error) {
	client, err := lego.NewClient(cfg)
	if err != nil {
		return nil, err
	}
	return &legoClientAdapter{client: client}, nil
}

type legoClientAdapter struct {
	client *lego.Client
}

func (l *legoClientAdapter) Register(options registration.RegisterOptions) (*registration.Resource, error) {
	return l.client.Registration.Register(options)
}

func (l *legoClientAdapter) SetHTTP01Provider(provider challenge.Provider) error {
	return l.client.Challenge.SetHTTP01Provider(provider)
}

func (l *legoClientAdapter) SetDNS01Provider(provider challenge.Provider, opts ...dns01.ChallengeOption) error {
	return l.client.Challenge.SetDNS01Provider(provider, opts...)
}

func (l *legoClientAdapter) Obtain(request certificate.ObtainRequest) (*certificate.Resource, error) {
	return l.client.Certificate.Obtain(request)
}

// http01Provider lets lego publish tokens through our own responder instead
// of binding its own listener on port 80.
type http01Provider struct {
	ctx    context.Context
	solver HTTP01Solver
}

func (p *http01Provider) Present(domain, token, keyAuth string) error {
	return p.solver.Present(p.ctx, domain, token, keyAuth)
}

func (p *http01Provider) CleanUp(domain, token, _ string) error {
	return p.solver.CleanUp(context.WithoutCancel(p.ctx), domain, token)
}

type dns01Provider struct {
	ctx context.Context
	dns DNSProvider
}

func (p *dns01Provider) Present(domain, _, keyAuth string) error {
	info := dns01.GetChallengeInfo(domain, keyAuth)
	if err := p.dns.AddChallenge(p.ctx, dns01.UnFqdn(info.EffectiveFQDN), info.Value); err != nil {
		return fmt.Errorf("%w: %v", ErrDNSUpdateFailed, err)
	}
	return nil
}

func (p *dns01Provider) CleanUp(domain, _, keyAuth string) error {
	info := dns01.GetChallengeInfo(domain, keyAuth)
	return p.dns.RemoveChallenge(context.WithoutCancel(p.ctx), dns01.UnFqdn(info.EffectiveFQDN))
}

type accountUser struct {
	email        string
	registration *registration.Resource
	key          crypto.PrivateKey
}

func (u *accountUser) GetEmail() string {
	return u.email
}

func (u *accountUser) GetRegistration() *registration.Resource {
	return u.registration
}

func (u *accountUser) GetPrivateKey() crypto.PrivateKey {
	return u.key
}
