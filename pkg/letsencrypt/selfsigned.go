package letsencrypt

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
)

// ChallengePathPrefix is where HTTP-01 responders serve key authorizations.
const ChallengePathPrefix = "/.well-known/acme-challenge/"

// SelfSignedOption configures a SelfSigned authority.
type SelfSignedOption func(*SelfSigned)

// WithVerifyBaseURL makes the authority fetch the published challenge from
// baseURL (e.g. "http://127.0.0.1:80") before issuing.
func WithVerifyBaseURL(baseURL string) SelfSignedOption {
	return func(s *SelfSigned) {
		s.verifyBaseURL = strings.TrimSuffix(baseURL, "/")
	}
}

// WithValidity sets the lifetime of issued certificates.
func WithValidity(d time.Duration) SelfSignedOption {
	return func(s *SelfSigned) {
		if d > 0 {
			s.validity = d
		}
	}
}

// WithHTTPClient overrides the client used for verification requests.
func WithHTTPClient(c *http.Client) SelfSignedOption {
	return func(s *SelfSigned) {
		if c != nil {
			s.client = c
		}
	}
}

// SelfSigned issues locally signed certificates after an HTTP-01 round trip.
type SelfSigned struct {
	verifyBaseURL string
	validity      time.Duration
	client        *http.Client
}

// NewSelfSigned returns a self-signing authority issuing 90 day certificates.
func NewSelfSigned(opts ...SelfSignedOption) *SelfSigned {
	s := &SelfSigned{
		validity: 90 * 24 * time.Hour,
		client:   &http.Client{Timeout: 10 * time.Second},
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Name implements Authority.
func (s *SelfSigned) Name() string {
	return "self-signed"
}

// Obtain implements Authority.
func (s *SelfSigned) Obtain(ctx context.Context, req Request) (cert *Certificate, err error) {
	if req.Host == "" {
		return nil, ErrHostRequired
	}
	if req.Solver == nil {
		return nil, ErrSolverRequired
	}
	req.progress(StateOrderCreated)
	req.progress(StateAuthorizationFetched)

	token := strings.ReplaceAll(uuid.NewString(), "-", "")
	keyAuth := token + "." + strings.ReplaceAll(uuid.NewString(), "-", "")
	req.progress(StateChallengeSelected)

	if err := req.Solver.Present(ctx, req.Host, token, keyAuth); err != nil {
		return nil, fmt.Errorf("present http-01 challenge: %w", err)
	}
	defer func() {
		if cerr := req.Solver.CleanUp(context.WithoutCancel(ctx), req.Host, token); cerr != nil && err == nil {
			err = cerr
		}
	}()
	req.progress(StateChallengeIssued)

	if s.verifyBaseURL != "" {
		req.progress(StateVerifying)
		if err := s.verify(ctx, req.Host, token, keyAuth); err != nil {
			return nil, err
		}
	}

	req.progress(StateCompleting)
	return GenerateSelfSigned(req.Host, s.validity)
}

func (s *SelfSigned) verify(ctx context.Context, host, token, keyAuth string) error {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, s.verifyBaseURL+ChallengePathPrefix+token, nil)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrVerificationFailed, err)
	}
	httpReq.Host = host

	resp, err := s.client.Do(httpReq)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrVerificationFailed, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 4096))
	if err != nil {
		return fmt.Errorf("%w: %v", ErrVerificationFailed, err)
	}
	if resp.StatusCode != http.StatusOK || strings.TrimSpace(string(body)) != keyAuth {
		return fmt.Errorf("%w: responder answered %d", ErrVerificationFailed, resp.StatusCode)
	}
	return nil
}
