package letsencrypt

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSelfSigned_WithoutVerification(t *testing.T) {
	t.Parallel()

	solver := newMemSolver()
	cert, err := NewSelfSigned().Obtain(t.Context(), Request{Host: "dev.local", Solver: solver})
	require.NoError(t, err)

	assert.Equal(t, 1, solver.presented)
	assert.Equal(t, 1, solver.cleaned)
	assert.Empty(t, solver.published)
	assert.NotEmpty(t, cert.CertPEM)
	assert.Empty(t, cert.CAPEM)
}

func TestSelfSigned_VerifiesAgainstResponder(t *testing.T) {
	t.Parallel()

	solver := newMemSolver()
	responder := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := strings.TrimPrefix(r.URL.Path, ChallengePathPrefix)
		keyAuth, ok := solver.lookup(r.Host, token)
		if !ok {
			http.NotFound(w, r)
			return
		}
		_, _ = w.Write([]byte(keyAuth))
	}))
	t.Cleanup(responder.Close)

	var states []State
	_, err := NewSelfSigned(WithVerifyBaseURL(responder.URL)).Obtain(t.Context(), Request{
		Host:     "dev.local",
		Solver:   solver,
		Progress: func(s State) { states = append(states, s) },
	})
	require.NoError(t, err)
	assert.Contains(t, states, StateVerifying)
	assert.Empty(t, solver.published)
}

func TestSelfSigned_VerificationFailure(t *testing.T) {
	t.Parallel()

	responder := httptest.NewServer(http.NotFoundHandler())
	t.Cleanup(responder.Close)

	solver := newMemSolver()
	_, err := NewSelfSigned(WithVerifyBaseURL(responder.URL)).Obtain(t.Context(), Request{Host: "dev.local", Solver: solver})
	require.ErrorIs(t, err, ErrVerificationFailed)
	assert.Equal(t, 1, solver.cleaned)
}

func TestSelfSigned_RequiresSolver(t *testing.T) {
	t.Parallel()

	_, err := NewSelfSigned().Obtain(t.Context(), Request{Host: "dev.local"})
	require.ErrorIs(t, err, ErrSolverRequired)
}

func TestState(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "order_created", StateOrderCreated.String())
	assert.Equal(t, "unknown", State(99).String())
	assert.True(t, StateIssued.Terminal())
	assert.True(t, StateValid.Terminal())
	assert.False(t, StateVerifying.Terminal())
}
