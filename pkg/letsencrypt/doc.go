// Package letsencrypt provides the certificate-issuing strategies used by the
// certificate manager, plus the DNS-01 capability they consume.
//
// Three Authority implementations are available:
//
//   - ACMEAuthority drives an ACME server step by step (account, order,
//     authorization, challenge, verification, CSR, finalize) with
//     golang.org/x/crypto/acme and dispatches on the first offered challenge type.
//   - LegoAuthority delegates the same flow to go-acme/lego, plugging the
//     caller's HTTP-01 solver and DNS provider into lego's provider interfaces.
//   - SelfSigned runs an HTTP-01 round trip against the caller's solver and
//     issues a locally signed certificate. Useful for development and tests.
//
// Strategies never own challenge state. The caller passes an HTTP01Solver that
// records challenges wherever responders can find them, and an optional
// DNSProvider for dns-01:
//
//	auth := letsencrypt.NewACMEAuthority(
//		letsencrypt.WithDirectoryURL(letsencrypt.StagingDirectoryURL),
//		letsencrypt.WithPropagationCheck(letsencrypt.NewPropagationChecker("8.8.8.8:53", 10, 5*time.Second)),
//	)
//	cert, err := auth.Obtain(ctx, letsencrypt.Request{
//		Host:   "example.com",
//		Email:  "ops@example.com",
//		Solver: table,
//	})
package letsencrypt
