// Package letsencrypt manages the certificate lifecycle of proxied hosts:
// cache check, acquisition through a pluggable authority, persistence,
// propagation to other workers and scheduled renewal.
//
// # Types
//
//   - Manager: acquisition state machine, renewal timers, HTTP-01 responder
//   - ChallengeTable: outstanding http-01 challenges keyed by host+token
//   - Responder: http.Handler answering /.well-known/acme-challenge/<token>
//   - Config: manager configuration, loadable from the environment
//
// # Acquisition
//
// GetCertificate walks these states, reported through Manager.State:
//
//	cache_check -> valid
//	cache_check -> random_delay (workers) -> remote_check -> resolved_elsewhere
//	cache_check -> [random_delay -> remote_check ->] order_created ->
//	    authorization_fetched -> challenge_selected -> challenge_issued ->
//	    verifying -> completing -> issued
//
// Any step after the order may end in failed. Failures are logged and
// reported as false; the caller keeps running. Outstanding challenges are
// always removed once validation finishes, whatever its outcome.
//
// # Basic Usage
//
//	store := certstore.New(certstore.WithBackend(backend))
//	manager, err := letsencrypt.NewManager(store, cfg,
//		letsencrypt.WithLogger(logger),
//	)
//	if err != nil {
//		return err
//	}
//	defer manager.Close()
//
//	if err := manager.StartResponder(); err != nil {
//		return err
//	}
//
//	ok := manager.GetCertificate(ctx, "example.com", true, "ops@example.com", 30*24*time.Hour, false)
//
// # Cluster workers
//
// WithWorker relays challenge changes to the master, which broadcasts them
// so every worker's responder can answer validation. Certificates are
// propagated through the certificate store's propagator. Workers also wait a
// random delay, bounded by Config.Jitter, before ordering and skip the order
// when another worker's certificate arrived meanwhile.
package letsencrypt
