// Package health provides HTTP handlers for service health monitoring.
//
// Handlers:
//   - Liveness: process is running (no dependency checks)
//   - Readiness: all dependencies are available
//
// Usage:
//
//	mux := http.NewServeMux()
//	mux.Handle("/health/live", health.Liveness())
//	mux.Handle("/health/ready", health.Readiness(logger, redis.Healthcheck(client)))
//
// Dependency checks must follow the func(context.Context) error signature.
package health
