package health

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/dmitrymomot/rproxy/core/logger"
)

// CheckTimeout bounds a single readiness probe.
const CheckTimeout = 5 * time.Second

// Readiness verifies all service dependencies are functioning.
// Returns "READY" if all checks pass, 503 Service Unavailable if any fail.
func Readiness(log *slog.Logger, fn ...func(context.Context) error) http.Handler {
	if log == nil {
		log = logger.Discard()
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), CheckTimeout)
		defer cancel()

		for _, f := range fn {
			if err := f(ctx); err != nil {
				log.ErrorContext(ctx, "readiness check failed", logger.Error(err))
				writeStatus(w, http.StatusServiceUnavailable, http.StatusText(http.StatusServiceUnavailable))
				return
			}
		}
		writeStatus(w, http.StatusOK, "READY")
	})
}

// Mount registers both probes on mux under /health/live and /health/ready.
func Mount(mux *http.ServeMux, log *slog.Logger, fn ...func(context.Context) error) {
	mux.Handle("/health/live", Liveness())
	mux.Handle("/health/ready", Readiness(log, fn...))
}
