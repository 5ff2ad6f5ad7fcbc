package http

import (
	"context"
	"net/http"
	"time"

	"github.com/dropDatabas3/fedlogin/internal/http/apperr"
	"github.com/dropDatabas3/fedlogin/internal/http/middlewares"
	"github.com/dropDatabas3/fedlogin/internal/rate"
	"github.com/go-chi/chi/v5"
)

// HealthCheck reports whether a dependency is usable.
type HealthCheck func(ctx context.Context) error

// RouterDeps son las dependencias del router.
type RouterDeps struct {
	Auth    *AuthHandler
	Metrics http.Handler // nil: no se expone /metrics
	Limiter rate.Limiter // nil: sin rate limiting
	Checks  map[string]HealthCheck

	// TrustProxy habilita X-Forwarded-For para la IP del cliente.
	TrustProxy bool
}

// NewRouter arma el router con la cadena recover -> request id -> logging ->
// metrics -> rate limit.
func NewRouter(d RouterDeps) http.Handler {
	r := chi.NewRouter()
	r.Use(
		middlewares.WithRecover(),
		middlewares.WithRequestID(),
		middlewares.WithLogging(d.TrustProxy),
		WithMetrics,
	)
	r.NotFound(func(w http.ResponseWriter, _ *http.Request) {
		apperr.WriteError(w, apperr.ErrRouteNotFound)
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, _ *http.Request) {
		apperr.WriteError(w, apperr.ErrMethodNotAllowed)
	})

	r.Get("/healthz", healthz(d.Checks))
	if d.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", d.Metrics)
	}

	r.Group(func(r chi.Router) {
		r.Use(middlewares.WithRateLimit(middlewares.RateLimitConfig{
			Limiter: d.Limiter,
			KeyFunc: middlewares.IPRateKey(d.TrustProxy),
		}))
		if d.Auth != nil {
			d.Auth.Register(r)
		}
	})
	return r
}

func healthz(checks map[string]HealthCheck) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()

		status := http.StatusOK
		out := map[string]string{}
		for name, check := range checks {
			if err := check(ctx); err != nil {
				out[name] = err.Error()
				status = http.StatusServiceUnavailable
				continue
			}
			out[name] = "ok"
		}
		apperr.WriteJSON(w, status, map[string]any{
			"status": map[bool]string{true: "ok", false: "degraded"}[status == http.StatusOK],
			"checks": out,
		})
	}
}
