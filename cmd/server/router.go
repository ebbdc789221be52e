package main

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"portalquejas/internal/history"
	jwttoken "portalquejas/internal/jwt_token"
	"portalquejas/internal/platform/config"
	"portalquejas/pkg/platform/httputil"
	authmw "portalquejas/pkg/platform/middleware/auth"
	"portalquejas/pkg/platform/middleware/metadata"
	"portalquejas/pkg/platform/middleware/requesttime"
)

// healthCheck is an optional dependency check reported by /health. A
// failing check degrades the status but the endpoint still answers 200.
type healthCheck struct {
	name  string
	check func(ctx context.Context) error
}

func newRouter(cfg config.Config, log *slog.Logger, historyService *history.Service, monitor history.ConsumerMonitor, checks ...healthCheck) http.Handler {
	r := chi.NewRouter()
	r.Use(metadata.RequestID)
	r.Use(metadata.ClientMetadata)
	r.Use(requesttime.Middleware)

	r.Handle("/metrics", promhttp.Handler())
	r.Get("/health", func(w http.ResponseWriter, req *http.Request) {
		body := map[string]string{
			"status":   "ok",
			"consumer": monitor.State().String(),
		}
		for _, c := range checks {
			if err := c.check(req.Context()); err != nil {
				log.WarnContext(req.Context(), "health check failed", "check", c.name, "error", err)
				body["status"] = "degraded"
				body[c.name] = "down"
				continue
			}
			body[c.name] = "up"
		}
		httputil.WriteJSON(w, http.StatusOK, body)
	})

	opts := []history.HandlerOption{history.WithConsumerMonitor(monitor)}
	if cfg.History.RequireAuth {
		jwtService := jwttoken.NewJWTService(cfg.Server.JWTSigningKey, cfg.Server.JWTIssuer, cfg.Server.JWTAudience)
		opts = append(opts, history.WithGuards(
			authmw.RequireAuth(jwttoken.NewJWTServiceAdapter(jwtService), log),
			authmw.RequireRole(jwttoken.RoleAdmin, log),
		))
	}
	history.NewHandler(historyService, log, opts...).Register(r)

	return r
}
