// SessionGuard - Session Risk & Anomaly Detection Engine
// Copyright 2026 Perimetra Labs
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/perimetra/sessionguard

package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/go-chi/httprate"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/perimetra/sessionguard/internal/config"
	"github.com/perimetra/sessionguard/internal/middleware"
)

// Router assembles the HTTP surface.
type Router struct {
	handler *Handler
	cfg     config.ServerConfig
}

// NewRouter creates a router around the given handler.
func NewRouter(handler *Handler, cfg config.ServerConfig) *Router {
	return &Router{handler: handler, cfg: cfg}
}

// Setup builds the full route tree.
func (router *Router) Setup() http.Handler {
	r := chi.NewRouter()

	// Global middleware, applied to every route.
	r.Use(middleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(chimiddleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: router.cfg.CORSOrigins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{"Accept", "Content-Type", "X-Request-ID"},
		MaxAge:         300,
	}))

	// Health endpoints get a permissive rate limit so monitoring can poll
	// freely.
	r.Route("/api/v1/health", func(r chi.Router) {
		r.Use(httprate.LimitByIP(1000, router.cfg.RateLimitWindow))
		r.Get("/live", router.handler.HealthLive)
		r.Get("/ready", router.handler.HealthReady)
	})

	// Operator API.
	r.Route("/api/v1", func(r chi.Router) {
		r.Use(httprate.LimitByIP(router.cfg.RateLimit, router.cfg.RateLimitWindow))
		r.Use(middleware.PrometheusMetrics)

		r.Get("/stats", router.handler.Stats)
		r.Get("/risk-profiles", router.handler.RiskProfiles)
		r.Get("/timeline", router.handler.Timeline)

		r.Get("/travel-alerts", router.handler.TravelAlerts)
		r.Post("/travel-alerts/{id}/dismiss", router.handler.DismissAlert)
		r.Post("/travel-alerts/{id}/block", router.handler.BlockAlert)

		r.Get("/threats", router.handler.Threats)
		r.Post("/threats/{id}/action", router.handler.ThreatAction)

		r.Post("/sessions/{id}/revoke", router.handler.RevokeSession)
		r.Post("/sessions/{id}/suspicious", router.handler.MarkSuspicious)
		r.Post("/sessions/revoke-suspicious", router.handler.RevokeSuspicious)

		r.Get("/identities/{id}/sessions", router.handler.IdentitySessions)
	})

	r.Handle("/metrics", promhttp.Handler())

	return r
}
