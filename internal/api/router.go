// Fontaine - Connected Water Fountain Gamification Platform
// Copyright 2026 Culture Thirst
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/culture-thirst/fontaine

package api

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/go-chi/httprate"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/culture-thirst/fontaine/internal/config"
	"github.com/culture-thirst/fontaine/internal/middleware"
)

// Router assembles the middleware stack and route tree.
type Router struct {
	cfg     *config.Config
	handler *Handler
}

// NewRouter creates the route assembler over a configured handler set.
func NewRouter(cfg *config.Config, handler *Handler) *Router {
	return &Router{cfg: cfg, handler: handler}
}

// Setup configures all HTTP routes.
func (router *Router) Setup() http.Handler {
	r := chi.NewRouter()

	// Global middleware, applied to every route in order.
	r.Use(middleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(chimiddleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   router.cfg.Server.CORSOrigins,
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Content-Type", "X-Request-ID"},
		ExposedHeaders:   []string{"X-Request-ID"},
		AllowCredentials: false,
		MaxAge:           300,
	}))

	// Health endpoints get permissive rate limiting so monitoring can
	// poll frequently without tripping the API limiter.
	r.Route("/api/v1/health", func(r chi.Router) {
		r.Use(httprate.LimitByIP(1000, time.Minute))
		r.Get("/live", router.handler.HealthLive)
		r.Get("/ready", router.handler.HealthReady)
	})

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(httprate.LimitByIP(router.cfg.Server.RateLimitReqs, router.cfg.Server.RateLimitWin))
		r.Use(middleware.PrometheusMetrics)

		r.Get("/serial", router.handler.Serial)
		r.Get("/machine/{date}", router.handler.MachineRollup)
		r.Get("/department/{date}", router.handler.DepartmentRollup)
		r.Get("/leaderboard/{kind}", router.handler.Leaderboard)

		r.Post("/users", router.handler.RegisterUser)
		r.Get("/users/{id}", router.handler.GetUser)
		r.Get("/users/{id}/poems", router.handler.UserPoems)
		r.Get("/poems/{id}", router.handler.GetPoem)

		r.Post("/sessions", router.handler.OpenSession)
		r.Post("/sessions/{id}/stop", router.handler.StopSession)
		r.Post("/ingest/flow", router.handler.IngestFlow)
	})

	// The websocket upgrade needs http.Hijacker, which the metrics
	// response writer does not pass through, so it sits outside the
	// instrumented group.
	r.Get("/api/v1/ws", router.handler.WebSocket)

	r.Handle("/metrics", promhttp.Handler())

	return r
}

// Server wraps the configured http.Server for the supervisor tree.
type Server struct {
	httpServer *http.Server
}

// NewServer builds the HTTP server from configuration and the route tree.
func NewServer(cfg *config.Config, handler http.Handler) *Server {
	return &Server{
		httpServer: &http.Server{
			Addr:              cfg.Server.ListenAddr(),
			Handler:           handler,
			ReadHeaderTimeout: 10 * time.Second,
			ReadTimeout:       cfg.Server.Timeout,
			WriteTimeout:      cfg.Server.Timeout,
			IdleTimeout:       120 * time.Second,
		},
	}
}

// ListenAndServe starts serving. It returns http.ErrServerClosed on
// graceful shutdown.
func (s *Server) ListenAndServe() error {
	return s.httpServer.ListenAndServe()
}

// Shutdown drains in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}
