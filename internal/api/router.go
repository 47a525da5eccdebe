// PlexGuard - Access Control and Session Enforcement for Plex
// Copyright 2026 PlexGuard Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/plexguard/plexguard

package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/go-chi/httprate"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/plexguard/plexguard/internal/config"
	"github.com/plexguard/plexguard/internal/middleware"
)

// Router assembles the HTTP surface.
type Router struct {
	handler *Handler
	cfg     *config.ServerConfig
}

// NewRouter creates the router.
func NewRouter(handler *Handler, cfg *config.ServerConfig) *Router {
	return &Router{handler: handler, cfg: cfg}
}

// Setup wires all routes and middleware.
func (router *Router) Setup() http.Handler {
	r := chi.NewRouter()

	// Global middleware, applied to every route in order.
	r.Use(middleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(chimiddleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   router.cfg.CORSOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Portal-Token", "X-Request-ID"},
		AllowCredentials: false,
		MaxAge:           300,
	}))

	// Health endpoints: permissive rate limiting for monitors.
	r.Route("/api/v1/health", func(r chi.Router) {
		r.Use(httprate.LimitByIP(1000, time.Minute))
		r.Get("/live", router.handler.HealthLive)
		r.Get("/ready", router.handler.HealthReady)
		r.Get("/", router.handler.HealthReady)
	})

	// Admin surface.
	r.Route("/api/v1", func(r chi.Router) {
		r.Use(httprate.LimitByIP(300, time.Minute))
		r.Use(middleware.SecurityHeaders)
		r.Use(middleware.PrometheusMetrics)
		r.Use(router.handler.AdminAuth)

		r.Get("/sessions", router.handler.Sessions)
		r.Post("/sessions/{sessionID}/terminate", router.handler.TerminateSession)

		r.Get("/users", router.handler.Users)
		r.Route("/users/{userID}", func(r chi.Router) {
			r.Post("/preference", router.handler.UpdateUserPreference)
			r.Post("/ip-policy", router.handler.UpdateIPPolicy)
			r.Post("/concurrent-stream-limit", router.handler.UpdateStreamLimit)
			r.Post("/hide", router.handler.HideUser)
			r.Post("/show", router.handler.ShowUser)
			r.Post("/portal-token", router.handler.PortalToken)

			r.Get("/rules", router.handler.ListRules)
			r.Post("/rules", router.handler.CreateRule)
			r.Put("/rules/{ruleID}", router.handler.UpdateRule)
			r.Delete("/rules/{ruleID}", router.handler.DeleteRule)
		})

		r.Get("/devices", router.handler.Devices)
		r.Patch("/devices/{deviceID}", router.handler.PatchDevice)
		r.Delete("/devices/{deviceID}", router.handler.DeleteDevice)

		r.Get("/settings", router.handler.Settings)
		r.Patch("/settings", router.handler.PatchSettings)

		r.Get("/events/ws", router.handler.hub.ServeWS)
	})

	// User portal, scoped by portal token.
	r.Route("/api/v1/user-portal", func(r chi.Router) {
		r.Use(httprate.LimitByIP(120, time.Minute))
		r.Use(middleware.SecurityHeaders)
		r.Use(middleware.PrometheusMetrics)
		r.Use(router.handler.PortalAuth)

		r.Get("/devices", router.handler.PortalDevices)
		r.Get("/rules", router.handler.PortalRules)
		r.Get("/settings", router.handler.PortalSettings)
		r.Post("/devices/{deviceID}/request", router.handler.PortalSubmitNote)
	})

	// Prometheus scrape endpoint.
	r.Handle("/metrics", promhttp.Handler())

	return r
}
