// PlexGuard - Access Control and Session Enforcement for Plex
// Copyright 2026 PlexGuard Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/plexguard/plexguard

// Package api provides the HTTP surface consumed by the operator UI and
// the user self-service portal. Both are pure clients of the core: every
// route reads or mutates state owned by the registry, the settings store,
// or the preference/rule tables, and nothing here touches the upstream
// server except admin-initiated termination.
package api

import (
	"context"

	"github.com/plexguard/plexguard/internal/database"
	"github.com/plexguard/plexguard/internal/guard"
	"github.com/plexguard/plexguard/internal/registry"
	"github.com/plexguard/plexguard/internal/settings"
	"github.com/plexguard/plexguard/internal/websocket"
)

// Handler carries the dependencies for all HTTP handlers.
type Handler struct {
	db           *database.DB
	registry     *registry.Registry
	store        *settings.Store
	orchestrator *guard.Orchestrator
	upstream     guard.Upstream
	hub          *websocket.Hub
}

// NewHandler creates the handler set.
func NewHandler(db *database.DB, reg *registry.Registry, store *settings.Store, orchestrator *guard.Orchestrator, upstream guard.Upstream, hub *websocket.Hub) *Handler {
	return &Handler{
		db:           db,
		registry:     reg,
		store:        store,
		orchestrator: orchestrator,
		upstream:     upstream,
		hub:          hub,
	}
}

// dbHealthy reports whether the database answers a ping.
func (h *Handler) dbHealthy(ctx context.Context) bool {
	return h.db.Ping(ctx) == nil
}
