// PlexGuard - Access Control and Session Enforcement for Plex
// Copyright 2026 PlexGuard Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/plexguard/plexguard

package api

import "net/http"

// HealthLive reports process liveness.
func (h *Handler) HealthLive(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]string{"status": "alive"})
}

// HealthReady reports readiness: the database answers and the last poll
// tick completed its fetch. The daemon stays up when unhealthy; this
// endpoint is how operators notice.
func (h *Handler) HealthReady(w http.ResponseWriter, r *http.Request) {
	dbOK := h.dbHealthy(r.Context())
	pollOK := h.orchestrator.Healthy()

	status := http.StatusOK
	state := "ready"
	if !dbOK || !pollOK {
		status = http.StatusServiceUnavailable
		state = "unhealthy"
	}

	respondJSON(w, status, map[string]interface{}{
		"status":   state,
		"database": dbOK,
		"poller":   pollOK,
	})
}
