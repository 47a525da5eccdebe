// PlexGuard - Access Control and Session Enforcement for Plex
// Copyright 2026 PlexGuard Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/plexguard/plexguard

package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/plexguard/plexguard/internal/logging"
	"github.com/plexguard/plexguard/internal/models"
)

// enrichedSession is a snapshot session joined with its device row.
type enrichedSession struct {
	models.Session
	Location models.SessionLocation `json:"location"`
	Device   *sessionDevice         `json:"device,omitempty"`
}

type sessionDevice struct {
	ID           string              `json:"id"`
	Name         string              `json:"name"`
	Status       models.DeviceStatus `json:"status"`
	SessionCount int64               `json:"session_count"`
	TempAccess   bool                `json:"temp_access_active"`
}

// Sessions returns the most recent snapshot enriched with device state.
func (h *Handler) Sessions(w http.ResponseWriter, r *http.Request) {
	snapshot := h.orchestrator.LastSnapshot()
	if snapshot == nil {
		respondJSON(w, http.StatusOK, map[string]interface{}{
			"taken_at": nil,
			"sessions": []enrichedSession{},
		})
		return
	}

	enriched := make([]enrichedSession, 0, len(snapshot.Sessions))
	for i := range snapshot.Sessions {
		session := snapshot.Sessions[i]
		es := enrichedSession{Session: session, Location: session.Location()}

		if session.User.ID != "" && session.Player.MachineID != "" {
			if device, err := h.registry.Get(r.Context(), session.User.ID, session.Player.MachineID); err == nil {
				es.Device = &sessionDevice{
					ID:           device.ID,
					Name:         device.Name,
					Status:       device.Status,
					SessionCount: device.SessionCount,
					TempAccess:   h.registry.IsTempAccessValid(device),
				}
			}
		}
		enriched = append(enriched, es)
	}

	respondJSON(w, http.StatusOK, map[string]interface{}{
		"taken_at": snapshot.TakenAt,
		"sessions": enriched,
	})
}

// terminateRequest is the admin-initiated termination body.
type terminateRequest struct {
	Reason string `json:"reason" validate:"required,max=500"`
}

// TerminateSession stops one session with an operator-supplied reason.
func (h *Handler) TerminateSession(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")
	if sessionID == "" {
		respondError(w, http.StatusBadRequest, "VALIDATION_ERROR", "session id is required", nil)
		return
	}

	var req terminateRequest
	if !decodeBody(w, r, &req) {
		return
	}

	if err := h.upstream.TerminateSession(r.Context(), sessionID, req.Reason); err != nil {
		logging.Error().Err(err).Str("session", sessionID).Msg("admin termination failed")
		respondError(w, http.StatusBadGateway, "UPSTREAM_ERROR", "the media server refused the termination", nil)
		return
	}

	logging.Info().Str("session", sessionID).Msg("session terminated by operator")
	respondJSON(w, http.StatusOK, map[string]string{"session_id": sessionID, "result": "terminated"})
}
