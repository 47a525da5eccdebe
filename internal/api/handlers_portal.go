// PlexGuard - Access Control and Session Enforcement for Plex
// Copyright 2026 PlexGuard Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/plexguard/plexguard

package api

import (
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/plexguard/plexguard/internal/database"
	"github.com/plexguard/plexguard/internal/models"
	"github.com/plexguard/plexguard/internal/settings"
)

// The user portal is scoped to the Plex user id carried by the portal
// token; every handler filters by it and nothing else is reachable.

// portalDevice is the user-facing projection of a device row. Admin-only
// fields (exclusion flag, last ip) stay hidden.
type portalDevice struct {
	ID          string              `json:"id"`
	Name        string              `json:"name"`
	Platform    string              `json:"platform,omitempty"`
	Product     string              `json:"product,omitempty"`
	Status      models.DeviceStatus `json:"status"`
	FirstSeen   string              `json:"first_seen"`
	LastSeen    string              `json:"last_seen"`
	TempAccess  bool                `json:"temp_access_active"`
	NoteAllowed bool                `json:"note_allowed"`
}

// PortalDevices handles GET /user-portal/devices.
func (h *Handler) PortalDevices(w http.ResponseWriter, r *http.Request) {
	userID := portalUser(r.Context())

	devices, err := h.registry.ListForUser(r.Context(), userID)
	if err != nil {
		respondStorageError(w, err)
		return
	}

	out := make([]portalDevice, 0, len(devices))
	for _, d := range devices {
		out = append(out, portalDevice{
			ID:          d.ID,
			Name:        d.Name,
			Platform:    d.Platform,
			Product:     d.Product,
			Status:      d.Status,
			FirstSeen:   d.FirstSeen.Format(time.RFC3339),
			LastSeen:    d.LastSeen.Format(time.RFC3339),
			TempAccess:  h.registry.IsTempAccessValid(d),
			NoteAllowed: d.Note.SubmittedAt == nil,
		})
	}
	respondJSON(w, http.StatusOK, out)
}

// PortalRules handles GET /user-portal/rules.
func (h *Handler) PortalRules(w http.ResponseWriter, r *http.Request) {
	userID := portalUser(r.Context())

	rules, err := h.db.ListTimeRulesForUser(r.Context(), userID)
	if err != nil {
		respondStorageError(w, err)
		return
	}
	if rules == nil {
		rules = []*models.TimeRule{}
	}
	respondJSON(w, http.StatusOK, rules)
}

// PortalSettings handles GET /user-portal/settings: the slice of policy
// that applies to the calling user.
func (h *Handler) PortalSettings(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	userID := portalUser(ctx)

	pref, err := h.db.GetUserPreference(ctx, userID)
	if err != nil {
		pref = models.DefaultUserPreference(userID, "", "")
	}

	limit := h.store.GetInt(ctx, settings.KeyConcurrentStreamLimit)
	if pref.ConcurrentStreamLimit != nil {
		limit = *pref.ConcurrentStreamLimit
	}
	defaultBlock := h.store.GetBool(ctx, settings.KeyDefaultBlock)
	if pref.DefaultBlock != nil {
		defaultBlock = *pref.DefaultBlock
	}

	respondJSON(w, http.StatusOK, map[string]interface{}{
		"network_policy":          pref.NetworkPolicy,
		"ip_access_policy":        pref.IPAccessPolicy,
		"concurrent_stream_limit": limit,
		"default_block":           defaultBlock,
		"timezone":                h.store.GetString(ctx, settings.KeyTimezone),
	})
}

// portalNoteRequest is the one-time device note body.
type portalNoteRequest struct {
	Description string `json:"description" validate:"required,max=1000"`
}

// PortalSubmitNote handles POST /user-portal/devices/{deviceID}/request.
// The device must belong to the calling user, and each device accepts
// exactly one note over its lifetime.
func (h *Handler) PortalSubmitNote(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	userID := portalUser(ctx)
	deviceID := chi.URLParam(r, "deviceID")

	device, err := h.registry.GetByID(ctx, deviceID)
	if err != nil {
		respondStorageError(w, err)
		return
	}
	if device.UserID != userID {
		// Hide other users' devices entirely.
		respondError(w, http.StatusNotFound, "NOT_FOUND", "resource not found", nil)
		return
	}

	var req portalNoteRequest
	if !decodeBody(w, r, &req) {
		return
	}

	if err := h.registry.SubmitNote(ctx, deviceID, req.Description); err != nil {
		if errors.Is(err, database.ErrNoteAlreadySubmitted) {
			respondError(w, http.StatusConflict, "NOTE_ALREADY_SUBMITTED",
				"this device has already submitted its request", nil)
			return
		}
		respondStorageError(w, err)
		return
	}

	respondJSON(w, http.StatusCreated, map[string]string{"device_id": deviceID, "result": "submitted"})
}
