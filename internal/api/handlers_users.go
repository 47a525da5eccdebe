// PlexGuard - Access Control and Session Enforcement for Plex
// Copyright 2026 PlexGuard Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/plexguard/plexguard

package api

import (
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/plexguard/plexguard/internal/models"
)

// Users lists all observed users with their preferences.
func (h *Handler) Users(w http.ResponseWriter, r *http.Request) {
	prefs, err := h.db.ListUserPreferences(r.Context())
	if err != nil {
		respondStorageError(w, err)
		return
	}
	if prefs == nil {
		prefs = []*models.UserPreference{}
	}
	respondJSON(w, http.StatusOK, prefs)
}

// userPreferenceRequest updates the pending-device default for a user.
// A null default_block clears the override and falls back to the global.
type userPreferenceRequest struct {
	DefaultBlock *bool `json:"default_block"`
}

// UpdateUserPreference handles POST /users/{userID}/preference.
func (h *Handler) UpdateUserPreference(w http.ResponseWriter, r *http.Request) {
	var req userPreferenceRequest
	if !decodeBody(w, r, &req) {
		return
	}

	h.mutatePreference(w, r, func(pref *models.UserPreference) {
		pref.DefaultBlock = req.DefaultBlock
	})
}

// ipPolicyRequest updates a user's network and allow-list policy.
type ipPolicyRequest struct {
	NetworkPolicy  string   `json:"network_policy" validate:"required,oneof=both lan wan"`
	IPAccessPolicy string   `json:"ip_access_policy" validate:"required,oneof=all restricted"`
	AllowedIPs     []string `json:"allowed_ips" validate:"max=100,dive,required"`
}

// UpdateIPPolicy handles POST /users/{userID}/ip-policy.
func (h *Handler) UpdateIPPolicy(w http.ResponseWriter, r *http.Request) {
	var req ipPolicyRequest
	if !decodeBody(w, r, &req) {
		return
	}

	for _, entry := range req.AllowedIPs {
		if !validAllowListEntry(entry) {
			respondError(w, http.StatusBadRequest, "VALIDATION_ERROR",
				"allowed_ips entry is neither an IP nor a CIDR: "+entry, nil)
			return
		}
	}

	h.mutatePreference(w, r, func(pref *models.UserPreference) {
		pref.NetworkPolicy = models.NetworkPolicy(req.NetworkPolicy)
		pref.IPAccessPolicy = models.IPAccessPolicy(req.IPAccessPolicy)
		pref.AllowedIPs = req.AllowedIPs
	})
}

// streamLimitRequest updates a user's concurrent-stream cap.
// Null falls back to the global; 0 means unlimited.
type streamLimitRequest struct {
	Limit *int `json:"limit" validate:"omitempty,gte=0,lte=100"`
}

// UpdateStreamLimit handles POST /users/{userID}/concurrent-stream-limit.
func (h *Handler) UpdateStreamLimit(w http.ResponseWriter, r *http.Request) {
	var req streamLimitRequest
	if !decodeBody(w, r, &req) {
		return
	}

	h.mutatePreference(w, r, func(pref *models.UserPreference) {
		pref.ConcurrentStreamLimit = req.Limit
	})
}

// HideUser handles POST /users/{userID}/hide.
func (h *Handler) HideUser(w http.ResponseWriter, r *http.Request) {
	h.mutatePreference(w, r, func(pref *models.UserPreference) { pref.Hidden = true })
}

// ShowUser handles POST /users/{userID}/show.
func (h *Handler) ShowUser(w http.ResponseWriter, r *http.Request) {
	h.mutatePreference(w, r, func(pref *models.UserPreference) { pref.Hidden = false })
}

// PortalToken mints a portal token scoping the self-service portal to the
// given user. The operator hands the resulting link to the user.
func (h *Handler) PortalToken(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userID")

	token, err := h.IssuePortalToken(r.Context(), userID, 30*24*time.Hour)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "TOKEN_ERROR", "could not issue portal token", nil)
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"user_id": userID, "token": token})
}

// mutatePreference loads (or lazily creates) the user's preference row,
// applies the mutation, and persists it.
func (h *Handler) mutatePreference(w http.ResponseWriter, r *http.Request, mutate func(*models.UserPreference)) {
	userID := chi.URLParam(r, "userID")
	if userID == "" {
		respondError(w, http.StatusBadRequest, "VALIDATION_ERROR", "user id is required", nil)
		return
	}

	pref, err := h.db.GetUserPreference(r.Context(), userID)
	if err != nil {
		// First admin write for a user the poller has not seen yet.
		pref = models.DefaultUserPreference(userID, "", "")
	}

	mutate(pref)

	if err := h.db.UpsertUserPreference(r.Context(), pref); err != nil {
		respondStorageError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, pref)
}

// validAllowListEntry accepts a single IP or a CIDR range.
func validAllowListEntry(entry string) bool {
	entry = strings.TrimSpace(entry)
	if entry == "" {
		return false
	}
	if strings.Contains(entry, "/") {
		_, _, err := net.ParseCIDR(entry)
		return err == nil
	}
	return net.ParseIP(entry) != nil
}
