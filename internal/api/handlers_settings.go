// PlexGuard - Access Control and Session Enforcement for Plex
// Copyright 2026 PlexGuard Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/plexguard/plexguard

package api

import (
	"errors"
	"net/http"

	"github.com/plexguard/plexguard/internal/models"
	"github.com/plexguard/plexguard/internal/settings"
)

// Settings handles GET /settings. Private settings appear with masked
// values so the UI can show that they are configured without ever carrying
// the secret.
func (h *Handler) Settings(w http.ResponseWriter, r *http.Request) {
	list, err := h.store.List(r.Context(), true)
	if err != nil {
		respondStorageError(w, err)
		return
	}
	if list == nil {
		list = []*models.Setting{}
	}
	respondJSON(w, http.StatusOK, list)
}

// settingsPatchRequest writes one or more settings in a single call.
type settingsPatchRequest struct {
	Settings map[string]string `json:"settings" validate:"required,min=1,max=50"`
}

// PatchSettings handles PATCH /settings. Unknown keys reject the whole
// request before anything is written. Values are type-checked as each key
// is written, in map iteration order: a type-invalid value stops the
// request at that key, and keys written before it stay written and are
// listed under "applied" in the error details.
func (h *Handler) PatchSettings(w http.ResponseWriter, r *http.Request) {
	var req settingsPatchRequest
	if !decodeBody(w, r, &req) {
		return
	}

	for key := range req.Settings {
		if !settings.Known(key) {
			respondError(w, http.StatusBadRequest, "UNKNOWN_SETTING", "unrecognized setting key: "+key, nil)
			return
		}
	}

	ctx := r.Context()
	applied := make([]string, 0, len(req.Settings))
	for key, value := range req.Settings {
		if err := h.store.Set(ctx, key, value); err != nil {
			if errors.Is(err, settings.ErrUnknownKey) {
				respondError(w, http.StatusBadRequest, "UNKNOWN_SETTING", err.Error(), nil)
				return
			}
			respondError(w, http.StatusBadRequest, "VALIDATION_ERROR", err.Error(),
				map[string]interface{}{"key": key, "applied": applied})
			return
		}
		applied = append(applied, key)
	}

	respondJSON(w, http.StatusOK, map[string]interface{}{"updated": applied})
}
