// PlexGuard - Access Control and Session Enforcement for Plex
// Copyright 2026 PlexGuard Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/plexguard/plexguard

package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/plexguard/plexguard/internal/models"
)

// Devices handles GET /devices.
func (h *Handler) Devices(w http.ResponseWriter, r *http.Request) {
	devices, err := h.registry.List(r.Context())
	if err != nil {
		respondStorageError(w, err)
		return
	}
	if devices == nil {
		devices = []*models.Device{}
	}
	respondJSON(w, http.StatusOK, devices)
}

// devicePatchRequest mutates one device admin field per call.
type devicePatchRequest struct {
	Action string `json:"action" validate:"required,oneof=rename set_status set_exclusion grant_temp_access revoke_temp_access mark_note_read"`

	// rename
	Name string `json:"name" validate:"omitempty,max=100"`

	// set_status
	Status string `json:"status" validate:"omitempty,oneof=pending approved rejected"`

	// set_exclusion
	Exclude *bool `json:"exclude_from_concurrent_limit"`

	// grant_temp_access
	DurationMinutes int  `json:"duration_minutes" validate:"omitempty,gte=1,lte=10080"`
	BypassPolicies  bool `json:"bypass_policies"`
}

// PatchDevice handles PATCH /devices/{deviceID}.
func (h *Handler) PatchDevice(w http.ResponseWriter, r *http.Request) {
	deviceID := chi.URLParam(r, "deviceID")

	var req devicePatchRequest
	if !decodeBody(w, r, &req) {
		return
	}

	ctx := r.Context()
	var err error
	switch req.Action {
	case "rename":
		if req.Name == "" {
			respondError(w, http.StatusBadRequest, "VALIDATION_ERROR", "name is required for rename", nil)
			return
		}
		err = h.registry.Rename(ctx, deviceID, req.Name)
	case "set_status":
		if req.Status == "" {
			respondError(w, http.StatusBadRequest, "VALIDATION_ERROR", "status is required for set_status", nil)
			return
		}
		err = h.registry.SetStatus(ctx, deviceID, models.DeviceStatus(req.Status))
	case "set_exclusion":
		if req.Exclude == nil {
			respondError(w, http.StatusBadRequest, "VALIDATION_ERROR", "exclude_from_concurrent_limit is required for set_exclusion", nil)
			return
		}
		err = h.registry.SetExclusion(ctx, deviceID, *req.Exclude)
	case "grant_temp_access":
		if req.DurationMinutes == 0 {
			respondError(w, http.StatusBadRequest, "VALIDATION_ERROR", "duration_minutes is required for grant_temp_access", nil)
			return
		}
		err = h.registry.GrantTempAccess(ctx, deviceID, req.DurationMinutes, req.BypassPolicies)
	case "revoke_temp_access":
		err = h.registry.RevokeTempAccess(ctx, deviceID)
	case "mark_note_read":
		err = h.registry.MarkNoteRead(ctx, deviceID)
	}
	if err != nil {
		respondStorageError(w, err)
		return
	}

	device, err := h.registry.GetByID(ctx, deviceID)
	if err != nil {
		respondStorageError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, device)
}

// DeleteDevice handles DELETE /devices/{deviceID}.
func (h *Handler) DeleteDevice(w http.ResponseWriter, r *http.Request) {
	deviceID := chi.URLParam(r, "deviceID")
	if err := h.registry.Delete(r.Context(), deviceID); err != nil {
		respondStorageError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"deleted": deviceID})
}
