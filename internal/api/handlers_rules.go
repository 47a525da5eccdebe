// PlexGuard - Access Control and Session Enforcement for Plex
// Copyright 2026 PlexGuard Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/plexguard/plexguard

package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/plexguard/plexguard/internal/models"
)

// timeRuleRequest is the create/update body for a weekly block window.
type timeRuleRequest struct {
	DeviceIdentifier string `json:"device_identifier"`
	DayOfWeek        int    `json:"day_of_week" validate:"gte=0,lte=6"`
	StartTime        string `json:"start_time" validate:"required"`
	EndTime          string `json:"end_time" validate:"required"`
	Enabled          bool   `json:"enabled"`
	RuleName         string `json:"rule_name" validate:"max=100"`
}

func (req *timeRuleRequest) toRule(id, userID string) *models.TimeRule {
	return &models.TimeRule{
		ID:               id,
		UserID:           userID,
		DeviceIdentifier: req.DeviceIdentifier,
		DayOfWeek:        req.DayOfWeek,
		StartTime:        req.StartTime,
		EndTime:          req.EndTime,
		Enabled:          req.Enabled,
		RuleName:         req.RuleName,
	}
}

// ListRules handles GET /users/{userID}/rules.
func (h *Handler) ListRules(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userID")
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

// CreateRule handles POST /users/{userID}/rules.
func (h *Handler) CreateRule(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userID")

	var req timeRuleRequest
	if !decodeBody(w, r, &req) {
		return
	}

	rule := req.toRule(uuid.New().String(), userID)
	if err := rule.Validate(); err != nil {
		respondError(w, http.StatusBadRequest, "VALIDATION_ERROR", err.Error(), nil)
		return
	}

	if err := h.db.InsertTimeRule(r.Context(), rule); err != nil {
		respondStorageError(w, err)
		return
	}
	respondJSON(w, http.StatusCreated, rule)
}

// UpdateRule handles PUT /users/{userID}/rules/{ruleID}.
func (h *Handler) UpdateRule(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userID")
	ruleID := chi.URLParam(r, "ruleID")

	var req timeRuleRequest
	if !decodeBody(w, r, &req) {
		return
	}

	rule := req.toRule(ruleID, userID)
	if err := rule.Validate(); err != nil {
		respondError(w, http.StatusBadRequest, "VALIDATION_ERROR", err.Error(), nil)
		return
	}

	if err := h.db.UpdateTimeRule(r.Context(), rule); err != nil {
		respondStorageError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, rule)
}

// DeleteRule handles DELETE /users/{userID}/rules/{ruleID}.
func (h *Handler) DeleteRule(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userID")
	ruleID := chi.URLParam(r, "ruleID")

	if err := h.db.DeleteTimeRule(r.Context(), userID, ruleID); err != nil {
		respondStorageError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"deleted": ruleID})
}
