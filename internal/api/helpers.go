// PlexGuard - Access Control and Session Enforcement for Plex
// Copyright 2026 PlexGuard Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/plexguard/plexguard

package api

import (
	"errors"
	"net/http"
	"time"

	"github.com/goccy/go-json"

	"github.com/plexguard/plexguard/internal/database"
	"github.com/plexguard/plexguard/internal/logging"
	"github.com/plexguard/plexguard/internal/models"
	"github.com/plexguard/plexguard/internal/validation"
)

// maxBodyBytes bounds inbound JSON bodies.
const maxBodyBytes = 64 << 10

// respondJSON sends the standard response envelope.
func respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")

	payload, err := json.Marshal(&models.APIResponse{
		Status:   "ok",
		Data:     data,
		Metadata: models.Metadata{Timestamp: time.Now().UTC()},
	})
	if err != nil {
		logging.Error().Err(err).Msg("failed to marshal JSON response")
		w.WriteHeader(http.StatusInternalServerError)
		return
	}

	w.WriteHeader(status)
	if _, err := w.Write(payload); err != nil {
		logging.Error().Err(err).Msg("failed to write JSON response")
	}
}

// respondError sends a structured error response.
func respondError(w http.ResponseWriter, status int, code, message string, details map[string]interface{}) {
	w.Header().Set("Content-Type", "application/json")

	payload, err := json.Marshal(&models.APIResponse{
		Status:   "error",
		Metadata: models.Metadata{Timestamp: time.Now().UTC()},
		Error:    &models.APIError{Code: code, Message: message, Details: details},
	})
	if err != nil {
		w.WriteHeader(http.StatusInternalServerError)
		return
	}

	w.WriteHeader(status)
	w.Write(payload) //nolint:errcheck
}

// respondStorageError maps repository errors onto API errors.
func respondStorageError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, database.ErrNotFound):
		respondError(w, http.StatusNotFound, "NOT_FOUND", "resource not found", nil)
	case errors.Is(err, database.ErrNoteAlreadySubmitted):
		respondError(w, http.StatusConflict, "NOTE_ALREADY_SUBMITTED", "this device has already submitted its note", nil)
	default:
		logging.Error().Err(err).Msg("storage operation failed")
		respondError(w, http.StatusInternalServerError, "STORAGE_ERROR", "storage operation failed", nil)
	}
}

// decodeBody decodes and validates a JSON request body into v.
// Returns false after writing the error response when the body is bad.
func decodeBody(w http.ResponseWriter, r *http.Request, v interface{}) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)

	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(v); err != nil {
		respondError(w, http.StatusBadRequest, "BAD_JSON", "request body is not valid JSON: "+err.Error(), nil)
		return false
	}

	if verr := validation.ValidateStruct(v); verr != nil {
		respondError(w, http.StatusBadRequest, "VALIDATION_ERROR", verr.Error(), verr.Details())
		return false
	}

	return true
}
