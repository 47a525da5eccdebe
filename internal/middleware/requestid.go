// PlexGuard - Access Control and Session Enforcement for Plex
// Copyright 2026 PlexGuard Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/plexguard/plexguard

// Package middleware provides the HTTP middleware shared by the admin and
// portal surfaces: request ids, Prometheus instrumentation, and security
// headers.
package middleware

import (
	"net/http"

	"github.com/google/uuid"

	"github.com/plexguard/plexguard/internal/logging"
)

// RequestID attaches a unique id to each request, honoring one supplied by
// an upstream proxy, and threads it into the logging context.
func RequestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := r.Header.Get("X-Request-ID")
		if requestID == "" {
			requestID = uuid.New().String()
		}

		w.Header().Set("X-Request-ID", requestID)
		ctx := logging.ContextWithRequestID(r.Context(), requestID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}
