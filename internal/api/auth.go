// PlexGuard - Access Control and Session Enforcement for Plex
// Copyright 2026 PlexGuard Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/plexguard/plexguard

package api

import (
	"context"
	"crypto/subtle"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/plexguard/plexguard/internal/settings"
)

// Full admin authentication (operator accounts, cookie sessions) lives in
// the web UI layer, outside this daemon. The core carries two lightweight
// gates: a shared bearer token for the admin surface, and signed portal
// tokens that scope the self-service portal to one Plex user id.

type contextKey string

// portalUserKey carries the authenticated portal user id.
const portalUserKey contextKey = "portal_user_id"

// AdminAuth checks the Authorization bearer token against the
// ADMIN_API_TOKEN setting. An empty setting disables the gate (the
// expected deployment puts the UI's own auth in front).
func (h *Handler) AdminAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		expected := h.store.GetString(r.Context(), settings.KeyAdminAPIToken)
		if expected == "" {
			next.ServeHTTP(w, r)
			return
		}

		supplied := strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
		if subtle.ConstantTimeCompare([]byte(supplied), []byte(expected)) != 1 {
			respondError(w, http.StatusUnauthorized, "UNAUTHORIZED", "missing or invalid admin token", nil)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// portalClaims are the JWT claims carried by portal tokens.
type portalClaims struct {
	jwt.RegisteredClaims
}

// IssuePortalToken mints a signed portal token for one Plex user id.
func (h *Handler) IssuePortalToken(ctx context.Context, userID string, ttl time.Duration) (string, error) {
	secret := h.store.GetString(ctx, settings.KeyPortalJWTSecret)
	if secret == "" {
		return "", fmt.Errorf("portal secret is not configured")
	}

	now := time.Now().UTC()
	claims := portalClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
			Issuer:    "plexguard",
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString([]byte(secret))
	if err != nil {
		return "", fmt.Errorf("sign portal token: %w", err)
	}
	return signed, nil
}

// PortalAuth validates the X-Portal-Token header and stores the token's
// user id in the request context. Every portal route is scoped to it.
func (h *Handler) PortalAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		raw := r.Header.Get("X-Portal-Token")
		if raw == "" {
			respondError(w, http.StatusUnauthorized, "UNAUTHORIZED", "missing portal token", nil)
			return
		}

		secret := h.store.GetString(r.Context(), settings.KeyPortalJWTSecret)
		claims := &portalClaims{}
		token, err := jwt.ParseWithClaims(raw, claims, func(t *jwt.Token) (interface{}, error) {
			if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
				return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
			}
			return []byte(secret), nil
		})
		if err != nil || !token.Valid || claims.Subject == "" {
			respondError(w, http.StatusUnauthorized, "UNAUTHORIZED", "invalid portal token", nil)
			return
		}

		ctx := context.WithValue(r.Context(), portalUserKey, claims.Subject)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// portalUser returns the authenticated portal user id.
func portalUser(ctx context.Context) string {
	if id, ok := ctx.Value(portalUserKey).(string); ok {
		return id
	}
	return ""
}
