// PlexGuard - Access Control and Session Enforcement for Plex
// Copyright 2026 PlexGuard Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/plexguard/plexguard

package plex

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/plexguard/plexguard/internal/metrics"
	"github.com/plexguard/plexguard/internal/models"
)

// identityCache holds the server machine identifier after first success.
// It is the only process-wide cache the client keeps.
var identityCache struct {
	mu        sync.Mutex
	machineID string
}

// FetchSessions retrieves active playback sessions and normalizes them into
// a snapshot.
//
// Endpoint: GET /status/sessions
func (c *Client) FetchSessions(ctx context.Context) (*models.SessionSnapshot, error) {
	var resp models.PlexSessionsResponse
	err := c.doJSONRequest(ctx, "/status/sessions", &resp)
	metrics.RecordUpstreamRequest("fetch_sessions", err)
	if err != nil {
		return nil, fmt.Errorf("fetch sessions: %w", err)
	}

	snapshot := &models.SessionSnapshot{
		TakenAt:  time.Now().UTC(),
		Sessions: make([]models.Session, 0, len(resp.MediaContainer.Metadata)),
	}
	for i := range resp.MediaContainer.Metadata {
		snapshot.Sessions = append(snapshot.Sessions, normalizeSession(&resp.MediaContainer.Metadata[i]))
	}

	return snapshot, nil
}

// TerminateSession instructs the server to stop a session. The reason is
// surfaced to the viewer by the Plex client.
//
// Endpoint: GET /status/sessions/terminate?sessionId=...&reason=...
func (c *Client) TerminateSession(ctx context.Context, sessionID, reason string) error {
	query := url.Values{}
	query.Set("sessionId", sessionID)
	query.Set("reason", reason)

	err := c.doRequest(ctx, requestConfig{
		method:      http.MethodGet,
		path:        "/status/sessions/terminate",
		query:       query,
		expectNoErr: true,
	}, nil)
	metrics.RecordUpstreamRequest("terminate_session", err)
	if err != nil {
		return fmt.Errorf("terminate session %s: %w", sessionID, err)
	}
	return nil
}

// ServerIdentity returns the server machine identifier, cached after the
// first successful fetch. Used to construct deep-links into the Plex UI.
//
// Endpoint: GET /identity
func (c *Client) ServerIdentity(ctx context.Context) (string, error) {
	identityCache.mu.Lock()
	cached := identityCache.machineID
	identityCache.mu.Unlock()
	if cached != "" {
		return cached, nil
	}

	var resp models.PlexIdentityResponse
	err := c.doJSONRequest(ctx, "/identity", &resp)
	metrics.RecordUpstreamRequest("server_identity", err)
	if err != nil {
		return "", fmt.Errorf("fetch server identity: %w", err)
	}

	machineID := resp.MediaContainer.MachineIdentifier
	if machineID == "" {
		return "", fmt.Errorf("server identity response missing machineIdentifier")
	}

	identityCache.mu.Lock()
	identityCache.machineID = machineID
	identityCache.mu.Unlock()
	return machineID, nil
}

// ResetIdentityCache clears the cached machine identifier. Tests only.
func ResetIdentityCache() {
	identityCache.mu.Lock()
	identityCache.machineID = ""
	identityCache.mu.Unlock()
}

// normalizeSession maps a raw Plex session onto the canonical Session.
// The terminate-capable Session.ID falls back to the session key on older
// servers that omit the Session object.
func normalizeSession(raw *models.PlexSession) models.Session {
	s := models.Session{
		SessionKey: raw.SessionKey,
		SessionID:  raw.SessionKey,
		Content: models.SessionContent{
			Title:            raw.Title,
			GrandparentTitle: raw.GrandparentTitle,
			ParentTitle:      raw.ParentTitle,
			Year:             raw.Year,
			Duration:         raw.Duration,
			ViewOffset:       raw.ViewOffset,
			Type:             raw.Type,
			Thumb:            raw.Thumb,
			Art:              raw.Art,
			RatingKey:        raw.RatingKey,
			ParentRatingKey:  raw.ParentRatingKey,
		},
	}

	if raw.Session != nil && raw.Session.ID != "" {
		s.SessionID = raw.Session.ID
	}
	if raw.User != nil {
		s.User = models.SessionUser{
			ID:    string(raw.User.ID),
			Name:  raw.User.Title,
			Thumb: raw.User.Thumb,
		}
	}
	if raw.Player != nil {
		s.Player = models.SessionPlayer{
			MachineID: raw.Player.MachineID,
			Platform:  raw.Player.Platform,
			Product:   raw.Player.Product,
			Version:   raw.Player.Version,
			Address:   raw.Player.Address,
			State:     raw.Player.State,
			Title:     raw.Player.Title,
		}
	}
	if len(raw.Media) > 0 {
		m := raw.Media[0]
		s.Media = models.SessionMedia{
			Resolution: m.VideoResolution,
			Bitrate:    m.Bitrate,
			Container:  m.Container,
			VideoCodec: m.VideoCodec,
			AudioCodec: m.AudioCodec,
		}
	}

	return s
}
