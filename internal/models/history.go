// PlexGuard - Access Control and Session Enforcement for Plex
// Copyright 2026 PlexGuard Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/plexguard/plexguard

package models

import "time"

// SessionHistoryEntry is one observed session in the append-mostly log.
// The policy engine reads it only to order a user's concurrent sessions by
// age; the admin UI reads it for display.
type SessionHistoryEntry struct {
	ID               string     `json:"id"`
	SessionKey       string     `json:"session_key"`
	UserID           string     `json:"user_id"`
	DeviceID         string     `json:"device_id,omitempty"`
	DeviceIdentifier string     `json:"device_identifier"`
	DeviceAddress    string     `json:"device_address"`
	Title            string     `json:"title"`
	GrandparentTitle string     `json:"grandparent_title,omitempty"`
	MediaType        string     `json:"media_type"`
	StartedAt        time.Time  `json:"started_at"`
	EndedAt          *time.Time `json:"ended_at,omitempty"`
}

// Active reports whether the session has not been closed yet.
func (e *SessionHistoryEntry) Active() bool {
	return e.EndedAt == nil
}
