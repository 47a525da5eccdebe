// PlexGuard - Access Control and Session Enforcement for Plex
// Copyright 2026 PlexGuard Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/plexguard/plexguard

package models

import (
	"bytes"
	"fmt"

	"github.com/goccy/go-json"
)

// FlexibleID decodes a Plex identifier that arrives as either a JSON string
// or a bare number, normalizing both to the decimal-string form used for
// every comparison inside the daemon.
type FlexibleID string

// UnmarshalJSON implements json.Unmarshaler.
func (f *FlexibleID) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		*f = ""
		return nil
	}
	if data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return fmt.Errorf("decode id: %w", err)
		}
		*f = FlexibleID(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return fmt.Errorf("decode id: %w", err)
	}
	*f = FlexibleID(n.String())
	return nil
}

// Plex API response structures for GET /status/sessions and GET /identity.
// Field names follow the Plex Media Server JSON payloads (Accept:
// application/json). Only the fields PlexGuard consumes are mapped.

// PlexSessionsResponse represents the top-level response from /status/sessions.
type PlexSessionsResponse struct {
	MediaContainer PlexSessionsContainer `json:"MediaContainer"`
}

// PlexSessionsContainer wraps the active session metadata array.
type PlexSessionsContainer struct {
	Size     int           `json:"size"`
	Metadata []PlexSession `json:"Metadata"`
}

// PlexSession represents a single active playback session.
type PlexSession struct {
	// Session identification
	SessionKey string           `json:"sessionKey"`
	Session    *PlexSessionInfo `json:"Session,omitempty"`

	// Content information
	RatingKey            string `json:"ratingKey"`
	ParentRatingKey      string `json:"parentRatingKey,omitempty"`
	GrandparentRatingKey string `json:"grandparentRatingKey,omitempty"`
	Type                 string `json:"type"` // "movie", "episode", "track"
	Title                string `json:"title"`
	GrandparentTitle     string `json:"grandparentTitle,omitempty"`
	ParentTitle          string `json:"parentTitle,omitempty"`
	Year                 int    `json:"year,omitempty"`
	Thumb                string `json:"thumb,omitempty"`
	Art                  string `json:"art,omitempty"`
	Duration             int64  `json:"duration,omitempty"`   // milliseconds
	ViewOffset           int64  `json:"viewOffset,omitempty"` // milliseconds

	// User and player
	User   *PlexSessionUser   `json:"User,omitempty"`
	Player *PlexSessionPlayer `json:"Player,omitempty"`

	// Media streams (source quality)
	Media []PlexMedia `json:"Media,omitempty"`
}

// PlexSessionInfo carries the terminate-capable session identifier. The
// sessionKey above identifies the playback slot; Session.ID is what
// /status/sessions/terminate expects.
type PlexSessionInfo struct {
	ID        string `json:"id"`
	Bandwidth int64  `json:"bandwidth,omitempty"`
	Location  string `json:"location,omitempty"` // "lan" or "wan" as reported by Plex
}

// PlexSessionUser represents the account watching a session.
type PlexSessionUser struct {
	ID    FlexibleID `json:"id"`
	Title string     `json:"title"` // username
	Thumb string     `json:"thumb,omitempty"`
}

// PlexSessionPlayer represents the client device playing a session.
type PlexSessionPlayer struct {
	Address         string `json:"address"` // client IP address
	MachineID       string `json:"machineIdentifier"`
	Platform        string `json:"platform"`
	PlatformVersion string `json:"platformVersion,omitempty"`
	Product         string `json:"product"` // e.g. "Plex Web", "Plexamp"
	State           string `json:"state"`   // "playing", "paused", "buffering"
	Title           string `json:"title"`   // device friendly name
	Version         string `json:"version"`
	Local           bool   `json:"local,omitempty"`
}

// PlexMedia represents a media item variant with its stream quality.
type PlexMedia struct {
	VideoResolution string `json:"videoResolution,omitempty"`
	Bitrate         int    `json:"bitrate,omitempty"`
	Container       string `json:"container,omitempty"`
	VideoCodec      string `json:"videoCodec,omitempty"`
	AudioCodec      string `json:"audioCodec,omitempty"`
}

// PlexIdentityResponse represents the response from /identity.
type PlexIdentityResponse struct {
	MediaContainer PlexIdentityContainer `json:"MediaContainer"`
}

// PlexIdentityContainer wraps server identity information.
type PlexIdentityContainer struct {
	MachineIdentifier string `json:"machineIdentifier"`
	Version           string `json:"version"`
}
