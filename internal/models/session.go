// PlexGuard - Access Control and Session Enforcement for Plex
// Copyright 2026 PlexGuard Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/plexguard/plexguard

package models

import (
	"net"
	"time"
)

// SessionLocation classifies where a session originates.
type SessionLocation string

const (
	LocationLAN SessionLocation = "lan"
	LocationWAN SessionLocation = "wan"
)

// ProductPlexamp is the Plex client product name that bypasses every policy.
// Plexamp is audio-only and treated as always approved.
const ProductPlexamp = "Plexamp"

// SessionUser identifies the account behind a session. ID is always the
// decimal-string form of the Plex account id; upstream payloads are
// normalized at the client boundary so every later comparison is
// string-on-string.
type SessionUser struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Thumb string `json:"thumb,omitempty"`
}

// SessionPlayer describes the client device a session plays on.
type SessionPlayer struct {
	MachineID string `json:"machine_id"`
	Platform  string `json:"platform"`
	Product   string `json:"product"`
	Version   string `json:"version"`
	Address   string `json:"address"`
	State     string `json:"state"`
	Title     string `json:"title"`
}

// SessionMedia carries delivered stream quality.
type SessionMedia struct {
	Resolution string `json:"resolution,omitempty"`
	Bitrate    int    `json:"bitrate,omitempty"`
	Container  string `json:"container,omitempty"`
	VideoCodec string `json:"video_codec,omitempty"`
	AudioCodec string `json:"audio_codec,omitempty"`
}

// SessionContent carries what is being played.
type SessionContent struct {
	Title            string `json:"title"`
	GrandparentTitle string `json:"grandparent_title,omitempty"`
	ParentTitle      string `json:"parent_title,omitempty"`
	Year             int    `json:"year,omitempty"`
	Duration         int64  `json:"duration,omitempty"`
	ViewOffset       int64  `json:"view_offset,omitempty"`
	Type             string `json:"type"`
	Thumb            string `json:"thumb,omitempty"`
	Art              string `json:"art,omitempty"`
	RatingKey        string `json:"rating_key,omitempty"`
	ParentRatingKey  string `json:"parent_rating_key,omitempty"`
}

// Session is the normalized view of one active playback on the upstream
// server. SessionKey identifies the playback slot; SessionID is the
// identifier the terminate endpoint expects.
type Session struct {
	SessionKey string         `json:"session_key"`
	SessionID  string         `json:"session_id"`
	User       SessionUser    `json:"user"`
	Player     SessionPlayer  `json:"player"`
	Media      SessionMedia   `json:"media"`
	Content    SessionContent `json:"content"`
}

// Location derives lan/wan from the player source address. RFC 1918,
// loopback, and link-local addresses count as LAN; everything else,
// including unparsable addresses, counts as WAN.
func (s *Session) Location() SessionLocation {
	ip := net.ParseIP(s.Player.Address)
	if ip == nil {
		return LocationWAN
	}
	if ip.IsLoopback() || ip.IsPrivate() || ip.IsLinkLocalUnicast() {
		return LocationLAN
	}
	return LocationWAN
}

// SessionSnapshot is the canonical per-tick view of all active sessions.
type SessionSnapshot struct {
	TakenAt  time.Time `json:"taken_at"`
	Sessions []Session `json:"sessions"`
}

// ForUser returns the sessions in the snapshot belonging to the given
// (normalized) user id.
func (s *SessionSnapshot) ForUser(userID string) []Session {
	var out []Session
	for i := range s.Sessions {
		if s.Sessions[i].User.ID == userID {
			out = append(out, s.Sessions[i])
		}
	}
	return out
}
