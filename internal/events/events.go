// PlexGuard - Access Control and Session Enforcement for Plex
// Copyright 2026 PlexGuard Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/plexguard/plexguard

// Package events implements the in-process event bus. Device-tracking and
// enforcement events are published per tick in emission order; notifier
// subscribers (websocket feed, future email/webhook transports) consume
// them without being able to fail the publisher.
//
// The bus rides on Watermill's gochannel Pub/Sub with publish blocking
// until subscriber ack, which preserves per-tick emission order end to end.
package events

import (
	"time"
)

// Topics carried on the bus.
const (
	TopicNewDevice      = "new_device"
	TopicLocationChange = "location_change"
	TopicReturnedDevice = "returned_device"
	TopicNoteSubmitted  = "device_note_submitted"
	TopicStreamBlocked  = "stream_blocked"
)

// DeviceRef identifies a device in event payloads without dragging the full
// row along.
type DeviceRef struct {
	ID               string `json:"id"`
	UserID           string `json:"user_id"`
	Username         string `json:"username,omitempty"`
	DeviceIdentifier string `json:"device_identifier"`
	Name             string `json:"name"`
	Product          string `json:"product,omitempty"`
	Platform         string `json:"platform,omitempty"`
}

// NewDevice is emitted when a session reveals a device never seen before.
type NewDevice struct {
	Device   DeviceRef `json:"device"`
	IP       string    `json:"ip"`
	SeenAt   time.Time `json:"seen_at"`
	AutoMode string    `json:"auto_mode,omitempty"` // "approved" or "rejected" under strict mode
}

// LocationChange is emitted when a known device shows up from a new address.
type LocationChange struct {
	Device DeviceRef `json:"device"`
	OldIP  string    `json:"old_ip"`
	NewIP  string    `json:"new_ip"`
	SeenAt time.Time `json:"seen_at"`
}

// ReturnedDevice is emitted when a device reappears after the configured
// inactivity threshold.
type ReturnedDevice struct {
	Device       DeviceRef `json:"device"`
	LastSeen     time.Time `json:"last_seen"`
	ReturnedAt   time.Time `json:"returned_at"`
	AwayDuration string    `json:"away_duration"`
}

// NoteSubmitted is emitted when a user submits their device's one-time note.
type NoteSubmitted struct {
	Device      DeviceRef `json:"device"`
	Description string    `json:"description"`
	SubmittedAt time.Time `json:"submitted_at"`
}

// StreamBlocked is emitted after a session has been terminated upstream.
type StreamBlocked struct {
	Device     DeviceRef `json:"device"`
	SessionKey string    `json:"session_key"`
	StopCode   string    `json:"stop_code"`
	Reason     string    `json:"reason"`
	IP         string    `json:"ip"`
	BlockedAt  time.Time `json:"blocked_at"`
}
