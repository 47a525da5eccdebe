// PlexGuard - Access Control and Session Enforcement for Plex
// Copyright 2026 PlexGuard Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/plexguard/plexguard

package models

import "time"

// DeviceStatus is the approval state of a device.
type DeviceStatus string

const (
	DeviceStatusPending  DeviceStatus = "pending"
	DeviceStatusApproved DeviceStatus = "approved"
	DeviceStatusRejected DeviceStatus = "rejected"
)

// ValidDeviceStatus reports whether s is one of the three approval states.
func ValidDeviceStatus(s DeviceStatus) bool {
	switch s {
	case DeviceStatusPending, DeviceStatusApproved, DeviceStatusRejected:
		return true
	}
	return false
}

// TempAccess is a time-bounded override attached to a device. The grant is
// active iff Until is set and in the future. With BypassPolicies the grant
// short-circuits every other rule.
type TempAccess struct {
	Until           *time.Time `json:"until,omitempty"`
	GrantedAt       *time.Time `json:"granted_at,omitempty"`
	DurationMinutes int        `json:"duration_minutes,omitempty"`
	BypassPolicies  bool       `json:"bypass_policies"`
}

// ActiveAt reports whether the grant confers access at the given instant.
func (t *TempAccess) ActiveAt(now time.Time) bool {
	return t.Until != nil && t.Until.After(now)
}

// DeviceNote is the one-shot user-submitted request attached to a device.
// SubmittedAt non-nil means the device has used its single submission.
type DeviceNote struct {
	Description *string    `json:"description,omitempty"`
	SubmittedAt *time.Time `json:"submitted_at,omitempty"`
	ReadAt      *time.Time `json:"read_at,omitempty"`
}

// Device is one row per (user id, machine identifier) pair: the
// access-control subject. The registry exclusively owns mutation.
type Device struct {
	ID               string       `json:"id"`
	UserID           string       `json:"user_id"`
	DeviceIdentifier string       `json:"device_identifier"`

	// Descriptive fields; Name is user-editable and defaults to the
	// upstream-provided device title.
	Name     string `json:"name"`
	Platform string `json:"platform"`
	Product  string `json:"product"`
	Version  string `json:"version"`

	Status                     DeviceStatus `json:"status"`
	ExcludeFromConcurrentLimit bool         `json:"exclude_from_concurrent_limit"`

	FirstSeen    time.Time `json:"first_seen"`
	LastSeen     time.Time `json:"last_seen"`
	LastIP       string    `json:"last_ip"`
	SessionCount int64     `json:"session_count"`

	TempAccess TempAccess `json:"temp_access"`
	Note       DeviceNote `json:"note"`
}

// IsPlexamp reports whether the device's product forces approved treatment
// and exclusion from concurrent counting, regardless of stored fields.
func (d *Device) IsPlexamp() bool {
	return d.Product == ProductPlexamp
}

// HasUnreadNote reports whether a submitted note has not been read yet.
func (d *Device) HasUnreadNote() bool {
	return d.Note.SubmittedAt != nil && d.Note.ReadAt == nil
}
