// PlexGuard - Access Control and Session Enforcement for Plex
// Copyright 2026 PlexGuard Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/plexguard/plexguard

package models

import (
	"fmt"
	"regexp"
)

// hhmmPattern matches wall-clock times in HH:MM form, 00:00 through 23:59.
var hhmmPattern = regexp.MustCompile(`^([01][0-9]|2[0-3]):[0-5][0-9]$`)

// TimeRule is a weekly recurring block window. When enabled and the
// configured wall-clock falls inside [StartTime, EndTime) on DayOfWeek,
// streaming is blocked.
//
// Windows with StartTime > EndTime wrap midnight and are evaluated as
// now >= start || now < end on DayOfWeek itself: 22:00-02:00 on a Saturday
// blocks Saturday 00:00-02:00 and Saturday 22:00-24:00, not Sunday
// 00:00-02:00. Two same-day rows (00:00-02:00 and 22:00-23:59) block the
// same window except the minute 23:59, because EndTime is exclusive and
// cannot be 24:00.
type TimeRule struct {
	ID     string `json:"id"`
	UserID string `json:"user_id"`

	// DeviceIdentifier scopes the rule to one device; empty applies the
	// rule to all the user's devices.
	DeviceIdentifier string `json:"device_identifier,omitempty"`

	DayOfWeek int    `json:"day_of_week"` // 0 = Sunday .. 6 = Saturday
	StartTime string `json:"start_time"`  // HH:MM
	EndTime   string `json:"end_time"`    // HH:MM
	Enabled   bool   `json:"enabled"`
	RuleName  string `json:"rule_name"`
}

// Validate checks the rule's field ranges and time formats.
func (r *TimeRule) Validate() error {
	if r.UserID == "" {
		return fmt.Errorf("time rule: user_id is required")
	}
	if r.DayOfWeek < 0 || r.DayOfWeek > 6 {
		return fmt.Errorf("time rule: day_of_week %d out of range 0..6", r.DayOfWeek)
	}
	if !hhmmPattern.MatchString(r.StartTime) {
		return fmt.Errorf("time rule: start_time %q is not HH:MM", r.StartTime)
	}
	if !hhmmPattern.MatchString(r.EndTime) {
		return fmt.Errorf("time rule: end_time %q is not HH:MM", r.EndTime)
	}
	if r.StartTime == r.EndTime {
		return fmt.Errorf("time rule: start_time and end_time are equal")
	}
	return nil
}

// DeviceSpecific reports whether the rule targets a single device.
func (r *TimeRule) DeviceSpecific() bool {
	return r.DeviceIdentifier != ""
}

// Contains reports whether the wall-clock hhmm falls inside the rule's
// window. Comparison is lexicographic, which is ordering-correct for
// zero-padded HH:MM strings.
func (r *TimeRule) Contains(hhmm string) bool {
	if r.StartTime < r.EndTime {
		return hhmm >= r.StartTime && hhmm < r.EndTime
	}
	// Wraps midnight.
	return hhmm >= r.StartTime || hhmm < r.EndTime
}
