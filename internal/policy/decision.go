// PlexGuard - Access Control and Session Enforcement for Plex
// Copyright 2026 PlexGuard Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/plexguard/plexguard

package policy

// Stop codes are stable machine-readable tokens identifying why a session
// was terminated. They feed operator observability (events, metrics) and
// never leak to end users; viewers see the configurable reason text.
const (
	StopDevicePending   = "DEVICE_PENDING"
	StopDeviceRejected  = "DEVICE_REJECTED"
	StopTimeRestricted  = "TIME_RESTRICTED"
	StopConcurrentLimit = "CONCURRENT_LIMIT"
	StopLANOnly         = "LAN_ONLY"
	StopWANOnly         = "WAN_ONLY"
	StopIPNotAllowed    = "IP_NOT_ALLOWED"
)

// Decision is the policy outcome for one session.
type Decision struct {
	SessionKey string `json:"session_key"`
	SessionID  string `json:"session_id"`
	UserID     string `json:"user_id"`

	Allow bool `json:"allow"`

	// Set only when Allow is false.
	StopCode string `json:"stop_code,omitempty"`
	Reason   string `json:"reason,omitempty"`
}

func allow(sessionKey, sessionID, userID string) Decision {
	return Decision{SessionKey: sessionKey, SessionID: sessionID, UserID: userID, Allow: true}
}

func block(sessionKey, sessionID, userID, stopCode, reason string) Decision {
	return Decision{
		SessionKey: sessionKey,
		SessionID:  sessionID,
		UserID:     userID,
		StopCode:   stopCode,
		Reason:     reason,
	}
}
