// PlexGuard - Access Control and Session Enforcement for Plex
// Copyright 2026 PlexGuard Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/plexguard/plexguard

package settings

import "github.com/plexguard/plexguard/internal/models"

// Setting keys recognized by the daemon. Unknown keys are rejected on write.
const (
	KeyPlexServerIP    = "PLEX_SERVER_IP"
	KeyPlexServerPort  = "PLEX_SERVER_PORT"
	KeyPlexToken       = "PLEX_TOKEN"
	KeyUseSSL          = "USE_SSL"
	KeyIgnoreSSLErrors = "IGNORE_SSL_ERRORS"

	KeyRefreshInterval = "PLEXGUARD_REFRESH_INTERVAL"

	KeyDefaultBlock = "PLEX_GUARD_DEFAULT_BLOCK"
	KeyStrictMode   = "STRICT_MODE"

	KeyConcurrentStreamLimit       = "CONCURRENT_STREAM_LIMIT"
	KeyConcurrentIncludeTempAccess = "CONCURRENT_LIMIT_INCLUDE_TEMP_ACCESS"

	KeyDeviceCleanupEnabled      = "DEVICE_CLEANUP_ENABLED"
	KeyDeviceCleanupIntervalDays = "DEVICE_CLEANUP_INTERVAL_DAYS"
	KeyReturnedThresholdHours    = "DEVICE_RETURNED_THRESHOLD_HOURS"

	KeyTimezone = "TIMEZONE"

	KeyMsgDevicePending  = "MSG_DEVICE_PENDING"
	KeyMsgDeviceRejected = "MSG_DEVICE_REJECTED"
	KeyMsgTimeRestricted = "MSG_TIME_RESTRICTED"
	KeyMsgConcurrent     = "MSG_CONCURRENT_LIMIT"
	KeyMsgIPLANOnly      = "MSG_IP_LAN_ONLY"
	KeyMsgIPWANOnly      = "MSG_IP_WAN_ONLY"
	KeyMsgIPNotAllowed   = "MSG_IP_NOT_ALLOWED"

	KeyPortalJWTSecret = "PORTAL_JWT_SECRET"
	KeyAdminAPIToken   = "ADMIN_API_TOKEN"
)

// catalogEntry declares a recognized setting: its type, default value, and
// whether it is excluded from exports.
type catalogEntry struct {
	Type    models.SettingType
	Default string
	Private bool
}

// catalog is the full set of recognized settings. Seed() inserts every
// entry that is absent from the table.
var catalog = map[string]catalogEntry{
	KeyPlexServerIP:    {models.SettingTypeString, "127.0.0.1", false},
	KeyPlexServerPort:  {models.SettingTypeInt, "32400", false},
	KeyPlexToken:       {models.SettingTypeString, "", true},
	KeyUseSSL:          {models.SettingTypeBool, "false", false},
	KeyIgnoreSSLErrors: {models.SettingTypeBool, "false", false},

	KeyRefreshInterval: {models.SettingTypeInt, "10", false},

	KeyDefaultBlock: {models.SettingTypeBool, "false", false},
	KeyStrictMode:   {models.SettingTypeBool, "false", false},

	KeyConcurrentStreamLimit:       {models.SettingTypeInt, "0", false},
	KeyConcurrentIncludeTempAccess: {models.SettingTypeBool, "true", false},

	KeyDeviceCleanupEnabled:      {models.SettingTypeBool, "false", false},
	KeyDeviceCleanupIntervalDays: {models.SettingTypeInt, "30", false},
	KeyReturnedThresholdHours:    {models.SettingTypeInt, "24", false},

	KeyTimezone: {models.SettingTypeString, "+00:00", false},

	KeyMsgDevicePending:  {models.SettingTypeString, "This device is awaiting approval by the server owner.", false},
	KeyMsgDeviceRejected: {models.SettingTypeString, "This device has been blocked by the server owner.", false},
	KeyMsgTimeRestricted: {models.SettingTypeString, "Streaming is not allowed at this time.", false},
	KeyMsgConcurrent:     {models.SettingTypeString, "Too many simultaneous streams.", false},
	KeyMsgIPLANOnly:      {models.SettingTypeString, "This account may only stream from the home network.", false},
	KeyMsgIPWANOnly:      {models.SettingTypeString, "This account may only stream from outside the home network.", false},
	KeyMsgIPNotAllowed:   {models.SettingTypeString, "Streaming from this address is not allowed.", false},

	// PORTAL_JWT_SECRET gets a random value at seed time; ADMIN_API_TOKEN
	// has no generated value and stays empty unless set.
	KeyPortalJWTSecret: {models.SettingTypeString, "", true},
	KeyAdminAPIToken:   {models.SettingTypeString, "", true},
}

// Known reports whether key is a recognized setting.
func Known(key string) bool {
	_, ok := catalog[key]
	return ok
}

// IsPrivate reports whether key is excluded from exports. Unknown keys are
// treated as private.
func IsPrivate(key string) bool {
	entry, ok := catalog[key]
	if !ok {
		return true
	}
	return entry.Private
}
