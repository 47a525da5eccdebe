// PlexGuard - Access Control and Session Enforcement for Plex
// Copyright 2026 PlexGuard Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/plexguard/plexguard

// Package models defines the core domain entities shared across PlexGuard:
// devices, user preferences, time rules, session history, settings, and the
// normalized session snapshot produced by the upstream client.
//
// Entities here carry no behavior beyond small derived-state helpers
// (temp-access validity, LAN detection). Persistence lives in
// internal/database, mutation rules in internal/registry, and policy
// evaluation in internal/policy.
package models
