// PlexGuard - Access Control and Session Enforcement for Plex
// Copyright 2026 PlexGuard Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/plexguard/plexguard

package database

import (
	"context"
	"fmt"
	"time"
)

// schemaContext returns a context with timeout for schema operations.
func schemaContext() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), 60*time.Second)
}

// createTables creates the core tables. All columns are defined in the
// initial CREATE TABLE statements; there is no separate migration step.
func (db *DB) createTables() error {
	ctx, cancel := schemaContext()
	defer cancel()

	queries := []string{
		`CREATE TABLE IF NOT EXISTS devices (
			id TEXT PRIMARY KEY,
			user_id TEXT NOT NULL,
			device_identifier TEXT NOT NULL,
			name TEXT NOT NULL,
			platform TEXT,
			product TEXT,
			version TEXT,
			status TEXT NOT NULL DEFAULT 'pending',
			exclude_from_concurrent_limit BOOLEAN NOT NULL DEFAULT false,
			first_seen TIMESTAMP NOT NULL,
			last_seen TIMESTAMP NOT NULL,
			last_ip TEXT,
			session_count BIGINT NOT NULL DEFAULT 0,
			temp_access_until TIMESTAMP,
			temp_access_granted_at TIMESTAMP,
			temp_access_duration_minutes INTEGER,
			temp_access_bypass BOOLEAN NOT NULL DEFAULT false,
			note_description TEXT,
			note_submitted_at TIMESTAMP,
			note_read_at TIMESTAMP,
			UNIQUE (user_id, device_identifier)
		)`,

		`CREATE TABLE IF NOT EXISTS user_preferences (
			user_id TEXT PRIMARY KEY,
			username TEXT,
			avatar_url TEXT,
			hidden BOOLEAN NOT NULL DEFAULT false,
			default_block BOOLEAN,
			network_policy TEXT NOT NULL DEFAULT 'both',
			ip_access_policy TEXT NOT NULL DEFAULT 'all',
			allowed_ips TEXT NOT NULL DEFAULT '[]',
			concurrent_stream_limit INTEGER
		)`,

		`CREATE TABLE IF NOT EXISTS time_rules (
			id TEXT PRIMARY KEY,
			user_id TEXT NOT NULL,
			device_identifier TEXT,
			day_of_week INTEGER NOT NULL,
			start_time TEXT NOT NULL,
			end_time TEXT NOT NULL,
			enabled BOOLEAN NOT NULL DEFAULT true,
			rule_name TEXT
		)`,

		`CREATE TABLE IF NOT EXISTS session_history (
			id TEXT PRIMARY KEY,
			session_key TEXT NOT NULL,
			user_id TEXT NOT NULL,
			device_id TEXT,
			device_identifier TEXT,
			device_address TEXT,
			title TEXT,
			grandparent_title TEXT,
			media_type TEXT,
			started_at TIMESTAMP NOT NULL,
			ended_at TIMESTAMP
		)`,

		`CREATE TABLE IF NOT EXISTS settings (
			key TEXT PRIMARY KEY,
			value TEXT NOT NULL,
			value_type TEXT NOT NULL,
			private BOOLEAN NOT NULL DEFAULT false,
			updated_at TIMESTAMP NOT NULL
		)`,

		`CREATE INDEX IF NOT EXISTS idx_devices_user ON devices (user_id)`,
		`CREATE INDEX IF NOT EXISTS idx_devices_last_seen ON devices (last_seen)`,
		`CREATE INDEX IF NOT EXISTS idx_time_rules_user ON time_rules (user_id, day_of_week)`,
		`CREATE INDEX IF NOT EXISTS idx_history_session_key ON session_history (session_key)`,
		`CREATE INDEX IF NOT EXISTS idx_history_user_active ON session_history (user_id, ended_at)`,
	}

	for _, query := range queries {
		if _, err := db.conn.ExecContext(ctx, query); err != nil {
			return fmt.Errorf("execute schema statement: %w", err)
		}
	}

	return nil
}
