// PlexGuard - Access Control and Session Enforcement for Plex
// Copyright 2026 PlexGuard Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/plexguard/plexguard

package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/plexguard/plexguard/internal/models"
)

// GetSetting fetches one settings row.
func (db *DB) GetSetting(ctx context.Context, key string) (*models.Setting, error) {
	row := db.conn.QueryRowContext(ctx,
		`SELECT key, value, value_type, private, updated_at FROM settings WHERE key = ?`, key)

	var s models.Setting
	err := row.Scan(&s.Key, &s.Value, &s.Type, &s.Private, &s.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get setting %s: %w", key, err)
	}
	return &s, nil
}

// ListSettings returns all settings rows ordered by key.
func (db *DB) ListSettings(ctx context.Context) ([]*models.Setting, error) {
	rows, err := db.conn.QueryContext(ctx,
		`SELECT key, value, value_type, private, updated_at FROM settings ORDER BY key`)
	if err != nil {
		return nil, fmt.Errorf("query settings: %w", err)
	}
	defer rows.Close()

	var settings []*models.Setting
	for rows.Next() {
		var s models.Setting
		if err := rows.Scan(&s.Key, &s.Value, &s.Type, &s.Private, &s.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan setting: %w", err)
		}
		settings = append(settings, &s)
	}
	return settings, rows.Err()
}

// UpsertSetting writes a settings row, replacing value and timestamp on
// conflict. The private flag and type are fixed by the first write (seed).
func (db *DB) UpsertSetting(ctx context.Context, s *models.Setting) error {
	_, err := db.conn.ExecContext(ctx, `
		INSERT INTO settings (key, value, value_type, private, updated_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT (key) DO UPDATE SET
			value = excluded.value,
			updated_at = excluded.updated_at`,
		s.Key, s.Value, string(s.Type), s.Private, s.UpdatedAt)
	if err != nil {
		return fmt.Errorf("upsert setting %s: %w", s.Key, err)
	}
	return nil
}

// InsertSettingIfAbsent seeds a default row without overwriting an existing
// value.
func (db *DB) InsertSettingIfAbsent(ctx context.Context, s *models.Setting) error {
	_, err := db.conn.ExecContext(ctx, `
		INSERT INTO settings (key, value, value_type, private, updated_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT (key) DO NOTHING`,
		s.Key, s.Value, string(s.Type), s.Private, s.UpdatedAt)
	if err != nil {
		return fmt.Errorf("seed setting %s: %w", s.Key, err)
	}
	return nil
}
