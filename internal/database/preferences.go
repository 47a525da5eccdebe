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

	"github.com/goccy/go-json"

	"github.com/plexguard/plexguard/internal/models"
)

const preferenceColumns = `user_id, username, avatar_url, hidden, default_block,
	network_policy, ip_access_policy, allowed_ips, concurrent_stream_limit`

func scanPreference(row interface{ Scan(...interface{}) error }) (*models.UserPreference, error) {
	var (
		p          models.UserPreference
		username   sql.NullString
		avatarURL  sql.NullString
		defBlock   sql.NullBool
		allowedIPs string
		limit      sql.NullInt32
	)

	err := row.Scan(&p.UserID, &username, &avatarURL, &p.Hidden, &defBlock,
		&p.NetworkPolicy, &p.IPAccessPolicy, &allowedIPs, &limit)
	if err != nil {
		return nil, err
	}

	p.Username = username.String
	p.AvatarURL = avatarURL.String
	if defBlock.Valid {
		b := defBlock.Bool
		p.DefaultBlock = &b
	}
	if limit.Valid {
		n := int(limit.Int32)
		p.ConcurrentStreamLimit = &n
	}
	if allowedIPs != "" {
		if err := json.Unmarshal([]byte(allowedIPs), &p.AllowedIPs); err != nil {
			return nil, fmt.Errorf("decode allowed_ips for user %s: %w", p.UserID, err)
		}
	}
	if p.AllowedIPs == nil {
		p.AllowedIPs = []string{}
	}

	return &p, nil
}

// GetUserPreference fetches one user's preference row.
func (db *DB) GetUserPreference(ctx context.Context, userID string) (*models.UserPreference, error) {
	row := db.conn.QueryRowContext(ctx,
		`SELECT `+preferenceColumns+` FROM user_preferences WHERE user_id = ?`, userID)

	p, err := scanPreference(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get preference %s: %w", userID, err)
	}
	return p, nil
}

// ListUserPreferences returns all preference rows ordered by username.
func (db *DB) ListUserPreferences(ctx context.Context) ([]*models.UserPreference, error) {
	rows, err := db.conn.QueryContext(ctx,
		`SELECT `+preferenceColumns+` FROM user_preferences ORDER BY username`)
	if err != nil {
		return nil, fmt.Errorf("query preferences: %w", err)
	}
	defer rows.Close()

	var prefs []*models.UserPreference
	for rows.Next() {
		p, err := scanPreference(rows)
		if err != nil {
			return nil, fmt.Errorf("scan preference: %w", err)
		}
		prefs = append(prefs, p)
	}
	return prefs, rows.Err()
}

// UpsertUserPreference writes the full preference row, inserting on first
// observation and replacing on subsequent writes.
func (db *DB) UpsertUserPreference(ctx context.Context, p *models.UserPreference) error {
	allowedIPs := p.AllowedIPs
	if allowedIPs == nil {
		allowedIPs = []string{}
	}
	encoded, err := json.Marshal(allowedIPs)
	if err != nil {
		return fmt.Errorf("encode allowed_ips for user %s: %w", p.UserID, err)
	}

	var defBlock interface{}
	if p.DefaultBlock != nil {
		defBlock = *p.DefaultBlock
	}
	var limit interface{}
	if p.ConcurrentStreamLimit != nil {
		limit = *p.ConcurrentStreamLimit
	}

	_, err = db.conn.ExecContext(ctx, `
		INSERT INTO user_preferences (
			user_id, username, avatar_url, hidden, default_block,
			network_policy, ip_access_policy, allowed_ips, concurrent_stream_limit
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (user_id) DO UPDATE SET
			username = excluded.username,
			avatar_url = excluded.avatar_url,
			hidden = excluded.hidden,
			default_block = excluded.default_block,
			network_policy = excluded.network_policy,
			ip_access_policy = excluded.ip_access_policy,
			allowed_ips = excluded.allowed_ips,
			concurrent_stream_limit = excluded.concurrent_stream_limit`,
		p.UserID, p.Username, p.AvatarURL, p.Hidden, defBlock,
		string(p.NetworkPolicy), string(p.IPAccessPolicy), string(encoded), limit)
	if err != nil {
		return fmt.Errorf("upsert preference %s: %w", p.UserID, err)
	}
	return nil
}

// EnsureUserPreference inserts a default preference row for a newly observed
// user without touching an existing row's policy fields. The cached display
// fields are refreshed either way.
func (db *DB) EnsureUserPreference(ctx context.Context, userID, username, avatarURL string) error {
	_, err := db.conn.ExecContext(ctx, `
		INSERT INTO user_preferences (user_id, username, avatar_url, hidden, network_policy, ip_access_policy, allowed_ips)
		VALUES (?, ?, ?, false, 'both', 'all', '[]')
		ON CONFLICT (user_id) DO UPDATE SET
			username = excluded.username,
			avatar_url = excluded.avatar_url`,
		userID, username, avatarURL)
	if err != nil {
		return fmt.Errorf("ensure preference %s: %w", userID, err)
	}
	return nil
}
