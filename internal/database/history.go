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
	"time"

	"github.com/plexguard/plexguard/internal/models"
)

const historyColumns = `id, session_key, user_id, device_id, device_identifier, device_address,
	title, grandparent_title, media_type, started_at, ended_at`

func scanHistoryEntry(row interface{ Scan(...interface{}) error }) (*models.SessionHistoryEntry, error) {
	var (
		e          models.SessionHistoryEntry
		deviceID   sql.NullString
		deviceIdnt sql.NullString
		address    sql.NullString
		title      sql.NullString
		gpTitle    sql.NullString
		mediaType  sql.NullString
		endedAt    sql.NullTime
	)

	err := row.Scan(&e.ID, &e.SessionKey, &e.UserID, &deviceID, &deviceIdnt, &address,
		&title, &gpTitle, &mediaType, &e.StartedAt, &endedAt)
	if err != nil {
		return nil, err
	}

	e.DeviceID = deviceID.String
	e.DeviceIdentifier = deviceIdnt.String
	e.DeviceAddress = address.String
	e.Title = title.String
	e.GrandparentTitle = gpTitle.String
	e.MediaType = mediaType.String
	if endedAt.Valid {
		t := endedAt.Time
		e.EndedAt = &t
	}

	return &e, nil
}

// OpenHistoryEntry appends a row for a newly observed session key.
func (db *DB) OpenHistoryEntry(ctx context.Context, e *models.SessionHistoryEntry) error {
	_, err := db.conn.ExecContext(ctx, `
		INSERT INTO session_history (
			id, session_key, user_id, device_id, device_identifier, device_address,
			title, grandparent_title, media_type, started_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		e.ID, e.SessionKey, e.UserID, nullIfEmpty(e.DeviceID), nullIfEmpty(e.DeviceIdentifier),
		e.DeviceAddress, e.Title, e.GrandparentTitle, e.MediaType, e.StartedAt)
	if err != nil {
		return fmt.Errorf("open history entry %s: %w", e.SessionKey, err)
	}
	return nil
}

// CloseHistoryEntries stamps ended_at on the still-open rows for the given
// session keys.
func (db *DB) CloseHistoryEntries(ctx context.Context, sessionKeys []string, endedAt time.Time) error {
	for _, key := range sessionKeys {
		_, err := db.conn.ExecContext(ctx,
			`UPDATE session_history SET ended_at = ? WHERE session_key = ? AND ended_at IS NULL`,
			endedAt, key)
		if err != nil {
			return fmt.Errorf("close history entry %s: %w", key, err)
		}
	}
	return nil
}

// ActiveSessionKeys returns the session keys with an open history row.
func (db *DB) ActiveSessionKeys(ctx context.Context) (map[string]bool, error) {
	rows, err := db.conn.QueryContext(ctx,
		`SELECT session_key FROM session_history WHERE ended_at IS NULL`)
	if err != nil {
		return nil, fmt.Errorf("query active session keys: %w", err)
	}
	defer rows.Close()

	keys := make(map[string]bool)
	for rows.Next() {
		var key string
		if err := rows.Scan(&key); err != nil {
			return nil, fmt.Errorf("scan session key: %w", err)
		}
		keys[key] = true
	}
	return keys, rows.Err()
}

// GetActiveHistoryEntry returns the open row for a session key.
func (db *DB) GetActiveHistoryEntry(ctx context.Context, sessionKey string) (*models.SessionHistoryEntry, error) {
	row := db.conn.QueryRowContext(ctx, `
		SELECT `+historyColumns+` FROM session_history
		WHERE session_key = ? AND ended_at IS NULL
		ORDER BY started_at DESC LIMIT 1`, sessionKey)

	e, err := scanHistoryEntry(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get active history entry %s: %w", sessionKey, err)
	}
	return e, nil
}

// SessionStartTimes returns started_at for the open rows of the given
// session keys. The policy engine uses this to order a user's concurrent
// sessions by age.
func (db *DB) SessionStartTimes(ctx context.Context, sessionKeys []string) (map[string]time.Time, error) {
	out := make(map[string]time.Time, len(sessionKeys))
	for _, key := range sessionKeys {
		e, err := db.GetActiveHistoryEntry(ctx, key)
		if errors.Is(err, ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		out[key] = e.StartedAt
	}
	return out, nil
}

// ListHistoryForUser returns a user's most recent history rows.
func (db *DB) ListHistoryForUser(ctx context.Context, userID string, limit int) ([]*models.SessionHistoryEntry, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := db.conn.QueryContext(ctx, `
		SELECT `+historyColumns+` FROM session_history
		WHERE user_id = ? ORDER BY started_at DESC LIMIT ?`, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("query history for user %s: %w", userID, err)
	}
	defer rows.Close()

	var entries []*models.SessionHistoryEntry
	for rows.Next() {
		e, err := scanHistoryEntry(rows)
		if err != nil {
			return nil, fmt.Errorf("scan history entry: %w", err)
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}
