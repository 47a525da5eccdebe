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

const timeRuleColumns = `id, user_id, device_identifier, day_of_week, start_time, end_time, enabled, rule_name`

func scanTimeRule(row interface{ Scan(...interface{}) error }) (*models.TimeRule, error) {
	var (
		r        models.TimeRule
		deviceID sql.NullString
		ruleName sql.NullString
	)
	err := row.Scan(&r.ID, &r.UserID, &deviceID, &r.DayOfWeek, &r.StartTime, &r.EndTime, &r.Enabled, &ruleName)
	if err != nil {
		return nil, err
	}
	r.DeviceIdentifier = deviceID.String
	r.RuleName = ruleName.String
	return &r, nil
}

// InsertTimeRule inserts a new rule. The caller assigns the id.
func (db *DB) InsertTimeRule(ctx context.Context, r *models.TimeRule) error {
	_, err := db.conn.ExecContext(ctx, `
		INSERT INTO time_rules (id, user_id, device_identifier, day_of_week, start_time, end_time, enabled, rule_name)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		r.ID, r.UserID, nullIfEmpty(r.DeviceIdentifier), r.DayOfWeek, r.StartTime, r.EndTime, r.Enabled, r.RuleName)
	if err != nil {
		return fmt.Errorf("insert time rule for user %s: %w", r.UserID, err)
	}
	return nil
}

// UpdateTimeRule replaces all mutable fields of a rule.
func (db *DB) UpdateTimeRule(ctx context.Context, r *models.TimeRule) error {
	res, err := db.conn.ExecContext(ctx, `
		UPDATE time_rules
		SET device_identifier = ?, day_of_week = ?, start_time = ?, end_time = ?, enabled = ?, rule_name = ?
		WHERE id = ? AND user_id = ?`,
		nullIfEmpty(r.DeviceIdentifier), r.DayOfWeek, r.StartTime, r.EndTime, r.Enabled, r.RuleName,
		r.ID, r.UserID)
	if err != nil {
		return fmt.Errorf("update time rule %s: %w", r.ID, err)
	}
	return mapZeroAffected(res)
}

// DeleteTimeRule removes a rule belonging to the given user.
func (db *DB) DeleteTimeRule(ctx context.Context, userID, id string) error {
	res, err := db.conn.ExecContext(ctx,
		`DELETE FROM time_rules WHERE id = ? AND user_id = ?`, id, userID)
	if err != nil {
		return fmt.Errorf("delete time rule %s: %w", id, err)
	}
	return mapZeroAffected(res)
}

// ListTimeRulesForUser returns all of one user's rules.
func (db *DB) ListTimeRulesForUser(ctx context.Context, userID string) ([]*models.TimeRule, error) {
	return db.queryTimeRules(ctx,
		`SELECT `+timeRuleColumns+` FROM time_rules WHERE user_id = ? ORDER BY day_of_week, start_time`, userID)
}

// ListEnabledTimeRules returns the enabled rules for a user on a given day.
// The policy engine is the only caller.
func (db *DB) ListEnabledTimeRules(ctx context.Context, userID string, dayOfWeek int) ([]*models.TimeRule, error) {
	return db.queryTimeRules(ctx, `
		SELECT `+timeRuleColumns+` FROM time_rules
		WHERE user_id = ? AND day_of_week = ? AND enabled
		ORDER BY start_time`, userID, dayOfWeek)
}

func (db *DB) queryTimeRules(ctx context.Context, query string, args ...interface{}) ([]*models.TimeRule, error) {
	rows, err := db.conn.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query time rules: %w", err)
	}
	defer rows.Close()

	var rules []*models.TimeRule
	for rows.Next() {
		r, err := scanTimeRule(rows)
		if err != nil {
			return nil, fmt.Errorf("scan time rule: %w", err)
		}
		rules = append(rules, r)
	}
	return rules, rows.Err()
}

// GetTimeRule fetches one rule by id.
func (db *DB) GetTimeRule(ctx context.Context, id string) (*models.TimeRule, error) {
	row := db.conn.QueryRowContext(ctx,
		`SELECT `+timeRuleColumns+` FROM time_rules WHERE id = ?`, id)

	r, err := scanTimeRule(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get time rule %s: %w", id, err)
	}
	return r, nil
}

func nullIfEmpty(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}

func mapZeroAffected(res sql.Result) error {
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return ErrNotFound
	}
	return nil
}
