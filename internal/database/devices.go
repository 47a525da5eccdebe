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

const deviceColumns = `id, user_id, device_identifier, name, platform, product, version,
	status, exclude_from_concurrent_limit, first_seen, last_seen, last_ip, session_count,
	temp_access_until, temp_access_granted_at, temp_access_duration_minutes, temp_access_bypass,
	note_description, note_submitted_at, note_read_at`

// scanDevice reads one device row. The row must select deviceColumns in order.
func scanDevice(row interface{ Scan(...interface{}) error }) (*models.Device, error) {
	var (
		d            models.Device
		platform     sql.NullString
		product      sql.NullString
		version      sql.NullString
		lastIP       sql.NullString
		tempUntil    sql.NullTime
		tempGranted  sql.NullTime
		tempDuration sql.NullInt32
		noteDesc     sql.NullString
		noteSubmit   sql.NullTime
		noteRead     sql.NullTime
	)

	err := row.Scan(
		&d.ID, &d.UserID, &d.DeviceIdentifier, &d.Name, &platform, &product, &version,
		&d.Status, &d.ExcludeFromConcurrentLimit, &d.FirstSeen, &d.LastSeen, &lastIP, &d.SessionCount,
		&tempUntil, &tempGranted, &tempDuration, &d.TempAccess.BypassPolicies,
		&noteDesc, &noteSubmit, &noteRead,
	)
	if err != nil {
		return nil, err
	}

	d.Platform = platform.String
	d.Product = product.String
	d.Version = version.String
	d.LastIP = lastIP.String
	if tempUntil.Valid {
		t := tempUntil.Time
		d.TempAccess.Until = &t
	}
	if tempGranted.Valid {
		t := tempGranted.Time
		d.TempAccess.GrantedAt = &t
	}
	if tempDuration.Valid {
		d.TempAccess.DurationMinutes = int(tempDuration.Int32)
	}
	if noteDesc.Valid {
		s := noteDesc.String
		d.Note.Description = &s
	}
	if noteSubmit.Valid {
		t := noteSubmit.Time
		d.Note.SubmittedAt = &t
	}
	if noteRead.Valid {
		t := noteRead.Time
		d.Note.ReadAt = &t
	}

	return &d, nil
}

// InsertDevice inserts a new device row. The caller assigns the surrogate id.
func (db *DB) InsertDevice(ctx context.Context, d *models.Device) error {
	_, err := db.conn.ExecContext(ctx, `
		INSERT INTO devices (
			id, user_id, device_identifier, name, platform, product, version,
			status, exclude_from_concurrent_limit, first_seen, last_seen, last_ip, session_count,
			temp_access_bypass
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		d.ID, d.UserID, d.DeviceIdentifier, d.Name, d.Platform, d.Product, d.Version,
		string(d.Status), d.ExcludeFromConcurrentLimit, d.FirstSeen, d.LastSeen, d.LastIP, d.SessionCount,
		d.TempAccess.BypassPolicies,
	)
	if err != nil {
		return fmt.Errorf("insert device %s/%s: %w", d.UserID, d.DeviceIdentifier, err)
	}
	return nil
}

// GetDevice fetches a device by its natural key.
func (db *DB) GetDevice(ctx context.Context, userID, deviceIdentifier string) (*models.Device, error) {
	row := db.conn.QueryRowContext(ctx,
		`SELECT `+deviceColumns+` FROM devices WHERE user_id = ? AND device_identifier = ?`,
		userID, deviceIdentifier)

	d, err := scanDevice(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get device %s/%s: %w", userID, deviceIdentifier, err)
	}
	return d, nil
}

// GetDeviceByID fetches a device by surrogate id.
func (db *DB) GetDeviceByID(ctx context.Context, id string) (*models.Device, error) {
	row := db.conn.QueryRowContext(ctx,
		`SELECT `+deviceColumns+` FROM devices WHERE id = ?`, id)

	d, err := scanDevice(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get device %s: %w", id, err)
	}
	return d, nil
}

// ListDevices returns all devices ordered by last_seen descending.
func (db *DB) ListDevices(ctx context.Context) ([]*models.Device, error) {
	return db.queryDevices(ctx,
		`SELECT `+deviceColumns+` FROM devices ORDER BY last_seen DESC`)
}

// ListDevicesForUser returns one user's devices ordered by last_seen descending.
func (db *DB) ListDevicesForUser(ctx context.Context, userID string) ([]*models.Device, error) {
	return db.queryDevices(ctx,
		`SELECT `+deviceColumns+` FROM devices WHERE user_id = ? ORDER BY last_seen DESC`, userID)
}

func (db *DB) queryDevices(ctx context.Context, query string, args ...interface{}) ([]*models.Device, error) {
	rows, err := db.conn.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query devices: %w", err)
	}
	defer rows.Close()

	var devices []*models.Device
	for rows.Next() {
		d, err := scanDevice(rows)
		if err != nil {
			return nil, fmt.Errorf("scan device: %w", err)
		}
		devices = append(devices, d)
	}
	return devices, rows.Err()
}

// UpdateDeviceObservation writes the fields the registry refreshes on every
// session observation: descriptive metadata, last_seen, last_ip, and the
// monotonic session_count.
func (db *DB) UpdateDeviceObservation(ctx context.Context, d *models.Device) error {
	_, err := db.conn.ExecContext(ctx, `
		UPDATE devices
		SET name = ?, platform = ?, product = ?, version = ?,
		    last_seen = ?, last_ip = ?, session_count = ?
		WHERE id = ?`,
		d.Name, d.Platform, d.Product, d.Version,
		d.LastSeen, d.LastIP, d.SessionCount, d.ID)
	if err != nil {
		return fmt.Errorf("update device observation %s: %w", d.ID, err)
	}
	return nil
}

// UpdateDeviceStatus sets the approval state.
func (db *DB) UpdateDeviceStatus(ctx context.Context, id string, status models.DeviceStatus) error {
	return db.execDeviceUpdate(ctx, id, `UPDATE devices SET status = ? WHERE id = ?`, string(status), id)
}

// RenameDevice sets the user-editable display name.
func (db *DB) RenameDevice(ctx context.Context, id, name string) error {
	return db.execDeviceUpdate(ctx, id, `UPDATE devices SET name = ? WHERE id = ?`, name, id)
}

// UpdateDeviceExclusion sets the concurrent-limit exclusion flag.
func (db *DB) UpdateDeviceExclusion(ctx context.Context, id string, exclude bool) error {
	return db.execDeviceUpdate(ctx, id,
		`UPDATE devices SET exclude_from_concurrent_limit = ? WHERE id = ?`, exclude, id)
}

// GrantTempAccess stores a temporary access grant on the device.
func (db *DB) GrantTempAccess(ctx context.Context, id string, until, grantedAt time.Time, durationMinutes int, bypass bool) error {
	return db.execDeviceUpdate(ctx, id, `
		UPDATE devices
		SET temp_access_until = ?, temp_access_granted_at = ?,
		    temp_access_duration_minutes = ?, temp_access_bypass = ?
		WHERE id = ?`,
		until, grantedAt, durationMinutes, bypass, id)
}

// RevokeTempAccess clears any temporary access grant.
func (db *DB) RevokeTempAccess(ctx context.Context, id string) error {
	return db.execDeviceUpdate(ctx, id, `
		UPDATE devices
		SET temp_access_until = NULL, temp_access_granted_at = NULL,
		    temp_access_duration_minutes = NULL, temp_access_bypass = false
		WHERE id = ?`, id)
}

// SubmitDeviceNote records the device's one-time user note. Returns
// ErrNoteAlreadySubmitted if a note was ever submitted before.
func (db *DB) SubmitDeviceNote(ctx context.Context, id, description string, submittedAt time.Time) error {
	res, err := db.conn.ExecContext(ctx, `
		UPDATE devices
		SET note_description = ?, note_submitted_at = ?
		WHERE id = ? AND note_submitted_at IS NULL`,
		description, submittedAt, id)
	if err != nil {
		return fmt.Errorf("submit note for device %s: %w", id, err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("submit note for device %s: %w", id, err)
	}
	if affected == 0 {
		// Either the device is gone or the one-shot was already used.
		if _, getErr := db.GetDeviceByID(ctx, id); getErr != nil {
			return getErr
		}
		return ErrNoteAlreadySubmitted
	}
	return nil
}

// MarkDeviceNoteRead stamps the note as read by an operator.
func (db *DB) MarkDeviceNoteRead(ctx context.Context, id string, readAt time.Time) error {
	return db.execDeviceUpdate(ctx, id,
		`UPDATE devices SET note_read_at = ? WHERE id = ? AND note_submitted_at IS NOT NULL`, readAt, id)
}

// DeleteDevice removes a device row.
func (db *DB) DeleteDevice(ctx context.Context, id string) error {
	return db.execDeviceUpdate(ctx, id, `DELETE FROM devices WHERE id = ?`, id)
}

// DeleteInactiveDevices removes devices not seen since the cutoff, skipping
// devices with an unread note or a still-active temp grant. Returns the
// number of rows removed.
func (db *DB) DeleteInactiveDevices(ctx context.Context, cutoff, now time.Time) (int64, error) {
	res, err := db.conn.ExecContext(ctx, `
		DELETE FROM devices
		WHERE last_seen < ?
		  AND NOT (note_submitted_at IS NOT NULL AND note_read_at IS NULL)
		  AND NOT (temp_access_until IS NOT NULL AND temp_access_until > ?)`,
		cutoff, now)
	if err != nil {
		return 0, fmt.Errorf("delete inactive devices: %w", err)
	}
	return res.RowsAffected()
}

// execDeviceUpdate runs an UPDATE/DELETE expected to touch exactly one row
// and maps a zero-row result to ErrNotFound.
func (db *DB) execDeviceUpdate(ctx context.Context, id, query string, args ...interface{}) error {
	res, err := db.conn.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("update device %s: %w", id, err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update device %s: %w", id, err)
	}
	if affected == 0 {
		return ErrNotFound
	}
	return nil
}
