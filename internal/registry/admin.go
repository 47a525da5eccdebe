// PlexGuard - Access Control and Session Enforcement for Plex
// Copyright 2026 PlexGuard Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/plexguard/plexguard

package registry

import (
	"context"
	"fmt"
	"time"

	"github.com/plexguard/plexguard/internal/events"
	"github.com/plexguard/plexguard/internal/logging"
	"github.com/plexguard/plexguard/internal/models"
)

// Admin-facing device mutations. These exist on the registry, not on the
// HTTP handlers, so that Device row ownership stays in one place.

// SetStatus updates a device's approval state.
func (r *Registry) SetStatus(ctx context.Context, deviceID string, status models.DeviceStatus) error {
	if !models.ValidDeviceStatus(status) {
		return fmt.Errorf("invalid device status %q", status)
	}
	return r.withDeviceLock(ctx, deviceID, func(d *models.Device) error {
		return r.db.UpdateDeviceStatus(ctx, d.ID, status)
	})
}

// Rename updates a device's display name.
func (r *Registry) Rename(ctx context.Context, deviceID, name string) error {
	if name == "" {
		return fmt.Errorf("device name must not be empty")
	}
	return r.withDeviceLock(ctx, deviceID, func(d *models.Device) error {
		return r.db.RenameDevice(ctx, d.ID, name)
	})
}

// SetExclusion updates the concurrent-limit exclusion flag.
func (r *Registry) SetExclusion(ctx context.Context, deviceID string, exclude bool) error {
	return r.withDeviceLock(ctx, deviceID, func(d *models.Device) error {
		return r.db.UpdateDeviceExclusion(ctx, d.ID, exclude)
	})
}

// GrantTempAccess grants time-bounded access for durationMinutes from now.
func (r *Registry) GrantTempAccess(ctx context.Context, deviceID string, durationMinutes int, bypass bool) error {
	if durationMinutes <= 0 {
		return fmt.Errorf("temp access duration must be positive, got %d", durationMinutes)
	}
	return r.withDeviceLock(ctx, deviceID, func(d *models.Device) error {
		now := time.Now().UTC()
		until := now.Add(time.Duration(durationMinutes) * time.Minute)
		if err := r.db.GrantTempAccess(ctx, d.ID, until, now, durationMinutes, bypass); err != nil {
			return err
		}
		logging.Info().Str("device", d.DeviceIdentifier).Str("user", d.UserID).
			Time("until", until).Bool("bypass", bypass).Msg("temporary access granted")
		return nil
	})
}

// RevokeTempAccess clears a device's temp grant.
func (r *Registry) RevokeTempAccess(ctx context.Context, deviceID string) error {
	return r.withDeviceLock(ctx, deviceID, func(d *models.Device) error {
		return r.db.RevokeTempAccess(ctx, d.ID)
	})
}

// SubmitNote records the device's one-time user note and emits
// device_note_submitted. Refuses a second submission.
func (r *Registry) SubmitNote(ctx context.Context, deviceID, description string) error {
	if description == "" {
		return fmt.Errorf("note description must not be empty")
	}
	return r.withDeviceLock(ctx, deviceID, func(d *models.Device) error {
		now := time.Now().UTC()
		if err := r.db.SubmitDeviceNote(ctx, d.ID, description, now); err != nil {
			return err
		}

		username := ""
		if pref, prefErr := r.db.GetUserPreference(ctx, d.UserID); prefErr == nil {
			username = pref.Username
		}
		r.bus.Publish(events.TopicNoteSubmitted, events.NoteSubmitted{
			Device:      deviceRef(d, username),
			Description: description,
			SubmittedAt: now,
		})
		return nil
	})
}

// MarkNoteRead stamps a submitted note as read by an operator.
func (r *Registry) MarkNoteRead(ctx context.Context, deviceID string) error {
	return r.withDeviceLock(ctx, deviceID, func(d *models.Device) error {
		return r.db.MarkDeviceNoteRead(ctx, d.ID, time.Now().UTC())
	})
}

// Delete removes a device entirely.
func (r *Registry) Delete(ctx context.Context, deviceID string) error {
	return r.withDeviceLock(ctx, deviceID, func(d *models.Device) error {
		return r.db.DeleteDevice(ctx, d.ID)
	})
}

// GetByID returns one device by surrogate id.
func (r *Registry) GetByID(ctx context.Context, deviceID string) (*models.Device, error) {
	return r.db.GetDeviceByID(ctx, deviceID)
}

// List returns all devices.
func (r *Registry) List(ctx context.Context) ([]*models.Device, error) {
	return r.db.ListDevices(ctx)
}

// withDeviceLock loads the device, takes its natural-key lock, and runs fn.
func (r *Registry) withDeviceLock(ctx context.Context, deviceID string, fn func(*models.Device) error) error {
	device, err := r.db.GetDeviceByID(ctx, deviceID)
	if err != nil {
		return err
	}

	lock := r.lockKey(device.UserID, device.DeviceIdentifier)
	lock.Lock()
	defer lock.Unlock()
	return fn(device)
}
