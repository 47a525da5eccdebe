// PlexGuard - Access Control and Session Enforcement for Plex
// Copyright 2026 PlexGuard Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/plexguard/plexguard

// Package registry materializes devices from session snapshots and owns all
// Device row mutation. Everything else (policy engine, API reads) goes
// through its read helpers or reads the table directly.
//
// Ingestion never aborts the wider tick: per-session failures are logged
// with the session key and skipped.
package registry

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/plexguard/plexguard/internal/database"
	"github.com/plexguard/plexguard/internal/events"
	"github.com/plexguard/plexguard/internal/logging"
	"github.com/plexguard/plexguard/internal/metrics"
	"github.com/plexguard/plexguard/internal/models"
	"github.com/plexguard/plexguard/internal/settings"
)

// Registry tracks devices observed through sessions.
type Registry struct {
	db    *database.DB
	store *settings.Store
	bus   *events.Bus

	// keyLocks serializes mutation per (user_id, device_identifier) so the
	// poll loop and admin handlers never interleave writes to one row.
	mu       sync.Mutex
	keyLocks map[string]*sync.Mutex
}

// New creates a device registry.
func New(db *database.DB, store *settings.Store, bus *events.Bus) *Registry {
	return &Registry{
		db:       db,
		store:    store,
		bus:      bus,
		keyLocks: make(map[string]*sync.Mutex),
	}
}

// lockKey returns the mutex guarding one device's natural key.
func (r *Registry) lockKey(userID, deviceIdentifier string) *sync.Mutex {
	key := userID + "\x00" + deviceIdentifier
	r.mu.Lock()
	defer r.mu.Unlock()
	if l, ok := r.keyLocks[key]; ok {
		return l
	}
	l := &sync.Mutex{}
	r.keyLocks[key] = l
	return l
}

// Ingest upserts device and user-preference rows from a snapshot.
// newlyStarted marks the session keys the history writer classified as not
// previously recorded active; only those increment session_count.
func (r *Registry) Ingest(ctx context.Context, snapshot *models.SessionSnapshot, newlyStarted map[string]bool) {
	for i := range snapshot.Sessions {
		session := &snapshot.Sessions[i]
		if session.User.ID == "" || session.Player.MachineID == "" {
			logging.Debug().Str("session", session.SessionKey).Msg("session missing user or machine id, skipping")
			continue
		}

		if err := r.ingestSession(ctx, session, snapshot.TakenAt, newlyStarted[session.SessionKey]); err != nil {
			logging.Error().Err(err).Str("session", session.SessionKey).Msg("device ingest failed for session")
		}
	}
}

// ingestSession upserts one session's user preference and device rows.
func (r *Registry) ingestSession(ctx context.Context, session *models.Session, now time.Time, newlyStarted bool) error {
	if err := r.db.EnsureUserPreference(ctx, session.User.ID, session.User.Name, session.User.Thumb); err != nil {
		return err
	}

	lock := r.lockKey(session.User.ID, session.Player.MachineID)
	lock.Lock()
	defer lock.Unlock()

	device, err := r.db.GetDevice(ctx, session.User.ID, session.Player.MachineID)
	if errors.Is(err, database.ErrNotFound) {
		return r.insertNewDevice(ctx, session, now)
	}
	if err != nil {
		return err
	}

	return r.refreshDevice(ctx, device, session, now, newlyStarted)
}

// insertNewDevice creates the row for a first-seen device and emits
// new_device. Under strict mode the device is auto-decided from the
// effective default-block instead of queuing as pending.
func (r *Registry) insertNewDevice(ctx context.Context, session *models.Session, now time.Time) error {
	status := models.DeviceStatusPending
	autoMode := ""
	if r.store.GetBool(ctx, settings.KeyStrictMode) {
		if r.effectiveDefaultBlock(ctx, session.User.ID) {
			status = models.DeviceStatusRejected
			autoMode = "rejected"
		} else {
			status = models.DeviceStatusApproved
			autoMode = "approved"
		}
	}

	name := session.Player.Title
	if name == "" {
		name = session.Player.Product
	}

	device := &models.Device{
		ID:               uuid.New().String(),
		UserID:           session.User.ID,
		DeviceIdentifier: session.Player.MachineID,
		Name:             name,
		Platform:         session.Player.Platform,
		Product:          session.Player.Product,
		Version:          session.Player.Version,
		Status:           status,
		FirstSeen:        now,
		LastSeen:         now,
		LastIP:           session.Player.Address,
		SessionCount:     1,
	}

	if err := r.db.InsertDevice(ctx, device); err != nil {
		return err
	}

	metrics.DevicesSeenTotal.WithLabelValues("new").Inc()
	logging.Info().Str("user", device.UserID).Str("device", device.DeviceIdentifier).
		Str("status", string(status)).Msg("new device observed")

	r.bus.Publish(events.TopicNewDevice, events.NewDevice{
		Device:   deviceRef(device, session.User.Name),
		IP:       session.Player.Address,
		SeenAt:   now,
		AutoMode: autoMode,
	})
	return nil
}

// refreshDevice updates an existing device from a new observation, emitting
// location_change and returned_device when warranted.
func (r *Registry) refreshDevice(ctx context.Context, device *models.Device, session *models.Session, now time.Time, newlyStarted bool) error {
	oldIP := device.LastIP
	lastSeen := device.LastSeen

	if oldIP != "" && session.Player.Address != "" && oldIP != session.Player.Address {
		metrics.DevicesSeenTotal.WithLabelValues("location_change").Inc()
		r.bus.Publish(events.TopicLocationChange, events.LocationChange{
			Device: deviceRef(device, session.User.Name),
			OldIP:  oldIP,
			NewIP:  session.Player.Address,
			SeenAt: now,
		})
	}

	returnedAfter := time.Duration(r.store.GetInt(ctx, settings.KeyReturnedThresholdHours)) * time.Hour
	if returnedAfter > 0 && now.Sub(lastSeen) > returnedAfter {
		metrics.DevicesSeenTotal.WithLabelValues("returned").Inc()
		r.bus.Publish(events.TopicReturnedDevice, events.ReturnedDevice{
			Device:       deviceRef(device, session.User.Name),
			LastSeen:     lastSeen,
			ReturnedAt:   now,
			AwayDuration: now.Sub(lastSeen).Round(time.Minute).String(),
		})
	}

	// Refresh descriptive fields from upstream. The display name is
	// user-editable and never overwritten once set.
	if device.Name == "" {
		device.Name = session.Player.Title
	}
	device.Platform = session.Player.Platform
	device.Product = session.Player.Product
	device.Version = session.Player.Version

	if newlyStarted {
		device.SessionCount++
	}
	device.LastSeen = now
	if session.Player.Address != "" {
		device.LastIP = session.Player.Address
	}

	return r.db.UpdateDeviceObservation(ctx, device)
}

// effectiveDefaultBlock resolves user default_block with the global
// PLEX_GUARD_DEFAULT_BLOCK fallback.
func (r *Registry) effectiveDefaultBlock(ctx context.Context, userID string) bool {
	pref, err := r.db.GetUserPreference(ctx, userID)
	if err == nil && pref.DefaultBlock != nil {
		return *pref.DefaultBlock
	}
	return r.store.GetBool(ctx, settings.KeyDefaultBlock)
}

// CleanupInactive deletes devices unseen past the configured threshold.
// Devices with an unread note or an active temp grant are skipped. No-op
// unless DEVICE_CLEANUP_ENABLED is set.
func (r *Registry) CleanupInactive(ctx context.Context) (int64, error) {
	if !r.store.GetBool(ctx, settings.KeyDeviceCleanupEnabled) {
		return 0, nil
	}

	days := r.store.GetInt(ctx, settings.KeyDeviceCleanupIntervalDays)
	if days <= 0 {
		return 0, nil
	}

	now := time.Now().UTC()
	cutoff := now.Add(-time.Duration(days) * 24 * time.Hour)
	deleted, err := r.db.DeleteInactiveDevices(ctx, cutoff, now)
	if err != nil {
		return 0, fmt.Errorf("cleanup inactive devices: %w", err)
	}
	if deleted > 0 {
		metrics.DevicesCleanedTotal.Add(float64(deleted))
		logging.Info().Int64("deleted", deleted).Int("threshold_days", days).Msg("inactive devices cleaned up")
	}
	return deleted, nil
}

// Get returns one device by natural key.
func (r *Registry) Get(ctx context.Context, userID, deviceIdentifier string) (*models.Device, error) {
	return r.db.GetDevice(ctx, userID, deviceIdentifier)
}

// ListForUser returns one user's devices.
func (r *Registry) ListForUser(ctx context.Context, userID string) ([]*models.Device, error) {
	return r.db.ListDevicesForUser(ctx, userID)
}

// IsTempAccessValid reports whether the device's temp grant is active now.
func (r *Registry) IsTempAccessValid(device *models.Device) bool {
	return device.TempAccess.ActiveAt(time.Now().UTC())
}

// deviceRef builds the event payload reference for a device.
func deviceRef(d *models.Device, username string) events.DeviceRef {
	return events.DeviceRef{
		ID:               d.ID,
		UserID:           d.UserID,
		Username:         username,
		DeviceIdentifier: d.DeviceIdentifier,
		Name:             d.Name,
		Product:          d.Product,
		Platform:         d.Platform,
	}
}
