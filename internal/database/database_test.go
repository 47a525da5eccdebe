// PlexGuard - Access Control and Session Enforcement for Plex
// Copyright 2026 PlexGuard Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/plexguard/plexguard

package database

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/plexguard/plexguard/internal/config"
	"github.com/plexguard/plexguard/internal/models"
)

func newTestDB(t *testing.T) *DB {
	t.Helper()
	db, err := New(&config.DatabaseConfig{Path: ":memory:"})
	if err != nil {
		t.Fatalf("open in-memory database: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func testDevice(userID, machineID string) *models.Device {
	now := time.Now().UTC().Truncate(time.Second)
	return &models.Device{
		ID:               uuid.New().String(),
		UserID:           userID,
		DeviceIdentifier: machineID,
		Name:             "Living Room TV",
		Platform:         "tvOS",
		Product:          "Plex for Apple TV",
		Version:          "8.0",
		Status:           models.DeviceStatusPending,
		FirstSeen:        now,
		LastSeen:         now,
		LastIP:           "192.168.1.50",
		SessionCount:     1,
	}
}

func TestDeviceInsertAndGet(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	d := testDevice("42", "AAA")
	if err := db.InsertDevice(ctx, d); err != nil {
		t.Fatalf("InsertDevice: %v", err)
	}

	got, err := db.GetDevice(ctx, "42", "AAA")
	if err != nil {
		t.Fatalf("GetDevice: %v", err)
	}
	if got.ID != d.ID || got.Status != models.DeviceStatusPending || got.SessionCount != 1 {
		t.Errorf("round-trip mismatch: %+v", got)
	}
	if got.LastIP != "192.168.1.50" {
		t.Errorf("LastIP = %q, want 192.168.1.50", got.LastIP)
	}

	if _, err := db.GetDevice(ctx, "42", "BBB"); !errors.Is(err, ErrNotFound) {
		t.Errorf("missing device: got err %v, want ErrNotFound", err)
	}
}

func TestDeviceObservationUpdate(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	d := testDevice("42", "AAA")
	if err := db.InsertDevice(ctx, d); err != nil {
		t.Fatalf("InsertDevice: %v", err)
	}

	d.LastSeen = d.LastSeen.Add(time.Minute)
	d.LastIP = "203.0.113.9"
	d.SessionCount = 2
	d.Version = "8.1"
	if err := db.UpdateDeviceObservation(ctx, d); err != nil {
		t.Fatalf("UpdateDeviceObservation: %v", err)
	}

	got, err := db.GetDevice(ctx, "42", "AAA")
	if err != nil {
		t.Fatalf("GetDevice: %v", err)
	}
	if got.SessionCount != 2 || got.LastIP != "203.0.113.9" || got.Version != "8.1" {
		t.Errorf("observation update not persisted: %+v", got)
	}
}

func TestDeviceAdminUpdates(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	d := testDevice("42", "AAA")
	if err := db.InsertDevice(ctx, d); err != nil {
		t.Fatalf("InsertDevice: %v", err)
	}

	if err := db.UpdateDeviceStatus(ctx, d.ID, models.DeviceStatusApproved); err != nil {
		t.Fatalf("UpdateDeviceStatus: %v", err)
	}
	if err := db.RenameDevice(ctx, d.ID, "Bedroom TV"); err != nil {
		t.Fatalf("RenameDevice: %v", err)
	}
	if err := db.UpdateDeviceExclusion(ctx, d.ID, true); err != nil {
		t.Fatalf("UpdateDeviceExclusion: %v", err)
	}

	until := time.Now().UTC().Add(time.Hour).Truncate(time.Second)
	if err := db.GrantTempAccess(ctx, d.ID, until, time.Now().UTC(), 60, true); err != nil {
		t.Fatalf("GrantTempAccess: %v", err)
	}

	got, err := db.GetDeviceByID(ctx, d.ID)
	if err != nil {
		t.Fatalf("GetDeviceByID: %v", err)
	}
	if got.Status != models.DeviceStatusApproved || got.Name != "Bedroom TV" || !got.ExcludeFromConcurrentLimit {
		t.Errorf("admin fields not persisted: %+v", got)
	}
	if got.TempAccess.Until == nil || !got.TempAccess.BypassPolicies || got.TempAccess.DurationMinutes != 60 {
		t.Errorf("temp access not persisted: %+v", got.TempAccess)
	}

	if err := db.RevokeTempAccess(ctx, d.ID); err != nil {
		t.Fatalf("RevokeTempAccess: %v", err)
	}
	got, _ = db.GetDeviceByID(ctx, d.ID)
	if got.TempAccess.Until != nil || got.TempAccess.BypassPolicies {
		t.Errorf("temp access not cleared: %+v", got.TempAccess)
	}

	if err := db.UpdateDeviceStatus(ctx, uuid.New().String(), models.DeviceStatusRejected); !errors.Is(err, ErrNotFound) {
		t.Errorf("update of missing device: got %v, want ErrNotFound", err)
	}
}

func TestDeviceNoteOneShot(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	d := testDevice("42", "AAA")
	if err := db.InsertDevice(ctx, d); err != nil {
		t.Fatalf("InsertDevice: %v", err)
	}

	now := time.Now().UTC().Truncate(time.Second)
	if err := db.SubmitDeviceNote(ctx, d.ID, "please approve, this is my TV", now); err != nil {
		t.Fatalf("first SubmitDeviceNote: %v", err)
	}

	err := db.SubmitDeviceNote(ctx, d.ID, "second attempt", now.Add(time.Minute))
	if !errors.Is(err, ErrNoteAlreadySubmitted) {
		t.Errorf("second submission: got %v, want ErrNoteAlreadySubmitted", err)
	}

	if err := db.MarkDeviceNoteRead(ctx, d.ID, now.Add(2*time.Minute)); err != nil {
		t.Fatalf("MarkDeviceNoteRead: %v", err)
	}

	got, _ := db.GetDeviceByID(ctx, d.ID)
	if got.Note.Description == nil || got.Note.SubmittedAt == nil || got.Note.ReadAt == nil {
		t.Errorf("note fields incomplete: %+v", got.Note)
	}
	if got.HasUnreadNote() {
		t.Error("read note still reports unread")
	}
}

func TestDeleteInactiveDevicesSkipsProtected(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Second)
	old := now.Add(-40 * 24 * time.Hour)

	stale := testDevice("1", "STALE")
	stale.FirstSeen, stale.LastSeen = old, old
	noted := testDevice("1", "NOTED")
	noted.FirstSeen, noted.LastSeen = old, old
	granted := testDevice("1", "GRANTED")
	granted.FirstSeen, granted.LastSeen = old, old
	fresh := testDevice("1", "FRESH")

	for _, d := range []*models.Device{stale, noted, granted, fresh} {
		if err := db.InsertDevice(ctx, d); err != nil {
			t.Fatalf("InsertDevice %s: %v", d.DeviceIdentifier, err)
		}
	}
	if err := db.SubmitDeviceNote(ctx, noted.ID, "keep me", old); err != nil {
		t.Fatalf("SubmitDeviceNote: %v", err)
	}
	if err := db.GrantTempAccess(ctx, granted.ID, now.Add(time.Hour), now, 60, false); err != nil {
		t.Fatalf("GrantTempAccess: %v", err)
	}

	cutoff := now.Add(-30 * 24 * time.Hour)
	deleted, err := db.DeleteInactiveDevices(ctx, cutoff, now)
	if err != nil {
		t.Fatalf("DeleteInactiveDevices: %v", err)
	}
	if deleted != 1 {
		t.Errorf("deleted %d devices, want 1", deleted)
	}

	if _, err := db.GetDevice(ctx, "1", "STALE"); !errors.Is(err, ErrNotFound) {
		t.Error("stale device should be gone")
	}
	for _, id := range []string{"NOTED", "GRANTED", "FRESH"} {
		if _, err := db.GetDevice(ctx, "1", id); err != nil {
			t.Errorf("device %s should survive cleanup: %v", id, err)
		}
	}
}

func TestUserPreferenceRoundTrip(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	if err := db.EnsureUserPreference(ctx, "42", "alice", "https://plex.tv/avatar.png"); err != nil {
		t.Fatalf("EnsureUserPreference: %v", err)
	}

	p, err := db.GetUserPreference(ctx, "42")
	if err != nil {
		t.Fatalf("GetUserPreference: %v", err)
	}
	if p.Username != "alice" || p.NetworkPolicy != models.NetworkPolicyBoth || p.IPAccessPolicy != models.IPAccessAll {
		t.Errorf("default preference wrong: %+v", p)
	}
	if p.DefaultBlock != nil || p.ConcurrentStreamLimit != nil {
		t.Errorf("nullable overrides should start null: %+v", p)
	}

	block := true
	limit := 2
	p.DefaultBlock = &block
	p.ConcurrentStreamLimit = &limit
	p.NetworkPolicy = models.NetworkPolicyLAN
	p.IPAccessPolicy = models.IPAccessRestricted
	p.AllowedIPs = []string{"192.168.1.0/24", "203.0.113.5"}
	if err := db.UpsertUserPreference(ctx, p); err != nil {
		t.Fatalf("UpsertUserPreference: %v", err)
	}

	got, err := db.GetUserPreference(ctx, "42")
	if err != nil {
		t.Fatalf("GetUserPreference after upsert: %v", err)
	}
	if got.DefaultBlock == nil || !*got.DefaultBlock {
		t.Error("DefaultBlock not persisted")
	}
	if got.ConcurrentStreamLimit == nil || *got.ConcurrentStreamLimit != 2 {
		t.Error("ConcurrentStreamLimit not persisted")
	}
	if len(got.AllowedIPs) != 2 || got.AllowedIPs[0] != "192.168.1.0/24" {
		t.Errorf("AllowedIPs = %v", got.AllowedIPs)
	}

	// Ensure must not clobber policy fields on re-observation.
	if err := db.EnsureUserPreference(ctx, "42", "alice-renamed", ""); err != nil {
		t.Fatalf("EnsureUserPreference again: %v", err)
	}
	got, _ = db.GetUserPreference(ctx, "42")
	if got.Username != "alice-renamed" {
		t.Error("username should refresh on re-observation")
	}
	if got.NetworkPolicy != models.NetworkPolicyLAN || got.ConcurrentStreamLimit == nil {
		t.Error("policy fields must survive re-observation")
	}
}

func TestTimeRuleCRUD(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	r := &models.TimeRule{
		ID:        uuid.New().String(),
		UserID:    "42",
		DayOfWeek: 2,
		StartTime: "20:00",
		EndTime:   "22:00",
		Enabled:   true,
		RuleName:  "school night",
	}
	if err := db.InsertTimeRule(ctx, r); err != nil {
		t.Fatalf("InsertTimeRule: %v", err)
	}

	deviceRule := &models.TimeRule{
		ID:               uuid.New().String(),
		UserID:           "42",
		DeviceIdentifier: "AAA",
		DayOfWeek:        2,
		StartTime:        "18:00",
		EndTime:          "19:00",
		Enabled:          false,
		RuleName:         "disabled rule",
	}
	if err := db.InsertTimeRule(ctx, deviceRule); err != nil {
		t.Fatalf("InsertTimeRule device-specific: %v", err)
	}

	enabled, err := db.ListEnabledTimeRules(ctx, "42", 2)
	if err != nil {
		t.Fatalf("ListEnabledTimeRules: %v", err)
	}
	if len(enabled) != 1 || enabled[0].RuleName != "school night" {
		t.Errorf("enabled rules = %+v, want only school night", enabled)
	}

	r.EndTime = "23:00"
	if err := db.UpdateTimeRule(ctx, r); err != nil {
		t.Fatalf("UpdateTimeRule: %v", err)
	}
	got, err := db.GetTimeRule(ctx, r.ID)
	if err != nil || got.EndTime != "23:00" {
		t.Errorf("update not persisted: %+v err %v", got, err)
	}

	if err := db.DeleteTimeRule(ctx, "42", r.ID); err != nil {
		t.Fatalf("DeleteTimeRule: %v", err)
	}
	if err := db.DeleteTimeRule(ctx, "42", r.ID); !errors.Is(err, ErrNotFound) {
		t.Errorf("double delete: got %v, want ErrNotFound", err)
	}
}

func TestHistoryOpenCloseAndStartTimes(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	base := time.Now().UTC().Truncate(time.Second)

	for i, key := range []string{"sk-1", "sk-2"} {
		e := &models.SessionHistoryEntry{
			ID:               uuid.New().String(),
			SessionKey:       key,
			UserID:           "42",
			DeviceIdentifier: "AAA",
			DeviceAddress:    "192.168.1.50",
			Title:            "Some Movie",
			MediaType:        "movie",
			StartedAt:        base.Add(time.Duration(i) * 5 * time.Minute),
		}
		if err := db.OpenHistoryEntry(ctx, e); err != nil {
			t.Fatalf("OpenHistoryEntry %s: %v", key, err)
		}
	}

	active, err := db.ActiveSessionKeys(ctx)
	if err != nil {
		t.Fatalf("ActiveSessionKeys: %v", err)
	}
	if len(active) != 2 || !active["sk-1"] || !active["sk-2"] {
		t.Errorf("active keys = %v", active)
	}

	starts, err := db.SessionStartTimes(ctx, []string{"sk-1", "sk-2", "sk-missing"})
	if err != nil {
		t.Fatalf("SessionStartTimes: %v", err)
	}
	if len(starts) != 2 {
		t.Errorf("start times = %v, want 2 entries", starts)
	}
	if !starts["sk-2"].After(starts["sk-1"]) {
		t.Error("sk-2 should start after sk-1")
	}

	if err := db.CloseHistoryEntries(ctx, []string{"sk-1"}, base.Add(time.Hour)); err != nil {
		t.Fatalf("CloseHistoryEntries: %v", err)
	}
	active, _ = db.ActiveSessionKeys(ctx)
	if len(active) != 1 || !active["sk-2"] {
		t.Errorf("after close, active keys = %v", active)
	}
}

func TestSettingsSeedAndUpsert(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Second)

	seed := &models.Setting{Key: "CONCURRENT_STREAM_LIMIT", Value: "0", Type: models.SettingTypeInt, UpdatedAt: now}
	if err := db.InsertSettingIfAbsent(ctx, seed); err != nil {
		t.Fatalf("InsertSettingIfAbsent: %v", err)
	}

	// Seeding again must not overwrite.
	seed2 := &models.Setting{Key: "CONCURRENT_STREAM_LIMIT", Value: "9", Type: models.SettingTypeInt, UpdatedAt: now}
	if err := db.InsertSettingIfAbsent(ctx, seed2); err != nil {
		t.Fatalf("InsertSettingIfAbsent again: %v", err)
	}
	got, err := db.GetSetting(ctx, "CONCURRENT_STREAM_LIMIT")
	if err != nil || got.Value != "0" {
		t.Errorf("seed overwrote existing value: %+v err %v", got, err)
	}

	up := &models.Setting{Key: "CONCURRENT_STREAM_LIMIT", Value: "3", Type: models.SettingTypeInt, UpdatedAt: now.Add(time.Minute)}
	if err := db.UpsertSetting(ctx, up); err != nil {
		t.Fatalf("UpsertSetting: %v", err)
	}
	got, _ = db.GetSetting(ctx, "CONCURRENT_STREAM_LIMIT")
	if got.Value != "3" {
		t.Errorf("upsert did not replace value: %+v", got)
	}

	if _, err := db.GetSetting(ctx, "NOPE"); !errors.Is(err, ErrNotFound) {
		t.Errorf("missing setting: got %v, want ErrNotFound", err)
	}
}
