// PlexGuard - Access Control and Session Enforcement for Plex
// Copyright 2026 PlexGuard Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/plexguard/plexguard

package policy

import (
	"testing"
	"time"

	"github.com/plexguard/plexguard/internal/models"
	"github.com/plexguard/plexguard/internal/settings"
)

// S5: with a cap of two and three streams, exactly the newest is cut.
func TestConcurrentCapTerminatesNewest(t *testing.T) {
	env := newPolicyEnv(t)
	env.set(t, settings.KeyConcurrentStreamLimit, "2")
	env.addDevice(t, "42", "D1", models.DeviceStatusApproved)
	env.addDevice(t, "42", "D2", models.DeviceStatusApproved)
	env.addDevice(t, "42", "D3", models.DeviceStatusApproved)

	base := time.Date(2026, 8, 2, 10, 0, 0, 0, time.UTC)
	env.openHistory(t, "s_a", "42", base)
	env.openHistory(t, "s_b", "42", base.Add(5*time.Minute))
	env.openHistory(t, "s_c", "42", base.Add(10*time.Minute))

	decisions := env.engine.EvaluateAt(env.ctx, snap(
		mkSession("42", "D1", "Plex Web", "192.168.1.1", "s_a"),
		mkSession("42", "D2", "Plex Web", "192.168.1.2", "s_b"),
		mkSession("42", "D3", "Plex Web", "192.168.1.3", "s_c"),
	), base.Add(11*time.Minute))

	if d := decisionFor(t, decisions, "s_c"); d.Allow || d.StopCode != StopConcurrentLimit {
		t.Errorf("newest session should be cut: %+v", d)
	}
	for _, key := range []string{"s_a", "s_b"} {
		if d := decisionFor(t, decisions, key); !d.Allow {
			t.Errorf("older session %s should survive: %+v", key, d)
		}
	}
}

// Property 6: exactly N-L selected, all strictly newer than survivors.
func TestConcurrentCapSelectionCount(t *testing.T) {
	env := newPolicyEnv(t)
	env.set(t, settings.KeyConcurrentStreamLimit, "1")
	base := time.Date(2026, 8, 2, 10, 0, 0, 0, time.UTC)

	sessions := make([]models.Session, 0, 4)
	for i, key := range []string{"s1", "s2", "s3", "s4"} {
		machine := "M" + key
		env.addDevice(t, "42", machine, models.DeviceStatusApproved)
		env.openHistory(t, key, "42", base.Add(time.Duration(i)*time.Minute))
		sessions = append(sessions, mkSession("42", machine, "Plex Web", "192.168.1.10", key))
	}

	decisions := env.engine.EvaluateAt(env.ctx, snap(sessions...), base.Add(time.Hour))

	var blockedCount int
	for _, key := range []string{"s2", "s3", "s4"} {
		if d := decisionFor(t, decisions, key); !d.Allow {
			blockedCount++
		}
	}
	if blockedCount != 3 {
		t.Errorf("blocked %d of the newer sessions, want 3", blockedCount)
	}
	if d := decisionFor(t, decisions, "s1"); !d.Allow {
		t.Errorf("oldest session must survive: %+v", d)
	}
}

func TestConcurrentCapTieBreakBySessionKey(t *testing.T) {
	env := newPolicyEnv(t)
	env.set(t, settings.KeyConcurrentStreamLimit, "1")
	env.addDevice(t, "42", "D1", models.DeviceStatusApproved)
	env.addDevice(t, "42", "D2", models.DeviceStatusApproved)

	base := time.Date(2026, 8, 2, 10, 0, 0, 0, time.UTC)
	env.openHistory(t, "s_a", "42", base)
	env.openHistory(t, "s_b", "42", base) // identical started_at

	decisions := env.engine.EvaluateAt(env.ctx, snap(
		mkSession("42", "D1", "Plex Web", "192.168.1.1", "s_a"),
		mkSession("42", "D2", "Plex Web", "192.168.1.2", "s_b"),
	), base.Add(time.Minute))

	// Lexicographically greater key is treated as newer.
	if d := decisionFor(t, decisions, "s_b"); d.Allow {
		t.Errorf("tie-break should cut s_b: %+v", d)
	}
	if d := decisionFor(t, decisions, "s_a"); !d.Allow {
		t.Errorf("tie-break should keep s_a: %+v", d)
	}
}

func TestConcurrentCapZeroMeansUnlimited(t *testing.T) {
	env := newPolicyEnv(t)
	base := time.Date(2026, 8, 2, 10, 0, 0, 0, time.UTC)

	var sessions []models.Session
	for i := 0; i < 5; i++ {
		key := string(rune('a'+i)) + "-sess"
		machine := "M" + key
		env.addDevice(t, "42", machine, models.DeviceStatusApproved)
		env.openHistory(t, key, "42", base.Add(time.Duration(i)*time.Minute))
		sessions = append(sessions, mkSession("42", machine, "Plex Web", "192.168.1.10", key))
	}

	decisions := env.engine.EvaluateAt(env.ctx, snap(sessions...), base.Add(time.Hour))
	for _, d := range decisions {
		if !d.Allow {
			t.Errorf("limit 0 must not block anything: %+v", d)
		}
	}
}

func TestConcurrentCapPerUserOverride(t *testing.T) {
	env := newPolicyEnv(t)
	env.set(t, settings.KeyConcurrentStreamLimit, "5")
	one := 1
	env.addPreference(t, &models.UserPreference{UserID: "42", ConcurrentStreamLimit: &one})
	env.addDevice(t, "42", "D1", models.DeviceStatusApproved)
	env.addDevice(t, "42", "D2", models.DeviceStatusApproved)

	base := time.Date(2026, 8, 2, 10, 0, 0, 0, time.UTC)
	env.openHistory(t, "s1", "42", base)
	env.openHistory(t, "s2", "42", base.Add(time.Minute))

	decisions := env.engine.EvaluateAt(env.ctx, snap(
		mkSession("42", "D1", "Plex Web", "192.168.1.1", "s1"),
		mkSession("42", "D2", "Plex Web", "192.168.1.2", "s2"),
	), base.Add(time.Hour))

	if d := decisionFor(t, decisions, "s2"); d.Allow {
		t.Errorf("per-user limit 1 should cut s2: %+v", d)
	}
}

func TestConcurrentCapExclusions(t *testing.T) {
	env := newPolicyEnv(t)
	env.set(t, settings.KeyConcurrentStreamLimit, "1")
	env.addDevice(t, "42", "NORMAL", models.DeviceStatusApproved)
	env.addDevice(t, "42", "EXCLUDED", models.DeviceStatusApproved, func(d *models.Device) {
		d.ExcludeFromConcurrentLimit = true
	})

	base := time.Date(2026, 8, 2, 10, 0, 0, 0, time.UTC)
	env.openHistory(t, "s_n", "42", base)
	env.openHistory(t, "s_x", "42", base.Add(time.Minute))
	env.openHistory(t, "s_amp", "42", base.Add(2*time.Minute))

	// Excluded device and Plexamp don't count: only one countable session,
	// under the limit.
	decisions := env.engine.EvaluateAt(env.ctx, snap(
		mkSession("42", "NORMAL", "Plex Web", "192.168.1.1", "s_n"),
		mkSession("42", "EXCLUDED", "Plex Web", "192.168.1.2", "s_x"),
		mkSession("42", "AMP", "Plexamp", "192.168.1.3", "s_amp"),
	), base.Add(time.Hour))

	for _, d := range decisions {
		if !d.Allow {
			t.Errorf("nothing should be cut when countable <= limit: %+v", d)
		}
	}
}

func TestConcurrentCapTempAccessCounting(t *testing.T) {
	env := newPolicyEnv(t)
	env.set(t, settings.KeyConcurrentStreamLimit, "1")
	until := time.Now().UTC().Add(2 * time.Hour)
	env.addDevice(t, "42", "NORMAL", models.DeviceStatusApproved)
	env.addDevice(t, "42", "TEMP", models.DeviceStatusApproved, func(d *models.Device) {
		d.TempAccess = models.TempAccess{Until: &until, DurationMinutes: 120}
	})

	base := time.Now().UTC().Add(-10 * time.Minute)
	env.openHistory(t, "s_n", "42", base)
	env.openHistory(t, "s_t", "42", base.Add(time.Minute))

	sessions := snap(
		mkSession("42", "NORMAL", "Plex Web", "192.168.1.1", "s_n"),
		mkSession("42", "TEMP", "Plex Web", "192.168.1.2", "s_t"),
	)
	now := time.Now().UTC()

	// Default: temp-access sessions count, so the newer one is cut.
	decisions := env.engine.EvaluateAt(env.ctx, sessions, now)
	if d := decisionFor(t, decisions, "s_t"); d.Allow {
		t.Errorf("temp session should count and be cut by default: %+v", d)
	}

	// With counting disabled the temp session is invisible to the cap.
	env.set(t, settings.KeyConcurrentIncludeTempAccess, "false")
	decisions = env.engine.EvaluateAt(env.ctx, sessions, now)
	for _, d := range decisions {
		if !d.Allow {
			t.Errorf("with temp counting off nothing should be cut: %+v", d)
		}
	}
}
