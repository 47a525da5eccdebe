// PlexGuard - Access Control and Session Enforcement for Plex
// Copyright 2026 PlexGuard Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/plexguard/plexguard

package policy

import (
	"testing"

	"github.com/plexguard/plexguard/internal/models"
)

// S3: LAN-only violation from a WAN address.
func TestLANOnlyViolation(t *testing.T) {
	env := newPolicyEnv(t)
	env.addPreference(t, &models.UserPreference{UserID: "42", NetworkPolicy: models.NetworkPolicyLAN})
	env.addDevice(t, "42", "AAA", models.DeviceStatusApproved)

	decisions := env.engine.Evaluate(env.ctx, snap(mkSession("42", "AAA", "Plex Web", "198.51.100.7", "s1")))
	d := decisionFor(t, decisions, "s1")
	if d.Allow || d.StopCode != StopLANOnly {
		t.Errorf("LAN-only from WAN: %+v", d)
	}

	decisions = env.engine.Evaluate(env.ctx, snap(mkSession("42", "AAA", "Plex Web", "192.168.1.7", "s1")))
	if d := decisionFor(t, decisions, "s1"); !d.Allow {
		t.Errorf("LAN-only from LAN should pass: %+v", d)
	}
}

func TestWANOnlyViolation(t *testing.T) {
	env := newPolicyEnv(t)
	env.addPreference(t, &models.UserPreference{UserID: "42", NetworkPolicy: models.NetworkPolicyWAN})
	env.addDevice(t, "42", "AAA", models.DeviceStatusApproved)

	decisions := env.engine.Evaluate(env.ctx, snap(mkSession("42", "AAA", "Plex Web", "10.0.0.8", "s1")))
	d := decisionFor(t, decisions, "s1")
	if d.Allow || d.StopCode != StopWANOnly {
		t.Errorf("WAN-only from LAN: %+v", d)
	}
}

func TestIPAllowListRestriction(t *testing.T) {
	env := newPolicyEnv(t)
	env.addPreference(t, &models.UserPreference{
		UserID:         "42",
		IPAccessPolicy: models.IPAccessRestricted,
		AllowedIPs:     []string{"192.168.1.0/24", "203.0.113.5"},
	})
	env.addDevice(t, "42", "AAA", models.DeviceStatusApproved)

	tests := []struct {
		addr      string
		wantAllow bool
	}{
		{"192.168.1.77", true},  // inside CIDR
		{"203.0.113.5", true},   // exact match
		{"203.0.113.6", false},  // not listed
		{"198.51.100.7", false}, // not listed
	}

	for _, tt := range tests {
		decisions := env.engine.Evaluate(env.ctx, snap(mkSession("42", "AAA", "Plex Web", tt.addr, "s1")))
		d := decisionFor(t, decisions, "s1")
		if d.Allow != tt.wantAllow {
			t.Errorf("addr %s: allow=%v want %v (%+v)", tt.addr, d.Allow, tt.wantAllow, d)
		}
		if !tt.wantAllow && d.StopCode != StopIPNotAllowed {
			t.Errorf("addr %s: stop code %s, want IP_NOT_ALLOWED", tt.addr, d.StopCode)
		}
	}
}

// Network policy is checked before the allow-list: a LAN-only user on WAN
// gets LAN_ONLY even when the address is on the allow-list.
func TestNetworkPolicyPrecedesAllowList(t *testing.T) {
	env := newPolicyEnv(t)
	env.addPreference(t, &models.UserPreference{
		UserID:         "42",
		NetworkPolicy:  models.NetworkPolicyLAN,
		IPAccessPolicy: models.IPAccessRestricted,
		AllowedIPs:     []string{"203.0.113.5"},
	})
	env.addDevice(t, "42", "AAA", models.DeviceStatusApproved)

	decisions := env.engine.Evaluate(env.ctx, snap(mkSession("42", "AAA", "Plex Web", "203.0.113.5", "s1")))
	d := decisionFor(t, decisions, "s1")
	if d.Allow || d.StopCode != StopLANOnly {
		t.Errorf("network policy must win over allow-list: %+v", d)
	}
}

func TestAddressAllowed(t *testing.T) {
	allowed := []string{"10.0.0.0/8", "203.0.113.5", " 192.168.1.9 ", "", "bogus", "300.1.1.1/33"}

	tests := []struct {
		addr string
		want bool
	}{
		{"10.200.3.4", true},
		{"203.0.113.5", true},
		{"192.168.1.9", true},
		{"203.0.113.6", false},
		{"", false},
		{"not-an-ip", false},
	}

	for _, tt := range tests {
		if got := addressAllowed(tt.addr, allowed); got != tt.want {
			t.Errorf("addressAllowed(%q) = %v, want %v", tt.addr, got, tt.want)
		}
	}
}
