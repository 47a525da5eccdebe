// PlexGuard - Access Control and Session Enforcement for Plex
// Copyright 2026 PlexGuard Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/plexguard/plexguard

// Package policy implements the pure access-rule evaluator. Given a session
// snapshot and point-in-time reads of devices, preferences, time rules,
// settings, and session history, it yields one Decision per session.
//
// Evaluation order per session, short-circuiting on the first decisive
// outcome:
//
//  1. Product bypass (Plexamp always allowed)
//  2. Temporary access with bypass_policies
//  3. IP policy (network location, then allow-list)
//  4. Time schedule
//  5. Device approval state
//  6. Concurrent-stream cap (evaluated per user across the whole snapshot,
//     before the per-session loop, so a capped session is never re-judged)
//
// Temporary access WITHOUT bypass does not override the IP or time checks;
// it only rescues rejected/pending devices in step 5.
//
// An unexpected failure in steps 1-5 fails open: the session is allowed
// and the error logged, so one bad row can never cascade into mass
// terminations. The concurrent cap does not fail open: a session whose
// device read fails is still counted, and when the history read fails the
// user's sessions are ordered by session key alone.
package policy

import (
	"context"
	"errors"
	"time"

	"github.com/plexguard/plexguard/internal/database"
	"github.com/plexguard/plexguard/internal/logging"
	"github.com/plexguard/plexguard/internal/metrics"
	"github.com/plexguard/plexguard/internal/models"
	"github.com/plexguard/plexguard/internal/settings"
)

// Engine evaluates access rules. It is read-only over every table it
// touches.
type Engine struct {
	db    *database.DB
	store *settings.Store
}

// NewEngine creates a policy engine.
func NewEngine(db *database.DB, store *settings.Store) *Engine {
	return &Engine{db: db, store: store}
}

// Evaluate judges every session in the snapshot at the current instant.
func (e *Engine) Evaluate(ctx context.Context, snapshot *models.SessionSnapshot) []Decision {
	return e.EvaluateAt(ctx, snapshot, time.Now().UTC())
}

// EvaluateAt judges every session in the snapshot at a fixed instant.
// Decisions are deterministic for fixed inputs and time.
func (e *Engine) EvaluateAt(ctx context.Context, snapshot *models.SessionSnapshot, now time.Time) []Decision {
	decisions := make([]Decision, 0, len(snapshot.Sessions))

	// The concurrent cap runs first, across the whole snapshot; sessions it
	// selects are excluded from the per-session loop.
	capped := e.evaluateConcurrentCaps(ctx, snapshot, now)

	for i := range snapshot.Sessions {
		session := &snapshot.Sessions[i]
		if d, ok := capped[session.SessionKey]; ok {
			decisions = append(decisions, d)
			continue
		}
		decisions = append(decisions, e.evaluateSession(ctx, session, now))
	}

	for i := range decisions {
		outcome := "allow"
		if !decisions[i].Allow {
			outcome = "block"
		}
		metrics.PolicyDecisionsTotal.WithLabelValues(outcome, decisions[i].StopCode).Inc()
	}

	return decisions
}

// evaluateSession runs steps 1-5 for one session, failing open on internal
// errors.
func (e *Engine) evaluateSession(ctx context.Context, session *models.Session, now time.Time) (decision Decision) {
	defer func() {
		if r := recover(); r != nil {
			logging.Error().Str("session", session.SessionKey).Interface("panic", r).
				Msg("policy evaluation panicked, failing open")
			decision = allow(session.SessionKey, session.SessionID, session.User.ID)
		}
	}()

	// Step 1: product bypass.
	if session.Player.Product == models.ProductPlexamp {
		return allow(session.SessionKey, session.SessionID, session.User.ID)
	}

	device, err := e.db.GetDevice(ctx, session.User.ID, session.Player.MachineID)
	if err != nil && !errors.Is(err, database.ErrNotFound) {
		logging.Error().Err(err).Str("session", session.SessionKey).
			Msg("device read failed during evaluation, failing open")
		return allow(session.SessionKey, session.SessionID, session.User.ID)
	}

	// Step 2: temporary access with bypass short-circuits steps 3-5. The
	// concurrent cap has already run across the snapshot, so a bypass
	// session that counts toward the cap can still be cut by it.
	if device != nil && device.TempAccess.ActiveAt(now) && device.TempAccess.BypassPolicies {
		return allow(session.SessionKey, session.SessionID, session.User.ID)
	}

	pref, err := e.db.GetUserPreference(ctx, session.User.ID)
	if err != nil && !errors.Is(err, database.ErrNotFound) {
		logging.Error().Err(err).Str("session", session.SessionKey).
			Msg("preference read failed during evaluation, failing open")
		return allow(session.SessionKey, session.SessionID, session.User.ID)
	}

	// Step 3: IP policy.
	if d, blocked := e.evaluateIPPolicy(ctx, session, pref); blocked {
		return d
	}

	// Step 4: time schedule.
	if d, blocked := e.evaluateTimeRules(ctx, session, now); blocked {
		return d
	}

	// Step 5: device approval.
	return e.evaluateApproval(ctx, session, device, pref, now)
}

// evaluateApproval implements step 5.
func (e *Engine) evaluateApproval(ctx context.Context, session *models.Session, device *models.Device, pref *models.UserPreference, now time.Time) Decision {
	tempActive := device != nil && device.TempAccess.ActiveAt(now)

	// Plexamp devices are force-treated as approved regardless of stored
	// state; the product bypass in step 1 normally catches them, but a
	// stored Plexamp row observed through another product string falls
	// through to here.
	if device != nil && device.IsPlexamp() {
		return allow(session.SessionKey, session.SessionID, session.User.ID)
	}

	status := models.DeviceStatusPending
	if device != nil {
		status = device.Status
	}

	switch status {
	case models.DeviceStatusRejected:
		if tempActive {
			return allow(session.SessionKey, session.SessionID, session.User.ID)
		}
		return block(session.SessionKey, session.SessionID, session.User.ID,
			StopDeviceRejected, e.store.GetString(ctx, settings.KeyMsgDeviceRejected))

	case models.DeviceStatusApproved:
		return allow(session.SessionKey, session.SessionID, session.User.ID)

	default: // pending, or no device row yet
		if tempActive {
			return allow(session.SessionKey, session.SessionID, session.User.ID)
		}
		if e.effectiveDefaultBlock(ctx, pref) {
			return block(session.SessionKey, session.SessionID, session.User.ID,
				StopDevicePending, e.store.GetString(ctx, settings.KeyMsgDevicePending))
		}
		return allow(session.SessionKey, session.SessionID, session.User.ID)
	}
}

// effectiveDefaultBlock resolves the pending-device default: user override
// when set, global PLEX_GUARD_DEFAULT_BLOCK otherwise.
func (e *Engine) effectiveDefaultBlock(ctx context.Context, pref *models.UserPreference) bool {
	if pref != nil && pref.DefaultBlock != nil {
		return *pref.DefaultBlock
	}
	return e.store.GetBool(ctx, settings.KeyDefaultBlock)
}
