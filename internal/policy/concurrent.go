// PlexGuard - Access Control and Session Enforcement for Plex
// Copyright 2026 PlexGuard Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/plexguard/plexguard

package policy

import (
	"context"
	"errors"
	"sort"
	"time"

	"github.com/plexguard/plexguard/internal/database"
	"github.com/plexguard/plexguard/internal/logging"
	"github.com/plexguard/plexguard/internal/models"
	"github.com/plexguard/plexguard/internal/settings"
)

// evaluateConcurrentCaps runs the per-user stream cap across the whole
// snapshot and returns the blocked sessions keyed by session key.
//
// The newest sessions are terminated: a user already watching is never
// interrupted by an incoming play attempt; the newcomer is denied.
func (e *Engine) evaluateConcurrentCaps(ctx context.Context, snapshot *models.SessionSnapshot, now time.Time) map[string]Decision {
	blocked := make(map[string]Decision)
	includeTempAccess := e.store.GetBool(ctx, settings.KeyConcurrentIncludeTempAccess)
	reason := e.store.GetString(ctx, settings.KeyMsgConcurrent)

	for userID, sessions := range sessionsByUser(snapshot) {
		limit := e.resolveStreamLimit(ctx, userID)
		if limit <= 0 {
			continue // 0 means unlimited
		}

		countable := e.countableSessions(ctx, sessions, includeTempAccess, now)
		if len(countable) <= limit {
			continue
		}

		e.orderNewestFirst(ctx, countable, snapshot.TakenAt)

		for _, session := range countable[:len(countable)-limit] {
			blocked[session.SessionKey] = block(session.SessionKey, session.SessionID, userID,
				StopConcurrentLimit, reason)
		}
	}

	return blocked
}

// sessionsByUser groups snapshot sessions by normalized user id.
func sessionsByUser(snapshot *models.SessionSnapshot) map[string][]*models.Session {
	byUser := make(map[string][]*models.Session)
	for i := range snapshot.Sessions {
		s := &snapshot.Sessions[i]
		if s.User.ID == "" {
			continue
		}
		byUser[s.User.ID] = append(byUser[s.User.ID], s)
	}
	return byUser
}

// resolveStreamLimit returns the user's cap: per-user override when set,
// global CONCURRENT_STREAM_LIMIT otherwise. 0 is unlimited.
func (e *Engine) resolveStreamLimit(ctx context.Context, userID string) int {
	pref, err := e.db.GetUserPreference(ctx, userID)
	if err == nil && pref.ConcurrentStreamLimit != nil {
		return *pref.ConcurrentStreamLimit
	}
	if err != nil && !errors.Is(err, database.ErrNotFound) {
		logging.Error().Err(err).Str("user", userID).Msg("preference read failed resolving stream limit")
	}
	return e.store.GetInt(ctx, settings.KeyConcurrentStreamLimit)
}

// countableSessions filters the sessions that count toward the cap:
// Plexamp never counts, excluded devices never count, and temp-access
// devices only count when the global setting says so.
func (e *Engine) countableSessions(ctx context.Context, sessions []*models.Session, includeTempAccess bool, now time.Time) []*models.Session {
	countable := make([]*models.Session, 0, len(sessions))
	for _, s := range sessions {
		if s.Player.Product == models.ProductPlexamp {
			continue
		}

		device, err := e.db.GetDevice(ctx, s.User.ID, s.Player.MachineID)
		if err != nil && !errors.Is(err, database.ErrNotFound) {
			logging.Error().Err(err).Str("session", s.SessionKey).
				Msg("device read failed during cap filtering, counting session")
		}
		if device != nil {
			if device.IsPlexamp() || device.ExcludeFromConcurrentLimit {
				continue
			}
			if !includeTempAccess && device.TempAccess.ActiveAt(now) {
				continue
			}
		}

		countable = append(countable, s)
	}
	return countable
}

// orderNewestFirst sorts sessions by history started_at descending, ties
// broken by session key descending (the lexicographically greater key is
// treated as newer). Sessions without an open history row are treated as
// having started at the snapshot instant, i.e. newest.
func (e *Engine) orderNewestFirst(ctx context.Context, sessions []*models.Session, takenAt time.Time) {
	keys := make([]string, len(sessions))
	for i, s := range sessions {
		keys[i] = s.SessionKey
	}

	starts, err := e.db.SessionStartTimes(ctx, keys)
	if err != nil {
		logging.Error().Err(err).Msg("history read failed ordering sessions, ordering by session key only")
		starts = map[string]time.Time{}
	}

	startOf := func(s *models.Session) time.Time {
		if t, ok := starts[s.SessionKey]; ok {
			return t
		}
		return takenAt
	}

	sort.SliceStable(sessions, func(i, j int) bool {
		ti, tj := startOf(sessions[i]), startOf(sessions[j])
		if !ti.Equal(tj) {
			return ti.After(tj)
		}
		return sessions[i].SessionKey > sessions[j].SessionKey
	})
}
