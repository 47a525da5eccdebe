// PlexGuard - Access Control and Session Enforcement for Plex
// Copyright 2026 PlexGuard Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/plexguard/plexguard

package guard

import (
	"context"
	"errors"

	"github.com/google/uuid"

	"github.com/plexguard/plexguard/internal/database"
	"github.com/plexguard/plexguard/internal/logging"
	"github.com/plexguard/plexguard/internal/metrics"
	"github.com/plexguard/plexguard/internal/models"
)

// reconcileHistory is the session history writer: it opens rows for newly
// started session keys and closes rows whose keys vanished from the
// snapshot. The policy engine reads these rows to order concurrent
// sessions by age.
func (o *Orchestrator) reconcileHistory(ctx context.Context, snapshot *models.SessionSnapshot, previouslyActive, newlyStarted map[string]bool) {
	now := snapshot.TakenAt

	for i := range snapshot.Sessions {
		session := &snapshot.Sessions[i]
		if session.SessionKey == "" || !newlyStarted[session.SessionKey] {
			continue
		}

		entry := &models.SessionHistoryEntry{
			ID:               uuid.New().String(),
			SessionKey:       session.SessionKey,
			UserID:           session.User.ID,
			DeviceIdentifier: session.Player.MachineID,
			DeviceAddress:    session.Player.Address,
			Title:            session.Content.Title,
			GrandparentTitle: session.Content.GrandparentTitle,
			MediaType:        session.Content.Type,
			StartedAt:        now,
		}
		if device, err := o.registry.Get(ctx, session.User.ID, session.Player.MachineID); err == nil {
			entry.DeviceID = device.ID
		} else if !errors.Is(err, database.ErrNotFound) {
			logging.Error().Err(err).Str("session", session.SessionKey).Msg("device lookup failed for history entry")
		}

		if err := o.db.OpenHistoryEntry(ctx, entry); err != nil {
			metrics.PollErrorsTotal.WithLabelValues("history").Inc()
			logging.Error().Err(err).Str("session", session.SessionKey).Msg("failed to open history entry")
		}
	}

	// Close rows whose session keys are no longer present.
	current := make(map[string]bool, len(snapshot.Sessions))
	for i := range snapshot.Sessions {
		current[snapshot.Sessions[i].SessionKey] = true
	}
	var vanished []string
	for key := range previouslyActive {
		if !current[key] {
			vanished = append(vanished, key)
		}
	}
	if len(vanished) > 0 {
		if err := o.db.CloseHistoryEntries(ctx, vanished, now); err != nil {
			metrics.PollErrorsTotal.WithLabelValues("history").Inc()
			logging.Error().Err(err).Int("count", len(vanished)).Msg("failed to close history entries")
		}
	}
}
