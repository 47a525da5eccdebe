// PlexGuard - Access Control and Session Enforcement for Plex
// Copyright 2026 PlexGuard Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/plexguard/plexguard

package guard

import (
	"context"
	"time"

	"github.com/plexguard/plexguard/internal/logging"
	"github.com/plexguard/plexguard/internal/settings"
)

// minInterval is the floor on the poll interval regardless of settings.
const minInterval = time.Second

// Scheduler drives the orchestrator on the configured interval. It
// implements suture.Service; on shutdown the in-flight tick completes
// before the loop exits.
type Scheduler struct {
	orchestrator *Orchestrator
	store        *settings.Store
}

// NewScheduler creates the poll scheduler.
func NewScheduler(orchestrator *Orchestrator, store *settings.Store) *Scheduler {
	return &Scheduler{orchestrator: orchestrator, store: store}
}

// Serve implements suture.Service. The interval setting is re-read every
// iteration so runtime changes take effect on the next tick.
func (s *Scheduler) Serve(ctx context.Context) error {
	logging.Info().Msg("poll scheduler started")

	// First tick immediately; subsequent ticks on the interval.
	s.orchestrator.Tick(ctx)

	for {
		interval := s.interval(ctx)
		select {
		case <-ctx.Done():
			logging.Info().Msg("poll scheduler stopping")
			return ctx.Err()
		case <-time.After(interval):
			s.orchestrator.Tick(ctx)
		}
	}
}

// interval reads the refresh interval setting, clamped to the minimum.
func (s *Scheduler) interval(ctx context.Context) time.Duration {
	seconds := s.store.GetInt(ctx, settings.KeyRefreshInterval)
	interval := time.Duration(seconds) * time.Second
	if interval < minInterval {
		interval = minInterval
	}
	return interval
}
