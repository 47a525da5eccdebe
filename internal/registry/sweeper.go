// PlexGuard - Access Control and Session Enforcement for Plex
// Copyright 2026 PlexGuard Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/plexguard/plexguard

package registry

import (
	"context"
	"time"

	"github.com/plexguard/plexguard/internal/logging"
)

// Sweeper periodically runs the inactive-device cleanup. It implements
// suture.Service and is supervised alongside the poll scheduler.
type Sweeper struct {
	registry *Registry
	interval time.Duration
}

// NewSweeper creates a cleanup sweeper. A zero interval defaults to hourly;
// whether a sweep actually deletes anything is governed by the
// DEVICE_CLEANUP_ENABLED setting at sweep time.
func NewSweeper(registry *Registry, interval time.Duration) *Sweeper {
	if interval <= 0 {
		interval = time.Hour
	}
	return &Sweeper{registry: registry, interval: interval}
}

// Serve implements suture.Service.
func (s *Sweeper) Serve(ctx context.Context) error {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if _, err := s.registry.CleanupInactive(ctx); err != nil {
				logging.Error().Err(err).Msg("device cleanup sweep failed")
			}
		}
	}
}
