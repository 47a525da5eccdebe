// PlexGuard - Access Control and Session Enforcement for Plex
// Copyright 2026 PlexGuard Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/plexguard/plexguard

// Package guard sequences the enforcement tick: fetch the snapshot, ingest
// devices, reconcile session history, evaluate policies, and terminate
// violating sessions. One failing session or policy never prevents the
// others; a failed fetch skips the tick entirely and the next tick retries.
package guard

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"

	"github.com/plexguard/plexguard/internal/database"
	"github.com/plexguard/plexguard/internal/events"
	"github.com/plexguard/plexguard/internal/logging"
	"github.com/plexguard/plexguard/internal/metrics"
	"github.com/plexguard/plexguard/internal/models"
	"github.com/plexguard/plexguard/internal/policy"
	"github.com/plexguard/plexguard/internal/registry"
	"github.com/plexguard/plexguard/internal/settings"
)

// terminateWorkers bounds the parallel outbound terminate calls per tick.
const terminateWorkers = 4

// Upstream is the slice of the Plex client the orchestrator needs.
type Upstream interface {
	FetchSessions(ctx context.Context) (*models.SessionSnapshot, error)
	TerminateSession(ctx context.Context, sessionID, reason string) error
}

// Orchestrator runs one full enforcement tick at a time.
type Orchestrator struct {
	upstream Upstream
	db       *database.DB
	registry *registry.Registry
	engine   *policy.Engine
	store    *settings.Store
	bus      *events.Bus

	// limiter throttles terminate calls so a pathological tick cannot
	// hammer the upstream server.
	limiter *rate.Limiter

	healthy      atomic.Bool
	lastSnapshot atomic.Pointer[models.SessionSnapshot]
}

// New creates an orchestrator.
func New(upstream Upstream, db *database.DB, reg *registry.Registry, engine *policy.Engine, store *settings.Store, bus *events.Bus) *Orchestrator {
	o := &Orchestrator{
		upstream: upstream,
		db:       db,
		registry: reg,
		engine:   engine,
		store:    store,
		bus:      bus,
		limiter:  rate.NewLimiter(rate.Limit(5), 5),
	}
	o.healthy.Store(true)
	return o
}

// Healthy reports whether the most recent tick completed its fetch.
func (o *Orchestrator) Healthy() bool {
	return o.healthy.Load()
}

// LastSnapshot returns the most recently fetched snapshot, or nil before
// the first successful tick. The admin sessions endpoint reads it.
func (o *Orchestrator) LastSnapshot() *models.SessionSnapshot {
	return o.lastSnapshot.Load()
}

// Tick runs one full cycle: fetch, ingest, history, evaluate, terminate.
func (o *Orchestrator) Tick(ctx context.Context) {
	started := time.Now()
	defer func() {
		metrics.PollTicksTotal.Inc()
		metrics.PollDuration.Observe(time.Since(started).Seconds())
	}()

	snapshot, err := o.upstream.FetchSessions(ctx)
	if err != nil {
		metrics.PollErrorsTotal.WithLabelValues("fetch").Inc()
		o.healthy.Store(false)
		logging.Error().Err(err).Msg("session fetch failed, skipping tick")
		return
	}
	o.healthy.Store(true)
	o.lastSnapshot.Store(snapshot)
	metrics.ActiveSessions.Set(float64(len(snapshot.Sessions)))

	// Classify newly started sessions against the open history rows before
	// the writer reconciles; the registry uses this for session_count.
	previouslyActive, err := o.db.ActiveSessionKeys(ctx)
	if err != nil {
		metrics.PollErrorsTotal.WithLabelValues("history").Inc()
		logging.Error().Err(err).Msg("history read failed, skipping tick")
		return
	}
	newlyStarted := make(map[string]bool, len(snapshot.Sessions))
	for i := range snapshot.Sessions {
		key := snapshot.Sessions[i].SessionKey
		if key != "" && !previouslyActive[key] {
			newlyStarted[key] = true
		}
	}

	o.registry.Ingest(ctx, snapshot, newlyStarted)

	o.reconcileHistory(ctx, snapshot, previouslyActive, newlyStarted)

	decisions := o.engine.Evaluate(ctx, snapshot)

	o.terminateBlocked(ctx, snapshot, decisions)
}

// terminateBlocked issues the upstream stop commands for blocked decisions,
// at most once per session id per tick, then emits stream_blocked for each
// successful termination.
func (o *Orchestrator) terminateBlocked(ctx context.Context, snapshot *models.SessionSnapshot, decisions []policy.Decision) {
	seen := make(map[string]bool)
	var wg sync.WaitGroup
	sem := make(chan struct{}, terminateWorkers)

	for _, decision := range decisions {
		if decision.Allow || decision.SessionID == "" || seen[decision.SessionID] {
			continue
		}
		seen[decision.SessionID] = true

		wg.Add(1)
		sem <- struct{}{}
		go func(d policy.Decision) {
			defer wg.Done()
			defer func() { <-sem }()
			o.terminateOne(ctx, snapshot, d)
		}(decision)
	}

	wg.Wait()
}

// terminateOne stops a single session and emits the enforcement event.
func (o *Orchestrator) terminateOne(ctx context.Context, snapshot *models.SessionSnapshot, decision policy.Decision) {
	if err := o.limiter.Wait(ctx); err != nil {
		return
	}

	err := o.upstream.TerminateSession(ctx, decision.SessionID, decision.Reason)
	if err != nil {
		metrics.TerminationsTotal.WithLabelValues(decision.StopCode, "error").Inc()
		logging.Error().Err(err).Str("session", decision.SessionKey).
			Str("stop_code", decision.StopCode).Msg("session termination failed")
		return
	}

	metrics.TerminationsTotal.WithLabelValues(decision.StopCode, "ok").Inc()
	logging.Info().Str("session", decision.SessionKey).Str("user", decision.UserID).
		Str("stop_code", decision.StopCode).Msg("session terminated")

	o.bus.Publish(events.TopicStreamBlocked, o.blockedEvent(ctx, snapshot, decision))
}

// blockedEvent assembles the stream_blocked payload for a decision.
func (o *Orchestrator) blockedEvent(ctx context.Context, snapshot *models.SessionSnapshot, decision policy.Decision) events.StreamBlocked {
	ev := events.StreamBlocked{
		SessionKey: decision.SessionKey,
		StopCode:   decision.StopCode,
		Reason:     decision.Reason,
		BlockedAt:  time.Now().UTC(),
	}

	for i := range snapshot.Sessions {
		s := &snapshot.Sessions[i]
		if s.SessionKey != decision.SessionKey {
			continue
		}
		ev.IP = s.Player.Address
		ev.Device = events.DeviceRef{
			UserID:           s.User.ID,
			Username:         s.User.Name,
			DeviceIdentifier: s.Player.MachineID,
			Name:             s.Player.Title,
			Product:          s.Player.Product,
			Platform:         s.Player.Platform,
		}
		if device, err := o.registry.Get(ctx, s.User.ID, s.Player.MachineID); err == nil {
			ev.Device.ID = device.ID
			ev.Device.Name = device.Name
		}
		break
	}

	return ev
}
