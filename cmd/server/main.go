// PlexGuard - Access Control and Session Enforcement for Plex
// Copyright 2026 PlexGuard Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/plexguard/plexguard

// Command server runs the PlexGuard daemon: the poll/enforcement loop, the
// device cleanup sweeper, the websocket event feed, and the admin/portal
// HTTP API, all under one suture supervision tree.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/plexguard/plexguard/internal/api"
	"github.com/plexguard/plexguard/internal/config"
	"github.com/plexguard/plexguard/internal/database"
	"github.com/plexguard/plexguard/internal/events"
	"github.com/plexguard/plexguard/internal/guard"
	"github.com/plexguard/plexguard/internal/logging"
	"github.com/plexguard/plexguard/internal/plex"
	"github.com/plexguard/plexguard/internal/policy"
	"github.com/plexguard/plexguard/internal/registry"
	"github.com/plexguard/plexguard/internal/settings"
	"github.com/plexguard/plexguard/internal/supervisor"
	"github.com/plexguard/plexguard/internal/websocket"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		logging.Fatal().Err(err).Msg("configuration load failed")
	}

	logging.Init(logging.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
		Caller: cfg.Logging.Caller,
	})
	logging.Info().Msg("starting PlexGuard")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	db, err := database.New(&cfg.Database)
	if err != nil {
		logging.Fatal().Err(err).Msg("database open failed")
	}
	defer db.Close()

	store := settings.NewStore(db)
	if err := store.Seed(ctx); err != nil {
		logging.Fatal().Err(err).Msg("settings seed failed")
	}

	bus := events.NewBus()
	defer bus.Close()

	reg := registry.New(db, store, bus)
	engine := policy.NewEngine(db, store)
	upstream := plex.NewBreakerClient(store)
	orchestrator := guard.New(upstream, db, reg, engine, store, bus)

	hub := websocket.NewHub()
	if err := hub.AttachBus(ctx, bus); err != nil {
		logging.Fatal().Err(err).Msg("websocket hub subscription failed")
	}

	handler := api.NewHandler(db, reg, store, orchestrator, upstream, hub)
	router := api.NewRouter(handler, &cfg.Server)
	server := api.NewServer(&cfg.Server, router.Setup())

	// Resolve the upstream identity once at startup so deep-links work from
	// the first page load. Failure is not fatal; the cache fills on demand.
	identityCtx, cancel := context.WithTimeout(ctx, 15*time.Second)
	if machineID, err := upstream.ServerIdentity(identityCtx); err != nil {
		logging.Warn().Err(err).Msg("could not resolve upstream server identity yet")
	} else {
		logging.Info().Str("machine_id", machineID).Msg("upstream server identified")
	}
	cancel()

	tree := supervisor.NewTree(logging.NewSlogLogger(), supervisor.DefaultTreeConfig())
	tree.AddGuardService(guard.NewScheduler(orchestrator, store))
	tree.AddGuardService(registry.NewSweeper(reg, time.Hour))
	tree.AddGuardService(hub)
	tree.AddAPIService(server)

	logging.Info().Msg("supervision tree starting")
	errCh := tree.ServeBackground(ctx)

	select {
	case <-ctx.Done():
		logging.Info().Msg("shutdown signal received, waiting for services")
		<-errCh
	case err := <-errCh:
		if err != nil && ctx.Err() == nil {
			logging.Error().Err(err).Msg("supervision tree exited")
			os.Exit(1)
		}
	}

	logging.Info().Msg("PlexGuard stopped")
}
