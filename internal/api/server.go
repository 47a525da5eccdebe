// PlexGuard - Access Control and Session Enforcement for Plex
// Copyright 2026 PlexGuard Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/plexguard/plexguard

package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/plexguard/plexguard/internal/config"
	"github.com/plexguard/plexguard/internal/logging"
)

// Server runs the HTTP listener as a suture service.
type Server struct {
	cfg     *config.ServerConfig
	handler http.Handler
}

// NewServer creates the HTTP server service.
func NewServer(cfg *config.ServerConfig, handler http.Handler) *Server {
	return &Server{cfg: cfg, handler: handler}
}

// Serve implements suture.Service: listen until the context is canceled,
// then shut down gracefully.
func (s *Server) Serve(ctx context.Context) error {
	srv := &http.Server{
		Addr:              fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port),
		Handler:           s.handler,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       s.cfg.Timeout,
		WriteTimeout:      s.cfg.Timeout,
		IdleTimeout:       120 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logging.Info().Str("addr", srv.Addr).Msg("HTTP server listening")
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logging.Error().Err(err).Msg("HTTP server shutdown failed")
		}
		return ctx.Err()
	}
}
