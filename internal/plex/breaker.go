// PlexGuard - Access Control and Session Enforcement for Plex
// Copyright 2026 PlexGuard Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/plexguard/plexguard

package plex

import (
	"context"
	"time"

	gobreaker "github.com/sony/gobreaker/v2"

	"github.com/plexguard/plexguard/internal/logging"
	"github.com/plexguard/plexguard/internal/metrics"
	"github.com/plexguard/plexguard/internal/models"
	"github.com/plexguard/plexguard/internal/settings"
)

// BreakerClient wraps Client with a circuit breaker so a down or slow Plex
// server fails fast instead of stacking up 10-second timeouts every tick.
//
// The breaker uses real time for its interval and timeout calculations;
// tests exercise the wrapped client directly.
type BreakerClient struct {
	client *Client
	cb     *gobreaker.CircuitBreaker[interface{}]
}

// NewBreakerClient creates a Plex client with circuit breaker protection.
// The circuit opens after a 60% failure rate over at least 5 requests in a
// one-minute window, and probes again after 30 seconds.
func NewBreakerClient(store *settings.Store) *BreakerClient {
	metrics.CircuitBreakerState.Set(0)

	cb := gobreaker.NewCircuitBreaker[interface{}](gobreaker.Settings{
		Name:        "plex-api",
		MaxRequests: 2,
		Interval:    time.Minute,
		Timeout:     30 * time.Second,

		ReadyToTrip: func(counts gobreaker.Counts) bool {
			if counts.Requests < 5 {
				return false
			}
			failureRatio := float64(counts.TotalFailures) / float64(counts.Requests)
			return failureRatio >= 0.6
		},

		OnStateChange: func(name string, from, to gobreaker.State) {
			logging.Info().Str("breaker", name).Str("from", stateToString(from)).
				Str("to", stateToString(to)).Msg("circuit breaker state transition")
			metrics.CircuitBreakerState.Set(stateToFloat(to))
		},
	})

	return &BreakerClient{
		client: NewClient(store),
		cb:     cb,
	}
}

// FetchSessions retrieves the session snapshot through the breaker.
func (b *BreakerClient) FetchSessions(ctx context.Context) (*models.SessionSnapshot, error) {
	result, err := b.cb.Execute(func() (interface{}, error) {
		return b.client.FetchSessions(ctx)
	})
	if err != nil {
		return nil, err
	}
	return result.(*models.SessionSnapshot), nil
}

// TerminateSession stops a session through the breaker.
func (b *BreakerClient) TerminateSession(ctx context.Context, sessionID, reason string) error {
	_, err := b.cb.Execute(func() (interface{}, error) {
		return nil, b.client.TerminateSession(ctx, sessionID, reason)
	})
	return err
}

// ServerIdentity resolves the server machine id through the breaker.
func (b *BreakerClient) ServerIdentity(ctx context.Context) (string, error) {
	result, err := b.cb.Execute(func() (interface{}, error) {
		return b.client.ServerIdentity(ctx)
	})
	if err != nil {
		return "", err
	}
	return result.(string), nil
}

func stateToString(s gobreaker.State) string {
	switch s {
	case gobreaker.StateClosed:
		return "closed"
	case gobreaker.StateHalfOpen:
		return "half-open"
	case gobreaker.StateOpen:
		return "open"
	default:
		return "unknown"
	}
}

func stateToFloat(s gobreaker.State) float64 {
	switch s {
	case gobreaker.StateClosed:
		return 0
	case gobreaker.StateHalfOpen:
		return 1
	case gobreaker.StateOpen:
		return 2
	default:
		return -1
	}
}
