// PlexGuard - Access Control and Session Enforcement for Plex
// Copyright 2026 PlexGuard Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/plexguard/plexguard

// Package metrics provides Prometheus instrumentation for the daemon:
// poll loop health, policy decisions, terminations, registry activity, and
// API request latency.
package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Poll loop
	PollTicksTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "plexguard_poll_ticks_total",
		Help: "Total number of completed poll ticks",
	})

	PollErrorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "plexguard_poll_errors_total",
		Help: "Total number of failed poll ticks by stage",
	}, []string{"stage"}) // "fetch", "history"

	PollDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "plexguard_poll_duration_seconds",
		Help:    "Duration of one full poll tick",
		Buckets: prometheus.DefBuckets,
	})

	ActiveSessions = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "plexguard_active_sessions",
		Help: "Sessions observed in the most recent snapshot",
	})

	// Policy engine
	PolicyDecisionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "plexguard_policy_decisions_total",
		Help: "Policy decisions by outcome and stop code",
	}, []string{"outcome", "stop_code"}) // outcome: "allow" or "block"

	TerminationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "plexguard_terminations_total",
		Help: "Upstream session terminations by stop code and result",
	}, []string{"stop_code", "result"}) // result: "ok" or "error"

	// Device registry
	DevicesSeenTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "plexguard_devices_seen_total",
		Help: "Device registry events by kind",
	}, []string{"kind"}) // "new", "location_change", "returned"

	DevicesCleanedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "plexguard_devices_cleaned_total",
		Help: "Devices removed by the inactivity sweep",
	})

	// Upstream client
	UpstreamRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "plexguard_upstream_requests_total",
		Help: "Requests to the Plex server by operation and result",
	}, []string{"operation", "result"})

	CircuitBreakerState = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "plexguard_upstream_circuit_state",
		Help: "Upstream circuit breaker state (0=closed, 1=half-open, 2=open)",
	})

	// Admin/portal API
	APIRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "plexguard_api_requests_total",
		Help: "Total number of API requests",
	}, []string{"method", "endpoint", "status_code"})

	APIRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "plexguard_api_request_duration_seconds",
		Help:    "API request duration in seconds",
		Buckets: []float64{0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
	}, []string{"method", "endpoint"})
)

// RecordAPIRequest records one admin/portal API request.
func RecordAPIRequest(method, endpoint string, statusCode int, duration time.Duration) {
	APIRequestsTotal.WithLabelValues(method, endpoint, strconv.Itoa(statusCode)).Inc()
	APIRequestDuration.WithLabelValues(method, endpoint).Observe(duration.Seconds())
}

// RecordUpstreamRequest records one request to the Plex server.
func RecordUpstreamRequest(operation string, err error) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	UpstreamRequestsTotal.WithLabelValues(operation, result).Inc()
}
