// PlexGuard - Access Control and Session Enforcement for Plex
// Copyright 2026 PlexGuard Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/plexguard/plexguard

// Package plex implements the upstream client against the Plex Media
// Server HTTP API: session fetch, session termination, and server
// identity. Connection parameters (host, port, token, TLS flags) are read
// live from the settings store on every request so admin changes take
// effect without a restart.
package plex

import (
	"context"
	"crypto/tls"
	"fmt"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/goccy/go-json"

	"github.com/plexguard/plexguard/internal/logging"
	"github.com/plexguard/plexguard/internal/settings"
)

// requestTimeout is the per-call deadline on upstream requests. Exceeding
// it is treated as "session not fetched / not terminated".
const requestTimeout = 10 * time.Second

// Client handles communication with the Plex Media Server API.
type Client struct {
	store *settings.Store

	mu         sync.Mutex
	httpClient *http.Client
	insecure   bool
}

// NewClient creates a Plex API client reading its wiring from the settings
// store.
func NewClient(store *settings.Store) *Client {
	return &Client{
		store: store,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

// baseURL builds the upstream server URL from current settings.
func (c *Client) baseURL(ctx context.Context) string {
	scheme := "http"
	if c.store.GetBool(ctx, settings.KeyUseSSL) {
		scheme = "https"
	}
	host := c.store.GetString(ctx, settings.KeyPlexServerIP)
	port := c.store.GetInt(ctx, settings.KeyPlexServerPort)
	return fmt.Sprintf("%s://%s:%d", scheme, host, port)
}

// client returns an HTTP client matching the current TLS-verification
// setting, rebuilding the transport when the flag flips.
func (c *Client) client(ctx context.Context) *http.Client {
	insecure := c.store.GetBool(ctx, settings.KeyIgnoreSSLErrors)

	c.mu.Lock()
	defer c.mu.Unlock()
	if insecure != c.insecure {
		transport := http.DefaultTransport.(*http.Transport).Clone()
		if insecure {
			transport.TLSClientConfig = &tls.Config{InsecureSkipVerify: true} //nolint:gosec // operator-controlled setting for self-signed Plex certs
		}
		c.httpClient = &http.Client{
			Timeout:   30 * time.Second,
			Transport: transport,
		}
		c.insecure = insecure
	}
	return c.httpClient
}

// requestConfig holds configuration for building upstream requests.
type requestConfig struct {
	method      string
	path        string
	query       url.Values
	expectOK    bool // if true, require HTTP 200
	expectNoErr bool // if true, also accept 204 No Content
}

// doRequest executes a Plex API request and decodes the JSON response into
// result when non-nil.
func (c *Client) doRequest(ctx context.Context, cfg requestConfig, result interface{}) error {
	ctx, cancel := context.WithTimeout(ctx, requestTimeout)
	defer cancel()

	reqURL := c.baseURL(ctx) + cfg.path
	req, err := http.NewRequestWithContext(ctx, cfg.method, reqURL, http.NoBody)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}

	req.Header.Set("X-Plex-Token", c.store.GetString(ctx, settings.KeyPlexToken))
	req.Header.Set("Accept", "application/json")
	if len(cfg.query) > 0 {
		req.URL.RawQuery = cfg.query.Encode()
	}

	resp, err := c.doRequestWithRateLimit(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if cfg.expectNoErr {
		if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusNoContent {
			return fmt.Errorf("unexpected status: %d %s", resp.StatusCode, resp.Status)
		}
	} else if cfg.expectOK && resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unexpected status: %d %s", resp.StatusCode, resp.Status)
	}

	if result != nil {
		if err := json.NewDecoder(resp.Body).Decode(result); err != nil {
			return fmt.Errorf("decode response: %w", err)
		}
	}

	return nil
}

// doJSONRequest is a convenience wrapper for GET requests expecting 200.
func (c *Client) doJSONRequest(ctx context.Context, path string, result interface{}) error {
	return c.doRequest(ctx, requestConfig{
		method:   http.MethodGet,
		path:     path,
		expectOK: true,
	}, result)
}

// doRequestWithRateLimit executes a request with retry on HTTP 429.
// Exponential backoff, up to 3 retries after the first attempt, honoring
// Retry-After when present.
func (c *Client) doRequestWithRateLimit(req *http.Request) (*http.Response, error) {
	const maxRetries = 3
	baseDelay := time.Second

	client := c.client(req.Context())

	for attempt := 0; attempt <= maxRetries; attempt++ {
		resp, err := client.Do(req)
		if err != nil {
			return nil, fmt.Errorf("execute request: %w", err)
		}

		if resp.StatusCode != http.StatusTooManyRequests {
			return resp, nil
		}

		resp.Body.Close()

		if attempt == maxRetries {
			return nil, fmt.Errorf("rate limit exceeded after %d retries", maxRetries)
		}

		retryDelay := baseDelay * (1 << attempt)
		if retryAfter := resp.Header.Get("Retry-After"); retryAfter != "" {
			if seconds, parseErr := time.ParseDuration(retryAfter + "s"); parseErr == nil {
				retryDelay = seconds
			}
		}

		logging.Warn().Dur("retry_delay", retryDelay).Int("attempt", attempt+1).
			Msg("Plex API rate limited (HTTP 429), retrying")

		select {
		case <-req.Context().Done():
			return nil, req.Context().Err()
		case <-time.After(retryDelay):
		}
	}

	return nil, fmt.Errorf("unreachable: retry loop must return or error")
}
