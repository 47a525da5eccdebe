// PlexGuard - Access Control and Session Enforcement for Plex
// Copyright 2026 PlexGuard Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/plexguard/plexguard

package plex

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strconv"
	"strings"
	"testing"

	"github.com/plexguard/plexguard/internal/config"
	"github.com/plexguard/plexguard/internal/database"
	"github.com/plexguard/plexguard/internal/settings"
)

// newTestClient builds a Client wired to the given test server.
func newTestClient(t *testing.T, server *httptest.Server) *Client {
	t.Helper()

	db, err := database.New(&config.DatabaseConfig{Path: ":memory:"})
	if err != nil {
		t.Fatalf("open database: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	store := settings.NewStore(db)
	ctx := context.Background()
	if err := store.Seed(ctx); err != nil {
		t.Fatalf("seed settings: %v", err)
	}

	u, err := url.Parse(server.URL)
	if err != nil {
		t.Fatalf("parse test server url: %v", err)
	}
	host, portStr, _ := strings.Cut(u.Host, ":")
	if _, err := strconv.Atoi(portStr); err != nil {
		t.Fatalf("test server port: %v", err)
	}
	mustSet(t, store, settings.KeyPlexServerIP, host)
	mustSet(t, store, settings.KeyPlexServerPort, portStr)
	mustSet(t, store, settings.KeyPlexToken, "test-token")

	return NewClient(store)
}

func mustSet(t *testing.T, store *settings.Store, key, value string) {
	t.Helper()
	if err := store.Set(context.Background(), key, value); err != nil {
		t.Fatalf("set %s: %v", key, err)
	}
}

const sessionsPayload = `{
	"MediaContainer": {
		"size": 2,
		"Metadata": [
			{
				"sessionKey": "11",
				"ratingKey": "5001",
				"type": "movie",
				"title": "Some Movie",
				"year": 2021,
				"duration": 7200000,
				"viewOffset": 600000,
				"Session": {"id": "sess-abc", "location": "lan"},
				"User": {"id": 42, "title": "alice", "thumb": "https://plex.tv/a.png"},
				"Player": {
					"address": "192.168.1.50",
					"machineIdentifier": "AAA",
					"platform": "tvOS",
					"product": "Plex for Apple TV",
					"state": "playing",
					"title": "Living Room",
					"version": "8.0"
				},
				"Media": [{"videoResolution": "1080", "bitrate": 8000, "container": "mkv", "videoCodec": "h264", "audioCodec": "aac"}]
			},
			{
				"sessionKey": "12",
				"type": "episode",
				"title": "Pilot",
				"grandparentTitle": "Some Show",
				"parentTitle": "Season 1",
				"User": {"id": "77", "title": "bob"},
				"Player": {
					"address": "203.0.113.5",
					"machineIdentifier": "BBB",
					"product": "Plex Web",
					"state": "playing"
				}
			}
		]
	}
}`

func TestFetchSessionsNormalizes(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/status/sessions" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if got := r.Header.Get("X-Plex-Token"); got != "test-token" {
			t.Errorf("X-Plex-Token = %q", got)
		}
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, sessionsPayload)
	}))
	defer server.Close()

	client := newTestClient(t, server)
	snap, err := client.FetchSessions(context.Background())
	if err != nil {
		t.Fatalf("FetchSessions: %v", err)
	}

	if len(snap.Sessions) != 2 {
		t.Fatalf("got %d sessions, want 2", len(snap.Sessions))
	}

	first := snap.Sessions[0]
	if first.SessionID != "sess-abc" {
		t.Errorf("SessionID = %q, want sess-abc (from Session.id)", first.SessionID)
	}
	if first.User.ID != "42" {
		t.Errorf("numeric user id not normalized to string: %q", first.User.ID)
	}
	if first.Player.MachineID != "AAA" || first.Media.Bitrate != 8000 {
		t.Errorf("player/media not mapped: %+v", first)
	}
	if first.Location() != "lan" {
		t.Errorf("192.168.1.50 should be lan, got %v", first.Location())
	}

	second := snap.Sessions[1]
	if second.SessionID != "12" {
		t.Errorf("missing Session object should fall back to sessionKey, got %q", second.SessionID)
	}
	if second.User.ID != "77" {
		t.Errorf("string user id mishandled: %q", second.User.ID)
	}
	if second.Location() != "wan" {
		t.Errorf("203.0.113.5 should be wan, got %v", second.Location())
	}
}

func TestFetchSessionsUpstreamError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	}))
	defer server.Close()

	client := newTestClient(t, server)
	if _, err := client.FetchSessions(context.Background()); err == nil {
		t.Fatal("expected error on 500 response")
	}
}

func TestTerminateSession(t *testing.T) {
	var gotSessionID, gotReason string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/status/sessions/terminate" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		gotSessionID = r.URL.Query().Get("sessionId")
		gotReason = r.URL.Query().Get("reason")
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	client := newTestClient(t, server)
	err := client.TerminateSession(context.Background(), "sess-abc", "This device is awaiting approval.")
	if err != nil {
		t.Fatalf("TerminateSession: %v", err)
	}
	if gotSessionID != "sess-abc" {
		t.Errorf("sessionId = %q", gotSessionID)
	}
	if gotReason != "This device is awaiting approval." {
		t.Errorf("reason = %q", gotReason)
	}
}

func TestServerIdentityCached(t *testing.T) {
	ResetIdentityCache()
	t.Cleanup(ResetIdentityCache)

	calls := 0
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"MediaContainer": {"machineIdentifier": "machine-xyz", "version": "1.40"}}`)
	}))
	defer server.Close()

	client := newTestClient(t, server)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		id, err := client.ServerIdentity(ctx)
		if err != nil {
			t.Fatalf("ServerIdentity call %d: %v", i, err)
		}
		if id != "machine-xyz" {
			t.Errorf("identity = %q", id)
		}
	}
	if calls != 1 {
		t.Errorf("identity endpoint hit %d times, want 1 (cached)", calls)
	}
}

func TestRateLimitRetry(t *testing.T) {
	calls := 0
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		if calls == 1 {
			w.Header().Set("Retry-After", "0")
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"MediaContainer": {"size": 0, "Metadata": []}}`)
	}))
	defer server.Close()

	client := newTestClient(t, server)
	snap, err := client.FetchSessions(context.Background())
	if err != nil {
		t.Fatalf("FetchSessions after 429: %v", err)
	}
	if len(snap.Sessions) != 0 {
		t.Errorf("expected empty snapshot, got %d sessions", len(snap.Sessions))
	}
	if calls != 2 {
		t.Errorf("server hit %d times, want 2 (one retry)", calls)
	}
}
