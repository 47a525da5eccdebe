// PlexGuard - Access Control and Session Enforcement for Plex
// Copyright 2026 PlexGuard Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/plexguard/plexguard

package api

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/goccy/go-json"

	"github.com/plexguard/plexguard/internal/config"
	"github.com/plexguard/plexguard/internal/database"
	"github.com/plexguard/plexguard/internal/events"
	"github.com/plexguard/plexguard/internal/guard"
	"github.com/plexguard/plexguard/internal/models"
	"github.com/plexguard/plexguard/internal/policy"
	"github.com/plexguard/plexguard/internal/registry"
	"github.com/plexguard/plexguard/internal/settings"
	"github.com/plexguard/plexguard/internal/websocket"
)

// fakeUpstream records terminations for handler tests.
type fakeUpstream struct {
	mu         sync.Mutex
	terminated map[string]string
}

func (f *fakeUpstream) FetchSessions(ctx context.Context) (*models.SessionSnapshot, error) {
	return &models.SessionSnapshot{TakenAt: time.Now().UTC()}, nil
}

func (f *fakeUpstream) TerminateSession(ctx context.Context, sessionID, reason string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.terminated[sessionID] = reason
	return nil
}

type apiEnv struct {
	db       *database.DB
	store    *settings.Store
	registry *registry.Registry
	upstream *fakeUpstream
	handler  *Handler
	server   *httptest.Server
	ctx      context.Context
}

func newAPIEnv(t *testing.T) *apiEnv {
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

	bus := events.NewBus()
	t.Cleanup(func() { bus.Close() })

	reg := registry.New(db, store, bus)
	engine := policy.NewEngine(db, store)
	upstream := &fakeUpstream{terminated: make(map[string]string)}
	orchestrator := guard.New(upstream, db, reg, engine, store, bus)
	hub := websocket.NewHub()

	handler := NewHandler(db, reg, store, orchestrator, upstream, hub)
	router := NewRouter(handler, &config.ServerConfig{
		Host:        "127.0.0.1",
		Port:        0,
		Timeout:     10 * time.Second,
		CORSOrigins: []string{"*"},
	})

	server := httptest.NewServer(router.Setup())
	t.Cleanup(server.Close)

	return &apiEnv{
		db:       db,
		store:    store,
		registry: reg,
		upstream: upstream,
		handler:  handler,
		server:   server,
		ctx:      ctx,
	}
}

// do issues a request and decodes the envelope.
func (e *apiEnv) do(t *testing.T, method, path string, body interface{}, headers map[string]string) (*http.Response, *models.APIResponse) {
	t.Helper()

	var reader *bytes.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(payload)
	} else {
		reader = bytes.NewReader(nil)
	}

	req, err := http.NewRequest(method, e.server.URL+path, reader)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, path, err)
	}
	t.Cleanup(func() { resp.Body.Close() })

	envelope := &models.APIResponse{}
	if err := json.NewDecoder(resp.Body).Decode(envelope); err != nil {
		t.Fatalf("decode envelope for %s %s: %v", method, path, err)
	}
	return resp, envelope
}

// seedDevice creates a device through the registry.
func (e *apiEnv) seedDevice(t *testing.T, userID, machineID string) *models.Device {
	t.Helper()
	snap := &models.SessionSnapshot{TakenAt: time.Now().UTC(), Sessions: []models.Session{{
		SessionKey: "seed-" + machineID,
		SessionID:  "seed-" + machineID,
		User:       models.SessionUser{ID: userID, Name: "user-" + userID},
		Player: models.SessionPlayer{
			MachineID: machineID,
			Product:   "Plex Web",
			Address:   "192.168.1.10",
			Title:     "Device " + machineID,
		},
	}}}
	e.registry.Ingest(e.ctx, snap, map[string]bool{"seed-" + machineID: true})

	d, err := e.registry.Get(e.ctx, userID, machineID)
	if err != nil {
		t.Fatalf("seed device: %v", err)
	}
	return d
}

func TestHealthEndpoints(t *testing.T) {
	env := newAPIEnv(t)

	resp, _ := env.do(t, http.MethodGet, "/api/v1/health/live", nil, nil)
	if resp.StatusCode != http.StatusOK {
		t.Errorf("live status = %d", resp.StatusCode)
	}

	resp, envelope := env.do(t, http.MethodGet, "/api/v1/health/ready", nil, nil)
	if resp.StatusCode != http.StatusOK {
		t.Errorf("ready status = %d", resp.StatusCode)
	}
	if envelope.Status != "ok" {
		t.Errorf("ready envelope status = %s", envelope.Status)
	}
}

func TestSessionsEmptyBeforeFirstTick(t *testing.T) {
	env := newAPIEnv(t)

	resp, envelope := env.do(t, http.MethodGet, "/api/v1/sessions", nil, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("sessions status = %d", resp.StatusCode)
	}
	data := envelope.Data.(map[string]interface{})
	if sessions := data["sessions"].([]interface{}); len(sessions) != 0 {
		t.Errorf("expected empty session list, got %v", sessions)
	}
}

func TestAdminTerminate(t *testing.T) {
	env := newAPIEnv(t)

	resp, _ := env.do(t, http.MethodPost, "/api/v1/sessions/sess-9/terminate",
		map[string]string{"reason": "enough for tonight"}, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("terminate status = %d", resp.StatusCode)
	}

	env.upstream.mu.Lock()
	defer env.upstream.mu.Unlock()
	if env.upstream.terminated["sess-9"] != "enough for tonight" {
		t.Errorf("terminate not forwarded: %v", env.upstream.terminated)
	}
}

func TestAdminAuthGate(t *testing.T) {
	env := newAPIEnv(t)
	if err := env.store.Set(env.ctx, settings.KeyAdminAPIToken, "hunter2"); err != nil {
		t.Fatal(err)
	}

	resp, _ := env.do(t, http.MethodGet, "/api/v1/devices", nil, nil)
	if resp.StatusCode != http.StatusUnauthorized {
		t.Errorf("without token: status = %d, want 401", resp.StatusCode)
	}

	resp, _ = env.do(t, http.MethodGet, "/api/v1/devices", nil,
		map[string]string{"Authorization": "Bearer hunter2"})
	if resp.StatusCode != http.StatusOK {
		t.Errorf("with token: status = %d, want 200", resp.StatusCode)
	}

	// Health stays open for monitors.
	resp, _ = env.do(t, http.MethodGet, "/api/v1/health/live", nil, nil)
	if resp.StatusCode != http.StatusOK {
		t.Errorf("health behind auth gate: %d", resp.StatusCode)
	}
}

func TestDevicePatchActions(t *testing.T) {
	env := newAPIEnv(t)
	d := env.seedDevice(t, "42", "AAA")

	resp, _ := env.do(t, http.MethodPatch, "/api/v1/devices/"+d.ID,
		map[string]interface{}{"action": "set_status", "status": "approved"}, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("set_status status = %d", resp.StatusCode)
	}

	resp, _ = env.do(t, http.MethodPatch, "/api/v1/devices/"+d.ID,
		map[string]interface{}{"action": "rename", "name": "Bedroom Shield"}, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("rename status = %d", resp.StatusCode)
	}

	resp, _ = env.do(t, http.MethodPatch, "/api/v1/devices/"+d.ID,
		map[string]interface{}{"action": "grant_temp_access", "duration_minutes": 60, "bypass_policies": true}, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("grant status = %d", resp.StatusCode)
	}

	got, _ := env.registry.GetByID(env.ctx, d.ID)
	if got.Status != models.DeviceStatusApproved || got.Name != "Bedroom Shield" {
		t.Errorf("patches not applied: %+v", got)
	}
	if !got.TempAccess.BypassPolicies || got.TempAccess.Until == nil {
		t.Errorf("temp grant not applied: %+v", got.TempAccess)
	}

	// Unknown action rejected by validation.
	resp, envelope := env.do(t, http.MethodPatch, "/api/v1/devices/"+d.ID,
		map[string]interface{}{"action": "explode"}, nil)
	if resp.StatusCode != http.StatusBadRequest || envelope.Error == nil {
		t.Errorf("unknown action: status = %d", resp.StatusCode)
	}

	// Missing device is a 404.
	resp, _ = env.do(t, http.MethodPatch, "/api/v1/devices/00000000-0000-0000-0000-000000000000",
		map[string]interface{}{"action": "revoke_temp_access"}, nil)
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("missing device: status = %d, want 404", resp.StatusCode)
	}
}

func TestIPPolicyValidation(t *testing.T) {
	env := newAPIEnv(t)

	resp, _ := env.do(t, http.MethodPost, "/api/v1/users/42/ip-policy", map[string]interface{}{
		"network_policy":   "lan",
		"ip_access_policy": "restricted",
		"allowed_ips":      []string{"192.168.1.0/24", "203.0.113.5"},
	}, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("valid ip-policy status = %d", resp.StatusCode)
	}

	pref, err := env.db.GetUserPreference(env.ctx, "42")
	if err != nil {
		t.Fatalf("preference not created: %v", err)
	}
	if pref.NetworkPolicy != models.NetworkPolicyLAN || len(pref.AllowedIPs) != 2 {
		t.Errorf("ip-policy not persisted: %+v", pref)
	}

	resp, _ = env.do(t, http.MethodPost, "/api/v1/users/42/ip-policy", map[string]interface{}{
		"network_policy":   "lan",
		"ip_access_policy": "restricted",
		"allowed_ips":      []string{"not-an-ip"},
	}, nil)
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("malformed allow-list accepted: %d", resp.StatusCode)
	}

	resp, _ = env.do(t, http.MethodPost, "/api/v1/users/42/ip-policy", map[string]interface{}{
		"network_policy":   "martian",
		"ip_access_policy": "all",
	}, nil)
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("bad network_policy accepted: %d", resp.StatusCode)
	}
}

func TestStreamLimitAndPreference(t *testing.T) {
	env := newAPIEnv(t)

	resp, _ := env.do(t, http.MethodPost, "/api/v1/users/42/concurrent-stream-limit",
		map[string]interface{}{"limit": 3}, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("limit status = %d", resp.StatusCode)
	}

	resp, _ = env.do(t, http.MethodPost, "/api/v1/users/42/preference",
		map[string]interface{}{"default_block": true}, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("preference status = %d", resp.StatusCode)
	}

	pref, _ := env.db.GetUserPreference(env.ctx, "42")
	if pref.ConcurrentStreamLimit == nil || *pref.ConcurrentStreamLimit != 3 {
		t.Errorf("limit not persisted: %+v", pref)
	}
	if pref.DefaultBlock == nil || !*pref.DefaultBlock {
		t.Errorf("default_block not persisted: %+v", pref)
	}

	resp, _ = env.do(t, http.MethodPost, "/api/v1/users/42/concurrent-stream-limit",
		map[string]interface{}{"limit": -1}, nil)
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("negative limit accepted: %d", resp.StatusCode)
	}
}

func TestRulesCRUD(t *testing.T) {
	env := newAPIEnv(t)

	resp, envelope := env.do(t, http.MethodPost, "/api/v1/users/42/rules", map[string]interface{}{
		"day_of_week": 3,
		"start_time":  "20:00",
		"end_time":    "22:00",
		"enabled":     true,
		"rule_name":   "school night",
	}, nil)
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("create rule status = %d", resp.StatusCode)
	}
	created := envelope.Data.(map[string]interface{})
	ruleID := created["id"].(string)

	resp, _ = env.do(t, http.MethodPut, "/api/v1/users/42/rules/"+ruleID, map[string]interface{}{
		"day_of_week": 3,
		"start_time":  "21:00",
		"end_time":    "23:00",
		"enabled":     false,
		"rule_name":   "school night",
	}, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("update rule status = %d", resp.StatusCode)
	}

	rules, _ := env.db.ListTimeRulesForUser(env.ctx, "42")
	if len(rules) != 1 || rules[0].StartTime != "21:00" || rules[0].Enabled {
		t.Errorf("update not persisted: %+v", rules)
	}

	// Invalid wall-clock rejected.
	resp, _ = env.do(t, http.MethodPost, "/api/v1/users/42/rules", map[string]interface{}{
		"day_of_week": 3,
		"start_time":  "25:00",
		"end_time":    "26:00",
		"enabled":     true,
	}, nil)
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("invalid time accepted: %d", resp.StatusCode)
	}

	resp, _ = env.do(t, http.MethodDelete, "/api/v1/users/42/rules/"+ruleID, nil, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("delete rule status = %d", resp.StatusCode)
	}
	resp, _ = env.do(t, http.MethodDelete, "/api/v1/users/42/rules/"+ruleID, nil, nil)
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("double delete status = %d, want 404", resp.StatusCode)
	}
}

func TestSettingsMaskingAndPatch(t *testing.T) {
	env := newAPIEnv(t)
	if err := env.store.Set(env.ctx, settings.KeyPlexToken, "secret-token"); err != nil {
		t.Fatal(err)
	}

	_, envelope := env.do(t, http.MethodGet, "/api/v1/settings", nil, nil)
	rows := envelope.Data.([]interface{})
	foundToken := false
	for _, raw := range rows {
		row := raw.(map[string]interface{})
		if row["key"] == settings.KeyPlexToken {
			foundToken = true
			if row["value"] != "" {
				t.Error("private setting value leaked through GET /settings")
			}
		}
	}
	if !foundToken {
		t.Error("PLEX_TOKEN row missing from settings list")
	}

	resp, _ := env.do(t, http.MethodPatch, "/api/v1/settings", map[string]interface{}{
		"settings": map[string]string{settings.KeyConcurrentStreamLimit: "2"},
	}, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("patch settings status = %d", resp.StatusCode)
	}
	if got := env.store.GetInt(env.ctx, settings.KeyConcurrentStreamLimit); got != 2 {
		t.Errorf("setting not applied: %d", got)
	}

	resp, _ = env.do(t, http.MethodPatch, "/api/v1/settings", map[string]interface{}{
		"settings": map[string]string{"MADE_UP": "x"},
	}, nil)
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("unknown key accepted: %d", resp.StatusCode)
	}

	resp, _ = env.do(t, http.MethodPatch, "/api/v1/settings", map[string]interface{}{
		"settings": map[string]string{settings.KeyConcurrentStreamLimit: "lots"},
	}, nil)
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("type-invalid value accepted: %d", resp.StatusCode)
	}
}

func TestPortalScoping(t *testing.T) {
	env := newAPIEnv(t)
	mine := env.seedDevice(t, "42", "MINE")
	other := env.seedDevice(t, "77", "OTHER")

	token, err := env.handler.IssuePortalToken(env.ctx, "42", time.Hour)
	if err != nil {
		t.Fatalf("issue portal token: %v", err)
	}
	auth := map[string]string{"X-Portal-Token": token}

	// No token: 401.
	resp, _ := env.do(t, http.MethodGet, "/api/v1/user-portal/devices", nil, nil)
	if resp.StatusCode != http.StatusUnauthorized {
		t.Errorf("portal without token: %d", resp.StatusCode)
	}

	// Garbage token: 401.
	resp, _ = env.do(t, http.MethodGet, "/api/v1/user-portal/devices", nil,
		map[string]string{"X-Portal-Token": "garbage"})
	if resp.StatusCode != http.StatusUnauthorized {
		t.Errorf("portal with bad token: %d", resp.StatusCode)
	}

	// Valid token sees only own devices.
	_, envelope := env.do(t, http.MethodGet, "/api/v1/user-portal/devices", nil, auth)
	devices := envelope.Data.([]interface{})
	if len(devices) != 1 {
		t.Fatalf("portal device count = %d, want 1", len(devices))
	}
	if devices[0].(map[string]interface{})["id"] != mine.ID {
		t.Error("portal returned someone else's device")
	}

	// Note on own device succeeds once, then conflicts.
	resp, _ = env.do(t, http.MethodPost, "/api/v1/user-portal/devices/"+mine.ID+"/request",
		map[string]string{"description": "this is my TV"}, auth)
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("note submit status = %d", resp.StatusCode)
	}
	resp, _ = env.do(t, http.MethodPost, "/api/v1/user-portal/devices/"+mine.ID+"/request",
		map[string]string{"description": "again"}, auth)
	if resp.StatusCode != http.StatusConflict {
		t.Errorf("second note status = %d, want 409", resp.StatusCode)
	}

	// Someone else's device is invisible.
	resp, _ = env.do(t, http.MethodPost, "/api/v1/user-portal/devices/"+other.ID+"/request",
		map[string]string{"description": "not mine"}, auth)
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("foreign device status = %d, want 404", resp.StatusCode)
	}

	// Portal settings resolve effective policy.
	_, envelope = env.do(t, http.MethodGet, "/api/v1/user-portal/settings", nil, auth)
	data := envelope.Data.(map[string]interface{})
	if data["timezone"] != "+00:00" {
		t.Errorf("portal settings wrong: %v", data)
	}
}
