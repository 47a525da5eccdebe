// PlexGuard - Access Control and Session Enforcement for Plex
// Copyright 2026 PlexGuard Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/plexguard/plexguard

// Package settings implements the typed runtime configuration store: a
// read-through cache over the settings table with typed getters and
// validated writes.
//
// Unlike bootstrap config (internal/config), these values change at runtime
// through the admin API and take effect without a restart; readers go
// through the cache, writers invalidate the touched entry.
package settings

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"strconv"
	"sync"
	"time"

	"github.com/goccy/go-json"

	"github.com/plexguard/plexguard/internal/database"
	"github.com/plexguard/plexguard/internal/logging"
	"github.com/plexguard/plexguard/internal/models"
)

// ErrUnknownKey indicates a write to a key outside the catalog.
var ErrUnknownKey = errors.New("unknown setting key")

// Store is the read-through cached settings store.
type Store struct {
	db *database.DB

	mu    sync.RWMutex
	cache map[string]*models.Setting
}

// NewStore creates a settings store over the given database.
func NewStore(db *database.DB) *Store {
	return &Store{
		db:    db,
		cache: make(map[string]*models.Setting),
	}
}

// Seed inserts catalog defaults for absent keys, materializes generated
// secrets, and applies environment overrides for recognized keys. Call once
// at startup before anything reads settings.
func (s *Store) Seed(ctx context.Context) error {
	now := time.Now().UTC()

	for key, entry := range catalog {
		value := entry.Default
		if key == KeyPortalJWTSecret {
			secret, err := randomSecret()
			if err != nil {
				return fmt.Errorf("generate portal secret: %w", err)
			}
			value = secret
		}
		err := s.db.InsertSettingIfAbsent(ctx, &models.Setting{
			Key:       key,
			Value:     value,
			Type:      entry.Type,
			Private:   entry.Private,
			UpdatedAt: now,
		})
		if err != nil {
			return err
		}
	}

	// Environment variables override stored values at boot, so container
	// deployments keep working the way operators expect.
	for key := range catalog {
		envValue, ok := os.LookupEnv(key)
		if !ok {
			continue
		}
		if err := s.Set(ctx, key, envValue); err != nil {
			return fmt.Errorf("apply env override %s: %w", key, err)
		}
		logging.Debug().Str("key", key).Msg("setting overridden from environment")
	}

	return nil
}

// get reads a setting through the cache.
func (s *Store) get(ctx context.Context, key string) (*models.Setting, error) {
	s.mu.RLock()
	cached, ok := s.cache[key]
	s.mu.RUnlock()
	if ok {
		return cached, nil
	}

	setting, err := s.db.GetSetting(ctx, key)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	s.cache[key] = setting
	s.mu.Unlock()
	return setting, nil
}

// GetString returns a string setting, falling back to the catalog default
// when the row is missing or unreadable.
func (s *Store) GetString(ctx context.Context, key string) string {
	setting, err := s.get(ctx, key)
	if err != nil {
		return catalog[key].Default
	}
	return setting.Value
}

// GetInt returns an int setting, falling back to the catalog default when
// the row is missing or does not parse.
func (s *Store) GetInt(ctx context.Context, key string) int {
	setting, err := s.get(ctx, key)
	if err == nil {
		if n, convErr := strconv.Atoi(setting.Value); convErr == nil {
			return n
		}
		logging.Warn().Str("key", key).Str("value", setting.Value).Msg("setting is not an integer, using default")
	}
	n, _ := strconv.Atoi(catalog[key].Default)
	return n
}

// GetBool returns a bool setting, falling back to the catalog default when
// the row is missing or does not parse.
func (s *Store) GetBool(ctx context.Context, key string) bool {
	setting, err := s.get(ctx, key)
	if err == nil {
		if b, convErr := strconv.ParseBool(setting.Value); convErr == nil {
			return b
		}
		logging.Warn().Str("key", key).Str("value", setting.Value).Msg("setting is not a boolean, using default")
	}
	b, _ := strconv.ParseBool(catalog[key].Default)
	return b
}

// GetJSON decodes a JSON setting into out. Returns an error rather than a
// default because callers supply the target shape.
func (s *Store) GetJSON(ctx context.Context, key string, out interface{}) error {
	setting, err := s.get(ctx, key)
	if err != nil {
		return err
	}
	if err := json.Unmarshal([]byte(setting.Value), out); err != nil {
		return fmt.Errorf("decode setting %s: %w", key, err)
	}
	return nil
}

// Set validates and writes a setting, then invalidates its cache entry.
// Only catalog keys are accepted.
func (s *Store) Set(ctx context.Context, key, value string) error {
	entry, ok := catalog[key]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownKey, key)
	}

	setting := &models.Setting{
		Key:       key,
		Value:     value,
		Type:      entry.Type,
		Private:   entry.Private,
		UpdatedAt: time.Now().UTC(),
	}
	if err := setting.ValidateValue(); err != nil {
		return err
	}

	if err := s.db.UpsertSetting(ctx, setting); err != nil {
		return err
	}

	s.mu.Lock()
	delete(s.cache, key)
	s.mu.Unlock()
	return nil
}

// List returns all settings rows. Private rows are omitted unless
// includePrivate is set; even then their values are masked.
func (s *Store) List(ctx context.Context, includePrivate bool) ([]*models.Setting, error) {
	all, err := s.db.ListSettings(ctx)
	if err != nil {
		return nil, err
	}

	out := make([]*models.Setting, 0, len(all))
	for _, setting := range all {
		if setting.Private {
			if !includePrivate {
				continue
			}
			masked := *setting
			masked.Value = ""
			out = append(out, &masked)
			continue
		}
		out = append(out, setting)
	}
	return out, nil
}

// randomSecret returns 32 bytes of hex-encoded entropy.
func randomSecret() (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return hex.EncodeToString(buf), nil
}
