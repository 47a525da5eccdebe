// PlexGuard - Access Control and Session Enforcement for Plex
// Copyright 2026 PlexGuard Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/plexguard/plexguard

package models

import (
	"fmt"
	"strconv"
	"time"

	"github.com/goccy/go-json"
)

// SettingType tags how a setting's string payload is interpreted.
type SettingType string

const (
	SettingTypeString SettingType = "string"
	SettingTypeInt    SettingType = "int"
	SettingTypeBool   SettingType = "bool"
	SettingTypeJSON   SettingType = "json"
)

// Setting is one typed global key/value row. The value is persisted as a
// string alongside its type tag; typed getters on the settings store cast
// on read and validate on write.
//
// Private settings (tokens, secrets) are excluded from any export the admin
// UI produces.
type Setting struct {
	Key       string      `json:"key"`
	Value     string      `json:"value"`
	Type      SettingType `json:"type"`
	Private   bool        `json:"private"`
	UpdatedAt time.Time   `json:"updated_at"`
}

// ValidateValue checks that the payload parses under the declared type.
func (s *Setting) ValidateValue() error {
	switch s.Type {
	case SettingTypeString:
		return nil
	case SettingTypeInt:
		if _, err := strconv.Atoi(s.Value); err != nil {
			return fmt.Errorf("setting %s: %q is not an integer", s.Key, s.Value)
		}
		return nil
	case SettingTypeBool:
		if _, err := strconv.ParseBool(s.Value); err != nil {
			return fmt.Errorf("setting %s: %q is not a boolean", s.Key, s.Value)
		}
		return nil
	case SettingTypeJSON:
		if !json.Valid([]byte(s.Value)) {
			return fmt.Errorf("setting %s: value is not valid JSON", s.Key)
		}
		return nil
	default:
		return fmt.Errorf("setting %s: unknown type %q", s.Key, s.Type)
	}
}
