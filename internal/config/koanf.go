// PlexGuard - Access Control and Session Enforcement for Plex
// Copyright 2026 PlexGuard Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/plexguard/plexguard

package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"
	"github.com/knadh/koanf/v2"
)

// DefaultConfigPaths lists where config files are searched, in order.
// The first file found wins.
var DefaultConfigPaths = []string{
	"config.yaml",
	"config.yml",
	"/etc/plexguard/config.yaml",
	"/etc/plexguard/config.yml",
}

// ConfigPathEnvVar overrides the config file path.
const ConfigPathEnvVar = "CONFIG_PATH"

// envMappings maps environment variable names to koanf config paths.
// Only bootstrap settings are mapped here; runtime keys (PLEX_TOKEN,
// policy defaults, messages) are seeded into the settings table instead.
var envMappings = map[string]string{
	"DB_PATH":       "database.path",
	"DB_MAX_MEMORY": "database.max_memory",
	"DB_THREADS":    "database.threads",
	"HTTP_HOST":     "server.host",
	"HTTP_PORT":     "server.port",
	"HTTP_TIMEOUT":  "server.timeout",
	"CORS_ORIGINS":  "server.cors_origins",
	"LOG_LEVEL":     "logging.level",
	"LOG_FORMAT":    "logging.format",
	"LOG_CALLER":    "logging.caller",
}

// Load builds the bootstrap configuration with layered sources:
//  1. Defaults from defaultConfig()
//  2. Optional YAML config file
//  3. Environment variables (highest priority)
func Load() (*Config, error) {
	k := koanf.New(".")

	if err := k.Load(structs.Provider(defaultConfig(), "koanf"), nil); err != nil {
		return nil, fmt.Errorf("load defaults: %w", err)
	}

	if configPath := findConfigFile(); configPath != "" {
		if err := k.Load(file.Provider(configPath), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("load config file %s: %w", configPath, err)
		}
	}

	envProvider := env.Provider("", ".", func(key string) string {
		return envMappings[key]
	})
	if err := k.Load(envProvider, nil); err != nil {
		return nil, fmt.Errorf("load environment variables: %w", err)
	}

	// CORS origins arrive from the environment as a comma-separated string.
	if v, ok := k.Get("server.cors_origins").(string); ok {
		k.Set("server.cors_origins", splitCommaList(v)) //nolint:errcheck // Set on an in-memory koanf cannot fail here
	}

	cfg := &Config{}
	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("unmarshal configuration: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return cfg, nil
}

// findConfigFile returns the first existing config file path, or "".
func findConfigFile() string {
	if envPath := os.Getenv(ConfigPathEnvVar); envPath != "" {
		if _, err := os.Stat(envPath); err == nil {
			return envPath
		}
	}
	for _, path := range DefaultConfigPaths {
		if _, err := os.Stat(path); err == nil {
			return path
		}
	}
	return ""
}

// splitCommaList splits a comma-separated string, trimming whitespace and
// dropping empty entries.
func splitCommaList(s string) []string {
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
