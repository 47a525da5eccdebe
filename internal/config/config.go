// PlexGuard - Access Control and Session Enforcement for Plex
// Copyright 2026 PlexGuard Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/plexguard/plexguard

// Package config provides bootstrap configuration for the PlexGuard daemon.
//
// Bootstrap configuration covers process wiring only: where to listen, where
// the database lives, how to log. Runtime behavior (upstream server address,
// policy defaults, termination messages) lives in the settings table managed
// by internal/settings, so it can change without a restart.
//
// Loading order (koanf v2): defaults, then an optional YAML config file,
// then environment variables. Later layers override earlier ones.
package config

import (
	"fmt"
	"time"
)

// Config holds all bootstrap configuration.
// Immutable after Load() and safe for concurrent reads.
type Config struct {
	Database DatabaseConfig `koanf:"database"`
	Server   ServerConfig   `koanf:"server"`
	Logging  LoggingConfig  `koanf:"logging"`
}

// DatabaseConfig configures the embedded DuckDB store.
type DatabaseConfig struct {
	// Path is the database file location. ":memory:" opens an in-memory
	// database (used by tests).
	Path string `koanf:"path"`

	// MaxMemory caps DuckDB's memory usage (e.g. "512MB").
	MaxMemory string `koanf:"max_memory"`

	// Threads sets DuckDB's thread count. 0 uses runtime.NumCPU().
	Threads int `koanf:"threads"`
}

// ServerConfig configures the admin/portal HTTP server.
type ServerConfig struct {
	Host    string        `koanf:"host"`
	Port    int           `koanf:"port"`
	Timeout time.Duration `koanf:"timeout"`

	// CORSOrigins lists allowed origins for the admin UI.
	CORSOrigins []string `koanf:"cors_origins"`
}

// LoggingConfig configures log output.
type LoggingConfig struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format"`
	Caller bool   `koanf:"caller"`
}

// defaultConfig returns a Config with all default values. Defaults are
// applied first, then overridden by config file and environment variables.
func defaultConfig() *Config {
	return &Config{
		Database: DatabaseConfig{
			Path:      "/data/plexguard.duckdb",
			MaxMemory: "512MB",
			Threads:   0,
		},
		Server: ServerConfig{
			Host:        "0.0.0.0",
			Port:        8765,
			Timeout:     30 * time.Second,
			CORSOrigins: []string{"*"},
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Caller: false,
		},
	}
}

// Validate checks the loaded configuration for values the daemon cannot
// start with.
func (c *Config) Validate() error {
	if c.Database.Path == "" {
		return fmt.Errorf("database.path is required")
	}
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port %d out of range 1..65535", c.Server.Port)
	}
	if c.Server.Timeout <= 0 {
		return fmt.Errorf("server.timeout must be positive")
	}
	switch c.Logging.Format {
	case "json", "console":
	default:
		return fmt.Errorf("logging.format %q must be json or console", c.Logging.Format)
	}
	return nil
}
