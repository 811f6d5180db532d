// Whisper - trustless peer-to-peer signaling and messaging
// Copyright (C) 2025 vorobalek
//
// This file is part of Whisper.
//
// Whisper is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// Whisper is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Lesser General Public License for more details.
//
// You should have received a copy of the GNU Lesser General Public License
// along with Whisper. If not, see <https://www.gnu.org/licenses/>.

package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents the main configuration structure
type Config struct {
	Environment string         `yaml:"environment" json:"environment"`
	Relay       *RelayConfig   `yaml:"relay" json:"relay"`
	ICE         *ICEConfig     `yaml:"ice" json:"ice"`
	Store       *StoreConfig   `yaml:"store" json:"store"`
	Push        *PushConfig    `yaml:"push" json:"push"`
	Logging     *LoggingConfig `yaml:"logging" json:"logging"`
	Metrics     *MetricsConfig `yaml:"metrics" json:"metrics"`
	Health      *HealthConfig  `yaml:"health" json:"health"`
}

// RelayConfig locates the relay and tunes the signaling layer
type RelayConfig struct {
	URL             string        `yaml:"url" json:"url"`
	Version         string        `yaml:"version" json:"version"`
	AttemptDeadline time.Duration `yaml:"attempt_deadline" json:"attempt_deadline"`
	CallTimeout     time.Duration `yaml:"call_timeout" json:"call_timeout"`
}

// ICEConfig lists the STUN/TURN servers handed to peer connections
type ICEConfig struct {
	Servers []string `yaml:"servers" json:"servers"`
}

// StoreConfig selects and configures the encrypted store backend
type StoreConfig struct {
	Backend  string          `yaml:"backend" json:"backend"` // "memory" or "postgres"
	Postgres *PostgresConfig `yaml:"postgres" json:"postgres"`
}

// PostgresConfig holds the postgres backend connection settings
type PostgresConfig struct {
	Host     string `yaml:"host" json:"host"`
	Port     int    `yaml:"port" json:"port"`
	User     string `yaml:"user" json:"user"`
	Password string `yaml:"password" json:"password"`
	Database string `yaml:"database" json:"database"`
	SSLMode  string `yaml:"sslmode" json:"sslmode"`
}

// PushConfig configures the push notification machinery
type PushConfig struct {
	Disabled bool   `yaml:"disabled" json:"disabled"`
	VAPIDKey string `yaml:"vapid_key" json:"vapid_key"`
}

// LoggingConfig represents logging configuration
type LoggingConfig struct {
	Level  string `yaml:"level" json:"level"`
	Format string `yaml:"format" json:"format"`
	Output string `yaml:"output" json:"output"`
}

// MetricsConfig represents metrics configuration
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled" json:"enabled"`
	Port    int    `yaml:"port" json:"port"`
	Path    string `yaml:"path" json:"path"`
}

// HealthConfig represents health check configuration
type HealthConfig struct {
	Enabled bool   `yaml:"enabled" json:"enabled"`
	Port    int    `yaml:"port" json:"port"`
	Path    string `yaml:"path" json:"path"`
}

// LoadFromFile reads one configuration file. JSON files go through the
// json decoder for its stricter errors; everything else is YAML.
func LoadFromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := &Config{}
	if strings.HasSuffix(path, ".json") {
		err = json.Unmarshal(data, cfg)
	} else {
		err = yaml.Unmarshal(data, cfg)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
	}

	setDefaults(cfg)
	return cfg, nil
}

// setDefaults fills in the defaults for missing sections
func setDefaults(cfg *Config) {
	if cfg.Relay == nil {
		cfg.Relay = &RelayConfig{}
	}
	if cfg.Relay.AttemptDeadline == 0 {
		cfg.Relay.AttemptDeadline = 60 * time.Second
	}
	if cfg.Relay.CallTimeout == 0 {
		cfg.Relay.CallTimeout = 15 * time.Second
	}
	if cfg.ICE == nil {
		cfg.ICE = &ICEConfig{Servers: []string{"stun:stun.l.google.com:19302"}}
	}
	if cfg.Store == nil {
		cfg.Store = &StoreConfig{Backend: "memory"}
	}
	if cfg.Store.Backend == "" {
		cfg.Store.Backend = "memory"
	}
	if cfg.Push == nil {
		cfg.Push = &PushConfig{}
	}
	if cfg.Logging == nil {
		cfg.Logging = &LoggingConfig{Level: "info", Format: "json", Output: "stdout"}
	}
	if cfg.Metrics == nil {
		cfg.Metrics = &MetricsConfig{Enabled: false, Port: 9090, Path: "/metrics"}
	}
	if cfg.Health == nil {
		cfg.Health = &HealthConfig{Enabled: false, Port: 8081, Path: "/health"}
	}
}

// ValidationError describes one configuration problem
type ValidationError struct {
	Field   string
	Message string
	Level   string // "error" or "warning"
}

// ValidateConfiguration checks a loaded configuration for problems
func ValidateConfiguration(cfg *Config) []ValidationError {
	var errs []ValidationError

	if cfg.Relay == nil || cfg.Relay.URL == "" {
		errs = append(errs, ValidationError{
			Field:   "relay.url",
			Message: "relay URL is required",
			Level:   "error",
		})
	}
	if cfg.Store != nil && cfg.Store.Backend == "postgres" && cfg.Store.Postgres == nil {
		errs = append(errs, ValidationError{
			Field:   "store.postgres",
			Message: "postgres backend selected but not configured",
			Level:   "error",
		})
	}
	if cfg.Push != nil && !cfg.Push.Disabled && cfg.Push.VAPIDKey == "" {
		errs = append(errs, ValidationError{
			Field:   "push.vapid_key",
			Message: "push enabled without a VAPID key; dial notifications will not reach offline peers",
			Level:   "warning",
		})
	}

	return errs
}
