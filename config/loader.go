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
	"fmt"
	"os"
	"path/filepath"
)

// LoaderOptions configures the configuration loader
type LoaderOptions struct {
	// ConfigDir is the directory containing config files (default: ./config)
	ConfigDir string
	// Environment overrides automatic environment detection
	Environment string
	// SkipEnvSubstitution disables environment variable substitution
	SkipEnvSubstitution bool
	// SkipValidation disables configuration validation
	SkipValidation bool
}

// Load resolves, reads, expands, and validates the configuration. File
// resolution order: <env>.yaml, default.yaml, config.yaml — the first one
// present wins; with none present the built-in defaults apply.
func Load(opts ...LoaderOptions) (*Config, error) {
	options := LoaderOptions{ConfigDir: "config"}
	if len(opts) > 0 {
		options = opts[0]
		if options.ConfigDir == "" {
			options.ConfigDir = "config"
		}
	}

	env := options.Environment
	if env == "" {
		env = GetEnvironment()
	}

	cfg, err := resolveConfigFile(options.ConfigDir, env)
	if err != nil {
		return nil, err
	}
	if cfg.Environment == "" {
		cfg.Environment = env
	}

	if !options.SkipEnvSubstitution {
		SubstituteEnvVarsInConfig(cfg)
	}
	applyEnvironmentOverrides(cfg)

	if !options.SkipValidation {
		for _, e := range ValidateConfiguration(cfg) {
			if e.Level == "error" {
				return nil, fmt.Errorf("configuration validation failed: %s - %s", e.Field, e.Message)
			}
		}
	}

	return cfg, nil
}

// resolveConfigFile loads the first candidate file that exists, falling
// back to pure defaults when none does. A present-but-malformed file is an
// error, not a silent fallthrough.
func resolveConfigFile(dir, env string) (*Config, error) {
	candidates := []string{
		fmt.Sprintf("%s.yaml", env),
		"default.yaml",
		"config.yaml",
	}
	for _, name := range candidates {
		path := filepath.Join(dir, name)
		if _, err := os.Stat(path); err != nil {
			continue
		}
		return LoadFromFile(path)
	}

	cfg := &Config{}
	setDefaults(cfg)
	return cfg, nil
}
