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
	"os"
	"regexp"
	"strings"
)

// placeholderPattern matches ${NAME} and ${NAME:default} references. Only
// the braced form is recognized; a bare $NAME stays literal.
var placeholderPattern = regexp.MustCompile(`\$\{[^{}]*\}`)

// SubstituteEnvVars expands ${VAR} and ${VAR:default} references against
// the process environment. An unset variable without a default expands to
// the empty string.
func SubstituteEnvVars(input string) string {
	if !strings.Contains(input, "${") {
		return input
	}
	return placeholderPattern.ReplaceAllStringFunc(input, func(ref string) string {
		body := ref[2 : len(ref)-1] // strip "${" and "}"
		name, fallback, _ := strings.Cut(body, ":")
		if name == "" {
			return ref
		}
		if value, ok := os.LookupEnv(name); ok && value != "" {
			return value
		}
		return fallback
	})
}

// expandable returns pointers to every config field that may carry a
// ${VAR} reference, so substitution stays in one loop instead of being
// restated per section.
func (c *Config) expandable() []*string {
	var fields []*string
	if c.Relay != nil {
		fields = append(fields, &c.Relay.URL)
	}
	if c.Store != nil && c.Store.Postgres != nil {
		pg := c.Store.Postgres
		fields = append(fields, &pg.Host, &pg.User, &pg.Password, &pg.Database)
	}
	if c.Push != nil {
		fields = append(fields, &c.Push.VAPIDKey)
	}
	return fields
}

// SubstituteEnvVarsInConfig expands environment references in place.
func SubstituteEnvVarsInConfig(cfg *Config) {
	if cfg == nil {
		return
	}
	for _, field := range cfg.expandable() {
		*field = SubstituteEnvVars(*field)
	}
}

// GetEnvironment returns the running environment name, defaulting to
// development.
func GetEnvironment() string {
	if env := os.Getenv("WHISPER_ENV"); env != "" {
		return env
	}
	return "development"
}

// applyEnvironmentOverrides lets a handful of well-known variables win
// over whatever the files said.
func applyEnvironmentOverrides(cfg *Config) {
	override := func(target *string, name string) {
		if value := os.Getenv(name); value != "" {
			*target = value
		}
	}
	if cfg.Relay != nil {
		override(&cfg.Relay.URL, "WHISPER_RELAY_URL")
	}
	if cfg.Logging != nil {
		override(&cfg.Logging.Level, "WHISPER_LOG_LEVEL")
	}
	if cfg.Metrics != nil {
		switch os.Getenv("WHISPER_METRICS_ENABLED") {
		case "true":
			cfg.Metrics.Enabled = true
		case "false":
			cfg.Metrics.Enabled = false
		}
	}
}
