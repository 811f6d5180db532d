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

// Package health answers one question: can this client still reach its
// relay and its encrypted store? The checker is deliberately small — a
// handful of named probes run in registration order under one timeout.
package health

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/vorobalek/whisper-go/internal/logger"
)

// Status represents the health status of a component
type Status string

const (
	StatusHealthy   Status = "healthy"
	StatusDegraded  Status = "degraded"
	StatusUnhealthy Status = "unhealthy"
)

// CheckResult represents the result of a health check
type CheckResult struct {
	Name      string        `json:"name"`
	Status    Status        `json:"status"`
	Message   string        `json:"message,omitempty"`
	Timestamp time.Time     `json:"timestamp"`
	Duration  time.Duration `json:"duration"`
}

// HealthCheck represents a single health check function
type HealthCheck func(ctx context.Context) error

// HealthChecker runs named probes. Registration order is the run order,
// so the cheap relay probe goes first and a hanging store cannot mask it.
type HealthChecker struct {
	mu      sync.RWMutex
	names   []string
	checks  map[string]HealthCheck
	timeout time.Duration
	logger  logger.Logger
}

// NewHealthChecker creates a checker with a per-probe timeout.
func NewHealthChecker(timeout time.Duration) *HealthChecker {
	if timeout == 0 {
		timeout = 5 * time.Second
	}
	return &HealthChecker{
		checks:  make(map[string]HealthCheck),
		timeout: timeout,
		logger:  logger.Nop(),
	}
}

// SetLogger sets the logger for the health checker
func (h *HealthChecker) SetLogger(l logger.Logger) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.logger = l
}

// RegisterCheck registers a new health check. Re-registering a name
// replaces the probe but keeps its position.
func (h *HealthChecker) RegisterCheck(name string, check HealthCheck) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, exists := h.checks[name]; !exists {
		h.names = append(h.names, name)
	}
	h.checks[name] = check
}

// Check runs a single probe by name.
func (h *HealthChecker) Check(ctx context.Context, name string) (*CheckResult, error) {
	h.mu.RLock()
	check, exists := h.checks[name]
	timeout := h.timeout
	log := h.logger
	h.mu.RUnlock()

	if !exists {
		return nil, fmt.Errorf("health check not found: %s", name)
	}
	result := run(ctx, name, check, timeout)
	if result.Status != StatusHealthy {
		log.Warn("health check failed",
			logger.String("name", name),
			logger.String("message", result.Message),
			logger.Duration("duration", result.Duration))
	}
	return result, nil
}

// run executes one probe under the timeout and shapes its result.
func run(ctx context.Context, name string, check HealthCheck, timeout time.Duration) *CheckResult {
	checkCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	start := time.Now()
	err := check(checkCtx)

	result := &CheckResult{
		Name:      name,
		Status:    StatusHealthy,
		Timestamp: start,
		Duration:  time.Since(start),
	}
	if err != nil {
		result.Status = StatusUnhealthy
		result.Message = err.Error()
	}
	return result
}

// CheckAll runs every probe in registration order.
func (h *HealthChecker) CheckAll(ctx context.Context) map[string]*CheckResult {
	h.mu.RLock()
	names := append([]string(nil), h.names...)
	h.mu.RUnlock()

	results := make(map[string]*CheckResult, len(names))
	for _, name := range names {
		result, err := h.Check(ctx, name)
		if err != nil {
			// Unregistered between snapshot and run; nothing to report.
			continue
		}
		results[name] = result
	}
	return results
}

// GetOverallStatus aggregates all probes: any unhealthy probe makes the
// whole client unhealthy, any degraded one degrades it.
func (h *HealthChecker) GetOverallStatus(ctx context.Context) Status {
	return Aggregate(h.CheckAll(ctx))
}

// Aggregate folds a result set into one status.
func Aggregate(results map[string]*CheckResult) Status {
	overall := StatusHealthy
	for _, result := range results {
		switch result.Status {
		case StatusUnhealthy:
			return StatusUnhealthy
		case StatusDegraded:
			overall = StatusDegraded
		}
	}
	return overall
}
