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

package metrics

import (
	"sync"
	"time"
)

// Collector collects metrics for whisper operations
type Collector struct {
	mu sync.RWMutex

	// Counters
	CallsSent         int64
	CallFailures      int64
	Fallbacks         int64
	DroppedEnvelopes  int64
	DroppedByCheck    map[string]int64
	SagaConnects      int64
	SagaFailures      int64
	DecryptFailures   int64
	UpdatesMerged     int64
	UpdatesResent     int64

	// Timing samples (in microseconds)
	ConnectTimes []int64

	startTime time.Time

	maxTimingSamples int
}

// NewCollector creates a new metrics collector
func NewCollector() *Collector {
	return &Collector{
		startTime:        time.Now(),
		DroppedByCheck:   make(map[string]int64),
		maxTimingSamples: 1000,
	}
}

// RecordCall records an outbound call attempt
func (c *Collector) RecordCall(method string, success bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.CallsSent++
	if !success {
		c.CallFailures++
	}
	promCalls.WithLabelValues(method, boolLabel(success)).Inc()
}

// RecordFallback records a primary-to-secondary transport fallback
func (c *Collector) RecordFallback() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.Fallbacks++
	promFallbacks.Inc()
}

// RecordDroppedEnvelope records an inbound envelope dropped by validation
func (c *Collector) RecordDroppedEnvelope(check string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.DroppedEnvelopes++
	c.DroppedByCheck[check]++
	promDropped.WithLabelValues(check).Inc()
}

// RecordSagaConnect records a saga reaching Connected
func (c *Collector) RecordSagaConnect(duration time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.SagaConnects++
	c.recordTiming(&c.ConnectTimes, duration)
	promSagaConnects.Inc()
	promConnectSeconds.Observe(duration.Seconds())
}

// RecordSagaFailure records a saga closing without connecting
func (c *Collector) RecordSagaFailure(reason string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.SagaFailures++
	promSagaFailures.WithLabelValues(reason).Inc()
}

// RecordDecryptFailure records a frame that failed AEAD authentication
func (c *Collector) RecordDecryptFailure() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.DecryptFailures++
	promDecryptFailures.Inc()
}

// RecordUpdateMerged records an inbound update merged into the cache
func (c *Collector) RecordUpdateMerged() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.UpdatesMerged++
}

// RecordUpdateResent records an update replayed on a fresh channel
func (c *Collector) RecordUpdateResent() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.UpdatesResent++
}

// recordTiming records a timing sample
func (c *Collector) recordTiming(timings *[]int64, duration time.Duration) {
	microseconds := duration.Microseconds()
	*timings = append(*timings, microseconds)

	if len(*timings) > c.maxTimingSamples {
		*timings = (*timings)[len(*timings)-c.maxTimingSamples:]
	}
}

// Snapshot represents a point-in-time view of the collector
type Snapshot struct {
	Timestamp time.Time
	Uptime    time.Duration

	CallsSent        int64
	CallFailures     int64
	Fallbacks        int64
	DroppedEnvelopes int64
	DroppedByCheck   map[string]int64
	SagaConnects     int64
	SagaFailures     int64
	DecryptFailures  int64
	UpdatesMerged    int64
	UpdatesResent    int64

	AvgConnectTime float64
	P95ConnectTime int64
}

// GetSnapshot returns a snapshot of current metrics
func (c *Collector) GetSnapshot() *Snapshot {
	c.mu.RLock()
	defer c.mu.RUnlock()

	byCheck := make(map[string]int64, len(c.DroppedByCheck))
	for k, v := range c.DroppedByCheck {
		byCheck[k] = v
	}

	return &Snapshot{
		Timestamp:        time.Now(),
		Uptime:           time.Since(c.startTime),
		CallsSent:        c.CallsSent,
		CallFailures:     c.CallFailures,
		Fallbacks:        c.Fallbacks,
		DroppedEnvelopes: c.DroppedEnvelopes,
		DroppedByCheck:   byCheck,
		SagaConnects:     c.SagaConnects,
		SagaFailures:     c.SagaFailures,
		DecryptFailures:  c.DecryptFailures,
		UpdatesMerged:    c.UpdatesMerged,
		UpdatesResent:    c.UpdatesResent,
		AvgConnectTime:   calculateAverage(c.ConnectTimes),
		P95ConnectTime:   calculatePercentile(c.ConnectTimes, 95),
	}
}

// Reset resets all metrics
func (c *Collector) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.CallsSent = 0
	c.CallFailures = 0
	c.Fallbacks = 0
	c.DroppedEnvelopes = 0
	c.DroppedByCheck = make(map[string]int64)
	c.SagaConnects = 0
	c.SagaFailures = 0
	c.DecryptFailures = 0
	c.UpdatesMerged = 0
	c.UpdatesResent = 0
	c.ConnectTimes = nil
	c.startTime = time.Now()
}

func boolLabel(b bool) string {
	if b {
		return "true"
	}
	return "false"
}

func calculateAverage(values []int64) float64 {
	if len(values) == 0 {
		return 0
	}

	var sum int64
	for _, v := range values {
		sum += v
	}
	return float64(sum) / float64(len(values))
}

func calculatePercentile(values []int64, percentile int) int64 {
	if len(values) == 0 {
		return 0
	}

	index := len(values) * percentile / 100
	if index >= len(values) {
		index = len(values) - 1
	}

	sorted := make([]int64, len(values))
	copy(sorted, values)

	for i := 0; i < len(sorted)-1; i++ {
		for j := 0; j < len(sorted)-i-1; j++ {
			if sorted[j] > sorted[j+1] {
				sorted[j], sorted[j+1] = sorted[j+1], sorted[j]
			}
		}
	}

	return sorted[index]
}
