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
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Registry holds all whisper Prometheus collectors.
var Registry = prometheus.NewRegistry()

var (
	promCalls = promauto.With(Registry).NewCounterVec(prometheus.CounterOpts{
		Namespace: "whisper",
		Subsystem: "call",
		Name:      "sent_total",
		Help:      "Outbound calls by method and outcome",
	}, []string{"method", "success"})

	promFallbacks = promauto.With(Registry).NewCounter(prometheus.CounterOpts{
		Namespace: "whisper",
		Subsystem: "call",
		Name:      "fallbacks_total",
		Help:      "Primary-to-secondary transport fallbacks",
	})

	promDropped = promauto.With(Registry).NewCounterVec(prometheus.CounterOpts{
		Namespace: "whisper",
		Subsystem: "envelope",
		Name:      "dropped_total",
		Help:      "Inbound envelopes dropped by validation check",
	}, []string{"check"})

	promSagaConnects = promauto.With(Registry).NewCounter(prometheus.CounterOpts{
		Namespace: "whisper",
		Subsystem: "saga",
		Name:      "connects_total",
		Help:      "Sagas that reached Connected",
	})

	promSagaFailures = promauto.With(Registry).NewCounterVec(prometheus.CounterOpts{
		Namespace: "whisper",
		Subsystem: "saga",
		Name:      "failures_total",
		Help:      "Sagas closed without connecting, by reason",
	}, []string{"reason"})

	promDecryptFailures = promauto.With(Registry).NewCounter(prometheus.CounterOpts{
		Namespace: "whisper",
		Subsystem: "session",
		Name:      "decrypt_failures_total",
		Help:      "AEAD frames that failed authentication",
	})

	promConnectSeconds = promauto.With(Registry).NewHistogram(prometheus.HistogramOpts{
		Namespace: "whisper",
		Subsystem: "saga",
		Name:      "connect_seconds",
		Help:      "Time from attempt start to Connected",
		Buckets:   prometheus.ExponentialBuckets(0.1, 2, 10),
	})
)
