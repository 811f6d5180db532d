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

package health

import (
	"encoding/json"
	"net/http"
	"time"
)

// response is the health endpoint's JSON shape.
type response struct {
	Status Status                  `json:"status"`
	Checks map[string]*CheckResult `json:"checks"`
	Time   time.Time               `json:"time"`
}

// Handler returns an HTTP handler exposing the checker's results.
func Handler(checker *HealthChecker) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		results := checker.CheckAll(r.Context())
		overall := Aggregate(results)

		code := http.StatusOK
		if overall == StatusUnhealthy {
			code = http.StatusServiceUnavailable
		}

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(code)
		json.NewEncoder(w).Encode(response{
			Status: overall,
			Checks: results,
			Time:   time.Now(),
		})
	})
}

// StartServer starts a standalone health HTTP server.
func StartServer(addr, path string, checker *HealthChecker) error {
	if path == "" {
		path = "/health"
	}
	mux := http.NewServeMux()
	mux.Handle(path, Handler(checker))
	return http.ListenAndServe(addr, mux)
}
