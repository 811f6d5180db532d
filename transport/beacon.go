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

package transport

import (
	"bytes"
	"net/http"
	"strings"
	"time"
)

// BeaconFunc adapts an external fire-and-forget sender (for instance a
// host environment's sendBeacon equivalent). Returning false means the
// beacon could not even be queued.
type BeaconFunc func(body []byte) bool

// Send implements Beacon.
func (f BeaconFunc) Send(body []byte) bool { return f(body) }

// HTTPBeacon posts small bodies to the relay's call endpoint and discards
// any reply without inspecting it. Close calls use it so teardown does not
// depend on the content of a response.
type HTTPBeacon struct {
	url        string
	httpClient *http.Client
}

// NewHTTPBeacon creates the default beacon for the given relay base URL.
func NewHTTPBeacon(serverURL string) *HTTPBeacon {
	return &HTTPBeacon{
		url: strings.TrimSuffix(serverURL, "/") + CallPath,
		httpClient: &http.Client{
			Timeout: 5 * time.Second,
		},
	}
}

// Send posts the body and reports whether the relay was reached. It blocks
// until the response headers arrive or the 5 s client timeout expires; the
// response is discarded.
func (b *HTTPBeacon) Send(body []byte) bool {
	req, err := http.NewRequest(http.MethodPost, b.url, bytes.NewReader(body))
	if err != nil {
		return false
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := b.httpClient.Do(req)
	if err != nil {
		return false
	}
	resp.Body.Close()
	return true
}
