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
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/vorobalek/whisper-go/envelope"
)

// CallPath is the relay's request/response endpoint.
const CallPath = "/api/v1/call"

// HTTPSender implements Sender over HTTP POST. It is the secondary
// transport used when the primary channel is down or mid-reconnect.
type HTTPSender struct {
	url        string
	httpClient *http.Client
}

// NewHTTPSender creates the secondary transport for the given relay base URL.
func NewHTTPSender(serverURL string) *HTTPSender {
	return &HTTPSender{
		url: strings.TrimSuffix(serverURL, "/") + CallPath,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

// NewHTTPSenderWithClient allows a custom HTTP client (timeouts, TLS).
func NewHTTPSenderWithClient(serverURL string, httpClient *http.Client) *HTTPSender {
	return &HTTPSender{
		url:        strings.TrimSuffix(serverURL, "/") + CallPath,
		httpClient: httpClient,
	}
}

// Send POSTs the envelope and decodes the relay response.
func (t *HTTPSender) Send(ctx context.Context, env *envelope.Envelope) (*envelope.Response, error) {
	body, err := json.Marshal(env)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal call: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	httpResp, err := t.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to send call: %w", err)
	}
	defer httpResp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(httpResp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	var resp envelope.Response
	if err := json.Unmarshal(data, &resp); err != nil {
		return nil, fmt.Errorf("failed to decode response (HTTP %d): %w", httpResp.StatusCode, err)
	}
	return &resp, nil
}
