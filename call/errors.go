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

package call

import (
	"errors"
	"fmt"
)

var (
	// ErrTransportUnavailable is returned when both the primary and the
	// secondary transport failed for one call.
	ErrTransportUnavailable = errors.New("transport unavailable")

	// ErrInvalidResponse is returned when the relay's reply cannot be
	// interpreted.
	ErrInvalidResponse = errors.New("invalid relay response")
)

// RelayRejectedError is returned when the relay answered but refused the
// call.
type RelayRejectedError struct {
	Reason string
	Errors []string
}

func (e *RelayRejectedError) Error() string {
	if len(e.Errors) > 0 {
		return fmt.Sprintf("relay rejected call: %s %v", e.Reason, e.Errors)
	}
	return fmt.Sprintf("relay rejected call: %s", e.Reason)
}
