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
	"context"
	"fmt"

	"github.com/vorobalek/whisper-go/store"
	"github.com/vorobalek/whisper-go/transport"
)

// RelayCheck reports healthy while the primary channel is connected.
func RelayCheck(primary transport.Primary) HealthCheck {
	return func(ctx context.Context) error {
		if primary == nil {
			return fmt.Errorf("primary channel not configured")
		}
		if !primary.Ready() {
			return fmt.Errorf("primary channel reconnecting")
		}
		return nil
	}
}

// StoreCheck probes the encrypted store with a read of the check record.
func StoreCheck(st store.Store) HealthCheck {
	return func(ctx context.Context) error {
		if st == nil {
			return fmt.Errorf("store not configured")
		}
		_, err := st.Get(ctx, store.TableCheck, store.TableCheck)
		if err != nil {
			return fmt.Errorf("store probe failed: %w", err)
		}
		return nil
	}
}
