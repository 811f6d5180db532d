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

package main

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

var (
	flagConfigDir string
	flagServerURL string
)

func main() {
	// A missing .env is fine; explicit configuration wins anyway.
	_ = godotenv.Load()

	root := &cobra.Command{
		Use:   "whisper",
		Short: "Trustless peer-to-peer encrypted messaging",
		Long: `whisper establishes end-to-end-encrypted data channels between peers
identified only by their signing public keys, using an untrusted relay
for signaling.`,
	}

	root.PersistentFlags().StringVar(&flagConfigDir, "config", "config", "configuration directory")
	root.PersistentFlags().StringVar(&flagServerURL, "server", "", "relay server URL (overrides config)")

	root.AddCommand(newKeygenCommand())
	root.AddCommand(newChatCommand())

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
