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
	"bufio"
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/vorobalek/whisper-go/chat"
	"github.com/vorobalek/whisper-go/config"
	"github.com/vorobalek/whisper-go/conn"
	"github.com/vorobalek/whisper-go/internal/logger"
	"github.com/vorobalek/whisper-go/push"
	"github.com/vorobalek/whisper-go/store"
	"github.com/vorobalek/whisper-go/store/memory"
	"github.com/vorobalek/whisper-go/store/postgres"
	"github.com/vorobalek/whisper-go/whisper"
)

func newChatCommand() *cobra.Command {
	var storePassword string

	cmd := &cobra.Command{
		Use:   "chat <peer-public-key>",
		Short: "Open an encrypted chat with a peer",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			peer := args[0]
			ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer cancel()

			cfg, err := config.Load(config.LoaderOptions{ConfigDir: flagConfigDir})
			if err != nil {
				return err
			}
			if flagServerURL != "" {
				cfg.Relay.URL = flagServerURL
			}

			log := logger.NewDefaultLogger()
			log.SetLevel(logger.ParseLevel(cfg.Logging.Level))

			st, err := openStore(ctx, cfg, storePassword, log)
			if err != nil {
				return err
			}

			handleCfg := whisper.Config{
				ServerURL:       cfg.Relay.URL,
				Version:         cfg.Relay.Version,
				ICEServers:      cfg.ICE.Servers,
				Store:           st,
				AttemptDeadline: cfg.Relay.AttemptDeadline,
				CallTimeout:     cfg.Relay.CallTimeout,
				Logger:          log,
				Push: push.Options{
					Disable:  cfg.Push.Disabled,
					VAPIDKey: cfg.Push.VAPIDKey,
				},
				OnMayWorkUnstably: func(reason string) {
					fmt.Printf("! degraded: %s\n", reason)
				},
			}
			if seed := os.Getenv("WHISPER_KEY_SEED"); seed != "" {
				identity, err := identityFromSeed(seed)
				if err != nil {
					return err
				}
				handleCfg.SigningKeyPair = identity.KeyPair()
			}

			handle, err := whisper.Initialize(ctx, handleCfg)
			if err != nil {
				return err
			}
			defer handle.Close()

			fmt.Printf("you are %s\n", handle.PublicKey())

			connection := handle.Get(peer)
			connection.OnStateChanged(func(from, to conn.State) {
				fmt.Printf("* connection %s -> %s\n", from, to)
			})

			ch := handle.Chat(peer)
			if ch == nil {
				return fmt.Errorf("chat layer unavailable")
			}
			ch.OnMessage(func(e chat.Entry) {
				fmt.Printf("<%s> %s\n", peer[:8], e.Text)
			})
			ch.OnAction(func(action string) {
				if action == chat.ActionTyping {
					fmt.Printf("... peer is typing\n")
				}
			})

			connection.Open()

			go func() {
				scanner := bufio.NewScanner(os.Stdin)
				for scanner.Scan() {
					text := strings.TrimSpace(scanner.Text())
					if text == "" {
						continue
					}
					if _, err := ch.SendText(ctx, text); err != nil {
						fmt.Printf("! send failed: %v\n", err)
					}
				}
				cancel()
			}()

			<-ctx.Done()
			connection.Close()
			return nil
		},
	}

	cmd.Flags().StringVar(&storePassword, "store-password", "", "password unlocking the local encrypted store")
	return cmd
}

// openStore opens the configured encrypted store, or returns nil when no
// password was supplied (ephemeral session).
func openStore(ctx context.Context, cfg *config.Config, password string, log logger.Logger) (store.Store, error) {
	if password == "" {
		return nil, nil
	}

	var backend store.Backend
	switch cfg.Store.Backend {
	case "postgres":
		pg := cfg.Store.Postgres
		b, err := postgres.NewBackend(ctx, &postgres.Config{
			Host:     pg.Host,
			Port:     pg.Port,
			User:     pg.User,
			Password: pg.Password,
			Database: pg.Database,
			SSLMode:  pg.SSLMode,
		})
		if err != nil {
			return nil, err
		}
		backend = b
	default:
		backend = memory.NewBackend()
	}

	return store.Open(ctx, backend, password, log)
}
