// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package transport maintains the persistent session socket.
//
// A Channel owns at most one live connection. Frames read from it are decoded
// with the protocol package and handed to per-kind subscribers in arrival
// order from a single read goroutine. When the connection drops without a
// call to Disconnect the channel emits a local disconnected event, optionally
// asks a SessionRefresher whether the session is still valid, and schedules
// exactly one reconnect with exponential backoff (1s doubling to a ceiling).
// A refresher answering false emits auth_failed and stops the cycle.
//
// # Key Types
//
//   - Channel: Connection owner with Connect, Send, On/Off and Disconnect
//   - ConnectionState: Snapshot of status, backoff delay and attempts
//   - Dialer, Conn: Socket seam; WebsocketDialer is the gorilla implementation
//   - Clock, Timer: Timer seam so tests control the reconnect schedule
//
// # Usage
//
//	ch := transport.New(transport.Options{
//	    URL:       "wss://example.test/ws",
//	    Token:     func() string { return token },
//	    Refresher: apiClient.RefreshSession,
//	    Logger:    log,
//	})
//	sub := ch.On(protocol.KindReady, func(ev protocol.Event) { ... })
//	defer ch.Off(sub)
//	if err := ch.Connect(ctx); err != nil { ... }
//	defer ch.Disconnect()
package transport
