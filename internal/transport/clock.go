// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package transport

import (
	"context"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
)

// =============================================================================
// CLOCK
// =============================================================================

// Timer is a scheduled callback that can be cancelled.
type Timer interface {
	Stop() bool
}

// Clock schedules callbacks. The reconnect timer is the only user.
type Clock interface {
	AfterFunc(d time.Duration, f func()) Timer
}

type realClock struct{}

func (realClock) AfterFunc(d time.Duration, f func()) Timer {
	return time.AfterFunc(d, f)
}

// SystemClock returns a Clock backed by the time package.
func SystemClock() Clock {
	return realClock{}
}

// =============================================================================
// DIALER
// =============================================================================

// Conn is the subset of a websocket connection the channel uses.
// *websocket.Conn satisfies it.
type Conn interface {
	ReadMessage() (messageType int, data []byte, err error)
	WriteMessage(messageType int, data []byte) error
	Close() error
}

// Dialer opens a connection to url.
type Dialer interface {
	Dial(ctx context.Context, url string, header http.Header) (Conn, error)
}

// WebsocketDialer dials with gorilla/websocket.
type WebsocketDialer struct {
	// Dialer overrides websocket.DefaultDialer when set.
	Dialer *websocket.Dialer
}

// Dial performs the websocket handshake.
func (d WebsocketDialer) Dial(ctx context.Context, url string, header http.Header) (Conn, error) {
	dialer := d.Dialer
	if dialer == nil {
		dialer = websocket.DefaultDialer
	}
	conn, resp, err := dialer.DialContext(ctx, url, header)
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}
	if err != nil {
		if resp != nil {
			return nil, &HandshakeError{Status: resp.StatusCode, Err: err}
		}
		return nil, err
	}
	return conn, nil
}

// HandshakeError reports a rejected websocket upgrade.
type HandshakeError struct {
	Status int
	Err    error
}

func (e *HandshakeError) Error() string {
	return "websocket handshake failed: " + http.StatusText(e.Status) + ": " + e.Err.Error()
}

func (e *HandshakeError) Unwrap() error {
	return e.Err
}

// SessionRefresher reports whether the session is still valid, refreshing it
// when possible. It is consulted after every unexpected close.
type SessionRefresher func(ctx context.Context) bool
