// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package transport

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"golang.org/x/time/rate"
	"pkt.systems/pslog"

	"github.com/jeranaias/rigsync/internal/logging"
	"github.com/jeranaias/rigsync/internal/protocol"
)

// =============================================================================
// CONSTANTS AND ERRORS
// =============================================================================

const (
	// DefaultInitialDelay is the first reconnect delay.
	DefaultInitialDelay = time.Second

	// DefaultMaxDelay caps the reconnect delay.
	DefaultMaxDelay = 30 * time.Second

	// dropLogBurst is how many dropped-frame warnings may be logged back to back.
	dropLogBurst = 5
)

var (
	// ErrNotOpen is returned when an operation needs an open connection.
	ErrNotOpen = errors.New("transport: connection not open")

	// ErrClosed is returned when Disconnect raced an in-flight dial.
	ErrClosed = errors.New("transport: closed by client")
)

// Status is the lifecycle state of the channel.
type Status string

const (
	StatusConnecting Status = "connecting"
	StatusOpen       Status = "open"
	StatusClosed     Status = "closed"
)

// ConnectionState is a snapshot of the channel lifecycle.
type ConnectionState struct {
	Status Status

	// Delay is the wait before the next scheduled reconnect.
	Delay time.Duration

	// Attempts counts reconnects scheduled since the last successful open.
	Attempts int

	IntentionalClose bool
	AuthFailed       bool
}

// =============================================================================
// CHANNEL
// =============================================================================

// EventFunc receives one event.
type EventFunc func(ev protocol.Event)

// Subscription identifies a registered EventFunc for Off.
type Subscription struct {
	kind protocol.Kind
	id   uint64
}

type subscriber struct {
	id uint64
	fn EventFunc
}

// Options configures a Channel. Only URL is required.
type Options struct {
	URL string

	// Token supplies the bearer token for each dial.
	Token func() string

	Dialer    Dialer
	Clock     Clock
	Refresher SessionRefresher
	Logger    pslog.Logger

	InitialDelay time.Duration
	MaxDelay     time.Duration
}

// Channel owns the session socket and its reconnect cycle.
type Channel struct {
	url       string
	token     func() string
	dialer    Dialer
	clock     Clock
	refresher SessionRefresher
	log       pslog.Logger
	drops     *rate.Limiter

	mu      sync.Mutex
	state   ConnectionState
	conn    Conn
	gen     uint64
	timer   Timer
	ctx     context.Context
	cancel  context.CancelFunc
	initial time.Duration
	max     time.Duration

	subMu  sync.RWMutex
	subs   map[protocol.Kind][]subscriber
	nextID uint64
}

// New creates a closed Channel.
func New(opts Options) *Channel {
	if opts.Dialer == nil {
		opts.Dialer = WebsocketDialer{}
	}
	if opts.Clock == nil {
		opts.Clock = SystemClock()
	}
	if opts.Logger == nil {
		opts.Logger = logging.Discard()
	}
	if opts.InitialDelay <= 0 {
		opts.InitialDelay = DefaultInitialDelay
	}
	if opts.MaxDelay < opts.InitialDelay {
		opts.MaxDelay = max(DefaultMaxDelay, opts.InitialDelay)
	}

	return &Channel{
		url:       opts.URL,
		token:     opts.Token,
		dialer:    opts.Dialer,
		clock:     opts.Clock,
		refresher: opts.Refresher,
		log:       opts.Logger,
		drops:     rate.NewLimiter(rate.Every(time.Second), dropLogBurst),
		state:     ConnectionState{Status: StatusClosed, Delay: opts.InitialDelay},
		initial:   opts.InitialDelay,
		max:       opts.MaxDelay,
		subs:      make(map[protocol.Kind][]subscriber),
	}
}

// State returns a snapshot of the connection lifecycle.
func (c *Channel) State() ConnectionState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// SetBackoff replaces the reconnect schedule. The new initial delay applies
// immediately unless a reconnect cycle is in progress.
func (c *Channel) SetBackoff(initial, ceiling time.Duration) {
	if initial <= 0 {
		initial = DefaultInitialDelay
	}
	if ceiling < initial {
		ceiling = initial
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.initial = initial
	c.max = ceiling
	if c.state.Attempts == 0 {
		c.state.Delay = initial
	} else if c.state.Delay > ceiling {
		c.state.Delay = ceiling
	}
}

// =============================================================================
// SUBSCRIPTIONS
// =============================================================================

// On registers fn for events of kind. Subscribers of one kind run in
// registration order.
func (c *Channel) On(kind protocol.Kind, fn EventFunc) Subscription {
	c.subMu.Lock()
	defer c.subMu.Unlock()
	c.nextID++
	c.subs[kind] = append(c.subs[kind], subscriber{id: c.nextID, fn: fn})
	return Subscription{kind: kind, id: c.nextID}
}

// Off removes a subscription. Unknown subscriptions are ignored.
func (c *Channel) Off(sub Subscription) {
	c.subMu.Lock()
	defer c.subMu.Unlock()
	list := c.subs[sub.kind]
	for i, s := range list {
		if s.id == sub.id {
			c.subs[sub.kind] = append(list[:i:i], list[i+1:]...)
			return
		}
	}
}

func (c *Channel) emit(ev protocol.Event) {
	c.subMu.RLock()
	list := append([]subscriber(nil), c.subs[ev.Kind()]...)
	c.subMu.RUnlock()

	for _, s := range list {
		s.fn(ev)
	}
}

// =============================================================================
// LIFECYCLE
// =============================================================================

// Connect opens the socket. It is a no-op while the channel is open or
// connecting. A failed dial starts the reconnect cycle and returns the error.
func (c *Channel) Connect(ctx context.Context) error {
	c.mu.Lock()
	if c.state.Status != StatusClosed {
		c.mu.Unlock()
		return nil
	}
	if c.timer != nil {
		c.timer.Stop()
		c.timer = nil
	}
	if c.cancel != nil {
		c.cancel()
	}
	c.ctx, c.cancel = context.WithCancel(ctx)
	c.state.Status = StatusConnecting
	c.state.IntentionalClose = false
	c.state.AuthFailed = false
	dialCtx := c.ctx
	c.mu.Unlock()

	return c.dial(dialCtx)
}

// Disconnect closes the socket and cancels any pending reconnect. No
// disconnected event is emitted for an intentional close.
func (c *Channel) Disconnect() {
	c.mu.Lock()
	c.state.IntentionalClose = true
	c.state.Status = StatusClosed
	c.gen++
	if c.timer != nil {
		c.timer.Stop()
		c.timer = nil
	}
	if c.cancel != nil {
		c.cancel()
	}
	conn := c.conn
	c.conn = nil
	c.mu.Unlock()

	if conn != nil {
		conn.Close()
	}
	c.log.Debug("transport: disconnected by client")
}

// Send serializes msg and writes it as one text frame. It reports whether
// the frame was written and never panics.
func (c *Channel) Send(msg any) bool {
	data, err := json.Marshal(msg)
	if err != nil {
		c.log.Warn("transport: cannot encode outbound frame", "error", err)
		return false
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state.Status != StatusOpen || c.conn == nil {
		return false
	}
	if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
		c.log.Warn("transport: write failed", "error", err)
		return false
	}
	return true
}

func (c *Channel) header() http.Header {
	h := http.Header{}
	if c.token != nil {
		if tok := c.token(); tok != "" {
			h.Set("Authorization", "Bearer "+tok)
		}
	}
	return h
}

func (c *Channel) dial(ctx context.Context) error {
	c.mu.Lock()
	gen := c.gen
	c.mu.Unlock()

	conn, err := c.dialer.Dial(ctx, c.url, c.header())

	c.mu.Lock()
	if c.state.IntentionalClose || gen != c.gen {
		c.mu.Unlock()
		if conn != nil {
			conn.Close()
		}
		return ErrClosed
	}
	if err != nil {
		c.state.Status = StatusClosed
		c.mu.Unlock()
		c.log.Warn("transport: dial failed", "url", c.url, "error", err)
		c.lost(err)
		return err
	}

	reconnect := c.state.Attempts > 0
	c.conn = conn
	c.gen++
	gen = c.gen
	c.state.Status = StatusOpen
	c.state.Attempts = 0
	c.state.Delay = c.initial
	c.mu.Unlock()

	c.log.Info("transport: connected", "url", c.url, "reconnect", reconnect)
	go c.readLoop(conn, gen, reconnect)
	return nil
}

func (c *Channel) readLoop(conn Conn, gen uint64, reconnect bool) {
	c.emit(protocol.Connected{Reconnect: reconnect})

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			c.closed(conn, gen, err)
			return
		}

		ev, err := protocol.Decode(data)
		if err != nil {
			if c.drops.Allow() {
				c.log.Warn("transport: dropping frame", "error", err, "bytes", len(data))
			}
			continue
		}
		c.emit(ev)
	}
}

// closed handles the end of a read loop. Stale loops and intentional closes
// are ignored.
func (c *Channel) closed(conn Conn, gen uint64, err error) {
	c.mu.Lock()
	if gen != c.gen || c.conn != conn {
		c.mu.Unlock()
		return
	}
	c.conn = nil
	c.state.Status = StatusClosed
	c.mu.Unlock()

	conn.Close()
	c.log.Warn("transport: connection lost", "error", err)
	c.lost(err)
}

// lost runs one step of the reconnect cycle after an unexpected close or a
// failed dial.
func (c *Channel) lost(err error) {
	c.emit(protocol.Disconnected{Err: err})

	c.mu.Lock()
	ctx := c.ctx
	c.mu.Unlock()

	if c.refresher != nil && !c.refresher(ctx) {
		c.mu.Lock()
		if c.state.IntentionalClose {
			c.mu.Unlock()
			return
		}
		c.state.AuthFailed = true
		c.mu.Unlock()
		c.log.Warn("transport: session refresh rejected; not reconnecting")
		c.emit(protocol.AuthFailed{})
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state.IntentionalClose || c.state.Status != StatusClosed {
		return
	}
	delay := c.state.Delay
	c.state.Attempts++
	c.state.Delay = min(delay*2, c.max)
	gen := c.gen
	c.log.Info("transport: reconnect scheduled", "delay", delay, "attempt", c.state.Attempts)
	// At most one reconnect timer is pending.
	if c.timer != nil {
		c.timer.Stop()
	}
	c.timer = c.clock.AfterFunc(delay, func() { c.reconnect(gen) })
}

func (c *Channel) reconnect(gen uint64) {
	c.mu.Lock()
	if gen != c.gen || c.state.IntentionalClose || c.state.Status != StatusClosed {
		c.mu.Unlock()
		return
	}
	c.timer = nil
	c.state.Status = StatusConnecting
	ctx := c.ctx
	c.mu.Unlock()

	c.dial(ctx)
}
