/* SPDX-License-Identifier: MPL-2.0
 * Copyright 2025 Tejus Pratap <tejzpr@gmail.com>
 *
 * See CONTRIBUTORS.md for full contributor list.
 */

// Package status maintains the single presence/talk websocket of an
// authenticated client. The connection is re-established with exponential
// backoff whenever it drops, until the client is closed or no token is
// available.
package status

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/tejzpr/intercom-go-sdk/intercomsdk"
)

var (
	// ErrNoToken is returned when there is no bearer token to connect with
	ErrNoToken = errors.New("status: no auth token available")
	// ErrNotConnected is returned by Send while the socket is down
	ErrNotConnected = errors.New("status: not connected")
)

// Config holds the configuration for the status channel
type Config struct {
	// Path of the websocket endpoint relative to the API base
	Path string
	// InitialBackoff is the first reconnect delay, and the delay after any successful open
	InitialBackoff time.Duration
	// MaxBackoff caps the reconnect delay
	MaxBackoff time.Duration
	// PingInterval between keepalive pings
	PingInterval time.Duration
	// PongTimeout is how long to wait for a pong before treating the socket as dead
	PongTimeout time.Duration
	// HandshakeTimeout bounds the websocket upgrade
	HandshakeTimeout time.Duration
	// WriteTimeout bounds a single Send
	WriteTimeout time.Duration
}

// DefaultConfig returns the default configuration for the status channel
func DefaultConfig() *Config {
	return &Config{
		Path:             "ws",
		InitialBackoff:   1000 * time.Millisecond,
		MaxBackoff:       30000 * time.Millisecond,
		PingInterval:     30 * time.Second,
		PongTimeout:      10 * time.Second,
		HandshakeTimeout: 10 * time.Second,
		WriteTimeout:     5 * time.Second,
	}
}

// TokenSource returns the current bearer token, "" when unauthenticated
type TokenSource func() string

// EventHandler handles one inbound event
type EventHandler func(event *Event)

// HandlerID identifies a handler registered with On
type HandlerID uint64

type registeredHandler struct {
	id HandlerID
	fn EventHandler
}

// Client is the status channel client
type Client struct {
	core    *intercomsdk.Client
	config  *Config
	tokens  TokenSource
	logger  zerolog.Logger
	backoff *Backoff

	// sleep waits d or until ctx is done
	sleep func(ctx context.Context, d time.Duration) error

	mu            sync.Mutex
	conn          *websocket.Conn
	connected     bool
	running       bool
	cancel        context.CancelFunc
	done          chan struct{}
	eventHandlers map[EventType][]registeredHandler
	nextHandler   HandlerID
	openHandlers  []func()
	closeHandlers []func(err error)

	writeMu sync.Mutex

	dropped    atomic.Uint64
	reconnects atomic.Uint64
}

// New creates a new status channel client. tokens defaults to the core
// client's access token.
func New(core *intercomsdk.Client, tokens TokenSource, config *Config) *Client {
	if config == nil {
		config = DefaultConfig()
	}
	if tokens == nil {
		tokens = core.GetAccessToken
	}

	return &Client{
		core:          core,
		config:        config,
		tokens:        tokens,
		logger:        core.Logger("status"),
		backoff:       NewBackoff(config.InitialBackoff, config.MaxBackoff),
		sleep:         sleepContext,
		eventHandlers: make(map[EventType][]registeredHandler),
	}
}

// Name implements intercomsdk.Plugin
func (c *Client) Name() string { return "status" }

// Connect dials the status websocket and keeps it connected in the
// background until Close is called or ctx is done. A failed first dial is
// reported to the close callbacks and retried with backoff like any later
// drop; only a missing token or a done ctx makes Connect return an error.
func (c *Client) Connect(ctx context.Context) error {
	if c.tokens() == "" {
		return ErrNoToken
	}

	c.mu.Lock()
	if c.running {
		c.mu.Unlock()
		return nil
	}
	c.running = true
	c.mu.Unlock()

	conn, err := c.dial(ctx)
	if err != nil {
		if ctx.Err() != nil || errors.Is(err, ErrNoToken) {
			c.mu.Lock()
			c.running = false
			c.mu.Unlock()
			return err
		}
		c.logger.Warn().Err(err).Msg("initial connect failed")
		c.notifyClose(err)
	}

	runCtx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	c.mu.Lock()
	c.cancel = cancel
	c.done = done
	c.mu.Unlock()

	// the caller's ctx bounds the lifetime too
	go func() {
		select {
		case <-ctx.Done():
			cancel()
		case <-runCtx.Done():
		}
	}()

	go c.run(runCtx, conn, done)
	return nil
}

// Close stops reconnecting and closes the socket
func (c *Client) Close() error {
	c.mu.Lock()
	cancel, done := c.cancel, c.done
	conn := c.conn
	c.mu.Unlock()

	if cancel == nil {
		return nil
	}
	cancel()

	if conn != nil {
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, "closed by client"),
			time.Now().Add(time.Second))
		_ = conn.Close()
	}
	<-done
	return nil
}

// run serves conn and reconnects after it drops
func (c *Client) run(ctx context.Context, conn *websocket.Conn, done chan struct{}) {
	defer func() {
		c.mu.Lock()
		c.running = false
		c.cancel = nil
		c.done = nil
		c.mu.Unlock()
		close(done)
	}()

	for {
		if conn != nil {
			c.serve(ctx, conn)
			conn = nil
		}
		if ctx.Err() != nil {
			return
		}
		if c.tokens() == "" {
			c.logger.Warn().Msg("no token, not reconnecting")
			return
		}

		delay := c.backoff.Next()
		c.logger.Info().Dur("delay", delay).Msg("reconnecting")
		if err := c.sleep(ctx, delay); err != nil {
			return
		}

		c.reconnects.Add(1)
		var err error
		conn, err = c.dial(ctx)
		if err != nil {
			c.logger.Warn().Err(err).Msg("reconnect failed")
		}
	}
}

// dial opens the websocket; a successful open resets the backoff
func (c *Client) dial(ctx context.Context) (*websocket.Conn, error) {
	token := c.tokens()
	if token == "" {
		return nil, ErrNoToken
	}

	u := c.core.WebSocketURL(c.config.Path)
	q := u.Query()
	q.Set("token", token)
	u.RawQuery = q.Encode()

	dialer := websocket.Dialer{
		HandshakeTimeout: c.config.HandshakeTimeout,
	}
	if hc := c.core.GetHTTPClient(); hc != nil && hc.Transport != nil {
		if transport, ok := hc.Transport.(*http.Transport); ok {
			dialer.NetDialContext = transport.DialContext
			dialer.TLSClientConfig = transport.TLSClientConfig
		}
	}

	conn, resp, err := dialer.DialContext(ctx, u.String(), nil)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("status: dial: %w (HTTP %d)", err, resp.StatusCode)
		}
		return nil, fmt.Errorf("status: dial: %w", err)
	}

	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Time{})
	})

	c.backoff.Reset()
	return conn, nil
}

// serve publishes conn, reads until it fails and then unpublishes it
func (c *Client) serve(ctx context.Context, conn *websocket.Conn) {
	c.mu.Lock()
	c.conn = conn
	c.connected = true
	openHandlers := append([]func(){}, c.openHandlers...)
	c.mu.Unlock()

	c.logger.Info().Msg("connected")
	for _, h := range openHandlers {
		h()
	}

	connDone := make(chan struct{})
	go c.startPingPong(conn, connDone)
	go func() {
		select {
		case <-ctx.Done():
			_ = conn.Close()
		case <-connDone:
		}
	}()

	err := c.listen(conn)
	close(connDone)
	_ = conn.Close()

	c.mu.Lock()
	if c.conn == conn {
		c.conn = nil
	}
	c.connected = false
	c.mu.Unlock()

	c.logger.Info().Err(err).Msg("disconnected")
	c.notifyClose(err)
}

func (c *Client) notifyClose(err error) {
	c.mu.Lock()
	closeHandlers := append([]func(error){}, c.closeHandlers...)
	c.mu.Unlock()

	for _, h := range closeHandlers {
		h(err)
	}
}

// listen reads messages until the socket fails. Malformed messages are dropped.
func (c *Client) listen(conn *websocket.Conn) error {
	for {
		_, message, err := conn.ReadMessage()
		if err != nil {
			return err
		}

		event, err := DecodeEvent(message)
		if err != nil {
			c.dropped.Add(1)
			c.logger.Debug().Err(err).Msg("dropping malformed message")
			continue
		}
		c.dispatchEvent(event)
	}
}

// dispatchEvent runs the handlers for event in registration order
func (c *Client) dispatchEvent(event *Event) {
	c.mu.Lock()
	handlers := append([]registeredHandler{}, c.eventHandlers[event.Type]...)
	handlers = append(handlers, c.eventHandlers[EventAll]...)
	c.mu.Unlock()

	for _, h := range handlers {
		h.fn(event)
	}
}

// startPingPong keeps the connection alive until done is closed
func (c *Client) startPingPong(conn *websocket.Conn, done <-chan struct{}) {
	if c.config.PingInterval <= 0 {
		return
	}
	ticker := time.NewTicker(c.config.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if err := c.ping(conn); err != nil {
				c.logger.Warn().Err(err).Msg("ping failed")
				_ = conn.Close()
				return
			}
		case <-done:
			return
		}
	}
}

// ping sends a ping and arms the pong deadline
func (c *Client) ping(conn *websocket.Conn) error {
	if err := conn.SetReadDeadline(time.Now().Add(c.config.PongTimeout)); err != nil {
		return err
	}
	data := []byte(fmt.Sprintf("%d", time.Now().UnixMilli()))
	return conn.WriteControl(websocket.PingMessage, data, time.Now().Add(c.config.PongTimeout))
}

// Send writes v as JSON on the live socket
func (c *Client) Send(v interface{}) error {
	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()
	if conn == nil {
		return ErrNotConnected
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if c.config.WriteTimeout > 0 {
		_ = conn.SetWriteDeadline(time.Now().Add(c.config.WriteTimeout))
	}
	if err := conn.WriteJSON(v); err != nil {
		return fmt.Errorf("status: send: %w", err)
	}
	return nil
}

// On registers an event handler for a specific event type; EventAll
// receives every event. The returned id removes the handler with Off.
func (c *Client) On(eventType EventType, handler EventHandler) HandlerID {
	if handler == nil {
		return 0
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.nextHandler++
	id := c.nextHandler
	c.eventHandlers[eventType] = append(c.eventHandlers[eventType], registeredHandler{id: id, fn: handler})
	return id
}

// Off removes the handler registered under id for a specific event type
func (c *Client) Off(eventType EventType, id HandlerID) {
	c.mu.Lock()
	defer c.mu.Unlock()

	handlers, ok := c.eventHandlers[eventType]
	if !ok {
		return
	}
	for i, h := range handlers {
		if h.id == id {
			c.eventHandlers[eventType] = append(handlers[:i:i], handlers[i+1:]...)
			break
		}
	}

	if len(c.eventHandlers[eventType]) == 0 {
		delete(c.eventHandlers, eventType)
	}
}

// OnOpen registers a callback run every time the socket opens
func (c *Client) OnOpen(fn func()) {
	c.mu.Lock()
	c.openHandlers = append(c.openHandlers, fn)
	c.mu.Unlock()
}

// OnClose registers a callback run every time the socket drops
func (c *Client) OnClose(fn func(err error)) {
	c.mu.Lock()
	c.closeHandlers = append(c.closeHandlers, fn)
	c.mu.Unlock()
}

// IsConnected returns whether the socket is currently open
func (c *Client) IsConnected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connected
}

// Dropped returns the number of malformed messages discarded
func (c *Client) Dropped() uint64 { return c.dropped.Load() }

// Reconnects returns the number of reconnect attempts made
func (c *Client) Reconnects() uint64 { return c.reconnects.Load() }

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
