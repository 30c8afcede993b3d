/* SPDX-License-Identifier: MPL-2.0
 * Copyright 2025 Tejus Pratap <tejzpr@gmail.com>
 *
 * See CONTRIBUTORS.md for full contributor list.
 */

// Package identity registers this client with the intercom backend and
// holds the resulting credentials. The bearer token is volatile and lives
// only in memory; the client id is persistent and reused on every
// registration so the backend recognizes a returning client.
package identity

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	jose "github.com/go-jose/go-jose/v4"
	"github.com/go-jose/go-jose/v4/jwt"
	"github.com/rs/zerolog"
	"github.com/tejzpr/intercom-go-sdk/intercomsdk"
)

// ErrNotAuthenticated is returned when an operation needs a token and none is held.
var ErrNotAuthenticated = errors.New("identity: not authenticated")

// ClientIDStore persists the client identifier across runs.
// *prefs.Store implements it.
type ClientIDStore interface {
	ClientID() string
	SetClientID(id string) error
}

// ClientIdentity is a snapshot of the held credentials.
type ClientIdentity struct {
	Token    string `json:"-"`
	ClientID string `json:"clientId"`
}

// Config holds the configuration for the identity client
type Config struct {
	// RefreshBefore is how long before token expiry Reauth is attempted.
	// Zero disables automatic refresh.
	RefreshBefore time.Duration
	// MinRefreshDelay bounds how soon a refresh may be scheduled
	MinRefreshDelay time.Duration
}

// DefaultConfig returns the default configuration for the identity client
func DefaultConfig() *Config {
	return &Config{
		RefreshBefore:   60 * time.Second,
		MinRefreshDelay: 5 * time.Second,
	}
}

type registerRequest struct {
	Username string `json:"username"`
	ClientID string `json:"clientId,omitempty"`
}

type tokenResponse struct {
	Token    string `json:"token"`
	ClientID string `json:"clientId,omitempty"`
}

// Client is the identity API client
type Client struct {
	core   *intercomsdk.Client
	store  ClientIDStore
	config *Config
	logger zerolog.Logger

	mu           sync.Mutex
	token        string
	clientID     string
	expiry       time.Time
	refreshTimer *time.Timer
	authCbs      []func(ClientIdentity)
	logoutCbs    []func()
}

// New creates a new identity client. store may be nil, in which case the
// client id is held in memory only.
func New(core *intercomsdk.Client, store ClientIDStore, config *Config) *Client {
	if config == nil {
		config = DefaultConfig()
	}

	c := &Client{
		core:   core,
		store:  store,
		config: config,
		logger: core.Logger("identity"),
	}
	if store != nil {
		c.clientID = store.ClientID()
	}
	return c
}

// Name implements intercomsdk.Plugin
func (c *Client) Name() string { return "identity" }

// Register registers username with the backend, sending the stored client
// id if there is one. The token is kept in memory; a client id is
// persisted only when the backend issues a different one.
func (c *Client) Register(ctx context.Context, username string) (ClientIdentity, error) {
	c.mu.Lock()
	req := registerRequest{Username: username, ClientID: c.clientID}
	c.mu.Unlock()

	resp, err := c.core.Request(ctx, http.MethodPost, "client/register", nil, req)
	if err != nil {
		return ClientIdentity{}, fmt.Errorf("identity: register: %w", err)
	}

	var out tokenResponse
	if err := intercomsdk.ParseResponse(resp, &out); err != nil {
		return ClientIdentity{}, fmt.Errorf("identity: register: %w", err)
	}
	if out.Token == "" {
		return ClientIdentity{}, errors.New("identity: register: backend returned no token")
	}

	c.mu.Lock()
	if out.ClientID != "" && out.ClientID != c.clientID {
		c.clientID = out.ClientID
		if c.store != nil {
			if err := c.store.SetClientID(out.ClientID); err != nil {
				c.logger.Warn().Err(err).Msg("failed to persist client id")
			}
		}
	}
	id := c.setTokenLocked(out.Token)
	cbs := append([]func(ClientIdentity){}, c.authCbs...)
	c.mu.Unlock()

	c.logger.Info().Str("clientId", id.ClientID).Msg("registered")
	for _, cb := range cbs {
		cb(id)
	}
	return id, nil
}

// Reauth exchanges the current token for a fresh one. Any failure leaves
// the client unauthenticated.
func (c *Client) Reauth(ctx context.Context) (ClientIdentity, error) {
	if !c.IsAuthenticated() {
		return ClientIdentity{}, ErrNotAuthenticated
	}

	resp, err := c.core.Request(ctx, http.MethodPost, "reauth", nil, nil)
	if err != nil {
		c.Logout()
		return ClientIdentity{}, fmt.Errorf("identity: reauth: %w", err)
	}

	var out tokenResponse
	if err := intercomsdk.ParseResponse(resp, &out); err != nil {
		c.Logout()
		return ClientIdentity{}, fmt.Errorf("identity: reauth: %w", err)
	}
	if out.Token == "" {
		c.Logout()
		return ClientIdentity{}, errors.New("identity: reauth: backend returned no token")
	}

	c.mu.Lock()
	id := c.setTokenLocked(out.Token)
	cbs := append([]func(ClientIdentity){}, c.authCbs...)
	c.mu.Unlock()

	for _, cb := range cbs {
		cb(id)
	}
	return id, nil
}

// Logout drops the token. The client id is kept for the next registration.
func (c *Client) Logout() {
	c.mu.Lock()
	wasAuthenticated := c.token != ""
	c.token = ""
	c.expiry = time.Time{}
	if c.refreshTimer != nil {
		c.refreshTimer.Stop()
		c.refreshTimer = nil
	}
	cbs := append([]func(){}, c.logoutCbs...)
	c.mu.Unlock()

	c.core.SetAccessToken("")
	if !wasAuthenticated {
		return
	}
	c.logger.Info().Msg("logged out")
	for _, cb := range cbs {
		cb()
	}
}

// IsAuthenticated reports whether a token is held
func (c *Client) IsAuthenticated() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.token != ""
}

// Token returns the current bearer token, or "" if unauthenticated
func (c *Client) Token() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.token
}

// ClientID returns the persistent client identifier, or "" before first registration
func (c *Client) ClientID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.clientID
}

// Identity returns a snapshot of the held credentials
func (c *Client) Identity() ClientIdentity {
	c.mu.Lock()
	defer c.mu.Unlock()
	return ClientIdentity{Token: c.token, ClientID: c.clientID}
}

// Expiry returns the expiry of the current token, zero if unknown
func (c *Client) Expiry() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.expiry
}

// OnAuthenticated registers a callback run after every successful
// registration or reauth. If a token is already held the callback runs
// immediately.
func (c *Client) OnAuthenticated(cb func(ClientIdentity)) {
	c.mu.Lock()
	c.authCbs = append(c.authCbs, cb)
	authenticated := c.token != ""
	id := ClientIdentity{Token: c.token, ClientID: c.clientID}
	c.mu.Unlock()

	if authenticated {
		cb(id)
	}
}

// OnLogout registers a callback run when the token is dropped
func (c *Client) OnLogout(cb func()) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.logoutCbs = append(c.logoutCbs, cb)
}

// WaitForAuthentication blocks until a token is held or ctx is done
func (c *Client) WaitForAuthentication(ctx context.Context) error {
	done := make(chan struct{})
	var once sync.Once
	c.OnAuthenticated(func(ClientIdentity) {
		once.Do(func() { close(done) })
	})

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// setTokenLocked stores token, publishes it to the core client and
// schedules the refresh. Caller holds c.mu.
func (c *Client) setTokenLocked(token string) ClientIdentity {
	c.token = token
	c.core.SetAccessToken(token)

	c.expiry = time.Time{}
	if exp, err := TokenExpiry(token); err == nil {
		c.expiry = exp
	} else {
		c.logger.Debug().Err(err).Msg("token expiry unknown, refresh disabled")
	}
	c.setupRefreshTimerLocked()

	return ClientIdentity{Token: c.token, ClientID: c.clientID}
}

// setupRefreshTimerLocked creates or resets the refresh timer
func (c *Client) setupRefreshTimerLocked() {
	if c.refreshTimer != nil {
		c.refreshTimer.Stop()
		c.refreshTimer = nil
	}
	if c.expiry.IsZero() || c.config.RefreshBefore <= 0 {
		return
	}

	delay := time.Until(c.expiry) - c.config.RefreshBefore
	if delay < c.config.MinRefreshDelay {
		delay = c.config.MinRefreshDelay
	}
	c.refreshTimer = time.AfterFunc(delay, func() {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if _, err := c.Reauth(ctx); err != nil {
			c.logger.Warn().Err(err).Msg("token refresh failed")
		}
	})
}

// TokenExpiry returns the exp claim of a compact JWT. The signature is not
// verified: the backend is the only party that trusts the token.
func TokenExpiry(token string) (time.Time, error) {
	if strings.Count(token, ".") != 2 {
		return time.Time{}, errors.New("identity: token is not a compact JWT")
	}
	tok, err := jwt.ParseSigned(token, []jose.SignatureAlgorithm{
		jose.HS256, jose.HS384, jose.HS512,
		jose.RS256, jose.RS384, jose.RS512,
		jose.ES256, jose.ES384, jose.ES512,
		jose.PS256, jose.EdDSA,
	})
	if err != nil {
		return time.Time{}, fmt.Errorf("identity: parse token: %w", err)
	}

	var claims jwt.Claims
	if err := tok.UnsafeClaimsWithoutVerification(&claims); err != nil {
		return time.Time{}, fmt.Errorf("identity: read claims: %w", err)
	}
	if claims.Expiry == nil {
		return time.Time{}, errors.New("identity: token has no exp claim")
	}
	return claims.Expiry.Time(), nil
}
