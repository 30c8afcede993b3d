/* SPDX-License-Identifier: MPL-2.0
 * Copyright 2025 Tejus Pratap <tejzpr@gmail.com>
 *
 * See CONTRIBUTORS.md for full contributor list.
 */

// Package intercom is the top-level client of the intercom SDK. It wires
// the REST core, identity, preferences, productions, the status channel,
// the device registry and call sessions into one client.
package intercom

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/tejzpr/intercom-go-sdk/calling"
	"github.com/tejzpr/intercom-go-sdk/devices"
	"github.com/tejzpr/intercom-go-sdk/identity"
	"github.com/tejzpr/intercom-go-sdk/intercomsdk"
	"github.com/tejzpr/intercom-go-sdk/observe"
	"github.com/tejzpr/intercom-go-sdk/prefs"
	"github.com/tejzpr/intercom-go-sdk/productions"
	"github.com/tejzpr/intercom-go-sdk/status"
)

// ErrNoUsername is returned by Start when neither the caller nor the
// preferences provide a username
var ErrNoUsername = errors.New("intercom: username is required")

// Config holds the configuration of every plugin. Nil fields take the
// plugin defaults.
type Config struct {
	Core        *intercomsdk.Config
	Identity    *identity.Config
	Prefs       *prefs.Config
	Status      *status.Config
	Productions *productions.Config
	Calling     *calling.Config

	// RefreshInterval is how often the production list is re-fetched
	RefreshInterval time.Duration

	// Platform provides audio devices. Required.
	Platform devices.Platform

	// Metrics receives client metrics. Nil disables them.
	Metrics *observe.Metrics

	// Navigator is told when the last call is left
	Navigator calling.Navigator
}

// IntercomClient is the top-level client for the intercom API
type IntercomClient struct {
	core *intercomsdk.Client

	prefsStore        *prefs.Store
	identityClient    *identity.Client
	productionsClient *productions.Client
	statusClient      *status.Client
	deviceRegistry    *devices.Registry
	store             *calling.Store
	callManager       *calling.Manager
	refresher         *productions.Refresher
	metrics           *observe.Metrics
	logger            zerolog.Logger

	watchOnce sync.Once

	mu      sync.Mutex
	started bool
	cleanup []func()
}

// NewClient creates a client from config. No network traffic happens
// until Start.
func NewClient(config *Config) (*IntercomClient, error) {
	if config == nil || config.Platform == nil {
		return nil, fmt.Errorf("intercom: a device platform is required")
	}

	core, err := intercomsdk.NewClient("", config.Core)
	if err != nil {
		return nil, err
	}

	store, err := prefs.Open(config.Prefs)
	if err != nil {
		return nil, err
	}

	c := &IntercomClient{
		core:       core,
		prefsStore: store,
		metrics:    config.Metrics,
		logger:     core.GetLogger(),
	}
	c.identityClient = identity.New(core, store, config.Identity)
	c.productionsClient = productions.New(core, config.Productions)
	c.statusClient = status.New(core, c.identityClient.Token, config.Status)
	c.deviceRegistry = devices.NewRegistry(config.Platform, core.GetLogger())
	c.store = calling.NewStore(config.Navigator, core.Logger("registry"))
	c.callManager = calling.NewManager(core, c.store, config.Platform, config.Calling,
		calling.WithHeartbeater(c.productionsClient),
		calling.WithIdentity(c.identityClient),
		calling.WithMetrics(config.Metrics),
	)

	limit := 0
	if config.Productions != nil {
		limit = config.Productions.DefaultLimit
	}
	c.refresher = productions.NewRefresher(c.productionsClient, config.RefreshInterval, limit, core.GetLogger())
	c.refresher.OnError(func(err error) {
		c.store.ReportError("", fmt.Errorf("failed to load productions: %w", err), calling.SeverityBanner)
	})

	for _, p := range []intercomsdk.Plugin{c.identityClient, c.productionsClient, c.statusClient, c.callManager} {
		core.RegisterPlugin(p)
	}

	_ = c.store.Dispatch(calling.UpdateUserSettings{Settings: store.UserSettings()})
	return c, nil
}

// Start registers username, connects the status channel and begins
// following devices and productions. An empty username falls back to the
// stored one.
func (c *IntercomClient) Start(ctx context.Context, username string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.started {
		return nil
	}

	settings := c.prefsStore.UserSettings()
	username = strings.TrimSpace(username)
	if username == "" {
		username = settings.Username
	}
	if username == "" {
		return ErrNoUsername
	}

	if _, err := c.identityClient.Register(ctx, username); err != nil {
		return err
	}
	if settings.Username != username {
		settings.Username = username
		if err := c.prefsStore.SaveUserSettings(settings); err != nil {
			c.logger.Warn().Err(err).Msg("failed to persist username")
		}
	}
	_ = c.store.Dispatch(calling.UpdateUserSettings{Settings: settings})

	unbind := calling.BindStatus(c.statusClient, c.store)
	c.watchOnce.Do(func() {
		c.metrics.WatchStatusChannel(c.statusClient.Reconnects, c.statusClient.Dropped)
	})
	if err := c.statusClient.Connect(ctx); err != nil {
		unbind()
		return fmt.Errorf("intercom: status channel: %w", err)
	}
	c.cleanup = append(c.cleanup, func() { _ = c.statusClient.Close() }, unbind)

	unsubDevices := c.deviceRegistry.Subscribe(func(list devices.List) {
		c.metrics.SetDevices(string(devices.KindInput), len(list.Input))
		c.metrics.SetDevices(string(devices.KindOutput), len(list.Output))
	})
	c.deviceRegistry.Start()
	if _, err := c.deviceRegistry.ListDevices(ctx); err != nil {
		c.store.ReportError("", fmt.Errorf("failed to list audio devices: %w", err), calling.SeverityBanner)
	}
	c.cleanup = append(c.cleanup, unsubDevices, c.deviceRegistry.Stop)

	c.refresher.Start(ctx)
	c.cleanup = append(c.cleanup, c.refresher.Stop)

	c.started = true
	return nil
}

// Join joins a line. Empty username and devices are filled from the user
// settings; the devices used are remembered for the next join.
func (c *IntercomClient) Join(ctx context.Context, opts calling.JoinOptions) (string, error) {
	settings := c.store.Snapshot().UserSettings
	opts = withDefaults(opts, settings)

	next := settings
	next.AudioInput, next.AudioOutput = opts.AudioInput, opts.AudioOutput
	if next != settings {
		if err := c.prefsStore.SaveUserSettings(next); err != nil {
			c.logger.Warn().Err(err).Msg("failed to persist device choice")
		}
		_ = c.store.Dispatch(calling.UpdateUserSettings{Settings: next})
	}
	return c.callManager.Join(ctx, opts)
}

// SwitchLine replaces call id with a join of opts, filled in like Join
func (c *IntercomClient) SwitchLine(ctx context.Context, id string, opts calling.JoinOptions) (string, error) {
	return c.callManager.SwitchLine(ctx, id, withDefaults(opts, c.store.Snapshot().UserSettings))
}

func withDefaults(opts calling.JoinOptions, settings prefs.UserSettings) calling.JoinOptions {
	if strings.TrimSpace(opts.Username) == "" {
		opts.Username = settings.Username
	}
	if opts.AudioInput == "" {
		opts.AudioInput = settings.AudioInput
	}
	if opts.AudioOutput == "" {
		opts.AudioOutput = settings.AudioOutput
	}
	return opts
}

// Close leaves every call and stops all background work
func (c *IntercomClient) Close(ctx context.Context) error {
	err := c.callManager.LeaveAll(ctx)

	c.mu.Lock()
	cleanup := c.cleanup
	c.cleanup = nil
	c.started = false
	c.mu.Unlock()

	for i := len(cleanup) - 1; i >= 0; i-- {
		cleanup[i]()
	}
	return err
}

// Identity returns the identity plugin
func (c *IntercomClient) Identity() *identity.Client {
	return c.identityClient
}

// Productions returns the productions plugin
func (c *IntercomClient) Productions() *productions.Client {
	return c.productionsClient
}

// Refresher returns the periodic production list refresher
func (c *IntercomClient) Refresher() *productions.Refresher {
	return c.refresher
}

// Status returns the status channel
func (c *IntercomClient) Status() *status.Client {
	return c.statusClient
}

// Devices returns the device registry
func (c *IntercomClient) Devices() *devices.Registry {
	return c.deviceRegistry
}

// Calls returns the call manager
func (c *IntercomClient) Calls() *calling.Manager {
	return c.callManager
}

// Store returns the call registry
func (c *IntercomClient) Store() *calling.Store {
	return c.store
}

// Prefs returns the preference store
func (c *IntercomClient) Prefs() *prefs.Store {
	return c.prefsStore
}

// Core returns the core intercom client
func (c *IntercomClient) Core() *intercomsdk.Client {
	return c.core
}
