/* SPDX-License-Identifier: MPL-2.0
 * Copyright 2025 Tejus Pratap <tejzpr@gmail.com>
 *
 * See CONTRIBUTORS.md for full contributor list.
 */

package devices

import (
	"context"
	"fmt"
	"sync"

	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"
)

const enumerateKey = "enumerate"

// Registry caches the latest device enumeration. Every refresh replaces
// the whole list.
type Registry struct {
	platform Platform
	logger   zerolog.Logger
	group    singleflight.Group

	mu       sync.Mutex
	gen      uint64
	list     List
	loaded   bool
	subs     map[int]func(List)
	nextSub  int
	unsubDev func()
}

// NewRegistry creates a registry over platform
func NewRegistry(platform Platform, logger zerolog.Logger) *Registry {
	return &Registry{
		platform: platform,
		logger:   logger.With().Str("component", "devices").Logger(),
		subs:     make(map[int]func(List)),
	}
}

// ListDevices enumerates devices and replaces the cached list. Concurrent
// calls share one enumeration. A result is not committed if a newer
// refresh was requested while it was in flight.
func (r *Registry) ListDevices(ctx context.Context) (List, error) {
	v, err, _ := r.group.Do(enumerateKey, func() (interface{}, error) {
		r.mu.Lock()
		gen := r.gen
		r.mu.Unlock()

		devs, err := r.platform.EnumerateDevices(ctx)
		if err != nil {
			return List{}, fmt.Errorf("devices: enumerate: %w", err)
		}

		list := split(devs)

		r.mu.Lock()
		if gen != r.gen {
			r.mu.Unlock()
			return list, nil
		}
		r.list = list
		r.loaded = true
		subs := make([]func(List), 0, len(r.subs))
		for _, fn := range r.subs {
			subs = append(subs, fn)
		}
		r.mu.Unlock()

		for _, fn := range subs {
			fn(list)
		}
		return list, nil
	})
	if err != nil {
		return List{}, err
	}
	return v.(List), nil
}

// Devices returns the cached list and whether anything has been loaded yet
func (r *Registry) Devices() (List, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.list, r.loaded
}

// Start follows platform hot-plug notifications. Each notification
// supersedes any enumeration in flight. Failures are logged only.
func (r *Registry) Start() {
	r.mu.Lock()
	if r.unsubDev != nil {
		r.mu.Unlock()
		return
	}
	r.unsubDev = r.platform.OnDeviceChange(r.handleDeviceChange)
	r.mu.Unlock()
}

// Stop ends hot-plug following and discards any enumeration in flight
func (r *Registry) Stop() {
	r.mu.Lock()
	unsub := r.unsubDev
	r.unsubDev = nil
	r.gen++
	r.mu.Unlock()

	if unsub != nil {
		unsub()
	}
}

// Subscribe registers fn for every committed list and returns an unsubscribe func
func (r *Registry) Subscribe(fn func(List)) func() {
	r.mu.Lock()
	id := r.nextSub
	r.nextSub++
	r.subs[id] = fn
	r.mu.Unlock()

	return func() {
		r.mu.Lock()
		delete(r.subs, id)
		r.mu.Unlock()
	}
}

func (r *Registry) handleDeviceChange() {
	r.mu.Lock()
	r.gen++
	r.mu.Unlock()
	r.group.Forget(enumerateKey)

	go func() {
		if _, err := r.ListDevices(context.Background()); err != nil {
			r.logger.Warn().Err(err).Msg("device enumeration failed")
		}
	}()
}

func split(devs []Device) List {
	list := List{Input: []Device{}, Output: []Device{}}
	for _, d := range devs {
		switch d.Kind {
		case KindInput:
			list.Input = append(list.Input, d)
		case KindOutput:
			list.Output = append(list.Output, d)
		}
	}
	return list
}

// SinkError reports a sink that could not be moved to a device
type SinkError struct {
	SinkID   string
	DeviceID string
	Err      error
}

func (e *SinkError) Error() string {
	return fmt.Sprintf("devices: sink %s to %s: %v", e.SinkID, e.DeviceID, e.Err)
}

func (e *SinkError) Unwrap() error { return e.Err }

// AssignSinks moves every sink to deviceID. Sinks are assigned
// independently: one failure neither stops nor reverts the others.
func AssignSinks(ctx context.Context, sinks []AudioSink, deviceID string) []SinkError {
	results := make([]error, len(sinks))
	var wg sync.WaitGroup
	for i, s := range sinks {
		wg.Add(1)
		go func(i int, s AudioSink) {
			defer wg.Done()
			results[i] = s.SetSinkID(ctx, deviceID)
		}(i, s)
	}
	wg.Wait()

	var errs []SinkError
	for i, err := range results {
		if err != nil {
			errs = append(errs, SinkError{SinkID: sinks[i].ID(), DeviceID: deviceID, Err: err})
		}
	}
	return errs
}
