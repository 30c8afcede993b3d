/* SPDX-License-Identifier: MPL-2.0
 * Copyright 2025 Tejus Pratap <tejzpr@gmail.com>
 *
 * See CONTRIBUTORS.md for full contributor list.
 */

// Package calling joins intercom lines over WebRTC and keeps the registry of
// active calls. It includes the call registry (reducer and store), the
// per-call Session lifecycle, hotkey conflict resolution and push-to-talk.
package calling

import (
	"time"
)

// Config holds the calling configuration
type Config struct {
	// Media configures the peer connection of each session
	Media *MediaConfig

	// ConnectTimeout bounds one negotiation, signaling and ICE gathering included
	ConnectTimeout time.Duration

	// HeartbeatInterval between liveness probes of a connected session; 0 disables them
	HeartbeatInterval time.Duration

	// AudioLevelThreshold is the linear level in [0,1] above which remote audio counts as speech
	AudioLevelThreshold float64

	// InitialVolume of a new call in [0,1]
	InitialVolume float64

	// VolumeStep is applied by the volume hotkeys
	VolumeStep float64

	// DuckedVolume caps program output lines while anyone is talking
	DuckedVolume float64

	// DuckRestoreDelay is how long program output stays ducked after talking stops
	DuckRestoreDelay time.Duration
}

// DefaultConfig returns a Config with sensible defaults
func DefaultConfig() *Config {
	return &Config{
		Media:               DefaultMediaConfig(),
		ConnectTimeout:      30 * time.Second,
		HeartbeatInterval:   10 * time.Second,
		AudioLevelThreshold: 0.05,
		InitialVolume:       0.75,
		VolumeStep:          0.05,
		DuckedVolume:        0.2,
		DuckRestoreDelay:    2 * time.Second,
	}
}

// clampVolume bounds v to [0,1]
func clampVolume(v float64) float64 {
	switch {
	case v < 0:
		return 0
	case v > 1:
		return 1
	default:
		return v
	}
}
