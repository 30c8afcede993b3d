/* SPDX-License-Identifier: MPL-2.0
 * Copyright 2025 Tejus Pratap <tejzpr@gmail.com>
 *
 * See CONTRIBUTORS.md for full contributor list.
 */

// Package devices enumerates audio devices, follows hot-plug and routes
// rendered audio to output devices. The host's audio stack is reached
// through the Platform interface.
package devices

import (
	"context"
	"errors"

	"github.com/pion/rtp"
	"github.com/pion/webrtc/v4"
)

var (
	// ErrDeviceNotFound is returned for a device id the platform does not know
	ErrDeviceNotFound = errors.New("devices: device not found")
	// ErrPermissionDenied is returned by GetUserMedia when the host refuses
	// microphone access. Platforms wrap it so callers can match it.
	ErrPermissionDenied = errors.New("devices: microphone permission denied")
)

// Kind is the direction of an audio device
type Kind string

const (
	KindInput  Kind = "input"
	KindOutput Kind = "output"
)

// Device is an immutable snapshot of one audio device
type Device struct {
	DeviceID string `json:"deviceId" yaml:"deviceId"`
	Kind     Kind   `json:"kind" yaml:"kind"`
	Label    string `json:"label" yaml:"label"`
	GroupID  string `json:"groupId,omitempty" yaml:"groupId,omitempty"`
}

// List is a complete enumeration split by direction
type List struct {
	Input  []Device `json:"input"`
	Output []Device `json:"output"`
}

// Find returns the device with id in the list for kind
func (l List) Find(kind Kind, id string) (Device, bool) {
	devs := l.Input
	if kind == KindOutput {
		devs = l.Output
	}
	for _, d := range devs {
		if d.DeviceID == id {
			return d, true
		}
	}
	return Device{}, false
}

// MediaStream is captured input audio
type MediaStream interface {
	ID() string
	DeviceID() string
	// Track is added to the peer connection
	Track() webrtc.TrackLocal
	// SetEnabled false silences the stream without releasing the device
	SetEnabled(enabled bool)
	Enabled() bool
	Close() error
}

// AudioSink renders one remote audio track to an output device
type AudioSink interface {
	ID() string
	WriteRTP(pkt *rtp.Packet) error
	SinkID() string
	// SetSinkID moves playback to deviceID
	SetSinkID(ctx context.Context, deviceID string) error
	SetVolume(volume float64)
	Volume() float64
	Close() error
}

// Platform is the host audio stack
type Platform interface {
	EnumerateDevices(ctx context.Context) ([]Device, error)
	// OnDeviceChange registers fn for hot-plug notifications
	OnDeviceChange(fn func()) (unsubscribe func())
	GetUserMedia(ctx context.Context, deviceID string) (MediaStream, error)
	NewAudioSink(ctx context.Context, codec webrtc.RTPCodecParameters, deviceID string) (AudioSink, error)
}
