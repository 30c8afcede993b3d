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
	"time"

	"github.com/google/uuid"
	"github.com/pion/rtp"
	"github.com/pion/webrtc/v4"
	"github.com/pion/webrtc/v4/pkg/media"
)

// StaticPlatform is an in-memory Platform with a configurable device
// list. Captured streams are Opus sample tracks fed through WriteSample;
// sinks count and drop what they receive. It serves headless deployments
// and tests.
type StaticPlatform struct {
	mu        sync.Mutex
	devices   []Device
	enumErr   error
	mediaErr  error
	listeners map[int]func()
	nextID    int
	streams   []*StaticStream
	sinks     []*StaticSink
}

// NewStaticPlatform creates a platform exposing devs
func NewStaticPlatform(devs ...Device) *StaticPlatform {
	return &StaticPlatform{
		devices:   append([]Device(nil), devs...),
		listeners: make(map[int]func()),
	}
}

// EnumerateDevices implements Platform
func (p *StaticPlatform) EnumerateDevices(ctx context.Context) ([]Device, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.enumErr != nil {
		return nil, p.enumErr
	}
	return append([]Device(nil), p.devices...), nil
}

// OnDeviceChange implements Platform
func (p *StaticPlatform) OnDeviceChange(fn func()) func() {
	p.mu.Lock()
	id := p.nextID
	p.nextID++
	p.listeners[id] = fn
	p.mu.Unlock()

	return func() {
		p.mu.Lock()
		delete(p.listeners, id)
		p.mu.Unlock()
	}
}

// SetDevices replaces the device list and fires change notifications
func (p *StaticPlatform) SetDevices(devs ...Device) {
	p.mu.Lock()
	p.devices = append([]Device(nil), devs...)
	listeners := make([]func(), 0, len(p.listeners))
	for _, fn := range p.listeners {
		listeners = append(listeners, fn)
	}
	p.mu.Unlock()

	for _, fn := range listeners {
		fn()
	}
}

// SetEnumerateError makes EnumerateDevices fail with err until cleared with nil
func (p *StaticPlatform) SetEnumerateError(err error) {
	p.mu.Lock()
	p.enumErr = err
	p.mu.Unlock()
}

// SetUserMediaError makes GetUserMedia fail with err until cleared with nil
func (p *StaticPlatform) SetUserMediaError(err error) {
	p.mu.Lock()
	p.mediaErr = err
	p.mu.Unlock()
}

// GetUserMedia implements Platform. An empty or "default" id selects the first input.
func (p *StaticPlatform) GetUserMedia(ctx context.Context, deviceID string) (MediaStream, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.mediaErr != nil {
		return nil, p.mediaErr
	}

	dev, ok := p.lookupLocked(KindInput, deviceID)
	if !ok {
		return nil, fmt.Errorf("%w: input %q", ErrDeviceNotFound, deviceID)
	}

	id := uuid.NewString()
	track, err := webrtc.NewTrackLocalStaticSample(
		webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeOpus, ClockRate: 48000, Channels: 2},
		"audio-"+id,
		"intercom-"+id,
	)
	if err != nil {
		return nil, fmt.Errorf("devices: create track: %w", err)
	}

	s := &StaticStream{id: id, deviceID: dev.DeviceID, track: track, enabled: true}
	p.streams = append(p.streams, s)
	return s, nil
}

// NewAudioSink implements Platform
func (p *StaticPlatform) NewAudioSink(ctx context.Context, codec webrtc.RTPCodecParameters, deviceID string) (AudioSink, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	dev, ok := p.lookupLocked(KindOutput, deviceID)
	if !ok {
		return nil, fmt.Errorf("%w: output %q", ErrDeviceNotFound, deviceID)
	}

	s := &StaticSink{
		platform: p,
		id:       uuid.NewString(),
		codec:    codec,
		sinkID:   dev.DeviceID,
		volume:   1,
	}
	p.sinks = append(p.sinks, s)
	return s, nil
}

// Streams returns every stream handed out so far
func (p *StaticPlatform) Streams() []*StaticStream {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]*StaticStream(nil), p.streams...)
}

// Sinks returns every sink created so far
func (p *StaticPlatform) Sinks() []*StaticSink {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]*StaticSink(nil), p.sinks...)
}

func (p *StaticPlatform) lookupLocked(kind Kind, id string) (Device, bool) {
	for _, d := range p.devices {
		if d.Kind != kind {
			continue
		}
		if id == "" || id == "default" || d.DeviceID == id {
			return d, true
		}
	}
	return Device{}, false
}

// StaticStream is a captured stream of StaticPlatform
type StaticStream struct {
	id       string
	deviceID string
	track    *webrtc.TrackLocalStaticSample

	mu      sync.Mutex
	enabled bool
	closed  bool
}

func (s *StaticStream) ID() string               { return s.id }
func (s *StaticStream) DeviceID() string         { return s.deviceID }
func (s *StaticStream) Track() webrtc.TrackLocal { return s.track }

// SetEnabled implements MediaStream
func (s *StaticStream) SetEnabled(enabled bool) {
	s.mu.Lock()
	s.enabled = enabled
	s.mu.Unlock()
}

// Enabled implements MediaStream
func (s *StaticStream) Enabled() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.enabled
}

// Closed reports whether the stream has been released
func (s *StaticStream) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// WriteSample sends one encoded Opus frame. Frames written while the
// stream is disabled are dropped.
func (s *StaticStream) WriteSample(data []byte, duration time.Duration) error {
	s.mu.Lock()
	enabled, closed := s.enabled, s.closed
	s.mu.Unlock()
	if closed || !enabled {
		return nil
	}
	return s.track.WriteSample(media.Sample{Data: data, Duration: duration})
}

// Close implements MediaStream
func (s *StaticStream) Close() error {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	return nil
}

// StaticSink is an audio sink of StaticPlatform
type StaticSink struct {
	platform *StaticPlatform
	id       string
	codec    webrtc.RTPCodecParameters

	mu         sync.Mutex
	sinkID     string
	volume     float64
	packets    int
	closed     bool
	sinkIDErr  error
	assignment []string
}

func (s *StaticSink) ID() string { return s.id }

// WriteRTP implements AudioSink
func (s *StaticSink) WriteRTP(pkt *rtp.Packet) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return fmt.Errorf("devices: sink %s closed", s.id)
	}
	s.packets++
	return nil
}

// SinkID implements AudioSink
func (s *StaticSink) SinkID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sinkID
}

// FailSetSinkID makes SetSinkID on this sink fail with err until cleared with nil
func (s *StaticSink) FailSetSinkID(err error) {
	s.mu.Lock()
	s.sinkIDErr = err
	s.mu.Unlock()
}

// SetSinkID implements AudioSink
func (s *StaticSink) SetSinkID(ctx context.Context, deviceID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.platform.mu.Lock()
	dev, ok := s.platform.lookupLocked(KindOutput, deviceID)
	s.platform.mu.Unlock()

	s.mu.Lock()
	defer s.mu.Unlock()
	s.assignment = append(s.assignment, deviceID)
	if s.sinkIDErr != nil {
		return s.sinkIDErr
	}
	if !ok {
		return fmt.Errorf("%w: output %q", ErrDeviceNotFound, deviceID)
	}
	s.sinkID = dev.DeviceID
	return nil
}

// Assignments returns every device id SetSinkID was called with
func (s *StaticSink) Assignments() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.assignment...)
}

// SetVolume implements AudioSink
func (s *StaticSink) SetVolume(volume float64) {
	s.mu.Lock()
	s.volume = volume
	s.mu.Unlock()
}

// Volume implements AudioSink
func (s *StaticSink) Volume() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.volume
}

// Packets returns the number of RTP packets rendered
func (s *StaticSink) Packets() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.packets
}

// Closed reports whether the sink has been released
func (s *StaticSink) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// Close implements AudioSink
func (s *StaticSink) Close() error {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	return nil
}
