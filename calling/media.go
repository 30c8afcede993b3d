/* SPDX-License-Identifier: MPL-2.0
 * Copyright 2025 Tejus Pratap <tejzpr@gmail.com>
 *
 * See CONTRIBUTORS.md for full contributor list.
 */

package calling

import (
	"context"
	"fmt"
	"sync"

	"github.com/pion/interceptor"
	"github.com/pion/rtp"
	"github.com/pion/sdp/v3"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog"
)

// MediaConfig holds configuration for the media engine
type MediaConfig struct {
	// ICEServers is the list of ICE servers (STUN/TURN) to use
	ICEServers []webrtc.ICEServer
	// DisableAudioLevel stops negotiating the RFC 6464 audio level extension
	DisableAudioLevel bool
}

// DefaultMediaConfig returns a MediaConfig with sensible defaults.
func DefaultMediaConfig() *MediaConfig {
	return &MediaConfig{
		ICEServers: []webrtc.ICEServer{
			{URLs: []string{"stun:stun.l.google.com:19302"}},
		},
	}
}

// opusCodec is the only codec offered; the conference bridge mixes Opus
var opusCodec = webrtc.RTPCodecParameters{
	RTPCodecCapability: webrtc.RTPCodecCapability{
		MimeType:    webrtc.MimeTypeOpus,
		ClockRate:   48000,
		Channels:    2,
		SDPFmtpLine: "minptime=10;useinbandfec=1",
	},
	PayloadType: 111,
}

// RemoteTrack is one incoming audio track
type RemoteTrack interface {
	ID() string
	Codec() webrtc.RTPCodecParameters
	ReadRTP() (*rtp.Packet, interceptor.Attributes, error)
	// AudioLevelExtensionID is the negotiated RFC 6464 extension id, 0 if absent
	AudioLevelExtensionID() uint8
}

type remoteTrack struct {
	*webrtc.TrackRemote
	levelID uint8
}

func (t *remoteTrack) AudioLevelExtensionID() uint8 { return t.levelID }

func audioLevelID(receiver *webrtc.RTPReceiver) uint8 {
	if receiver == nil {
		return 0
	}
	for _, ext := range receiver.GetParameters().HeaderExtensions {
		if ext.URI == sdp.AudioLevelURI {
			return uint8(ext.ID)
		}
	}
	return 0
}

// Peer is the media side of one session. MediaEngine is the pion implementation.
type Peer interface {
	SetRemoteOffer(offer string) error
	AddInputTrack(track webrtc.TrackLocal) error
	CreateAnswer(ctx context.Context) (string, error)
	OnRemoteTrack(handler func(track RemoteTrack))
	OnStateChange(handler func(state webrtc.PeerConnectionState))
	OnDataChannel(handler func(dc *webrtc.DataChannel))
	Close() error
}

// PeerFactory creates the Peer of a new connection attempt
type PeerFactory func(logger zerolog.Logger) (Peer, error)

// MediaEngine manages the WebRTC peer connection of one call.
type MediaEngine struct {
	mu             sync.Mutex
	peerConnection *webrtc.PeerConnection
	sender         *webrtc.RTPSender
	dataChannel    *webrtc.DataChannel
	onRemoteTrack  func(track RemoteTrack)
	onStateChange  func(state webrtc.PeerConnectionState)
	onDataChannel  func(dc *webrtc.DataChannel)
	logger         zerolog.Logger
}

// NewMediaEngine creates a new WebRTC media engine for a call
func NewMediaEngine(config *MediaConfig, logger zerolog.Logger) (*MediaEngine, error) {
	if config == nil {
		config = DefaultMediaConfig()
	}

	m := &webrtc.MediaEngine{}
	if err := m.RegisterCodec(opusCodec, webrtc.RTPCodecTypeAudio); err != nil {
		return nil, fmt.Errorf("failed to register opus: %w", err)
	}
	if !config.DisableAudioLevel {
		if err := m.RegisterHeaderExtension(
			webrtc.RTPHeaderExtensionCapability{URI: sdp.AudioLevelURI},
			webrtc.RTPCodecTypeAudio,
		); err != nil {
			return nil, fmt.Errorf("failed to register audio level extension: %w", err)
		}
	}

	// Register default interceptors (RTCP reports, NACK, TWCC). Required when
	// using a custom MediaEngine; otherwise incoming SRTP is not processed.
	i := &interceptor.Registry{}
	if err := webrtc.RegisterDefaultInterceptors(m, i); err != nil {
		return nil, fmt.Errorf("failed to register default interceptors: %w", err)
	}

	api := webrtc.NewAPI(
		webrtc.WithMediaEngine(m),
		webrtc.WithInterceptorRegistry(i),
	)

	pc, err := api.NewPeerConnection(webrtc.Configuration{
		ICEServers: config.ICEServers,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create peer connection: %w", err)
	}

	engine := &MediaEngine{
		peerConnection: pc,
		logger:         logger,
	}

	pc.OnConnectionStateChange(func(s webrtc.PeerConnectionState) {
		engine.logger.Debug().Str("state", s.String()).Msg("peer connection state")
		engine.mu.Lock()
		handler := engine.onStateChange
		engine.mu.Unlock()
		if handler != nil {
			handler(s)
		}
	})

	pc.OnTrack(func(track *webrtc.TrackRemote, receiver *webrtc.RTPReceiver) {
		engine.logger.Debug().Str("codec", track.Codec().MimeType).Uint32("ssrc", uint32(track.SSRC())).Msg("remote track")
		engine.mu.Lock()
		handler := engine.onRemoteTrack
		engine.mu.Unlock()
		if handler != nil {
			handler(&remoteTrack{TrackRemote: track, levelID: audioLevelID(receiver)})
		}
	})

	pc.OnDataChannel(func(dc *webrtc.DataChannel) {
		engine.mu.Lock()
		engine.dataChannel = dc
		handler := engine.onDataChannel
		engine.mu.Unlock()
		if handler != nil {
			handler(dc)
		}
	})

	return engine, nil
}

// OnRemoteTrack sets the callback for every remote audio track
func (me *MediaEngine) OnRemoteTrack(handler func(track RemoteTrack)) {
	me.mu.Lock()
	defer me.mu.Unlock()
	me.onRemoteTrack = handler
}

// OnStateChange sets the callback for peer connection state changes
func (me *MediaEngine) OnStateChange(handler func(state webrtc.PeerConnectionState)) {
	me.mu.Lock()
	defer me.mu.Unlock()
	me.onStateChange = handler
}

// OnDataChannel sets the callback for the data channel opened by the bridge
func (me *MediaEngine) OnDataChannel(handler func(dc *webrtc.DataChannel)) {
	me.mu.Lock()
	defer me.mu.Unlock()
	me.onDataChannel = handler
}

// SetRemoteOffer applies the bridge's SDP offer
func (me *MediaEngine) SetRemoteOffer(offer string) error {
	me.mu.Lock()
	defer me.mu.Unlock()

	return me.peerConnection.SetRemoteDescription(webrtc.SessionDescription{
		Type: webrtc.SDPTypeOffer,
		SDP:  offer,
	})
}

// AddInputTrack sends track on the audio transceiver created by the remote offer
func (me *MediaEngine) AddInputTrack(track webrtc.TrackLocal) error {
	me.mu.Lock()
	defer me.mu.Unlock()

	sender, err := me.peerConnection.AddTrack(track)
	if err != nil {
		return fmt.Errorf("failed to add audio track: %w", err)
	}

	// Read RTCP from the sender to keep the interceptors running
	go func() {
		rtcpBuf := make([]byte, 1500)
		for {
			if _, _, rtcpErr := sender.Read(rtcpBuf); rtcpErr != nil {
				return
			}
		}
	}()

	me.sender = sender
	return nil
}

// CreateAnswer creates the local answer and waits for ICE gathering
func (me *MediaEngine) CreateAnswer(ctx context.Context) (string, error) {
	me.mu.Lock()
	defer me.mu.Unlock()

	answer, err := me.peerConnection.CreateAnswer(nil)
	if err != nil {
		return "", fmt.Errorf("failed to create answer: %w", err)
	}

	gatherComplete := webrtc.GatheringCompletePromise(me.peerConnection)
	if err := me.peerConnection.SetLocalDescription(answer); err != nil {
		return "", fmt.Errorf("failed to set local description: %w", err)
	}

	select {
	case <-gatherComplete:
	case <-ctx.Done():
		return "", ctx.Err()
	}

	localDesc := me.peerConnection.LocalDescription()
	if localDesc == nil {
		return "", fmt.Errorf("local description is nil after gathering")
	}

	return localDesc.SDP, nil
}

// DataChannel returns the data channel opened by the bridge, or nil
func (me *MediaEngine) DataChannel() *webrtc.DataChannel {
	me.mu.Lock()
	defer me.mu.Unlock()
	return me.dataChannel
}

// GetConnectionState returns the current peer connection state
func (me *MediaEngine) GetConnectionState() webrtc.PeerConnectionState {
	return me.peerConnection.ConnectionState()
}

// Close closes the peer connection and releases resources
func (me *MediaEngine) Close() error {
	me.mu.Lock()
	defer me.mu.Unlock()

	if me.peerConnection != nil {
		if err := me.peerConnection.Close(); err != nil {
			return fmt.Errorf("failed to close peer connection: %w", err)
		}
	}
	return nil
}
