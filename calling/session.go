/* SPDX-License-Identifier: MPL-2.0
 * Copyright 2025 Tejus Pratap <tejzpr@gmail.com>
 *
 * See CONTRIBUTORS.md for full contributor list.
 */

package calling

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/looplab/fsm"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog"
	"github.com/tejzpr/intercom-go-sdk/devices"
)

var (
	// ErrSessionClosed is returned when connecting a session that has left
	ErrSessionClosed = errors.New("calling: session closed")
	// ErrNoDataChannel is returned when the bridge has not opened a data channel
	ErrNoDataChannel = errors.New("calling: no data channel")

	// errSuperseded marks work of a connect attempt that a newer one replaced
	errSuperseded = errors.New("calling: superseded")
)

// textSender is the sending half of a data channel
type textSender interface {
	SendText(s string) error
}

// Session is one joined line: one peer connection, one signaling session
// and the audio sinks of its remote tracks. Every connect attempt gets a new
// generation; results of older generations are discarded.
type Session struct {
	id     string
	m      *Manager
	fsm    *fsm.FSM
	ptt    *PushToTalk
	logger zerolog.Logger

	mu        sync.Mutex
	gen       uint64
	opts      JoinOptions
	input     devices.MediaStream
	sinks     []devices.AudioSink
	sessionID string
	dc        textSender
	levels    *levelMonitor
	answered  bool
	gotTrack  bool
	ducked    bool
	restore   *time.Timer
	disposers []func()
	closed    bool
}

func newSession(m *Manager, id string, opts JoinOptions) *Session {
	s := &Session{
		id:     id,
		m:      m,
		opts:   opts,
		logger: m.logger.With().Str("callId", id).Logger(),
	}

	s.fsm = fsm.NewFSM(
		string(SessionStateIdle),
		fsm.Events{
			{Name: string(SessionEventConnect), Src: []string{string(SessionStateIdle), string(SessionStateConnecting), string(SessionStateConnected), string(SessionStateFailed)}, Dst: string(SessionStateConnecting)},
			{Name: string(SessionEventEstablished), Src: []string{string(SessionStateConnecting)}, Dst: string(SessionStateConnected)},
			{Name: string(SessionEventFail), Src: []string{string(SessionStateConnecting), string(SessionStateConnected)}, Dst: string(SessionStateFailed)},
			{Name: string(SessionEventClose), Src: []string{string(SessionStateIdle), string(SessionStateConnecting), string(SessionStateConnected), string(SessionStateFailed)}, Dst: string(SessionStateClosed)},
		},
		fsm.Callbacks{
			"after_event": func(_ context.Context, e *fsm.Event) {
				s.handleStateChange(SessionState(e.Src), SessionState(e.Dst))
			},
		},
	)
	return s
}

// ID returns the call id
func (s *Session) ID() string { return s.id }

// State returns the current lifecycle state
func (s *Session) State() SessionState {
	return SessionState(s.fsm.Current())
}

// SessionID returns the signaling session id, "" until the bridge assigned one
func (s *Session) SessionID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sessionID
}

// Options returns the join options of the current connection
func (s *Session) Options() JoinOptions {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.opts
}

// PushToTalk returns the push-to-talk controller of the session
func (s *Session) PushToTalk() *PushToTalk { return s.ptt }

func (s *Session) handleStateChange(from, to SessionState) {
	if from == to {
		return
	}
	s.logger.Debug().Str("from", string(from)).Str("to", string(to)).Msg("session state")
	s.m.metrics.SessionTransition(string(from), string(to))
	_ = s.m.store.Dispatch(UpdateCall{ID: s.id, Patch: CallPatch{
		ConnectionState: Some(to.connectionState()),
	}})
	s.m.emitter.Emit(string(ManagerEventStateChange), StateChange{CallID: s.id, From: from, To: to})
}

func (s *Session) transition(event SessionEventKey) {
	if err := s.fsm.Event(context.Background(), string(event)); err != nil {
		var noTransition fsm.NoTransitionError
		if errors.As(err, &noTransition) {
			return
		}
		s.logger.Debug().Err(err).Str("event", string(event)).Msg("ignored session event")
	}
}

func (s *Session) isCurrent(gen uint64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return gen == s.gen && !s.closed
}

// own registers release with the connection of gen. It reports false,
// without registering, if gen is no longer current.
func (s *Session) own(gen uint64, release func()) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if gen != s.gen || s.closed {
		return false
	}
	s.disposers = append(s.disposers, release)
	return true
}

// connect runs one connect attempt with opts. An attempt replaced by a
// newer one returns nil.
func (s *Session) connect(ctx context.Context, opts JoinOptions) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrSessionClosed
	}
	s.gen++
	gen := s.gen
	s.opts = opts
	s.answered = false
	s.gotTrack = false
	s.levels = newLevelMonitor(s.m.config.AudioLevelThreshold, func(above bool) {
		s.onAudioLevel(gen, above)
	})
	s.mu.Unlock()

	s.transition(SessionEventConnect)

	if s.m.config.ConnectTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.m.config.ConnectTimeout)
		defer cancel()
	}

	err := s.negotiate(ctx, gen, opts)
	if err == nil {
		return nil
	}
	if errors.Is(err, errSuperseded) || !s.isCurrent(gen) {
		s.logger.Debug().Err(err).Msg("discarded superseded connect attempt")
		return nil
	}
	s.fail(gen, err)
	return err
}

func (s *Session) negotiate(ctx context.Context, gen uint64, opts JoinOptions) error {
	input, err := s.m.platform.GetUserMedia(ctx, opts.AudioInput)
	if err != nil {
		return fmt.Errorf("failed to capture input %q: %w", opts.AudioInput, err)
	}
	if !s.own(gen, func() { _ = input.Close() }) {
		_ = input.Close()
		return errSuperseded
	}
	if call, ok := s.m.store.Call(s.id); ok {
		input.SetEnabled(!call.InputMuted)
	}
	s.mu.Lock()
	s.input = input
	s.mu.Unlock()
	_ = s.m.store.Dispatch(UpdateCall{ID: s.id, Patch: CallPatch{MediaStreamInput: Some(input)}})

	peer, err := s.m.newPeer(s.logger)
	if err != nil {
		return fmt.Errorf("failed to create peer connection: %w", err)
	}
	if !s.own(gen, func() { _ = peer.Close() }) {
		_ = peer.Close()
		return errSuperseded
	}
	peer.OnStateChange(func(state webrtc.PeerConnectionState) { s.onPeerState(gen, state) })
	peer.OnRemoteTrack(func(track RemoteTrack) { s.onRemoteTrack(gen, track) })
	peer.OnDataChannel(func(dc *webrtc.DataChannel) { s.attachDataChannel(gen, dc) })

	start := time.Now()
	offer, err := s.m.signaler.Offer(ctx, opts)
	if err != nil {
		s.m.metrics.APIError("offer")
		return err
	}
	s.m.metrics.ObserveSignaling("offer", time.Since(start))

	s.mu.Lock()
	current := gen == s.gen && !s.closed
	if current {
		s.sessionID = offer.SessionID
	}
	s.mu.Unlock()
	if !current {
		s.m.discardRemote(offer.SessionID)
		return errSuperseded
	}
	s.logger.Info().Str("sessionId", offer.SessionID).Msg("signaling session opened")
	_ = s.m.store.Dispatch(UpdateCall{ID: s.id, Patch: CallPatch{SessionID: Some(offer.SessionID)}})

	if err := peer.SetRemoteOffer(offer.SDP); err != nil {
		return fmt.Errorf("failed to apply offer: %w", err)
	}
	if err := peer.AddInputTrack(input.Track()); err != nil {
		return err
	}
	answer, err := peer.CreateAnswer(ctx)
	if err != nil {
		return err
	}

	start = time.Now()
	if err := s.m.signaler.Answer(ctx, offer.SessionID, answer); err != nil {
		s.m.metrics.APIError("answer")
		return err
	}
	s.m.metrics.ObserveSignaling("answer", time.Since(start))

	s.mu.Lock()
	if gen != s.gen || s.closed {
		s.mu.Unlock()
		return errSuperseded
	}
	s.answered = true
	s.mu.Unlock()

	s.startHeartbeat(gen, offer.SessionID)
	s.maybeEstablished(gen)
	return nil
}

// maybeEstablished moves to connected once the answer was accepted and the
// first remote track arrived
func (s *Session) maybeEstablished(gen uint64) {
	s.mu.Lock()
	ready := gen == s.gen && !s.closed && s.answered && s.gotTrack
	s.mu.Unlock()
	if ready && s.State() == SessionStateConnecting {
		s.transition(SessionEventEstablished)
	}
}

func (s *Session) fail(gen uint64, err error) {
	if !s.isCurrent(gen) {
		return
	}
	s.logger.Error().Err(err).Msg("session failed")
	s.transition(SessionEventFail)
	s.m.store.ReportError(s.id, err, SeveritySession)
	if errors.Is(err, devices.ErrPermissionDenied) {
		s.m.store.ReportError("", err, SeverityGlobal)
	}
}

func (s *Session) onPeerState(gen uint64, state webrtc.PeerConnectionState) {
	if !s.isCurrent(gen) {
		return
	}
	switch state {
	case webrtc.PeerConnectionStateFailed:
		s.fail(gen, fmt.Errorf("peer connection failed"))
	case webrtc.PeerConnectionStateDisconnected:
		s.logger.Warn().Msg("peer connection disconnected")
	}
}

func (s *Session) onRemoteTrack(gen uint64, track RemoteTrack) {
	if !s.isCurrent(gen) {
		return
	}
	call, ok := s.m.store.Call(s.id)
	if !ok {
		return
	}

	sink, err := s.m.platform.NewAudioSink(context.Background(), track.Codec(), call.AudioOutput)
	if err != nil {
		s.m.store.ReportError(s.id, fmt.Errorf("failed to open audio output %q: %w", call.AudioOutput, err), SeverityTransient)
		sink = nil
	}
	if sink != nil {
		if !s.own(gen, func() { _ = sink.Close() }) {
			_ = sink.Close()
			return
		}
		sink.SetVolume(s.effectiveVolume(call))
	}

	s.mu.Lock()
	if gen != s.gen {
		s.mu.Unlock()
		return
	}
	if sink != nil {
		s.sinks = append(s.sinks, sink)
	}
	sinks := append([]devices.AudioSink(nil), s.sinks...)
	s.gotTrack = true
	levels := s.levels
	s.mu.Unlock()

	_ = s.m.store.Dispatch(UpdateCall{ID: s.id, Patch: CallPatch{AudioElements: Some(sinks)}})
	s.m.emitter.Emit(string(ManagerEventRemoteTrack), s.id)
	s.maybeEstablished(gen)

	go s.readTrack(gen, track, sink, levels)
}

func (s *Session) readTrack(gen uint64, track RemoteTrack, sink devices.AudioSink, levels *levelMonitor) {
	extID := track.AudioLevelExtensionID()
	defer levels.forget(track.ID())
	for {
		pkt, _, err := track.ReadRTP()
		if err != nil {
			return
		}
		if !s.isCurrent(gen) {
			return
		}
		levels.observe(track.ID(), pkt, extID)
		if sink != nil {
			if err := sink.WriteRTP(pkt); err != nil {
				s.logger.Debug().Err(err).Msg("audio sink write failed")
			}
		}
	}
}

func (s *Session) onAudioLevel(gen uint64, above bool) {
	if !s.isCurrent(gen) {
		return
	}
	_ = s.m.store.Dispatch(UpdateCall{ID: s.id, Patch: CallPatch{AudioLevelAboveThreshold: Some(above)}})
}

func (s *Session) startHeartbeat(gen uint64, sessionID string) {
	interval := s.m.config.HeartbeatInterval
	if s.m.heartbeat == nil || interval <= 0 {
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	if !s.own(gen, cancel) {
		cancel()
		return
	}

	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if err := s.m.heartbeat.Heartbeat(ctx, sessionID); err != nil {
					if ctx.Err() != nil {
						return
					}
					s.m.metrics.APIError("heartbeat")
					s.fail(gen, fmt.Errorf("heartbeat failed: %w", err))
					return
				}
			}
		}
	}()
}

// setInputEnabled switches the captured input on or off
func (s *Session) setInputEnabled(enabled bool) {
	s.mu.Lock()
	input := s.input
	s.mu.Unlock()
	if input != nil {
		input.SetEnabled(enabled)
	}
}

// effectiveVolume is the volume sinks play at for call
func (s *Session) effectiveVolume(call Call) float64 {
	if call.OutputMuted {
		return 0
	}
	v := clampVolume(call.Volume)
	s.mu.Lock()
	ducked := s.ducked
	s.mu.Unlock()
	if ducked {
		v = math.Min(v, s.m.config.DuckedVolume)
	}
	return v
}

// applyVolume pushes the registry volume of the call to every sink
func (s *Session) applyVolume() {
	call, ok := s.m.store.Call(s.id)
	if !ok {
		return
	}
	v := s.effectiveVolume(call)
	s.mu.Lock()
	sinks := append([]devices.AudioSink(nil), s.sinks...)
	s.mu.Unlock()
	for _, sink := range sinks {
		sink.SetVolume(v)
	}
}

// duck lowers the output while on is set. Clearing it restores the volume
// after the configured delay.
func (s *Session) duck(on bool) {
	s.mu.Lock()
	if s.restore != nil {
		s.restore.Stop()
		s.restore = nil
	}
	if on {
		changed := !s.ducked
		s.ducked = true
		s.mu.Unlock()
		if changed {
			s.applyVolume()
		}
		return
	}
	if !s.ducked || s.closed {
		s.mu.Unlock()
		return
	}
	var timer *time.Timer
	timer = time.AfterFunc(s.m.config.DuckRestoreDelay, func() {
		s.mu.Lock()
		if s.restore != timer {
			s.mu.Unlock()
			return
		}
		s.restore = nil
		s.ducked = false
		s.mu.Unlock()
		s.applyVolume()
	})
	s.restore = timer
	s.mu.Unlock()
}

// Ducked reports whether the output is currently lowered for talk-over
func (s *Session) Ducked() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ducked
}

// teardown ends the current connection: the signaling session is deleted
// and every disposer registered by the connection runs exactly once.
func (s *Session) teardown(ctx context.Context) error {
	s.mu.Lock()
	s.gen++
	disposers := s.disposers
	s.disposers = nil
	sessionID := s.sessionID
	s.sessionID = ""
	s.input = nil
	s.sinks = nil
	s.dc = nil
	s.answered = false
	s.gotTrack = false
	s.mu.Unlock()

	var err error
	if sessionID != "" {
		start := time.Now()
		if err = s.m.signaler.Delete(ctx, sessionID); err != nil {
			s.m.metrics.APIError("delete")
			s.logger.Warn().Err(err).Str("sessionId", sessionID).Msg("failed to delete session")
		} else {
			s.m.metrics.ObserveSignaling("delete", time.Since(start))
		}
	}

	for i := len(disposers) - 1; i >= 0; i-- {
		disposers[i]()
	}
	return err
}

// close tears the session down for good
func (s *Session) close(ctx context.Context) error {
	s.ptt.StopTalking()

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	if s.restore != nil {
		s.restore.Stop()
		s.restore = nil
	}
	s.mu.Unlock()

	err := s.teardown(ctx)

	s.transition(SessionEventClose)
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	return err
}
