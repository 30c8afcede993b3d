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
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/tejzpr/intercom-go-sdk/devices"
	"github.com/tejzpr/intercom-go-sdk/intercomsdk"
	"github.com/tejzpr/intercom-go-sdk/observe"
	"github.com/tejzpr/intercom-go-sdk/productions"
	"github.com/tejzpr/intercom-go-sdk/status"
	"golang.org/x/sync/errgroup"
)

var (
	// ErrHotkeyConflict is returned when proposed hotkeys collide with another call
	ErrHotkeyConflict = errors.New("calling: hotkey already in use")
	// ErrInvalidJoin is returned for join options missing a required field
	ErrInvalidJoin = errors.New("calling: invalid join options")
)

// Heartbeater probes the liveness of a signaling session
type Heartbeater interface {
	Heartbeat(ctx context.Context, sessionID string) error
}

// IdentitySource provides the client id announced with push-to-talk
type IdentitySource interface {
	ClientID() string
}

// Option configures a Manager
type Option func(*Manager)

// WithSignaler replaces the REST signaling client
func WithSignaler(s Signaler) Option {
	return func(m *Manager) { m.signaler = s }
}

// WithHeartbeater enables session heartbeats through h
func WithHeartbeater(h Heartbeater) Option {
	return func(m *Manager) { m.heartbeat = h }
}

// WithIdentity sets the source of the client id
func WithIdentity(id IdentitySource) Option {
	return func(m *Manager) { m.identity = id }
}

// WithPeerFactory replaces the pion peer connection factory
func WithPeerFactory(f PeerFactory) Option {
	return func(m *Manager) { m.newPeer = f }
}

// WithMetrics records session metrics on metrics
func WithMetrics(metrics *observe.Metrics) Option {
	return func(m *Manager) { m.metrics = metrics }
}

// Manager owns the sessions of every joined call and keeps the registry in
// step with them.
type Manager struct {
	config    *Config
	store     *Store
	platform  devices.Platform
	signaler  Signaler
	heartbeat Heartbeater
	identity  IdentitySource
	newPeer   PeerFactory
	metrics   *observe.Metrics
	emitter   *EventEmitter
	logger    zerolog.Logger

	mu       sync.Mutex
	sessions map[string]*Session
	talkers  map[string]bool
}

// NewManager creates a Manager signaling through core
func NewManager(core *intercomsdk.Client, store *Store, platform devices.Platform, config *Config, opts ...Option) *Manager {
	if config == nil {
		config = DefaultConfig()
	}

	m := &Manager{
		config:   config,
		store:    store,
		platform: platform,
		emitter:  NewEventEmitter(),
		logger:   core.Logger("calling"),
		sessions: make(map[string]*Session),
		talkers:  make(map[string]bool),
	}
	m.signaler = NewSignalingClient(core)
	m.newPeer = func(logger zerolog.Logger) (Peer, error) {
		return NewMediaEngine(config.Media, logger)
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Name returns the plugin name
func (m *Manager) Name() string { return "calling" }

// Store returns the registry the manager writes to
func (m *Manager) Store() *Store { return m.store }

// On registers a handler for a manager event
func (m *Manager) On(event ManagerEventKey, handler EventHandler) {
	m.emitter.On(string(event), handler)
}

// Session returns the session of call id
func (m *Manager) Session(id string) (*Session, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[id]
	return s, ok
}

// Join adds a call for opts and connects it. The call stays in the
// registry, marked failed, when connecting fails.
func (m *Manager) Join(ctx context.Context, opts JoinOptions) (string, error) {
	if err := validateJoin(opts); err != nil {
		return "", err
	}

	id := uuid.NewString()
	hotkeys := DefaultHotkeys()
	for _, c := range m.store.Snapshot().Calls {
		hotkeys.GlobalMuteHotkey = c.Hotkeys.GlobalMuteHotkey
		break
	}
	joinOpts := opts
	call := Call{
		ID:                    id,
		JoinProductionOptions: &joinOpts,
		AudioOutput:           opts.AudioOutput,
		Hotkeys:               hotkeys,
		InputMuted:            true,
		Volume:                clampVolume(m.config.InitialVolume),
	}
	if err := m.store.Dispatch(AddCall{ID: id, Call: call}); err != nil {
		return "", err
	}
	_ = m.store.Dispatch(SetPendingJoin{Options: nil})

	s := newSession(m, id, opts)
	s.ptt = m.newPushToTalk(id)

	m.mu.Lock()
	m.sessions[id] = s
	n := len(m.sessions)
	talking := len(m.talkers) > 0
	m.mu.Unlock()
	m.metrics.SetCallsActive(n)

	if talking && isProgramListener(opts) {
		s.duck(true)
	}

	m.logger.Info().Str("callId", id).Str("productionId", opts.ProductionID).Str("lineId", opts.LineID).Msg("joining line")
	return id, s.connect(ctx, opts)
}

func validateJoin(opts JoinOptions) error {
	if opts.ProductionID == "" || opts.LineID == "" {
		return fmt.Errorf("%w: productionId and lineId are required", ErrInvalidJoin)
	}
	if strings.TrimSpace(opts.Username) == "" {
		return fmt.Errorf("%w: username is required", ErrInvalidJoin)
	}
	return nil
}

// SwitchLine leaves call id and joins opts in its place. The join is held
// pending while the old call is removed, so leaving the last call does not
// return to the landing view.
func (m *Manager) SwitchLine(ctx context.Context, id string, opts JoinOptions) (string, error) {
	if err := validateJoin(opts); err != nil {
		return "", err
	}
	if _, ok := m.store.Call(id); !ok {
		return "", ErrUnknownCall
	}

	pending := opts
	if err := m.store.Dispatch(SetPendingJoin{Options: &pending}); err != nil {
		return "", err
	}
	if err := m.Leave(ctx, id); err != nil {
		m.logger.Warn().Err(err).Str("callId", id).Msg("leaving line before switch")
	}
	return m.Join(ctx, opts)
}

func (m *Manager) newPushToTalk(id string) *PushToTalk {
	ptt := NewPushToTalk(func(muted bool) {
		if err := m.MuteInput(id, muted); err != nil {
			m.logger.Debug().Err(err).Str("callId", id).Msg("push-to-talk mute")
		}
	}, storeNotifier{m.store})
	if m.identity != nil {
		ptt.SetIdentity(m.identity.ClientID(), nil)
	}
	ptt.OnChange(func(talking bool) {
		m.setTalking(id, talking)
	})
	return ptt
}

// storeNotifier sends on whatever socket the registry currently holds
type storeNotifier struct {
	store *Store
}

func (n storeNotifier) Send(v interface{}) error {
	ws := n.store.Websocket()
	if ws == nil {
		return status.ErrNotConnected
	}
	return ws.Send(v)
}

// ChangeDevices switches the devices of call id. An output-only change
// moves the existing sinks in place; an input change reconnects the call.
func (m *Manager) ChangeDevices(ctx context.Context, id, input, output string) error {
	s, ok := m.Session(id)
	call, exists := m.store.Call(id)
	if !ok || !exists || call.JoinProductionOptions == nil {
		return ErrUnknownCall
	}
	opts := *call.JoinProductionOptions

	if input == opts.AudioInput {
		if output == call.AudioOutput {
			return nil
		}
		if err := m.store.Dispatch(UpdateCall{ID: id, Patch: CallPatch{AudioOutput: Some(output)}}); err != nil {
			return err
		}
		for _, sinkErr := range devices.AssignSinks(ctx, call.AudioElements, output) {
			sinkErr := sinkErr
			m.store.ReportError(id, &sinkErr, SeverityTransient)
		}
		return nil
	}

	next := opts
	next.AudioInput = input
	next.AudioOutput = output

	m.logger.Info().Str("callId", id).Str("audioinput", input).Str("audiooutput", output).Msg("reconnecting for input change")
	if err := s.teardown(ctx); err != nil {
		m.logger.Warn().Err(err).Str("callId", id).Msg("teardown before reconnect")
	}
	if err := m.store.Dispatch(UpdateCall{ID: id, Patch: reconnectPatch(&next)}); err != nil {
		return err
	}
	return s.connect(ctx, next)
}

// Reconnect runs a new connect attempt with the current options of call id
func (m *Manager) Reconnect(ctx context.Context, id string) error {
	s, ok := m.Session(id)
	call, exists := m.store.Call(id)
	if !ok || !exists || call.JoinProductionOptions == nil {
		return ErrUnknownCall
	}
	opts := *call.JoinProductionOptions
	opts.AudioOutput = call.AudioOutput

	_ = s.teardown(ctx)
	if err := m.store.Dispatch(UpdateCall{ID: id, Patch: reconnectPatch(&opts)}); err != nil {
		return err
	}
	return s.connect(ctx, opts)
}

// Leave ends call id and removes it from the registry
func (m *Manager) Leave(ctx context.Context, id string) error {
	m.mu.Lock()
	s, ok := m.sessions[id]
	delete(m.sessions, id)
	n := len(m.sessions)
	m.mu.Unlock()

	if !ok {
		if _, exists := m.store.Call(id); !exists {
			return ErrUnknownCall
		}
		return m.store.Dispatch(RemoveCall{ID: id})
	}
	m.metrics.SetCallsActive(n)

	err := s.close(ctx)
	m.setTalking(id, false)
	if dispatchErr := m.store.Dispatch(RemoveCall{ID: id}); dispatchErr != nil {
		return dispatchErr
	}
	m.logger.Info().Str("callId", id).Msg("left line")
	return err
}

// LeaveAll leaves every call concurrently
func (m *Manager) LeaveAll(ctx context.Context) error {
	m.mu.Lock()
	ids := make([]string, 0, len(m.sessions))
	for id := range m.sessions {
		ids = append(ids, id)
	}
	m.mu.Unlock()

	var g errgroup.Group
	for _, id := range ids {
		id := id
		g.Go(func() error {
			return m.Leave(ctx, id)
		})
	}
	return g.Wait()
}

// Close leaves every call
func (m *Manager) Close(ctx context.Context) error {
	return m.LeaveAll(ctx)
}

// MuteInput mutes or unmutes the input of call id. Unmuting clears a mute
// requested by a remote participant.
func (m *Manager) MuteInput(id string, muted bool) error {
	s, ok := m.Session(id)
	if !ok {
		return ErrUnknownCall
	}
	s.setInputEnabled(!muted)

	patch := CallPatch{InputMuted: Some(muted)}
	if !muted {
		patch.IsRemotelyMuted = Some(false)
	}
	return m.store.Dispatch(UpdateCall{ID: id, Patch: patch})
}

// ToggleGlobalMute flips the global mute and applies it to every call's input
func (m *Manager) ToggleGlobalMute() bool {
	muted := !m.store.Snapshot().GlobalMute
	m.SetGlobalMute(muted)
	return muted
}

// SetGlobalMute mutes or unmutes the input of every call
func (m *Manager) SetGlobalMute(muted bool) {
	_ = m.store.Dispatch(SetGlobalMute{Muted: muted})
	for _, id := range m.sessionIDs() {
		if err := m.MuteInput(id, muted); err != nil {
			m.logger.Debug().Err(err).Str("callId", id).Msg("global mute")
		}
	}
}

// SetOutputMuted silences or restores the audio of call id
func (m *Manager) SetOutputMuted(id string, muted bool) error {
	s, ok := m.Session(id)
	if !ok {
		return ErrUnknownCall
	}
	if err := m.store.Dispatch(UpdateCall{ID: id, Patch: CallPatch{OutputMuted: Some(muted)}}); err != nil {
		return err
	}
	s.applyVolume()
	return nil
}

// SetVolume sets the volume of call id, clamped to [0,1]
func (m *Manager) SetVolume(id string, volume float64) error {
	s, ok := m.Session(id)
	if !ok {
		return ErrUnknownCall
	}
	if err := m.store.Dispatch(UpdateCall{ID: id, Patch: CallPatch{Volume: Some(clampVolume(volume))}}); err != nil {
		return err
	}
	s.applyVolume()
	return nil
}

// AdjustVolume changes the volume of call id by delta
func (m *Manager) AdjustVolume(id string, delta float64) error {
	call, ok := m.store.Call(id)
	if !ok {
		return ErrUnknownCall
	}
	return m.SetVolume(id, call.Volume+delta)
}

// SetHotkeys replaces the bindings of call id. A changed key already bound
// by another call is rejected; keys left as they were are never checked, so
// calls sharing the default bindings can still be edited. A new global mute
// key is applied to all calls.
func (m *Manager) SetHotkeys(id string, hotkeys Hotkeys) error {
	state := m.store.Snapshot()
	call, ok := state.Calls[id]
	if !ok {
		return ErrUnknownCall
	}

	all := make(map[string]Hotkeys, len(state.Calls))
	for cid, c := range state.Calls {
		all[cid] = c.Hotkeys
	}
	if dups := FindDuplicateHotkeys(all, id, changedBindings(call.Hotkeys, hotkeys)); len(dups) > 0 {
		return fmt.Errorf("%w: %s", ErrHotkeyConflict, strings.Join(dups, ", "))
	}

	if normalizeKey(hotkeys.GlobalMuteHotkey) != normalizeKey(call.Hotkeys.GlobalMuteHotkey) {
		if err := m.store.Dispatch(SetGlobalMuteHotkey{SourceID: id, Key: hotkeys.GlobalMuteHotkey}); err != nil {
			return err
		}
	}
	return m.store.Dispatch(UpdateCall{ID: id, Patch: CallPatch{Hotkeys: Some(hotkeys)}})
}

// HandleKey runs the actions bound to a pressed key
func (m *Manager) HandleKey(key string) {
	state := m.store.Snapshot()
	globalDone := false

	for _, id := range sortedCallIDs(state) {
		call := state.Calls[id]
		for _, role := range call.Hotkeys.Roles(key) {
			var err error
			switch role {
			case RoleMute:
				err = m.MuteInput(id, !call.InputMuted)
			case RoleSpeaker:
				err = m.SetOutputMuted(id, !call.OutputMuted)
			case RoleIncreaseVolume:
				err = m.AdjustVolume(id, m.config.VolumeStep)
			case RoleDecreaseVolume:
				err = m.AdjustVolume(id, -m.config.VolumeStep)
			case RolePushToTalk:
				err = m.StartTalking(id)
			case RoleGlobalMute:
				if !globalDone {
					globalDone = true
					m.ToggleGlobalMute()
				}
			}
			if err != nil {
				m.logger.Debug().Err(err).Str("callId", id).Str("key", key).Msg("hotkey action failed")
			}
		}
	}
}

// HandleKeyUp ends push-to-talk on the calls binding key
func (m *Manager) HandleKeyUp(key string) {
	state := m.store.Snapshot()
	for _, id := range sortedCallIDs(state) {
		for _, role := range state.Calls[id].Hotkeys.Roles(key) {
			if role == RolePushToTalk {
				_ = m.StopTalking(id)
			}
		}
	}
}

// StartTalking opens the input of call id until StopTalking
func (m *Manager) StartTalking(id string) error {
	s, ok := m.Session(id)
	if !ok {
		return ErrUnknownCall
	}
	s.ptt.StartTalking()
	return nil
}

// StopTalking ends push-to-talk on call id
func (m *Manager) StopTalking(id string) error {
	s, ok := m.Session(id)
	if !ok {
		return ErrUnknownCall
	}
	s.ptt.StopTalking()
	return nil
}

// MuteParticipant asks participant p of call id to mute
func (m *Manager) MuteParticipant(id string, p productions.Participant) error {
	s, ok := m.Session(id)
	if !ok {
		return ErrUnknownCall
	}
	return s.muteParticipant(p)
}

// setTalking tracks push-to-talk across calls and ducks program output
// lines while anyone talks
func (m *Manager) setTalking(id string, talking bool) {
	m.mu.Lock()
	was := len(m.talkers) > 0
	if talking {
		m.talkers[id] = true
	} else {
		delete(m.talkers, id)
	}
	now := len(m.talkers) > 0
	var listeners []*Session
	for _, s := range m.sessions {
		if isProgramListener(s.Options()) {
			listeners = append(listeners, s)
		}
	}
	m.mu.Unlock()

	if was != now {
		for _, s := range listeners {
			s.duck(now)
		}
	}
	m.emitter.Emit(string(ManagerEventTalking), talking)
}

// reconnectPatch resets a call for a new connect attempt. The state is set
// here since a session already connecting makes no transition.
func reconnectPatch(opts *JoinOptions) CallPatch {
	patch := ResetCall(opts)
	patch.ConnectionState = Some(ConnectionStateConnecting)
	return patch
}

// isProgramListener reports whether opts joins a program output line as a listener
func isProgramListener(opts JoinOptions) bool {
	return opts.LineUsedForProgramOutput && !opts.IsProgramUser
}

func (m *Manager) sessionIDs() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	ids := make([]string, 0, len(m.sessions))
	for id := range m.sessions {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// discardRemote deletes a signaling session nobody will use
func (m *Manager) discardRemote(sessionID string) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := m.signaler.Delete(ctx, sessionID); err != nil {
		m.logger.Warn().Err(err).Str("sessionId", sessionID).Msg("failed to delete superseded session")
	}
}

func sortedCallIDs(state State) []string {
	ids := make([]string, 0, len(state.Calls))
	for id := range state.Calls {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}
