/* SPDX-License-Identifier: MPL-2.0
 * Copyright 2025 Tejus Pratap <tejzpr@gmail.com>
 *
 * See CONTRIBUTORS.md for full contributor list.
 */

package calling

import (
	"errors"
	"sync/atomic"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tejzpr/intercom-go-sdk/devices"
	"github.com/tejzpr/intercom-go-sdk/prefs"
	"github.com/tejzpr/intercom-go-sdk/status"
)

func testCall(id string) Call {
	return Call{
		ID: id,
		JoinProductionOptions: &JoinOptions{
			ProductionID: "prod-1",
			LineID:       "line-1",
			Username:     "alice",
			AudioInput:   "mic-1",
			AudioOutput:  "spk-1",
		},
		AudioOutput:     "spk-1",
		ConnectionState: ConnectionStateConnected,
		SessionID:       "sess-1",
		Hotkeys:         DefaultHotkeys(),
		Volume:          0.5,
	}
}

func mustReduce(t *testing.T, state State, action Action) State {
	t.Helper()
	next, err := Reduce(state, action)
	require.NoError(t, err)
	return next
}

func TestReduce_AddCallRejectsDuplicate(t *testing.T) {
	state := mustReduce(t, NewState(), AddCall{ID: "a", Call: testCall("a")})

	next, err := Reduce(state, AddCall{ID: "a", Call: Call{Volume: 1}})
	assert.True(t, errors.Is(err, ErrDuplicateCall))
	assert.Equal(t, 0.5, next.Calls["a"].Volume, "existing call must be untouched")
	assert.Len(t, next.Calls, 1)
}

func TestReduce_DoesNotMutateInput(t *testing.T) {
	state := mustReduce(t, NewState(), AddCall{ID: "a", Call: testCall("a")})

	_ = mustReduce(t, state, UpdateCall{ID: "a", Patch: CallPatch{Volume: Some(0.9)}})
	_ = mustReduce(t, state, RemoveCall{ID: "a"})

	assert.Equal(t, 0.5, state.Calls["a"].Volume)
	assert.Contains(t, state.Calls, "a")
}

func TestReduce_UpdateCallMergesOnlySetFields(t *testing.T) {
	state := mustReduce(t, NewState(), AddCall{ID: "a", Call: testCall("a")})

	next := mustReduce(t, state, UpdateCall{ID: "a", Patch: CallPatch{
		AudioOutput: Some("spk-2"),
		InputMuted:  Some(true),
	}})

	c := next.Calls["a"]
	assert.Equal(t, "spk-2", c.AudioOutput)
	assert.True(t, c.InputMuted)
	assert.Equal(t, ConnectionStateConnected, c.ConnectionState)
	assert.Equal(t, "sess-1", c.SessionID)
	assert.Equal(t, 0.5, c.Volume)
}

func TestReduce_UpdateUnknownCallIsNoop(t *testing.T) {
	state := mustReduce(t, NewState(), AddCall{ID: "a", Call: testCall("a")})

	next := mustReduce(t, state, UpdateCall{ID: "missing", Patch: CallPatch{Volume: Some(1.0)}})
	assert.Len(t, next.Calls, 1)
	assert.NotContains(t, next.Calls, "missing")
}

func TestReduce_ResetCallClearsMediaStateTogether(t *testing.T) {
	c := testCall("a")
	c.MediaStreamInput = &devices.StaticStream{}
	c.AudioElements = []devices.AudioSink{&devices.StaticSink{}}
	c.DominantSpeaker = "ep-2"
	c.AudioLevelAboveThreshold = true
	c.IsRemotelyMuted = true
	c.Error = "boom"
	state := mustReduce(t, NewState(), AddCall{ID: "a", Call: c})

	opts := JoinOptions{ProductionID: "prod-1", LineID: "line-1", Username: "alice", AudioInput: "mic-2", AudioOutput: "spk-2"}
	next := mustReduce(t, state, UpdateCall{ID: "a", Patch: ResetCall(&opts)})

	got := next.Calls["a"]
	assert.Nil(t, got.MediaStreamInput)
	assert.Nil(t, got.AudioElements)
	assert.Equal(t, ConnectionStateNone, got.ConnectionState)
	assert.Empty(t, got.SessionID)
	assert.Empty(t, got.DominantSpeaker)
	assert.False(t, got.AudioLevelAboveThreshold)
	assert.False(t, got.IsRemotelyMuted)
	assert.Empty(t, got.Error)
	assert.Equal(t, "spk-2", got.AudioOutput)
	require.NotNil(t, got.JoinProductionOptions)
	assert.Equal(t, "mic-2", got.JoinProductionOptions.AudioInput)
	assert.Equal(t, DefaultHotkeys(), got.Hotkeys, "hotkeys survive a reset")
}

func TestReduce_HandlesEveryAction(t *testing.T) {
	opts := &JoinOptions{ProductionID: "p", LineID: "l"}
	actions := []Action{
		AddCall{ID: "a", Call: testCall("a")},
		UpdateCall{ID: "a", Patch: CallPatch{Volume: Some(0.1)}},
		SelectProductionID{ProductionID: "p"},
		UpdateUserSettings{Settings: prefs.UserSettings{Username: "alice"}},
		SetWebsocket{Socket: nil},
		SetClients{Clients: []status.ClientInfo{{ClientID: "c1"}}},
		ClientConnected{Client: status.ClientInfo{ClientID: "c2"}},
		ClientDisconnected{ClientID: "c1"},
		CallIncoming{Call: status.CallInfo{CallID: "d1"}},
		CallStarted{Call: status.CallInfo{CallID: "d1"}},
		CallEnded{CallID: "d1"},
		TalkStarted{Talk: status.TalkInfo{ClientID: "c2"}},
		TalkStopped{ClientID: "c2"},
		SetActiveTalks{Talks: []status.TalkInfo{{ClientID: "c2"}}},
		SetGlobalMute{Muted: true},
		SetGlobalMuteHotkey{SourceID: "a", Key: "g"},
		SetPendingJoin{Options: opts},
		ReportError{ID: "e1", Message: "oops", Severity: SeverityBanner},
		DismissError{ID: "e1"},
		SetFatalError{Message: "fatal"},
		RemoveCall{ID: "a"},
	}

	state := NewState()
	for _, action := range actions {
		assert.NotPanics(t, func() {
			var err error
			state, err = Reduce(state, action)
			assert.NoError(t, err)
		}, "%T", action)
	}
	assert.Empty(t, state.Calls)
	assert.Equal(t, "fatal", state.FatalError)
}

func TestReduce_PresenceAndTalks(t *testing.T) {
	state := NewState()
	state = mustReduce(t, state, SetClients{Clients: []status.ClientInfo{{ClientID: "c1", Name: "Cam 1", IsOnline: true}}})
	state = mustReduce(t, state, ClientConnected{Client: status.ClientInfo{ClientID: "c2", Name: "Director"}})
	state = mustReduce(t, state, TalkStarted{Talk: status.TalkInfo{ClientID: "c1"}})
	state = mustReduce(t, state, TalkStarted{Talk: status.TalkInfo{ClientID: "c1"}})

	require.Len(t, state.Clients, 2)
	assert.True(t, state.Clients[1].IsOnline)
	assert.Len(t, state.ActiveTalks, 1, "a talk is recorded once per client")

	state = mustReduce(t, state, ClientDisconnected{ClientID: "c1"})
	assert.False(t, state.Clients[0].IsOnline)
	assert.Empty(t, state.ActiveTalks, "a disconnected client stops talking")
}

func TestReduce_DirectCalls(t *testing.T) {
	call := status.CallInfo{CallID: "d1", CallerID: "c1", CalleeID: "c2"}
	state := mustReduce(t, NewState(), CallIncoming{Call: call})
	assert.Len(t, state.IncomingCalls, 1)

	state = mustReduce(t, state, CallStarted{Call: call})
	assert.Empty(t, state.IncomingCalls)
	assert.Len(t, state.DirectCalls, 1)

	state = mustReduce(t, state, CallEnded{CallID: "d1"})
	assert.Empty(t, state.DirectCalls)
}

func TestReduce_GlobalMuteHotkeyFansOut(t *testing.T) {
	state := mustReduce(t, NewState(), AddCall{ID: "a", Call: testCall("a")})
	b := testCall("b")
	b.Hotkeys.MuteHotkey = "x"
	state = mustReduce(t, state, AddCall{ID: "b", Call: b})

	next := mustReduce(t, state, SetGlobalMuteHotkey{SourceID: "a", Key: "g"})
	assert.Equal(t, "g", next.Calls["a"].Hotkeys.GlobalMuteHotkey)
	assert.Equal(t, "g", next.Calls["b"].Hotkeys.GlobalMuteHotkey)
	assert.Equal(t, "x", next.Calls["b"].Hotkeys.MuteHotkey)

	ghost := mustReduce(t, state, SetGlobalMuteHotkey{SourceID: "missing", Key: "g"})
	assert.Len(t, ghost.Calls, 2, "unknown source must not create a call")
}

func TestReduce_ErrorSeverities(t *testing.T) {
	state := mustReduce(t, NewState(), AddCall{ID: "a", Call: testCall("a")})
	state = mustReduce(t, state, AddCall{ID: "b", Call: testCall("b")})

	t.Run("transient is not stored", func(t *testing.T) {
		next := mustReduce(t, state, ReportError{ID: "1", Message: "sink", Severity: SeverityTransient})
		assert.Empty(t, next.Errors)
	})

	t.Run("session fails one call only", func(t *testing.T) {
		next := mustReduce(t, state, ReportError{ID: "1", CallID: "a", Message: "ice failed", Severity: SeveritySession})
		assert.Equal(t, ConnectionStateFailed, next.Calls["a"].ConnectionState)
		assert.Equal(t, "ice failed", next.Calls["a"].Error)
		assert.Equal(t, ConnectionStateConnected, next.Calls["b"].ConnectionState)
		assert.Empty(t, next.Calls["b"].Error)
	})

	t.Run("global sets fatal error", func(t *testing.T) {
		next := mustReduce(t, state, ReportError{ID: "1", Message: "unauthorized", Severity: SeverityGlobal})
		assert.Equal(t, "unauthorized", next.FatalError)
	})

	t.Run("banner dedupes and dismisses", func(t *testing.T) {
		next := mustReduce(t, state, ReportError{ID: "1", Message: "offline", Severity: SeverityBanner})
		next = mustReduce(t, next, ReportError{ID: "2", Message: "offline", Severity: SeverityBanner})
		next = mustReduce(t, next, ReportError{Message: "slow", Severity: SeverityBanner})
		require.Len(t, next.Errors, 2)
		assert.Equal(t, "slow", next.Errors[1].ID)

		next = mustReduce(t, next, DismissError{ID: "1"})
		require.Len(t, next.Errors, 1)
		assert.Equal(t, "slow", next.Errors[0].Message)
	})
}

func TestStore_DispatchRejectsDuplicate(t *testing.T) {
	store := NewStore(nil, zerolog.Nop())
	require.NoError(t, store.Dispatch(AddCall{ID: "a", Call: testCall("a")}))

	err := store.Dispatch(AddCall{ID: "a", Call: testCall("a")})
	assert.True(t, errors.Is(err, ErrDuplicateCall))
}

func TestStore_SnapshotIsIsolated(t *testing.T) {
	store := NewStore(nil, zerolog.Nop())
	require.NoError(t, store.Dispatch(AddCall{ID: "a", Call: testCall("a")}))

	snap := store.Snapshot()
	snap.Calls["a"].JoinProductionOptions.LineID = "changed"
	delete(snap.Calls, "a")

	c, ok := store.Call("a")
	require.True(t, ok)
	assert.Equal(t, "line-1", c.JoinProductionOptions.LineID)
}

func TestStore_SubscribersSeeEveryCommitInOrder(t *testing.T) {
	store := NewStore(nil, zerolog.Nop())
	var volumes []float64
	unsubscribe := store.Subscribe(func(s State) {
		if c, ok := s.Calls["a"]; ok {
			volumes = append(volumes, c.Volume)
		}
	})

	require.NoError(t, store.Dispatch(AddCall{ID: "a", Call: testCall("a")}))
	require.NoError(t, store.Dispatch(UpdateCall{ID: "a", Patch: CallPatch{Volume: Some(0.7)}}))
	unsubscribe()
	require.NoError(t, store.Dispatch(UpdateCall{ID: "a", Patch: CallPatch{Volume: Some(0.9)}}))

	assert.Equal(t, []float64{0.5, 0.7}, volumes)
}

func TestStore_NavigatesToLandingAfterLastCall(t *testing.T) {
	var landings atomic.Int32
	store := NewStore(NavigatorFunc(func() { landings.Add(1) }), zerolog.Nop())

	require.NoError(t, store.Dispatch(AddCall{ID: "a", Call: testCall("a")}))
	require.NoError(t, store.Dispatch(AddCall{ID: "b", Call: testCall("b")}))
	require.NoError(t, store.Dispatch(RemoveCall{ID: "a"}))
	assert.Equal(t, int32(0), landings.Load())

	require.NoError(t, store.Dispatch(RemoveCall{ID: "b"}))
	assert.Equal(t, int32(1), landings.Load())

	// a pending join keeps the user on the production page
	require.NoError(t, store.Dispatch(AddCall{ID: "c", Call: testCall("c")}))
	require.NoError(t, store.Dispatch(SetPendingJoin{Options: &JoinOptions{ProductionID: "p", LineID: "l"}}))
	require.NoError(t, store.Dispatch(RemoveCall{ID: "c"}))
	assert.Equal(t, int32(1), landings.Load())
}

func TestStore_ReportError(t *testing.T) {
	store := NewStore(nil, zerolog.Nop())
	require.NoError(t, store.Dispatch(AddCall{ID: "a", Call: testCall("a")}))

	store.ReportError("a", errors.New("negotiation failed"), SeveritySession)
	store.ReportError("", nil, SeverityBanner)

	state := store.Snapshot()
	assert.Equal(t, ConnectionStateFailed, state.Calls["a"].ConnectionState)
	require.Len(t, state.Errors, 1)
	assert.Equal(t, "a", state.Errors[0].CallID)
	assert.NotEmpty(t, state.Errors[0].ID)
}
