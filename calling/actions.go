/* SPDX-License-Identifier: MPL-2.0
 * Copyright 2025 Tejus Pratap <tejzpr@gmail.com>
 *
 * See CONTRIBUTORS.md for full contributor list.
 */

package calling

import (
	"github.com/pion/webrtc/v4"
	"github.com/tejzpr/intercom-go-sdk/devices"
	"github.com/tejzpr/intercom-go-sdk/prefs"
	"github.com/tejzpr/intercom-go-sdk/status"
)

// Action is a registry mutation. The set of actions is closed: every
// implementation lives in this file and Reduce handles each one.
type Action interface {
	isAction()
}

// Opt is an optional field of a patch. Only fields with Set are applied.
type Opt[T any] struct {
	Set   bool
	Value T
}

// Some returns a set Opt holding v
func Some[T any](v T) Opt[T] {
	return Opt[T]{Set: true, Value: v}
}

func (o Opt[T]) apply(dst *T) {
	if o.Set {
		*dst = o.Value
	}
}

// CallPatch is a shallow update of one call
type CallPatch struct {
	JoinProductionOptions    Opt[*JoinOptions]
	AudioOutput              Opt[string]
	MediaStreamInput         Opt[devices.MediaStream]
	ConnectionState          Opt[ConnectionState]
	SessionID                Opt[string]
	AudioElements            Opt[[]devices.AudioSink]
	DominantSpeaker          Opt[string]
	AudioLevelAboveThreshold Opt[bool]
	DataChannel              Opt[*webrtc.DataChannel]
	IsRemotelyMuted          Opt[bool]
	Hotkeys                  Opt[Hotkeys]
	InputMuted               Opt[bool]
	OutputMuted              Opt[bool]
	Volume                   Opt[float64]
	Error                    Opt[string]
}

func (p CallPatch) applyTo(c Call) Call {
	p.JoinProductionOptions.apply(&c.JoinProductionOptions)
	p.AudioOutput.apply(&c.AudioOutput)
	p.MediaStreamInput.apply(&c.MediaStreamInput)
	p.ConnectionState.apply(&c.ConnectionState)
	p.SessionID.apply(&c.SessionID)
	p.AudioElements.apply(&c.AudioElements)
	p.DominantSpeaker.apply(&c.DominantSpeaker)
	p.AudioLevelAboveThreshold.apply(&c.AudioLevelAboveThreshold)
	p.DataChannel.apply(&c.DataChannel)
	p.IsRemotelyMuted.apply(&c.IsRemotelyMuted)
	p.Hotkeys.apply(&c.Hotkeys)
	p.InputMuted.apply(&c.InputMuted)
	p.OutputMuted.apply(&c.OutputMuted)
	p.Volume.apply(&c.Volume)
	p.Error.apply(&c.Error)
	return c
}

// ResetCall is the only way to restart a call: it clears every piece of
// media and connection state together and installs opts. A nil opts
// detaches the call from any join.
func ResetCall(opts *JoinOptions) CallPatch {
	patch := CallPatch{
		JoinProductionOptions:    Some(opts),
		MediaStreamInput:         Some[devices.MediaStream](nil),
		ConnectionState:          Some(ConnectionStateNone),
		SessionID:                Some(""),
		AudioElements:            Some[[]devices.AudioSink](nil),
		DominantSpeaker:          Some(""),
		AudioLevelAboveThreshold: Some(false),
		DataChannel:              Some[*webrtc.DataChannel](nil),
		IsRemotelyMuted:          Some(false),
		Error:                    Some(""),
	}
	if opts != nil {
		patch.AudioOutput = Some(opts.AudioOutput)
	}
	return patch
}

// AddCall inserts a new call. It is rejected if ID is already present.
type AddCall struct {
	ID   string
	Call Call
}

// UpdateCall merges Patch into the call with ID. Absent IDs are ignored.
type UpdateCall struct {
	ID    string
	Patch CallPatch
}

// RemoveCall deletes the call with ID
type RemoveCall struct {
	ID string
}

// SelectProductionID sets the production shown to the user
type SelectProductionID struct {
	ProductionID string
}

// UpdateUserSettings replaces the username and default devices
type UpdateUserSettings struct {
	Settings prefs.UserSettings
}

// SetWebsocket publishes the live status socket, nil while disconnected
type SetWebsocket struct {
	Socket Sender
}

// SetClients replaces the presence list
type SetClients struct {
	Clients []status.ClientInfo
}

// ClientConnected inserts or replaces one client in the presence list
type ClientConnected struct {
	Client status.ClientInfo
}

// ClientDisconnected marks one client offline
type ClientDisconnected struct {
	ClientID string
}

// CallIncoming records a direct call offered to this client
type CallIncoming struct {
	Call status.CallInfo
}

// CallStarted moves a direct call from incoming to active
type CallStarted struct {
	Call status.CallInfo
}

// CallEnded drops a direct call
type CallEnded struct {
	CallID string
}

// TalkStarted records a client talking
type TalkStarted struct {
	Talk status.TalkInfo
}

// TalkStopped removes a talking client
type TalkStopped struct {
	ClientID string
}

// SetActiveTalks replaces the list of talking clients
type SetActiveTalks struct {
	Talks []status.TalkInfo
}

// SetGlobalMute sets the cross-call mute flag
type SetGlobalMute struct {
	Muted bool
}

// SetGlobalMuteHotkey writes Key into the global mute binding of every call
type SetGlobalMuteHotkey struct {
	SourceID string
	Key      string
}

// SetPendingJoin stores join parameters waiting to be used, nil to clear
type SetPendingJoin struct {
	Options *JoinOptions
}

// ReportError records an error. Identical messages are kept once.
type ReportError struct {
	ID       string
	CallID   string
	Message  string
	Severity Severity
}

// DismissError removes one banner entry
type DismissError struct {
	ID string
}

// SetFatalError blocks the client with Message; "" clears it
type SetFatalError struct {
	Message string
}

func (AddCall) isAction()             {}
func (UpdateCall) isAction()          {}
func (RemoveCall) isAction()          {}
func (SelectProductionID) isAction()  {}
func (UpdateUserSettings) isAction()  {}
func (SetWebsocket) isAction()        {}
func (SetClients) isAction()          {}
func (ClientConnected) isAction()     {}
func (ClientDisconnected) isAction()  {}
func (CallIncoming) isAction()        {}
func (CallStarted) isAction()         {}
func (CallEnded) isAction()           {}
func (TalkStarted) isAction()         {}
func (TalkStopped) isAction()         {}
func (SetActiveTalks) isAction()      {}
func (SetGlobalMute) isAction()       {}
func (SetGlobalMuteHotkey) isAction() {}
func (SetPendingJoin) isAction()      {}
func (ReportError) isAction()         {}
func (DismissError) isAction()        {}
func (SetFatalError) isAction()       {}
