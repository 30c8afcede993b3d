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

// ConnectionState is the connection state of one call as seen by the registry
type ConnectionState string

const (
	ConnectionStateNone       ConnectionState = ""
	ConnectionStateConnecting ConnectionState = "connecting"
	ConnectionStateConnected  ConnectionState = "connected"
	ConnectionStateFailed     ConnectionState = "failed"
	ConnectionStateClosed     ConnectionState = "closed"
)

// JoinOptions are the immutable parameters of one join. Changing the input
// device means joining again with new options.
type JoinOptions struct {
	ProductionID             string `json:"productionId"`
	LineID                   string `json:"lineId"`
	Username                 string `json:"username"`
	AudioInput               string `json:"audioinput"`
	AudioOutput              string `json:"audiooutput"`
	IsProgramUser            bool   `json:"isProgramUser"`
	LineUsedForProgramOutput bool   `json:"lineUsedForProgramOutput"`
}

// Hotkeys are the key bindings of one call. GlobalMuteHotkey holds the same
// value in every call.
type Hotkeys struct {
	MuteHotkey           string `json:"muteHotkey"`
	SpeakerHotkey        string `json:"speakerHotkey"`
	PushToTalkHotkey     string `json:"pushToTalkHotkey"`
	IncreaseVolumeHotkey string `json:"increaseVolumeHotkey"`
	DecreaseVolumeHotkey string `json:"decreaseVolumeHotkey"`
	GlobalMuteHotkey     string `json:"globalMuteHotkey"`
}

// DefaultHotkeys returns the bindings a new call starts with
func DefaultHotkeys() Hotkeys {
	return Hotkeys{
		MuteHotkey:           "m",
		SpeakerHotkey:        "n",
		PushToTalkHotkey:     "t",
		IncreaseVolumeHotkey: "u",
		DecreaseVolumeHotkey: "d",
		GlobalMuteHotkey:     "p",
	}
}

// Call is one joined line as held by the registry
type Call struct {
	ID                       string              `json:"id"`
	JoinProductionOptions    *JoinOptions        `json:"joinProductionOptions"`
	AudioOutput              string              `json:"audiooutput"`
	MediaStreamInput         devices.MediaStream `json:"-"`
	ConnectionState          ConnectionState     `json:"connectionState"`
	SessionID                string              `json:"sessionId"`
	AudioElements            []devices.AudioSink `json:"-"`
	DominantSpeaker          string              `json:"dominantSpeaker"`
	AudioLevelAboveThreshold bool                `json:"audioLevelAboveThreshold"`
	DataChannel              *webrtc.DataChannel `json:"-"`
	IsRemotelyMuted          bool                `json:"isRemotelyMuted"`
	Hotkeys                  Hotkeys             `json:"hotkeys"`
	InputMuted               bool                `json:"inputMuted"`
	OutputMuted              bool                `json:"outputMuted"`
	Volume                   float64             `json:"volume"`
	Error                    string              `json:"error,omitempty"`
}

// clone copies c so that slices and options are not shared
func (c Call) clone() Call {
	if c.JoinProductionOptions != nil {
		opts := *c.JoinProductionOptions
		c.JoinProductionOptions = &opts
	}
	if c.AudioElements != nil {
		c.AudioElements = append([]devices.AudioSink(nil), c.AudioElements...)
	}
	return c
}

// Severity classifies a reported error
type Severity int

const (
	// SeverityTransient errors are logged where they occur and never stored
	SeverityTransient Severity = iota
	// SeveritySession errors fail one call and leave every other call untouched
	SeveritySession
	// SeverityBanner errors are shown until dismissed
	SeverityBanner
	// SeverityGlobal errors block the whole client
	SeverityGlobal
)

func (s Severity) String() string {
	switch s {
	case SeverityTransient:
		return "transient"
	case SeveritySession:
		return "session"
	case SeverityBanner:
		return "banner"
	case SeverityGlobal:
		return "global"
	default:
		return "unknown"
	}
}

// AppError is one dismissible banner entry
type AppError struct {
	ID       string   `json:"id"`
	CallID   string   `json:"callId,omitempty"`
	Message  string   `json:"message"`
	Severity Severity `json:"severity"`
}

// Sender writes a JSON message on the status channel
type Sender interface {
	Send(v interface{}) error
}

// State is the whole registry
type State struct {
	Calls                map[string]Call     `json:"calls"`
	GlobalMute           bool                `json:"globalMute"`
	SelectedProductionID string              `json:"selectedProductionId"`
	UserSettings         prefs.UserSettings  `json:"userSettings"`
	PendingJoin          *JoinOptions        `json:"pendingJoin,omitempty"`
	Websocket            Sender              `json:"-"`
	Clients              []status.ClientInfo `json:"clients"`
	IncomingCalls        []status.CallInfo   `json:"incomingCalls"`
	DirectCalls          []status.CallInfo   `json:"directCalls"`
	ActiveTalks          []status.TalkInfo   `json:"activeTalks"`
	Errors               []AppError          `json:"errors"`
	FatalError           string              `json:"fatalError,omitempty"`
}

// NewState returns an empty registry
func NewState() State {
	return State{Calls: make(map[string]Call)}
}

// Clone returns a deep copy of s
func (s State) Clone() State {
	out := s
	out.Calls = make(map[string]Call, len(s.Calls))
	for id, c := range s.Calls {
		out.Calls[id] = c.clone()
	}
	if s.PendingJoin != nil {
		p := *s.PendingJoin
		out.PendingJoin = &p
	}
	out.Clients = append([]status.ClientInfo(nil), s.Clients...)
	out.IncomingCalls = append([]status.CallInfo(nil), s.IncomingCalls...)
	out.DirectCalls = append([]status.CallInfo(nil), s.DirectCalls...)
	out.ActiveTalks = append([]status.TalkInfo(nil), s.ActiveTalks...)
	out.Errors = append([]AppError(nil), s.Errors...)
	return out
}
