/* SPDX-License-Identifier: MPL-2.0
 * Copyright 2025 Tejus Pratap <tejzpr@gmail.com>
 *
 * See CONTRIBUTORS.md for full contributor list.
 */

package calling

import (
	"encoding/json"
	"fmt"
	"sync"
)

// ---- Session State & Event Enums ----

// SessionState represents the state of a session in the state machine
type SessionState string

const (
	SessionStateIdle       SessionState = "idle"
	SessionStateConnecting SessionState = "connecting"
	SessionStateConnected  SessionState = "connected"
	SessionStateFailed     SessionState = "failed"
	SessionStateClosed     SessionState = "closed"
)

// connectionState maps a session state onto the registry's view of it
func (s SessionState) connectionState() ConnectionState {
	switch s {
	case SessionStateConnecting:
		return ConnectionStateConnecting
	case SessionStateConnected:
		return ConnectionStateConnected
	case SessionStateFailed:
		return ConnectionStateFailed
	case SessionStateClosed:
		return ConnectionStateClosed
	default:
		return ConnectionStateNone
	}
}

// SessionEventKey identifies the type of session event
type SessionEventKey string

const (
	SessionEventConnect     SessionEventKey = "connect"
	SessionEventEstablished SessionEventKey = "established"
	SessionEventFail        SessionEventKey = "fail"
	SessionEventClose       SessionEventKey = "close"
)

// ManagerEventKey identifies events emitted by the Manager
type ManagerEventKey string

const (
	ManagerEventStateChange    ManagerEventKey = "state_change"
	ManagerEventRemoteTrack    ManagerEventKey = "remote_track"
	ManagerEventTalking        ManagerEventKey = "talking"
	ManagerEventRemotelyMuted  ManagerEventKey = "remotely_muted"
	ManagerEventDominantChange ManagerEventKey = "dominant_speaker"
)

// StateChange is the payload of ManagerEventStateChange
type StateChange struct {
	CallID string
	From   SessionState
	To     SessionState
}

// ---- Event Emitter ----

// EventHandler is a callback function for events
type EventHandler func(data interface{})

// EventEmitter provides a simple event pub/sub system
type EventEmitter struct {
	mu       sync.RWMutex
	handlers map[string][]EventHandler
}

// NewEventEmitter creates a new EventEmitter
func NewEventEmitter() *EventEmitter {
	return &EventEmitter{
		handlers: make(map[string][]EventHandler),
	}
}

// On registers an event handler for a specific event type
func (e *EventEmitter) On(event string, handler EventHandler) {
	if handler == nil {
		return
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	e.handlers[event] = append(e.handlers[event], handler)
}

// Off removes all handlers for a specific event type
func (e *EventEmitter) Off(event string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	delete(e.handlers, event)
}

// Emit fires an event, calling all registered handlers
func (e *EventEmitter) Emit(event string, data interface{}) {
	e.mu.RLock()
	handlers := make([]EventHandler, len(e.handlers[event]))
	copy(handlers, e.handlers[event])
	e.mu.RUnlock()

	for _, handler := range handlers {
		handler(data)
	}
}

// ---- Data channel messages (exchanged with the conference bridge) ----

// DataChannelMessageType identifies a data channel message
type DataChannelMessageType string

const (
	MessageDominantSpeakerChanged DataChannelMessageType = "DominantSpeakerChanged"
	MessageEndpointMessage        DataChannelMessageType = "EndpointMessage"
)

// muteParticipantValue is the payload value asking an endpoint to mute
const muteParticipantValue = "mute"

// DataChannelMessage is the envelope of every data channel message
type DataChannelMessage struct {
	Type                    DataChannelMessageType `json:"type"`
	DominantSpeakerEndpoint string                 `json:"dominantSpeakerEndpoint,omitempty"`
	To                      string                 `json:"to,omitempty"`
	From                    string                 `json:"from,omitempty"`
	Payload                 *EndpointPayload       `json:"payload,omitempty"`
}

// EndpointPayload is the body of an EndpointMessage
type EndpointPayload struct {
	MuteParticipant string `json:"muteParticipant,omitempty"`
}

// IsMuteRequest reports whether m asks the receiving endpoint to mute
func (m DataChannelMessage) IsMuteRequest() bool {
	return m.Type == MessageEndpointMessage && m.Payload != nil &&
		m.Payload.MuteParticipant == muteParticipantValue
}

// ParseDataChannelMessage decodes one data channel message
func ParseDataChannelMessage(data []byte) (DataChannelMessage, error) {
	var msg DataChannelMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return msg, fmt.Errorf("invalid data channel message: %w", err)
	}
	if msg.Type == "" {
		return msg, fmt.Errorf("data channel message without type")
	}
	return msg, nil
}

// NewMuteParticipantMessage builds the message asking endpointID to mute
func NewMuteParticipantMessage(endpointID string) DataChannelMessage {
	return DataChannelMessage{
		Type:    MessageEndpointMessage,
		To:      endpointID,
		Payload: &EndpointPayload{MuteParticipant: muteParticipantValue},
	}
}
