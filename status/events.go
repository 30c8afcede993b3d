/* SPDX-License-Identifier: MPL-2.0
 * Copyright 2025 Tejus Pratap <tejzpr@gmail.com>
 *
 * See CONTRIBUTORS.md for full contributor list.
 */

package status

import (
	"encoding/json"
	"fmt"
)

// EventType tags an inbound status message
type EventType string

// Inbound event types
const (
	EventClientList         EventType = "client_list"
	EventClientConnected    EventType = "client_connected"
	EventClientDisconnected EventType = "client_disconnected"
	EventCallIncoming       EventType = "call_incoming"
	EventCallStarted        EventType = "call_started"
	EventCallEnded          EventType = "call_ended"
	EventTalkStarted        EventType = "talk_started"
	EventTalkStopped        EventType = "talk_stopped"
	EventActiveTalks        EventType = "active_talks"

	// EventAll subscribes a handler to every event
	EventAll EventType = "*"
)

// Outbound message types
const (
	MessageTalkStart = "talk_start"
	MessageTalkStop  = "talk_stop"
)

// ClientInfo describes a connected intercom client
type ClientInfo struct {
	ClientID string `json:"clientId"`
	Name     string `json:"name"`
	Role     string `json:"role,omitempty"`
	Location string `json:"location,omitempty"`
	IsOnline bool   `json:"isOnline"`
}

// CallInfo describes a direct call between two clients
type CallInfo struct {
	CallID     string `json:"callId"`
	CallerID   string `json:"callerId"`
	CallerName string `json:"callerName,omitempty"`
	CalleeID   string `json:"calleeId"`
	CalleeName string `json:"calleeName,omitempty"`
}

// TalkInfo describes a client currently talking
type TalkInfo struct {
	ClientID  string   `json:"clientId"`
	Name      string   `json:"name,omitempty"`
	TargetIDs []string `json:"targetIds,omitempty"`
	StartedAt int64    `json:"startedAt,omitempty"`
}

// Event is one decoded status message. Only the field matching Type is set.
type Event struct {
	Type EventType `json:"type"`

	Clients     []ClientInfo `json:"clients,omitempty"`
	Client      *ClientInfo  `json:"client,omitempty"`
	Call        *CallInfo    `json:"call,omitempty"`
	Talk        *TalkInfo    `json:"talk,omitempty"`
	ActiveTalks []TalkInfo   `json:"talks,omitempty"`

	// Raw is the undecoded message
	Raw json.RawMessage `json:"-"`
}

// TalkMessage is sent to announce the start or end of push-to-talk
type TalkMessage struct {
	Type      string   `json:"type"`
	ClientID  string   `json:"clientId,omitempty"`
	TargetIDs []string `json:"targetIds,omitempty"`
}

// DecodeEvent parses a status message. Messages that are not JSON objects,
// carry no type, or lack the payload their type requires are rejected.
func DecodeEvent(data []byte) (*Event, error) {
	var event Event
	if err := json.Unmarshal(data, &event); err != nil {
		return nil, fmt.Errorf("status: decode event: %w", err)
	}
	if event.Type == "" {
		return nil, fmt.Errorf("status: event without type")
	}

	switch event.Type {
	case EventClientConnected, EventClientDisconnected:
		if event.Client == nil {
			return nil, fmt.Errorf("status: %s without client", event.Type)
		}
	case EventCallIncoming, EventCallStarted, EventCallEnded:
		if event.Call == nil {
			return nil, fmt.Errorf("status: %s without call", event.Type)
		}
	case EventTalkStarted, EventTalkStopped:
		if event.Talk == nil {
			return nil, fmt.Errorf("status: %s without talk", event.Type)
		}
	}

	event.Raw = append(json.RawMessage(nil), data...)
	return &event, nil
}
