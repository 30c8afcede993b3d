/* SPDX-License-Identifier: MPL-2.0
 * Copyright 2025 Tejus Pratap <tejzpr@gmail.com>
 *
 * See CONTRIBUTORS.md for full contributor list.
 */

package calling

import (
	"sync/atomic"

	"github.com/tejzpr/intercom-go-sdk/status"
)

// ActionForEvent maps one status event onto the registry action it implies
func ActionForEvent(event *status.Event) (Action, bool) {
	if event == nil {
		return nil, false
	}
	if (event.Type == status.EventClientConnected || event.Type == status.EventClientDisconnected) && event.Client == nil ||
		(event.Type == status.EventCallIncoming || event.Type == status.EventCallStarted || event.Type == status.EventCallEnded) && event.Call == nil ||
		(event.Type == status.EventTalkStarted || event.Type == status.EventTalkStopped) && event.Talk == nil {
		return nil, false
	}

	switch event.Type {
	case status.EventClientList:
		return SetClients{Clients: event.Clients}, true
	case status.EventClientConnected:
		return ClientConnected{Client: *event.Client}, true
	case status.EventClientDisconnected:
		return ClientDisconnected{ClientID: event.Client.ClientID}, true
	case status.EventCallIncoming:
		return CallIncoming{Call: *event.Call}, true
	case status.EventCallStarted:
		return CallStarted{Call: *event.Call}, true
	case status.EventCallEnded:
		return CallEnded{CallID: event.Call.CallID}, true
	case status.EventTalkStarted:
		return TalkStarted{Talk: *event.Talk}, true
	case status.EventTalkStopped:
		return TalkStopped{ClientID: event.Talk.ClientID}, true
	case status.EventActiveTalks:
		return SetActiveTalks{Talks: event.ActiveTalks}, true
	default:
		return nil, false
	}
}

// BindStatus feeds every event of ch into store and publishes ch as the
// registry's socket while it is open. The returned func stops the binding.
func BindStatus(ch *status.Client, store *Store) func() {
	var stopped atomic.Bool

	handler := func(event *status.Event) {
		if stopped.Load() {
			return
		}
		action, ok := ActionForEvent(event)
		if !ok {
			return
		}
		_ = store.Dispatch(action)
	}
	handlerID := ch.On(status.EventAll, handler)

	ch.OnOpen(func() {
		if !stopped.Load() {
			_ = store.Dispatch(SetWebsocket{Socket: ch})
		}
	})
	ch.OnClose(func(err error) {
		if !stopped.Load() {
			_ = store.Dispatch(SetWebsocket{Socket: nil})
		}
	})
	if ch.IsConnected() {
		_ = store.Dispatch(SetWebsocket{Socket: ch})
	}

	return func() {
		stopped.Store(true)
		ch.Off(status.EventAll, handlerID)
		_ = store.Dispatch(SetWebsocket{Socket: nil})
	}
}
