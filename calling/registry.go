/* SPDX-License-Identifier: MPL-2.0
 * Copyright 2025 Tejus Pratap <tejzpr@gmail.com>
 *
 * See CONTRIBUTORS.md for full contributor list.
 */

package calling

import (
	"errors"
	"fmt"

	"github.com/tejzpr/intercom-go-sdk/status"
)

var (
	// ErrDuplicateCall is returned when AddCall names an existing call
	ErrDuplicateCall = errors.New("calling: call already exists")
	// ErrUnknownCall is returned for operations on a call that does not exist
	ErrUnknownCall = errors.New("calling: unknown call")
)

// Reduce applies action to state and returns the next state. It performs no
// I/O and never modifies state in place. A rejected action returns state
// unchanged together with the reason.
func Reduce(state State, action Action) (State, error) {
	next := state

	switch a := action.(type) {
	case AddCall:
		if _, ok := state.Calls[a.ID]; ok {
			return state, fmt.Errorf("%w: %s", ErrDuplicateCall, a.ID)
		}
		c := a.Call.clone()
		c.ID = a.ID
		next.Calls = copyCalls(state.Calls)
		next.Calls[a.ID] = c

	case UpdateCall:
		c, ok := state.Calls[a.ID]
		if !ok {
			return state, nil
		}
		next.Calls = copyCalls(state.Calls)
		next.Calls[a.ID] = a.Patch.applyTo(c)

	case RemoveCall:
		if _, ok := state.Calls[a.ID]; !ok {
			return state, nil
		}
		next.Calls = copyCalls(state.Calls)
		delete(next.Calls, a.ID)

	case SelectProductionID:
		next.SelectedProductionID = a.ProductionID

	case UpdateUserSettings:
		next.UserSettings = a.Settings

	case SetWebsocket:
		next.Websocket = a.Socket

	case SetClients:
		next.Clients = append([]status.ClientInfo(nil), a.Clients...)

	case ClientConnected:
		c := a.Client
		c.IsOnline = true
		next.Clients = upsertClient(state.Clients, c)

	case ClientDisconnected:
		for i, c := range state.Clients {
			if c.ClientID == a.ClientID {
				next.Clients = append([]status.ClientInfo(nil), state.Clients...)
				next.Clients[i].IsOnline = false
				break
			}
		}
		next.ActiveTalks = removeTalk(state.ActiveTalks, a.ClientID)

	case CallIncoming:
		next.IncomingCalls = append(removeDirectCall(state.IncomingCalls, a.Call.CallID), a.Call)

	case CallStarted:
		next.IncomingCalls = removeDirectCall(state.IncomingCalls, a.Call.CallID)
		next.DirectCalls = append(removeDirectCall(state.DirectCalls, a.Call.CallID), a.Call)

	case CallEnded:
		next.IncomingCalls = removeDirectCall(state.IncomingCalls, a.CallID)
		next.DirectCalls = removeDirectCall(state.DirectCalls, a.CallID)

	case TalkStarted:
		next.ActiveTalks = append(removeTalk(state.ActiveTalks, a.Talk.ClientID), a.Talk)

	case TalkStopped:
		next.ActiveTalks = removeTalk(state.ActiveTalks, a.ClientID)

	case SetActiveTalks:
		next.ActiveTalks = append([]status.TalkInfo(nil), a.Talks...)

	case SetGlobalMute:
		next.GlobalMute = a.Muted

	case SetGlobalMuteHotkey:
		all := make(map[string]Hotkeys, len(state.Calls))
		for id, c := range state.Calls {
			all[id] = c.Hotkeys
		}
		updated := UpdateGlobalHotkey(all, a.SourceID, a.Key)
		next.Calls = copyCalls(state.Calls)
		for id, h := range updated {
			c, ok := next.Calls[id]
			if !ok {
				continue
			}
			c.Hotkeys = h
			next.Calls[id] = c
		}

	case SetPendingJoin:
		if a.Options == nil {
			next.PendingJoin = nil
		} else {
			opts := *a.Options
			next.PendingJoin = &opts
		}

	case ReportError:
		next = reduceError(state, a)

	case DismissError:
		for i, e := range state.Errors {
			if e.ID == a.ID {
				next.Errors = append(append([]AppError(nil), state.Errors[:i]...), state.Errors[i+1:]...)
				break
			}
		}

	case SetFatalError:
		next.FatalError = a.Message

	default:
		panic(fmt.Sprintf("calling: unhandled action %T", action))
	}

	return next, nil
}

func reduceError(state State, a ReportError) State {
	next := state
	switch a.Severity {
	case SeverityTransient:
		return state
	case SeverityGlobal:
		next.FatalError = a.Message
		return next
	case SeveritySession:
		if c, ok := state.Calls[a.CallID]; ok {
			c.ConnectionState = ConnectionStateFailed
			c.Error = a.Message
			next.Calls = copyCalls(state.Calls)
			next.Calls[a.CallID] = c
		}
	}

	for _, e := range state.Errors {
		if e.Message == a.Message {
			return next
		}
	}
	id := a.ID
	if id == "" {
		id = a.Message
	}
	next.Errors = append(append([]AppError(nil), state.Errors...), AppError{
		ID:       id,
		CallID:   a.CallID,
		Message:  a.Message,
		Severity: a.Severity,
	})
	return next
}

func copyCalls(calls map[string]Call) map[string]Call {
	out := make(map[string]Call, len(calls)+1)
	for id, c := range calls {
		out[id] = c
	}
	return out
}

func upsertClient(clients []status.ClientInfo, c status.ClientInfo) []status.ClientInfo {
	out := append([]status.ClientInfo(nil), clients...)
	for i := range out {
		if out[i].ClientID == c.ClientID {
			out[i] = c
			return out
		}
	}
	return append(out, c)
}

func removeTalk(talks []status.TalkInfo, clientID string) []status.TalkInfo {
	out := make([]status.TalkInfo, 0, len(talks))
	for _, t := range talks {
		if t.ClientID != clientID {
			out = append(out, t)
		}
	}
	return out
}

func removeDirectCall(calls []status.CallInfo, callID string) []status.CallInfo {
	out := make([]status.CallInfo, 0, len(calls))
	for _, c := range calls {
		if c.CallID != callID {
			out = append(out, c)
		}
	}
	return out
}
