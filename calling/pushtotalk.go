/* SPDX-License-Identifier: MPL-2.0
 * Copyright 2025 Tejus Pratap <tejzpr@gmail.com>
 *
 * See CONTRIBUTORS.md for full contributor list.
 */

package calling

import (
	"sync"

	"github.com/tejzpr/intercom-go-sdk/status"
)

// TalkNotifier announces talk start and stop to other clients
type TalkNotifier interface {
	Send(v interface{}) error
}

// PushToTalk unmutes input while a key or button is held. Activation is
// immediate on press; a release without a press does nothing.
type PushToTalk struct {
	mu        sync.Mutex
	talking   bool
	muteInput func(muted bool)
	notifier  TalkNotifier
	clientID  string
	targets   []string
	onChange  func(talking bool)
}

// NewPushToTalk creates a controller driving muteInput. notifier may be nil.
func NewPushToTalk(muteInput func(muted bool), notifier TalkNotifier) *PushToTalk {
	return &PushToTalk{
		muteInput: muteInput,
		notifier:  notifier,
	}
}

// SetIdentity sets the client id and targets carried by talk notifications
func (p *PushToTalk) SetIdentity(clientID string, targets []string) {
	p.mu.Lock()
	p.clientID = clientID
	p.targets = append([]string(nil), targets...)
	p.mu.Unlock()
}

// OnChange registers fn, called after every start and stop
func (p *PushToTalk) OnChange(fn func(talking bool)) {
	p.mu.Lock()
	p.onChange = fn
	p.mu.Unlock()
}

// StartTalking unmutes input. Repeated starts are ignored.
func (p *PushToTalk) StartTalking() {
	p.mu.Lock()
	if p.talking {
		p.mu.Unlock()
		return
	}
	p.talking = true
	p.mu.Unlock()

	p.muteInput(false)
	p.notify(status.MessageTalkStart, true)
}

// StopTalking mutes input again. A stop without a start is a no-op.
func (p *PushToTalk) StopTalking() {
	p.mu.Lock()
	if !p.talking {
		p.mu.Unlock()
		return
	}
	p.talking = false
	p.mu.Unlock()

	p.muteInput(true)
	p.notify(status.MessageTalkStop, false)
}

// HandleLongPressStart is the press half of a hold gesture
func (p *PushToTalk) HandleLongPressStart() {
	p.StartTalking()
}

// HandleLongPressEnd is the release half of a hold gesture
func (p *PushToTalk) HandleLongPressEnd() {
	p.StopTalking()
}

// IsTalking reports whether input is currently held open
func (p *PushToTalk) IsTalking() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.talking
}

func (p *PushToTalk) notify(msgType string, talking bool) {
	p.mu.Lock()
	notifier, onChange := p.notifier, p.onChange
	msg := status.TalkMessage{Type: msgType, ClientID: p.clientID, TargetIDs: p.targets}
	p.mu.Unlock()

	if notifier != nil {
		// best effort, the socket may be reconnecting
		_ = notifier.Send(msg)
	}
	if onChange != nil {
		onChange(talking)
	}
}
