/* SPDX-License-Identifier: MPL-2.0
 * Copyright 2025 Tejus Pratap <tejzpr@gmail.com>
 *
 * See CONTRIBUTORS.md for full contributor list.
 */

package calling

import (
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tejzpr/intercom-go-sdk/status"
)

type recordingNotifier struct {
	mu   sync.Mutex
	msgs []status.TalkMessage
	err  error
}

func (n *recordingNotifier) Send(v interface{}) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if msg, ok := v.(status.TalkMessage); ok {
		n.msgs = append(n.msgs, msg)
	}
	return n.err
}

func (n *recordingNotifier) types() []string {
	n.mu.Lock()
	defer n.mu.Unlock()
	out := make([]string, 0, len(n.msgs))
	for _, m := range n.msgs {
		out = append(out, m.Type)
	}
	return out
}

func TestPushToTalk_StartUnmutesImmediately(t *testing.T) {
	var calls []bool
	ptt := NewPushToTalk(func(muted bool) { calls = append(calls, muted) }, nil)

	ptt.StartTalking()

	// unmute must have happened by the time StartTalking returns
	assert.Equal(t, []bool{false}, calls)
	assert.True(t, ptt.IsTalking())
}

func TestPushToTalk_EveryStartHasOneStop(t *testing.T) {
	var calls []bool
	n := &recordingNotifier{}
	ptt := NewPushToTalk(func(muted bool) { calls = append(calls, muted) }, n)
	ptt.SetIdentity("client-1", []string{"client-2"})

	ptt.HandleLongPressStart()
	ptt.HandleLongPressStart()
	ptt.HandleLongPressEnd()
	ptt.HandleLongPressEnd()

	assert.Equal(t, []bool{false, true}, calls)
	assert.Equal(t, []string{status.MessageTalkStart, status.MessageTalkStop}, n.types())
	require.Len(t, n.msgs, 2)
	assert.Equal(t, "client-1", n.msgs[0].ClientID)
	assert.Equal(t, []string{"client-2"}, n.msgs[0].TargetIDs)
	assert.False(t, ptt.IsTalking())
}

func TestPushToTalk_StopWithoutStartDoesNothing(t *testing.T) {
	called := false
	n := &recordingNotifier{}
	ptt := NewPushToTalk(func(bool) { called = true }, n)

	ptt.StopTalking()
	ptt.HandleLongPressEnd()

	assert.False(t, called, "muteInput must not run without a prior start")
	assert.Empty(t, n.types())
}

func TestPushToTalk_NotifierErrorIsIgnored(t *testing.T) {
	var calls []bool
	ptt := NewPushToTalk(func(muted bool) { calls = append(calls, muted) }, &recordingNotifier{err: errors.New("socket closed")})

	ptt.StartTalking()
	ptt.StopTalking()
	assert.Equal(t, []bool{false, true}, calls)
}

func TestPushToTalk_OnChange(t *testing.T) {
	var changes []bool
	ptt := NewPushToTalk(func(bool) {}, nil)
	ptt.OnChange(func(talking bool) { changes = append(changes, talking) })

	ptt.StartTalking()
	ptt.StartTalking()
	ptt.StopTalking()
	assert.Equal(t, []bool{true, false}, changes)
}
