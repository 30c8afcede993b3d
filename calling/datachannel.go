/* SPDX-License-Identifier: MPL-2.0
 * Copyright 2025 Tejus Pratap <tejzpr@gmail.com>
 *
 * See CONTRIBUTORS.md for full contributor list.
 */

package calling

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/pion/webrtc/v4"
	"github.com/tejzpr/intercom-go-sdk/productions"
)

// ErrWhipParticipant is returned when muting a participant that publishes
// over WHIP; those endpoints do not listen on the data channel.
var ErrWhipParticipant = errors.New("calling: cannot mute a WHIP participant")

func (s *Session) attachDataChannel(gen uint64, dc *webrtc.DataChannel) {
	if !s.own(gen, func() { _ = dc.Close() }) {
		_ = dc.Close()
		return
	}
	s.mu.Lock()
	s.dc = dc
	s.mu.Unlock()

	s.logger.Debug().Str("label", dc.Label()).Msg("data channel opened")
	_ = s.m.store.Dispatch(UpdateCall{ID: s.id, Patch: CallPatch{DataChannel: Some(dc)}})

	dc.OnMessage(func(msg webrtc.DataChannelMessage) {
		if !s.isCurrent(gen) {
			return
		}
		s.handleDataMessage(msg.Data)
	})
}

// handleDataMessage applies one message from the bridge
func (s *Session) handleDataMessage(data []byte) {
	msg, err := ParseDataChannelMessage(data)
	if err != nil {
		s.logger.Debug().Err(err).Msg("dropped data channel message")
		return
	}

	switch {
	case msg.Type == MessageDominantSpeakerChanged:
		_ = s.m.store.Dispatch(UpdateCall{ID: s.id, Patch: CallPatch{
			DominantSpeaker: Some(msg.DominantSpeakerEndpoint),
		}})
		s.m.emitter.Emit(string(ManagerEventDominantChange), msg.DominantSpeakerEndpoint)
	case msg.IsMuteRequest():
		s.logger.Info().Str("from", msg.From).Msg("muted by remote participant")
		s.ptt.StopTalking()
		s.setInputEnabled(false)
		_ = s.m.store.Dispatch(UpdateCall{ID: s.id, Patch: CallPatch{
			InputMuted:      Some(true),
			IsRemotelyMuted: Some(true),
		}})
		s.m.emitter.Emit(string(ManagerEventRemotelyMuted), s.id)
	}
}

// muteParticipant asks p to mute its input
func (s *Session) muteParticipant(p productions.Participant) error {
	if p.IsWhip {
		return ErrWhipParticipant
	}
	if p.EndpointID == "" {
		return fmt.Errorf("participant %q has no endpoint", p.Name)
	}

	s.mu.Lock()
	dc := s.dc
	s.mu.Unlock()
	if dc == nil {
		return ErrNoDataChannel
	}

	payload, err := json.Marshal(NewMuteParticipantMessage(p.EndpointID))
	if err != nil {
		return err
	}
	if err := dc.SendText(string(payload)); err != nil {
		return fmt.Errorf("failed to send mute request: %w", err)
	}
	return nil
}
