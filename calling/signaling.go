/* SPDX-License-Identifier: MPL-2.0
 * Copyright 2025 Tejus Pratap <tejzpr@gmail.com>
 *
 * See CONTRIBUTORS.md for full contributor list.
 */

package calling

import (
	"context"
	"fmt"
	"net/http"

	"github.com/pion/sdp/v3"
	"github.com/tejzpr/intercom-go-sdk/intercomsdk"
)

// SessionOffer is the bridge's answer to a session request: its SDP offer
// and the id of the signaling session.
type SessionOffer struct {
	SessionID string `json:"sessionId"`
	SDP       string `json:"sdp"`
}

// Signaler negotiates media sessions with the backend
type Signaler interface {
	Offer(ctx context.Context, opts JoinOptions) (SessionOffer, error)
	Answer(ctx context.Context, sessionID, sdpAnswer string) error
	Delete(ctx context.Context, sessionID string) error
}

// SignalingClient implements Signaler over the session REST endpoints
type SignalingClient struct {
	core *intercomsdk.Client
}

// NewSignalingClient creates a signaling client on core
func NewSignalingClient(core *intercomsdk.Client) *SignalingClient {
	return &SignalingClient{core: core}
}

type sessionRequest struct {
	ProductionID string `json:"productionId"`
	LineID       string `json:"lineId"`
	Username     string `json:"username"`
}

type sessionAnswer struct {
	SDPAnswer string `json:"sdpAnswer"`
}

// Offer opens a session on the line described by opts and returns the
// bridge's validated SDP offer.
func (s *SignalingClient) Offer(ctx context.Context, opts JoinOptions) (SessionOffer, error) {
	var offer SessionOffer

	resp, err := s.core.Request(ctx, http.MethodPost, "session/", nil, sessionRequest{
		ProductionID: opts.ProductionID,
		LineID:       opts.LineID,
		Username:     opts.Username,
	})
	if err != nil {
		return offer, fmt.Errorf("failed to create session: %w", err)
	}
	if err := intercomsdk.ParseResponse(resp, &offer); err != nil {
		return offer, fmt.Errorf("failed to create session: %w", err)
	}

	if offer.SessionID == "" {
		return offer, fmt.Errorf("session response without sessionId")
	}
	if err := ValidateOffer(offer.SDP); err != nil {
		return offer, err
	}
	return offer, nil
}

// Answer sends the local SDP answer for sessionID
func (s *SignalingClient) Answer(ctx context.Context, sessionID, sdpAnswer string) error {
	resp, err := s.core.Request(ctx, http.MethodPatch, fmt.Sprintf("session/%s", sessionID), nil, sessionAnswer{SDPAnswer: sdpAnswer})
	if err != nil {
		return fmt.Errorf("failed to send answer: %w", err)
	}
	if err := intercomsdk.ParseResponse(resp, nil); err != nil {
		return fmt.Errorf("failed to send answer: %w", err)
	}
	return nil
}

// Delete ends sessionID on the backend
func (s *SignalingClient) Delete(ctx context.Context, sessionID string) error {
	resp, err := s.core.Request(ctx, http.MethodDelete, fmt.Sprintf("session/%s", sessionID), nil, nil)
	if err != nil {
		return fmt.Errorf("failed to delete session: %w", err)
	}
	if err := intercomsdk.ParseResponse(resp, nil); err != nil {
		return fmt.Errorf("failed to delete session: %w", err)
	}
	return nil
}

// ValidateOffer checks that raw parses as SDP and carries an audio section
func ValidateOffer(raw string) error {
	if raw == "" {
		return fmt.Errorf("empty sdp offer")
	}
	var desc sdp.SessionDescription
	if err := desc.Unmarshal([]byte(raw)); err != nil {
		return fmt.Errorf("invalid sdp offer: %w", err)
	}
	for _, md := range desc.MediaDescriptions {
		if md.MediaName.Media == "audio" {
			return nil
		}
	}
	return fmt.Errorf("sdp offer has no audio section")
}
