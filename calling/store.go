/* SPDX-License-Identifier: MPL-2.0
 * Copyright 2025 Tejus Pratap <tejzpr@gmail.com>
 *
 * See CONTRIBUTORS.md for full contributor list.
 */

package calling

import (
	"sync"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// Navigator is told when the last call is gone and nothing is waiting to join
type Navigator interface {
	ReturnToLanding()
}

// NavigatorFunc adapts a function to Navigator
type NavigatorFunc func()

// ReturnToLanding implements Navigator
func (f NavigatorFunc) ReturnToLanding() { f() }

// Store owns the registry state. Dispatch is the only way to change it.
type Store struct {
	mu    sync.Mutex
	state State

	// notifyMu keeps subscriber notifications in dispatch order
	notifyMu sync.Mutex
	subs     map[int]func(State)
	nextSub  int
	subsMu   sync.Mutex

	navigator Navigator
	logger    zerolog.Logger
}

// NewStore creates a store holding an empty registry. navigator may be nil.
func NewStore(navigator Navigator, logger zerolog.Logger) *Store {
	return &Store{
		state:     NewState(),
		subs:      make(map[int]func(State)),
		navigator: navigator,
		logger:    logger.With().Str("component", "registry").Logger(),
	}
}

// Dispatch applies action. Subscribers are notified in dispatch order
// after the state is committed and must not call Dispatch themselves.
func (s *Store) Dispatch(action Action) error {
	s.mu.Lock()
	prev := s.state
	next, err := Reduce(prev, action)
	if err != nil {
		s.mu.Unlock()
		s.logger.Debug().Err(err).Msgf("rejected %T", action)
		return err
	}
	s.state = next
	snapshot := next.Clone()
	s.notifyMu.Lock()
	s.mu.Unlock()

	s.subsMu.Lock()
	subs := make([]func(State), 0, len(s.subs))
	for i := 0; i < s.nextSub; i++ {
		if fn, ok := s.subs[i]; ok {
			subs = append(subs, fn)
		}
	}
	s.subsMu.Unlock()

	for _, fn := range subs {
		fn(snapshot)
	}
	s.notifyMu.Unlock()

	if _, removing := action.(RemoveCall); removing && len(prev.Calls) > 0 &&
		len(next.Calls) == 0 && next.PendingJoin == nil && s.navigator != nil {
		s.navigator.ReturnToLanding()
	}
	return nil
}

// Snapshot returns a deep copy of the current state
func (s *Store) Snapshot() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state.Clone()
}

// Call returns a copy of one call
func (s *Store) Call(id string) (Call, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.state.Calls[id]
	if !ok {
		return Call{}, false
	}
	return c.clone(), true
}

// Subscribe registers fn for every committed state and returns an unsubscribe func
func (s *Store) Subscribe(fn func(State)) func() {
	s.subsMu.Lock()
	id := s.nextSub
	s.nextSub++
	s.subs[id] = fn
	s.subsMu.Unlock()

	return func() {
		s.subsMu.Lock()
		delete(s.subs, id)
		s.subsMu.Unlock()
	}
}

// ReportError records err with severity, tagging it with callID if set
func (s *Store) ReportError(callID string, err error, severity Severity) {
	if err == nil {
		return
	}
	ev := s.logger.Warn().Err(err).Str("severity", severity.String())
	if callID != "" {
		ev = ev.Str("callId", callID)
	}
	ev.Msg("error reported")

	_ = s.Dispatch(ReportError{
		ID:       uuid.NewString(),
		CallID:   callID,
		Message:  err.Error(),
		Severity: severity,
	})
}

// Websocket returns the live status socket, nil while disconnected
func (s *Store) Websocket() Sender {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state.Websocket
}
