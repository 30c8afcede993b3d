/* SPDX-License-Identifier: MPL-2.0
 * Copyright 2025 Tejus Pratap <tejzpr@gmail.com>
 *
 * See CONTRIBUTORS.md for full contributor list.
 */

package productions

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// Lister is the subset of Client used by Refresher
type Lister interface {
	List(ctx context.Context, offset, limit int) (*ProductionList, error)
}

// Refresher re-lists productions on an interval and hands every fresh page
// to its subscribers. A result that arrives after a newer refresh started
// is discarded.
type Refresher struct {
	lister   Lister
	interval time.Duration
	limit    int
	logger   zerolog.Logger

	mu      sync.Mutex
	gen     uint64
	latest  *ProductionList
	subs    map[int]func(ProductionList)
	nextSub int
	onError func(error)
	cancel  context.CancelFunc
	done    chan struct{}
}

// NewRefresher creates a refresher. interval <= 0 defaults to 30 seconds.
func NewRefresher(lister Lister, interval time.Duration, limit int, logger zerolog.Logger) *Refresher {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	return &Refresher{
		lister:   lister,
		interval: interval,
		limit:    limit,
		logger:   logger.With().Str("component", "productions.refresher").Logger(),
		subs:     make(map[int]func(ProductionList)),
	}
}

// Subscribe registers fn for every applied page and returns an unsubscribe func
func (r *Refresher) Subscribe(fn func(ProductionList)) func() {
	r.mu.Lock()
	id := r.nextSub
	r.nextSub++
	r.subs[id] = fn
	r.mu.Unlock()

	return func() {
		r.mu.Lock()
		delete(r.subs, id)
		r.mu.Unlock()
	}
}

// OnError sets fn to receive every failed periodic refresh
func (r *Refresher) OnError(fn func(error)) {
	r.mu.Lock()
	r.onError = fn
	r.mu.Unlock()
}

// Latest returns the most recently applied page, or nil
func (r *Refresher) Latest() *ProductionList {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.latest
}

// Refresh lists productions once. It reports whether the result was applied.
func (r *Refresher) Refresh(ctx context.Context) (bool, error) {
	r.mu.Lock()
	r.gen++
	gen := r.gen
	r.mu.Unlock()

	page, err := r.lister.List(ctx, 0, r.limit)
	if err != nil {
		return false, err
	}

	r.mu.Lock()
	if gen != r.gen {
		r.mu.Unlock()
		return false, nil
	}
	r.latest = page
	subs := make([]func(ProductionList), 0, len(r.subs))
	for _, fn := range r.subs {
		subs = append(subs, fn)
	}
	r.mu.Unlock()

	for _, fn := range subs {
		fn(*page)
	}
	return true, nil
}

// Start refreshes immediately and then on every interval until Stop or ctx is done.
func (r *Refresher) Start(ctx context.Context) {
	r.mu.Lock()
	if r.cancel != nil {
		r.mu.Unlock()
		return
	}
	ctx, cancel := context.WithCancel(ctx)
	r.cancel = cancel
	r.done = make(chan struct{})
	done := r.done
	r.mu.Unlock()

	go func() {
		defer close(done)
		ticker := time.NewTicker(r.interval)
		defer ticker.Stop()

		for {
			if _, err := r.Refresh(ctx); err != nil && ctx.Err() == nil {
				r.logger.Warn().Err(err).Msg("production list refresh failed")
				r.mu.Lock()
				onError := r.onError
				r.mu.Unlock()
				if onError != nil {
					onError(err)
				}
			}
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
			}
		}
	}()
}

// Stop halts periodic refresh and waits for the loop to exit
func (r *Refresher) Stop() {
	r.mu.Lock()
	cancel, done := r.cancel, r.done
	r.cancel, r.done = nil, nil
	r.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	<-done
}
