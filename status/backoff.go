/* SPDX-License-Identifier: MPL-2.0
 * Copyright 2025 Tejus Pratap <tejzpr@gmail.com>
 *
 * See CONTRIBUTORS.md for full contributor list.
 */

package status

import (
	"sync"
	"time"
)

// Backoff yields reconnect delays that start at Initial, double on every
// call and stop growing at Max. Reset returns it to Initial.
type Backoff struct {
	Initial time.Duration
	Max     time.Duration

	mu      sync.Mutex
	current time.Duration
}

// NewBackoff returns a backoff starting at initial and capped at max
func NewBackoff(initial, max time.Duration) *Backoff {
	return &Backoff{Initial: initial, Max: max}
}

// Next returns the delay to wait before the next attempt
func (b *Backoff) Next() time.Duration {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.current == 0 {
		b.current = b.Initial
	}
	d := b.current
	b.current *= 2
	if b.current > b.Max {
		b.current = b.Max
	}
	return d
}

// Reset makes the next delay Initial again
func (b *Backoff) Reset() {
	b.mu.Lock()
	b.current = 0
	b.mu.Unlock()
}
