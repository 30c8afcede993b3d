/* SPDX-License-Identifier: MPL-2.0
 * Copyright 2025 Tejus Pratap <tejzpr@gmail.com>
 *
 * See CONTRIBUTORS.md for full contributor list.
 */

package calling

import (
	"math"
	"sync"

	"github.com/pion/rtp"
)

// levelMonitor tracks whether any remote track is above a linear audio
// level threshold and reports crossings only.
type levelMonitor struct {
	mu        sync.Mutex
	threshold float64
	above     map[string]bool
	any       bool
	onChange  func(above bool)
}

func newLevelMonitor(threshold float64, onChange func(above bool)) *levelMonitor {
	return &levelMonitor{
		threshold: threshold,
		above:     make(map[string]bool),
		onChange:  onChange,
	}
}

// AudioLevel converts an RFC 6464 level (-dBov, 0 loudest) to [0,1]
func AudioLevel(dBov uint8) float64 {
	if dBov > 127 {
		dBov = 127
	}
	return math.Pow(10, -float64(dBov)/20)
}

// observe reads the audio level extension of pkt for trackID
func (l *levelMonitor) observe(trackID string, pkt *rtp.Packet, extID uint8) {
	if extID == 0 || pkt == nil {
		return
	}
	raw := pkt.GetExtension(extID)
	if raw == nil {
		return
	}
	var ext rtp.AudioLevelExtension
	if err := ext.Unmarshal(raw); err != nil {
		return
	}
	l.set(trackID, AudioLevel(ext.Level) > l.threshold)
}

// forget drops trackID, e.g. when its track ends
func (l *levelMonitor) forget(trackID string) {
	l.set(trackID, false)
}

func (l *levelMonitor) set(trackID string, above bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if above {
		l.above[trackID] = true
	} else {
		delete(l.above, trackID)
	}
	now := len(l.above) > 0
	if now == l.any {
		return
	}
	l.any = now
	// called under the lock so crossings are reported in order
	if l.onChange != nil {
		l.onChange(now)
	}
}
