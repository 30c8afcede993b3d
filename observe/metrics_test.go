/* SPDX-License-Identifier: MPL-2.0
 * Copyright 2025 Tejus Pratap <tejzpr@gmail.com>
 *
 * See CONTRIBUTORS.md for full contributor list.
 */

package observe

import (
	"io"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func gatherValue(t *testing.T, reg *prometheus.Registry, name string) float64 {
	t.Helper()
	families, err := reg.Gather()
	require.NoError(t, err)
	for _, mf := range families {
		if mf.GetName() != name {
			continue
		}
		var total float64
		for _, m := range mf.GetMetric() {
			switch {
			case m.GetCounter() != nil:
				total += m.GetCounter().GetValue()
			case m.GetGauge() != nil:
				total += m.GetGauge().GetValue()
			case m.GetHistogram() != nil:
				total += float64(m.GetHistogram().GetSampleCount())
			}
		}
		return total
	}
	t.Fatalf("metric %s not found", name)
	return 0
}

func TestMetrics_Record(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg)

	m.SetCallsActive(3)
	m.SessionTransition("idle", "connecting")
	m.SessionTransition("connecting", "connected")
	m.ObserveSignaling("offer", 120*time.Millisecond)
	m.APIError("offer")
	m.SetDevices("input", 2)

	assert.Equal(t, 3.0, gatherValue(t, reg, "intercom_calls_active"))
	assert.Equal(t, 2.0, gatherValue(t, reg, "intercom_session_state_transitions_total"))
	assert.Equal(t, 1.0, gatherValue(t, reg, "intercom_signaling_duration_seconds"))
	assert.Equal(t, 1.0, gatherValue(t, reg, "intercom_api_errors_total"))
	assert.Equal(t, 2.0, gatherValue(t, reg, "intercom_devices"))
}

func TestMetrics_WatchStatusChannel(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg)

	var reconnects uint64 = 4
	m.WatchStatusChannel(func() uint64 { return reconnects }, func() uint64 { return 1 })
	assert.Equal(t, 4.0, gatherValue(t, reg, "intercom_status_reconnects_total"))

	reconnects = 7
	assert.Equal(t, 7.0, gatherValue(t, reg, "intercom_status_reconnects_total"))
	assert.Equal(t, 1.0, gatherValue(t, reg, "intercom_status_dropped_messages_total"))
}

func TestMetrics_NilIsNoop(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.SetCallsActive(1)
		m.SessionTransition("a", "b")
		m.ObserveSignaling("offer", time.Second)
		m.APIError("offer")
		m.SetDevices("output", 1)
		m.WatchStatusChannel(nil, nil)
	})
}

func TestMetrics_Handler(t *testing.T) {
	m := New(nil)
	m.SetCallsActive(1)

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))

	body, err := io.ReadAll(rec.Body)
	require.NoError(t, err)
	assert.Equal(t, 200, rec.Code)
	assert.True(t, strings.Contains(string(body), "intercom_calls_active 1"))
}
