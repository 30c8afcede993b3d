/* SPDX-License-Identifier: MPL-2.0
 * Copyright 2025 Tejus Pratap <tejzpr@gmail.com>
 *
 * See CONTRIBUTORS.md for full contributor list.
 */

package intercom

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tejzpr/intercom-go-sdk/calling"
	"github.com/tejzpr/intercom-go-sdk/devices"
	"github.com/tejzpr/intercom-go-sdk/intercomsdk"
	"github.com/tejzpr/intercom-go-sdk/observe"
	"github.com/tejzpr/intercom-go-sdk/prefs"
	"github.com/tejzpr/intercom-go-sdk/status"
)

func newBackend(t *testing.T) (*httptest.Server, *atomic.Int32) {
	t.Helper()
	return newBackendWith(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"productions":[{"productionId":"1","name":"Evening News","lines":[{"id":"1","name":"Studio"}]}],"offset":0,"limit":50,"totalItems":1}`))
	})
}

func newBackendWith(t *testing.T, productionList http.HandlerFunc) (*httptest.Server, *atomic.Int32) {
	t.Helper()
	var registrations atomic.Int32
	upgrader := websocket.Upgrader{}

	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/v1/client/register", func(w http.ResponseWriter, r *http.Request) {
		registrations.Add(1)
		var req struct {
			Username string `json:"username"`
		}
		_ = json.NewDecoder(r.Body).Decode(&req)
		if req.Username == "" {
			http.Error(w, `{"message":"username required"}`, http.StatusBadRequest)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"token":"opaque-token","clientId":"client-1"}`))
	})
	mux.HandleFunc("GET /api/v1/productionlist", productionList)
	mux.HandleFunc("GET /api/v1/ws", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("token") != "opaque-token" {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		_ = conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"client_list","clients":[{"clientId":"client-1","name":"alice","isOnline":true}]}`))
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	})

	server := httptest.NewServer(mux)
	t.Cleanup(server.Close)
	return server, &registrations
}

func newTestConfig(t *testing.T, server *httptest.Server) *Config {
	t.Helper()
	logger := zerolog.Nop()
	baseURL := "http://127.0.0.1:1"
	if server != nil {
		baseURL = server.URL
	}

	statusCfg := status.DefaultConfig()
	statusCfg.PingInterval = 0

	return &Config{
		Core: &intercomsdk.Config{
			BaseURL:    baseURL,
			APIVersion: "api/v1",
			Timeout:    5 * time.Second,
			Logger:     &logger,
		},
		Prefs:           &prefs.Config{Path: filepath.Join(t.TempDir(), "prefs.yaml")},
		Status:          statusCfg,
		RefreshInterval: time.Hour,
		Platform: devices.NewStaticPlatform(
			devices.Device{DeviceID: "mic-1", Kind: devices.KindInput, Label: "Microphone"},
			devices.Device{DeviceID: "spk-1", Kind: devices.KindOutput, Label: "Speakers"},
		),
		Metrics: observe.New(nil),
	}
}

func TestNewClientRequiresPlatform(t *testing.T) {
	if _, err := NewClient(nil); err == nil {
		t.Fatal("Expected error for nil config")
	}
	cfg := newTestConfig(t, nil)
	cfg.Platform = nil
	if _, err := NewClient(cfg); err == nil {
		t.Fatal("Expected error without a platform")
	}
}

func TestPluginsAreRegistered(t *testing.T) {
	client, err := NewClient(newTestConfig(t, nil))
	require.NoError(t, err)

	for _, name := range []string{"identity", "productions", "status", "calling"} {
		_, ok := client.Core().GetPlugin(name)
		assert.True(t, ok, "plugin %s", name)
	}
}

func TestStartWithoutUsername(t *testing.T) {
	server, registrations := newBackend(t)
	client, err := NewClient(newTestConfig(t, server))
	require.NoError(t, err)

	err = client.Start(context.Background(), "  ")
	assert.ErrorIs(t, err, ErrNoUsername)
	assert.Zero(t, registrations.Load())
}

func TestStartAndClose(t *testing.T) {
	server, registrations := newBackend(t)
	cfg := newTestConfig(t, server)
	client, err := NewClient(cfg)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, client.Start(ctx, "alice"))
	require.NoError(t, client.Start(ctx, "alice"), "second start is a no-op")
	assert.Equal(t, int32(1), registrations.Load())

	assert.True(t, client.Identity().IsAuthenticated())
	assert.Equal(t, "opaque-token", client.Core().GetAccessToken())
	assert.Equal(t, "client-1", client.Prefs().ClientID())
	assert.Equal(t, "alice", client.Prefs().UserSettings().Username)
	assert.Equal(t, "alice", client.Store().Snapshot().UserSettings.Username)

	list, loaded := client.Devices().Devices()
	require.True(t, loaded)
	assert.Len(t, list.Input, 1)
	assert.Len(t, list.Output, 1)

	require.Eventually(t, func() bool {
		s := client.Store().Snapshot()
		return len(s.Clients) == 1 && s.Websocket != nil
	}, 2*time.Second, 10*time.Millisecond)

	require.Eventually(t, func() bool {
		return client.Refresher().Latest() != nil
	}, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, "Evening News", client.Refresher().Latest().Productions[0].Name)

	require.NoError(t, client.Close(context.Background()))
	assert.Nil(t, client.Store().Websocket())
}

func TestStartFallsBackToStoredUsername(t *testing.T) {
	server, _ := newBackend(t)
	cfg := newTestConfig(t, server)

	stored, err := prefs.Open(cfg.Prefs)
	require.NoError(t, err)
	require.NoError(t, stored.SaveUserSettings(prefs.UserSettings{Username: "bob", AudioInput: "mic-1"}))

	client, err := NewClient(cfg)
	require.NoError(t, err)
	assert.Equal(t, "bob", client.Store().Snapshot().UserSettings.Username, "settings restored on creation")

	require.NoError(t, client.Start(context.Background(), ""))
	defer client.Close(context.Background())
	assert.Equal(t, "bob", client.Prefs().UserSettings().Username)
}

func TestWithDefaults(t *testing.T) {
	settings := prefs.UserSettings{Username: "alice", AudioInput: "mic-1", AudioOutput: "spk-1"}

	got := withDefaults(calling.JoinOptions{ProductionID: "1", LineID: "2"}, settings)
	assert.Equal(t, calling.JoinOptions{ProductionID: "1", LineID: "2", Username: "alice", AudioInput: "mic-1", AudioOutput: "spk-1"}, got)

	explicit := calling.JoinOptions{ProductionID: "1", LineID: "2", Username: "carol", AudioInput: "mic-2", AudioOutput: "spk-2"}
	assert.Equal(t, explicit, withDefaults(explicit, settings))
}

func TestJoinRemembersDevices(t *testing.T) {
	server, _ := newBackend(t)
	client, err := NewClient(newTestConfig(t, server))
	require.NoError(t, err)
	defer client.Close(context.Background())

	// the backend has no session endpoint, so the call fails after it is added
	id, err := client.Join(context.Background(), calling.JoinOptions{
		ProductionID: "1",
		LineID:       "1",
		Username:     "alice",
		AudioInput:   "mic-1",
		AudioOutput:  "spk-1",
	})
	require.Error(t, err)
	assert.True(t, intercomsdk.IsNotFound(err))

	assert.Equal(t, prefs.UserSettings{AudioInput: "mic-1", AudioOutput: "spk-1"}, client.Prefs().UserSettings())
	call, ok := client.Store().Call(id)
	require.True(t, ok)
	assert.Equal(t, calling.ConnectionStateFailed, call.ConnectionState)
}

func TestStartReportsFetchFailuresAsBanners(t *testing.T) {
	server, _ := newBackendWith(t, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"message":"forbidden"}`, http.StatusForbidden)
	})
	cfg := newTestConfig(t, server)
	cfg.Platform.(*devices.StaticPlatform).SetEnumerateError(errors.New("audio service unavailable"))

	client, err := NewClient(cfg)
	require.NoError(t, err)
	require.NoError(t, client.Start(context.Background(), "alice"))
	defer client.Close(context.Background())

	require.Eventually(t, func() bool {
		return len(client.Store().Snapshot().Errors) == 2
	}, 2*time.Second, 10*time.Millisecond)

	var messages []string
	for _, e := range client.Store().Snapshot().Errors {
		assert.Equal(t, calling.SeverityBanner, e.Severity)
		messages = append(messages, e.Message)
	}
	assert.Contains(t, strings.Join(messages, "\n"), "failed to list audio devices: ")
	assert.Contains(t, strings.Join(messages, "\n"), "failed to load productions: ")
	assert.Empty(t, client.Store().Snapshot().FatalError)
}
