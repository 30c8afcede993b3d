/* SPDX-License-Identifier: MPL-2.0
 * Copyright 2025 Tejus Pratap <tejzpr@gmail.com>
 *
 * See CONTRIBUTORS.md for full contributor list.
 */

package main

import (
	"encoding/json"
	"errors"
	"net/http"
	"sort"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/cors"
	"github.com/rs/zerolog"
	intercom "github.com/tejzpr/intercom-go-sdk"
	"github.com/tejzpr/intercom-go-sdk/calling"
	"github.com/tejzpr/intercom-go-sdk/intercomsdk"
	"github.com/tejzpr/intercom-go-sdk/observe"
	"github.com/tejzpr/intercom-go-sdk/productions"
)

// api is the local control surface of the daemon
type api struct {
	client  *intercom.IntercomClient
	metrics *observe.Metrics
	logger  zerolog.Logger
}

func (a *api) routes(origins []string) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(a.accessLog)

	r.Get("/calls", a.handleListCalls)
	r.Post("/calls", a.handleJoin)
	r.Route("/calls/{id}", func(r chi.Router) {
		r.Delete("/", a.handleLeave)
		r.Post("/switch", a.handleSwitch)
		r.Post("/mute", a.handleMute)
		r.Put("/volume", a.handleVolume)
		r.Post("/devices", a.handleDevices)
		r.Post("/ptt/{action}", a.handlePTT)
		r.Put("/hotkeys", a.handleHotkeys)
		r.Post("/participants/mute", a.handleMuteParticipant)
	})
	r.Post("/keys/{key}", a.handleKeyDown)
	r.Delete("/keys/{key}", a.handleKeyUp)
	r.Post("/global-mute", a.handleGlobalMute)
	r.Get("/devices", a.handleListDevices)
	r.Get("/productions", a.handleListProductions)
	r.Get("/errors", a.handleListErrors)
	r.Delete("/errors/{id}", a.handleDismissError)
	r.Method(http.MethodGet, "/metrics", a.metrics.Handler())

	return cors.New(cors.Options{
		AllowedOrigins: origins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete, http.MethodOptions},
		AllowedHeaders: []string{"Content-Type"},
	}).Handler(r)
}

func (a *api) accessLog(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		a.logger.Debug().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", ww.Status()).
			Dur("duration", time.Since(start)).
			Msg("request")
	})
}

// ---- Helper ----

func jsonResponse(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func jsonError(w http.ResponseWriter, status int, msg string) {
	jsonResponse(w, status, map[string]string{"error": msg})
}

func decode(w http.ResponseWriter, r *http.Request, v interface{}) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		jsonError(w, http.StatusBadRequest, "invalid JSON body: "+err.Error())
		return false
	}
	return true
}

// statusFor maps an SDK error onto an HTTP status
func statusFor(err error) int {
	switch {
	case errors.Is(err, calling.ErrUnknownCall), intercomsdk.IsNotFound(err):
		return http.StatusNotFound
	case errors.Is(err, calling.ErrHotkeyConflict), errors.Is(err, calling.ErrNoDataChannel):
		return http.StatusConflict
	case errors.Is(err, calling.ErrWhipParticipant), errors.Is(err, calling.ErrInvalidJoin):
		return http.StatusBadRequest
	default:
		return http.StatusBadGateway
	}
}

func writeResult(w http.ResponseWriter, err error) {
	if err != nil {
		jsonError(w, statusFor(err), err.Error())
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ---- Calls ----

func (a *api) handleListCalls(w http.ResponseWriter, r *http.Request) {
	state := a.client.Store().Snapshot()
	calls := make([]calling.Call, 0, len(state.Calls))
	for _, c := range state.Calls {
		calls = append(calls, c)
	}
	sort.Slice(calls, func(i, j int) bool { return calls[i].ID < calls[j].ID })
	jsonResponse(w, http.StatusOK, map[string]interface{}{
		"calls":      calls,
		"globalMute": state.GlobalMute,
	})
}

func (a *api) handleJoin(w http.ResponseWriter, r *http.Request) {
	var opts calling.JoinOptions
	if !decode(w, r, &opts) {
		return
	}
	id, err := a.client.Join(r.Context(), opts)
	switch {
	case err != nil && id == "":
		jsonError(w, http.StatusBadRequest, err.Error())
	case err != nil:
		jsonResponse(w, statusFor(err), map[string]string{"id": id, "error": err.Error()})
	default:
		jsonResponse(w, http.StatusCreated, map[string]string{"id": id})
	}
}

func (a *api) handleLeave(w http.ResponseWriter, r *http.Request) {
	writeResult(w, a.client.Calls().Leave(r.Context(), chi.URLParam(r, "id")))
}

func (a *api) handleSwitch(w http.ResponseWriter, r *http.Request) {
	var opts calling.JoinOptions
	if !decode(w, r, &opts) {
		return
	}
	id, err := a.client.SwitchLine(r.Context(), chi.URLParam(r, "id"), opts)
	switch {
	case err != nil && id == "":
		jsonError(w, statusFor(err), err.Error())
	case err != nil:
		jsonResponse(w, statusFor(err), map[string]string{"id": id, "error": err.Error()})
	default:
		jsonResponse(w, http.StatusCreated, map[string]string{"id": id})
	}
}

func (a *api) handleMute(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Input  *bool `json:"input"`
		Output *bool `json:"output"`
	}
	if !decode(w, r, &req) {
		return
	}
	if req.Input == nil && req.Output == nil {
		jsonError(w, http.StatusBadRequest, "input or output is required")
		return
	}

	id := chi.URLParam(r, "id")
	var err error
	if req.Input != nil {
		err = a.client.Calls().MuteInput(id, *req.Input)
	}
	if err == nil && req.Output != nil {
		err = a.client.Calls().SetOutputMuted(id, *req.Output)
	}
	writeResult(w, err)
}

func (a *api) handleVolume(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Volume float64 `json:"volume"`
	}
	if !decode(w, r, &req) {
		return
	}
	writeResult(w, a.client.Calls().SetVolume(chi.URLParam(r, "id"), req.Volume))
}

func (a *api) handleDevices(w http.ResponseWriter, r *http.Request) {
	var req struct {
		AudioInput  string `json:"audioinput"`
		AudioOutput string `json:"audiooutput"`
	}
	if !decode(w, r, &req) {
		return
	}
	writeResult(w, a.client.Calls().ChangeDevices(r.Context(), chi.URLParam(r, "id"), req.AudioInput, req.AudioOutput))
}

func (a *api) handlePTT(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	switch chi.URLParam(r, "action") {
	case "start":
		writeResult(w, a.client.Calls().StartTalking(id))
	case "stop":
		writeResult(w, a.client.Calls().StopTalking(id))
	default:
		jsonError(w, http.StatusNotFound, "unknown push-to-talk action")
	}
}

func (a *api) handleHotkeys(w http.ResponseWriter, r *http.Request) {
	var hotkeys calling.Hotkeys
	if !decode(w, r, &hotkeys) {
		return
	}
	writeResult(w, a.client.Calls().SetHotkeys(chi.URLParam(r, "id"), hotkeys))
}

func (a *api) handleMuteParticipant(w http.ResponseWriter, r *http.Request) {
	var p productions.Participant
	if !decode(w, r, &p) {
		return
	}
	writeResult(w, a.client.Calls().MuteParticipant(chi.URLParam(r, "id"), p))
}

// ---- Keys ----

func (a *api) handleKeyDown(w http.ResponseWriter, r *http.Request) {
	a.client.Calls().HandleKey(chi.URLParam(r, "key"))
	w.WriteHeader(http.StatusNoContent)
}

func (a *api) handleKeyUp(w http.ResponseWriter, r *http.Request) {
	a.client.Calls().HandleKeyUp(chi.URLParam(r, "key"))
	w.WriteHeader(http.StatusNoContent)
}

func (a *api) handleGlobalMute(w http.ResponseWriter, r *http.Request) {
	muted := a.client.Calls().ToggleGlobalMute()
	jsonResponse(w, http.StatusOK, map[string]bool{"globalMute": muted})
}

// ---- Devices, productions, errors ----

func (a *api) handleListDevices(w http.ResponseWriter, r *http.Request) {
	list, err := a.client.Devices().ListDevices(r.Context())
	if err != nil {
		jsonError(w, http.StatusServiceUnavailable, err.Error())
		return
	}
	jsonResponse(w, http.StatusOK, list)
}

func (a *api) handleListProductions(w http.ResponseWriter, r *http.Request) {
	if latest := a.client.Refresher().Latest(); latest != nil {
		jsonResponse(w, http.StatusOK, latest)
		return
	}
	page, err := a.client.Productions().List(r.Context(), 0, 0)
	if err != nil {
		jsonError(w, statusFor(err), err.Error())
		return
	}
	jsonResponse(w, http.StatusOK, page)
}

func (a *api) handleListErrors(w http.ResponseWriter, r *http.Request) {
	state := a.client.Store().Snapshot()
	jsonResponse(w, http.StatusOK, map[string]interface{}{
		"errors":     state.Errors,
		"fatalError": state.FatalError,
	})
}

func (a *api) handleDismissError(w http.ResponseWriter, r *http.Request) {
	writeResult(w, a.client.Store().Dispatch(calling.DismissError{ID: chi.URLParam(r, "id")}))
}
