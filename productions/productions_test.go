/* SPDX-License-Identifier: MPL-2.0
 * Copyright 2025 Tejus Pratap <tejzpr@gmail.com>
 *
 * See CONTRIBUTORS.md for full contributor list.
 */

package productions

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/tejzpr/intercom-go-sdk/intercomsdk"
)

func newTestClient(t *testing.T, server *httptest.Server) *Client {
	t.Helper()
	logger := zerolog.Nop()
	core, err := intercomsdk.NewClient("test-token", &intercomsdk.Config{
		BaseURL:    server.URL,
		APIVersion: "api/v1",
		Timeout:    5 * time.Second,
		HttpClient: server.Client(),
		Logger:     &logger,
	})
	if err != nil {
		t.Fatalf("Failed to create client: %v", err)
	}
	return New(core, nil)
}

func TestCreate(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/v1/production/" {
			t.Errorf("Expected path '/api/v1/production/', got '%s'", r.URL.Path)
		}
		if r.Method != http.MethodPost {
			t.Errorf("Expected method POST, got %s", r.Method)
		}

		var p NewProduction
		if err := json.NewDecoder(r.Body).Decode(&p); err != nil {
			t.Errorf("Failed to decode request body: %v", err)
		}
		if p.Name != "Evening News" {
			t.Errorf("Expected name 'Evening News', got '%s'", p.Name)
		}
		if len(p.Lines) != 2 {
			t.Errorf("Expected 2 lines, got %d", len(p.Lines))
		}

		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(Production{
			ProductionID: "1",
			Name:         p.Name,
			Lines: []Line{
				{ID: "1", Name: p.Lines[0].Name},
				{ID: "2", Name: p.Lines[1].Name, ProgramOutputLine: true},
			},
		})
	}))
	defer server.Close()

	client := newTestClient(t, server)
	result, err := client.Create(context.Background(), &NewProduction{
		Name:  "Evening News",
		Lines: []NewLine{{Name: "Director"}, {Name: "Program", ProgramOutputLine: true}},
	})
	if err != nil {
		t.Fatalf("Failed to create production: %v", err)
	}
	if result.ProductionID != "1" {
		t.Errorf("Expected productionId '1', got '%s'", result.ProductionID)
	}
	if !result.Lines[1].ProgramOutputLine {
		t.Error("Expected second line to be a program output line")
	}
}

func TestCreate_Validation(t *testing.T) {
	client := &Client{config: DefaultConfig()}

	if _, err := client.Create(context.Background(), &NewProduction{Name: "  "}); err == nil {
		t.Error("Expected error for blank name")
	}
	_, err := client.Create(context.Background(), &NewProduction{
		Name:  "Show",
		Lines: []NewLine{{Name: "Host Line"}, {Name: "host line "}},
	})
	if err == nil {
		t.Error("Expected error for duplicate line names")
	}
}

func TestGet(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/v1/production/42" {
			t.Errorf("Expected path '/api/v1/production/42', got '%s'", r.URL.Path)
		}
		if r.Header.Get("Authorization") != "Bearer test-token" {
			t.Errorf("Expected bearer token, got '%s'", r.Header.Get("Authorization"))
		}
		_ = json.NewEncoder(w).Encode(Production{
			ProductionID: "42",
			Name:         "Match",
			Lines: []Line{{
				ID:   "1",
				Name: "Commentary",
				Participants: []Participant{
					{Name: "alice", SessionID: "s1", EndpointID: "e1", IsActive: true},
					{Name: "encoder", SessionID: "s2", EndpointID: "e2", IsActive: true, IsWhip: true},
				},
			}},
		})
	}))
	defer server.Close()

	client := newTestClient(t, server)
	production, err := client.Get(context.Background(), "42")
	if err != nil {
		t.Fatalf("Failed to get production: %v", err)
	}
	if len(production.Lines[0].Participants) != 2 {
		t.Fatalf("Expected 2 participants, got %d", len(production.Lines[0].Participants))
	}
	if !production.Lines[0].Participants[1].IsWhip {
		t.Error("Expected second participant to be WHIP")
	}

	if _, err := client.Get(context.Background(), ""); err == nil {
		t.Error("Expected error for empty productionID")
	}
}

func TestGet_NotFound(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		_, _ = w.Write([]byte(`{"message":"production not found"}`))
	}))
	defer server.Close()

	client := newTestClient(t, server)
	_, err := client.Get(context.Background(), "missing")
	if !intercomsdk.IsNotFound(err) {
		t.Errorf("Expected not found error, got %v", err)
	}
}

func TestList(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/v1/productionlist" {
			t.Errorf("Expected path '/api/v1/productionlist', got '%s'", r.URL.Path)
		}
		q := r.URL.Query()
		if q.Get("offset") != "10" {
			t.Errorf("Expected offset 10, got '%s'", q.Get("offset"))
		}
		if q.Get("limit") != "50" {
			t.Errorf("Expected default limit 50, got '%s'", q.Get("limit"))
		}
		_ = json.NewEncoder(w).Encode(ProductionList{
			Productions: []Production{{ProductionID: "11", Name: "A"}},
			Offset:      10,
			Limit:       50,
			TotalItems:  11,
		})
	}))
	defer server.Close()

	client := newTestClient(t, server)
	page, err := client.List(context.Background(), 10, 0)
	if err != nil {
		t.Fatalf("Failed to list productions: %v", err)
	}
	if page.TotalItems != 11 {
		t.Errorf("Expected totalItems 11, got %d", page.TotalItems)
	}
	if page.HasMore() {
		t.Error("Expected last page")
	}
}

func TestListAll(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Query().Get("offset") {
		case "0":
			_ = json.NewEncoder(w).Encode(ProductionList{
				Productions: []Production{{ProductionID: "1"}, {ProductionID: "2"}},
				Offset:      0, Limit: 2, TotalItems: 3,
			})
		case "2":
			_ = json.NewEncoder(w).Encode(ProductionList{
				Productions: []Production{{ProductionID: "3"}},
				Offset:      2, Limit: 2, TotalItems: 3,
			})
		default:
			t.Errorf("Unexpected offset %s", r.URL.Query().Get("offset"))
		}
	}))
	defer server.Close()

	client := newTestClient(t, server)
	all, err := client.ListAll(context.Background())
	if err != nil {
		t.Fatalf("Failed to list all: %v", err)
	}
	if len(all) != 3 {
		t.Errorf("Expected 3 productions, got %d", len(all))
	}
}

func TestUpdateAndDelete(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.Method == http.MethodPatch && r.URL.Path == "/api/v1/production/7":
			var body map[string]string
			_ = json.NewDecoder(r.Body).Decode(&body)
			_ = json.NewEncoder(w).Encode(Production{ProductionID: "7", Name: body["name"]})
		case r.Method == http.MethodPatch && r.URL.Path == "/api/v1/production/7/line/3":
			var body map[string]string
			_ = json.NewDecoder(r.Body).Decode(&body)
			_ = json.NewEncoder(w).Encode(Line{ID: "3", Name: body["name"]})
		case r.Method == http.MethodDelete && r.URL.Path == "/api/v1/production/7/line/3":
			w.WriteHeader(http.StatusNoContent)
		case r.Method == http.MethodDelete && r.URL.Path == "/api/v1/production/7":
			w.WriteHeader(http.StatusNoContent)
		default:
			t.Errorf("Unexpected request %s %s", r.Method, r.URL.Path)
			w.WriteHeader(http.StatusBadRequest)
		}
	}))
	defer server.Close()

	client := newTestClient(t, server)
	ctx := context.Background()

	p, err := client.Update(ctx, "7", "Renamed")
	if err != nil || p.Name != "Renamed" {
		t.Errorf("Update: got %+v, %v", p, err)
	}
	l, err := client.UpdateLine(ctx, "7", "3", "Cam 3")
	if err != nil || l.Name != "Cam 3" {
		t.Errorf("UpdateLine: got %+v, %v", l, err)
	}
	if err := client.DeleteLine(ctx, "7", "3"); err != nil {
		t.Errorf("DeleteLine: %v", err)
	}
	if err := client.Delete(ctx, "7"); err != nil {
		t.Errorf("Delete: %v", err)
	}
}

func TestAddLine(t *testing.T) {
	requests := 0
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requests++
		if r.URL.Path != "/api/v1/production/7/line" {
			t.Errorf("Expected path '/api/v1/production/7/line', got '%s'", r.URL.Path)
		}
		var body NewLine
		_ = json.NewDecoder(r.Body).Decode(&body)
		_ = json.NewEncoder(w).Encode(Line{ID: "9", Name: body.Name})
	}))
	defer server.Close()

	client := newTestClient(t, server)
	existing := []Line{{ID: "1", Name: "Host Line"}}

	if _, err := client.AddLine(context.Background(), "7", NewLine{Name: " host LINE"}, existing); err == nil {
		t.Error("Expected duplicate line name to be rejected")
	}
	if requests != 0 {
		t.Errorf("Expected no request for a duplicate, got %d", requests)
	}

	line, err := client.AddLine(context.Background(), "7", NewLine{Name: "Guest Line"}, existing)
	if err != nil {
		t.Fatalf("Failed to add line: %v", err)
	}
	if line.ID != "9" {
		t.Errorf("Expected id '9', got '%s'", line.ID)
	}
}

func TestShareAndHeartbeat(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/api/v1/share":
			var body map[string]string
			_ = json.NewDecoder(r.Body).Decode(&body)
			if body["path"] != "/production-calls/production/1/line/2" {
				t.Errorf("Unexpected share path %q", body["path"])
			}
			_ = json.NewEncoder(w).Encode(ShareResponse{URL: "https://intercom.example.com/s/abc"})
		case "/api/v1/heartbeat/sess-1":
			w.Header().Set("Content-Type", "text/plain")
			_, _ = w.Write([]byte("OK"))
		case "/api/v1/heartbeat/gone":
			w.WriteHeader(http.StatusGone)
		}
	}))
	defer server.Close()

	client := newTestClient(t, server)
	u, err := client.Share(context.Background(), "/production-calls/production/1/line/2")
	if err != nil {
		t.Fatalf("Share: %v", err)
	}
	if u != "https://intercom.example.com/s/abc" {
		t.Errorf("Unexpected share url %q", u)
	}

	if err := client.Heartbeat(context.Background(), "sess-1"); err != nil {
		t.Errorf("Heartbeat: %v", err)
	}
	if err := client.Heartbeat(context.Background(), "gone"); err == nil {
		t.Error("Expected heartbeat error for gone session")
	}
}

func TestIsDuplicateLineName(t *testing.T) {
	lines := []Line{{ID: "1", Name: "Host Line"}}

	tests := []struct {
		name string
		want bool
	}{
		{"host line ", true},
		{"  HOST LINE", true},
		{"Host Line", true},
		{"Guest Line", false},
		{"HostLine", false},
	}
	for _, tt := range tests {
		if got := IsDuplicateLineName(lines, tt.name); got != tt.want {
			t.Errorf("IsDuplicateLineName(%q) = %v, want %v", tt.name, got, tt.want)
		}
	}
	if IsDuplicateLineName(nil, "anything") {
		t.Error("Expected no duplicate against an empty list")
	}
}
