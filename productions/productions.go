/* SPDX-License-Identifier: MPL-2.0
 * Copyright 2025 Tejus Pratap <tejzpr@gmail.com>
 *
 * See CONTRIBUTORS.md for full contributor list.
 */

package productions

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/tejzpr/intercom-go-sdk/intercomsdk"
)

// Participant is a member of a line
type Participant struct {
	Name       string `json:"name"`
	SessionID  string `json:"sessionId"`
	EndpointID string `json:"endpointId"`
	IsActive   bool   `json:"isActive"`
	// IsWhip marks an ingest-only participant that cannot be muted interactively
	IsWhip bool `json:"isWhip,omitempty"`
}

// Line is a logical audio channel within a production
type Line struct {
	ID                string        `json:"id"`
	Name              string        `json:"name"`
	SMBConferenceID   string        `json:"smbConferenceId,omitempty"`
	Participants      []Participant `json:"participants,omitempty"`
	ProgramOutputLine bool          `json:"programOutputLine,omitempty"`
}

// Production is a named collection of lines
type Production struct {
	ProductionID string `json:"productionId"`
	Name         string `json:"name"`
	Lines        []Line `json:"lines"`
}

// NewLine describes a line to create
type NewLine struct {
	Name              string `json:"name"`
	ProgramOutputLine bool   `json:"programOutputLine,omitempty"`
}

// NewProduction describes a production to create along with its initial lines
type NewProduction struct {
	Name  string    `json:"name"`
	Lines []NewLine `json:"lines"`
}

// ProductionList is one page of productions
type ProductionList struct {
	Productions []Production `json:"productions"`
	Offset      int          `json:"offset"`
	Limit       int          `json:"limit"`
	TotalItems  int          `json:"totalItems"`
}

// HasMore reports whether further pages exist after this one
func (l *ProductionList) HasMore() bool {
	return l.Offset+len(l.Productions) < l.TotalItems
}

// ShareResponse carries a single-use share URL
type ShareResponse struct {
	URL string `json:"url"`
}

// Config holds the configuration for the Productions plugin
type Config struct {
	// DefaultLimit is the page size used when List is called with limit <= 0
	DefaultLimit int
}

// DefaultConfig returns the default configuration for the Productions plugin
func DefaultConfig() *Config {
	return &Config{
		DefaultLimit: 50,
	}
}

// Client is the productions API client
type Client struct {
	core   *intercomsdk.Client
	config *Config
}

// New creates a new Productions plugin
func New(core *intercomsdk.Client, config *Config) *Client {
	if config == nil {
		config = DefaultConfig()
	}

	return &Client{
		core:   core,
		config: config,
	}
}

// Name implements intercomsdk.Plugin
func (c *Client) Name() string { return "productions" }

// Create creates a production with its initial lines
func (c *Client) Create(ctx context.Context, p *NewProduction) (*Production, error) {
	if p == nil || strings.TrimSpace(p.Name) == "" {
		return nil, fmt.Errorf("name is required")
	}
	for i, l := range p.Lines {
		if strings.TrimSpace(l.Name) == "" {
			return nil, fmt.Errorf("line %d: name is required", i)
		}
		for _, other := range p.Lines[:i] {
			if SameLineName(other.Name, l.Name) {
				return nil, fmt.Errorf("line %d: duplicate line name %q", i, l.Name)
			}
		}
	}

	resp, err := c.core.Request(ctx, http.MethodPost, "production/", nil, p)
	if err != nil {
		return nil, err
	}

	var result Production
	if err := intercomsdk.ParseResponse(resp, &result); err != nil {
		return nil, err
	}

	return &result, nil
}

// Get returns a single production by ID
func (c *Client) Get(ctx context.Context, productionID string) (*Production, error) {
	if productionID == "" {
		return nil, fmt.Errorf("productionID is required")
	}

	path := fmt.Sprintf("production/%s", url.PathEscape(productionID))
	resp, err := c.core.Request(ctx, http.MethodGet, path, nil, nil)
	if err != nil {
		return nil, err
	}

	var production Production
	if err := intercomsdk.ParseResponse(resp, &production); err != nil {
		return nil, err
	}

	return &production, nil
}

// List returns one page of productions
func (c *Client) List(ctx context.Context, offset, limit int) (*ProductionList, error) {
	if offset < 0 {
		return nil, fmt.Errorf("offset must be >= 0")
	}
	if limit <= 0 {
		limit = c.config.DefaultLimit
	}

	params := url.Values{}
	params.Set("offset", strconv.Itoa(offset))
	params.Set("limit", strconv.Itoa(limit))

	resp, err := c.core.Request(ctx, http.MethodGet, "productionlist", params, nil)
	if err != nil {
		return nil, err
	}

	var page ProductionList
	if err := intercomsdk.ParseResponse(resp, &page); err != nil {
		return nil, err
	}

	return &page, nil
}

// ListAll walks every page of productions
func (c *Client) ListAll(ctx context.Context) ([]Production, error) {
	var all []Production
	offset := 0
	for {
		page, err := c.List(ctx, offset, 0)
		if err != nil {
			return nil, err
		}
		all = append(all, page.Productions...)
		if !page.HasMore() || len(page.Productions) == 0 {
			return all, nil
		}
		offset += len(page.Productions)
	}
}

// Update renames a production
func (c *Client) Update(ctx context.Context, productionID, name string) (*Production, error) {
	if productionID == "" {
		return nil, fmt.Errorf("productionID is required")
	}
	if strings.TrimSpace(name) == "" {
		return nil, fmt.Errorf("name is required")
	}

	path := fmt.Sprintf("production/%s", url.PathEscape(productionID))
	resp, err := c.core.Request(ctx, http.MethodPatch, path, nil, map[string]string{"name": name})
	if err != nil {
		return nil, err
	}

	var production Production
	if err := intercomsdk.ParseResponse(resp, &production); err != nil {
		return nil, err
	}

	return &production, nil
}

// Delete deletes a production
func (c *Client) Delete(ctx context.Context, productionID string) error {
	if productionID == "" {
		return fmt.Errorf("productionID is required")
	}

	path := fmt.Sprintf("production/%s", url.PathEscape(productionID))
	resp, err := c.core.Request(ctx, http.MethodDelete, path, nil, nil)
	if err != nil {
		return err
	}

	return intercomsdk.ParseResponse(resp, nil)
}

// AddLine adds a line to a production. existing, when non-nil, is checked
// for a line with the same name before any request is made.
func (c *Client) AddLine(ctx context.Context, productionID string, line NewLine, existing []Line) (*Line, error) {
	if productionID == "" {
		return nil, fmt.Errorf("productionID is required")
	}
	if strings.TrimSpace(line.Name) == "" {
		return nil, fmt.Errorf("name is required")
	}
	if IsDuplicateLineName(existing, line.Name) {
		return nil, fmt.Errorf("duplicate line name %q", line.Name)
	}

	path := fmt.Sprintf("production/%s/line", url.PathEscape(productionID))
	resp, err := c.core.Request(ctx, http.MethodPost, path, nil, line)
	if err != nil {
		return nil, err
	}

	var result Line
	if err := intercomsdk.ParseResponse(resp, &result); err != nil {
		return nil, err
	}

	return &result, nil
}

// GetLine returns a single line including its participants
func (c *Client) GetLine(ctx context.Context, productionID, lineID string) (*Line, error) {
	if productionID == "" || lineID == "" {
		return nil, fmt.Errorf("productionID and lineID are required")
	}

	path := fmt.Sprintf("production/%s/line/%s", url.PathEscape(productionID), url.PathEscape(lineID))
	resp, err := c.core.Request(ctx, http.MethodGet, path, nil, nil)
	if err != nil {
		return nil, err
	}

	var line Line
	if err := intercomsdk.ParseResponse(resp, &line); err != nil {
		return nil, err
	}

	return &line, nil
}

// UpdateLine renames a line
func (c *Client) UpdateLine(ctx context.Context, productionID, lineID, name string) (*Line, error) {
	if productionID == "" || lineID == "" {
		return nil, fmt.Errorf("productionID and lineID are required")
	}
	if strings.TrimSpace(name) == "" {
		return nil, fmt.Errorf("name is required")
	}

	path := fmt.Sprintf("production/%s/line/%s", url.PathEscape(productionID), url.PathEscape(lineID))
	resp, err := c.core.Request(ctx, http.MethodPatch, path, nil, map[string]string{"name": name})
	if err != nil {
		return nil, err
	}

	var line Line
	if err := intercomsdk.ParseResponse(resp, &line); err != nil {
		return nil, err
	}

	return &line, nil
}

// DeleteLine removes a line from a production
func (c *Client) DeleteLine(ctx context.Context, productionID, lineID string) error {
	if productionID == "" || lineID == "" {
		return fmt.Errorf("productionID and lineID are required")
	}

	path := fmt.Sprintf("production/%s/line/%s", url.PathEscape(productionID), url.PathEscape(lineID))
	resp, err := c.core.Request(ctx, http.MethodDelete, path, nil, nil)
	if err != nil {
		return err
	}

	return intercomsdk.ParseResponse(resp, nil)
}

// Share asks the backend for a single-use URL to the given application path
func (c *Client) Share(ctx context.Context, path string) (string, error) {
	if path == "" {
		return "", fmt.Errorf("path is required")
	}

	resp, err := c.core.Request(ctx, http.MethodPost, "share", nil, map[string]string{"path": path})
	if err != nil {
		return "", err
	}

	var result ShareResponse
	if err := intercomsdk.ParseResponse(resp, &result); err != nil {
		return "", err
	}

	return result.URL, nil
}

// Heartbeat probes the liveness of a signaling session
func (c *Client) Heartbeat(ctx context.Context, sessionID string) error {
	if sessionID == "" {
		return fmt.Errorf("sessionID is required")
	}

	resp, err := c.core.Request(ctx, http.MethodGet, "heartbeat/"+url.PathEscape(sessionID), nil, nil)
	if err != nil {
		return err
	}

	var body string
	return intercomsdk.ParseResponse(resp, &body)
}

// SameLineName compares two line names ignoring case and surrounding whitespace
func SameLineName(a, b string) bool {
	return strings.EqualFold(strings.TrimSpace(a), strings.TrimSpace(b))
}

// IsDuplicateLineName reports whether name collides with any existing line
func IsDuplicateLineName(lines []Line, name string) bool {
	for _, l := range lines {
		if SameLineName(l.Name, name) {
			return true
		}
	}
	return false
}
