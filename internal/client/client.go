// Package client is the HTTP client the CLI uses to talk to a running
// daemon's local API.
package client

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"grimm.is/curfew/internal/api"
	"grimm.is/curfew/internal/brand"
	"grimm.is/curfew/internal/recon"
	"grimm.is/curfew/internal/state"
)

// Client talks to the daemon's API.
type Client struct {
	baseURL string
	http    *http.Client
}

// New creates a client for the given listen address ("127.0.0.1:8475").
func New(addr string) *Client {
	return &Client{
		baseURL: "http://" + addr,
		http:    &http.Client{Timeout: 10 * time.Second},
	}
}

func (c *Client) do(method, path string, body, out any) error {
	var reqBody io.Reader
	if body != nil {
		buf := &bytes.Buffer{}
		if err := json.NewEncoder(buf).Encode(body); err != nil {
			return err
		}
		reqBody = buf
	}

	req, err := http.NewRequest(method, c.baseURL+path, reqBody)
	if err != nil {
		return err
	}
	req.Header.Set("User-Agent", brand.UserAgent())
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("cannot reach daemon at %s: %w", c.baseURL, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		var apiErr api.ErrorResponse
		if json.NewDecoder(resp.Body).Decode(&apiErr) == nil && apiErr.Error != "" {
			if apiErr.Details != "" {
				return fmt.Errorf("%s: %s", apiErr.Error, apiErr.Details)
			}
			return fmt.Errorf("%s", apiErr.Error)
		}
		return fmt.Errorf("request failed: %s", resp.Status)
	}

	if out != nil {
		return json.NewDecoder(resp.Body).Decode(out)
	}
	return nil
}

// State fetches the full state snapshot and last tick report.
func (c *Client) State() (*api.StateResponse, error) {
	var resp api.StateResponse
	if err := c.do("GET", "/api/state", nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Usage fetches per-profile budget positions.
func (c *Client) Usage() (*api.UsageResponse, error) {
	var resp api.UsageResponse
	if err := c.do("GET", "/api/usage", nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Grant creates or replaces an override for a device.
func (c *Client) Grant(mac string, minutes int, reason string, block bool) (*state.Override, error) {
	var ov state.Override
	err := c.do("POST", "/api/override", api.OverrideRequest{
		MAC: mac, DurationMinutes: minutes, Reason: reason, Block: block,
	}, &ov)
	if err != nil {
		return nil, err
	}
	return &ov, nil
}

// Revoke removes a device's override.
func (c *Client) Revoke(mac string) error {
	return c.do("DELETE", "/api/override/"+mac, nil, nil)
}

// Reconcile triggers an immediate reconciliation pass.
func (c *Client) Reconcile() (*recon.TickReport, error) {
	var report recon.TickReport
	if err := c.do("POST", "/api/reconcile", nil, &report); err != nil {
		return nil, err
	}
	return &report, nil
}

// Reset zeroes usage counters for the given scope.
func (c *Client) Reset(scope string) error {
	return c.do("POST", "/api/reset", api.ResetRequest{Scope: scope}, nil)
}

// Healthy reports whether the daemon answers its health endpoint.
func (c *Client) Healthy() bool {
	return c.do("GET", "/healthz", nil, nil) == nil
}
