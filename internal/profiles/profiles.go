// Package profiles provides a client for the gateway's ssh_profiles
// collection. The terminal client uses it to resolve a profile ID into the
// connection details shown in the status line.
package profiles

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/websoft9/webterm/internal/credential"
)

// ErrNotFound is returned when the profile does not exist or is not visible
// to the caller.
var ErrNotFound = errors.New("profile not found")

// Profile is the public part of an ssh_profiles record. The secret is never
// returned by the gateway.
type Profile struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	Host     string `json:"host"`
	Port     int    `json:"port"`
	Username string `json:"username"`
	AuthType string `json:"auth_type"`
	Shell    string `json:"shell"`
}

// Config holds gateway connection settings.
type Config struct {
	URL        string // e.g. "http://127.0.0.1:8090"
	Collection string // defaults to "ssh_profiles"
	Timeout    time.Duration
}

// Client reads profiles through the PocketBase records API.
type Client struct {
	cfg   Config
	creds credential.Provider
	http  *http.Client
}

// NewClient creates a profiles client authenticating with creds.
func NewClient(cfg Config, creds credential.Provider) *Client {
	if cfg.Collection == "" {
		cfg.Collection = "ssh_profiles"
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	return &Client{
		cfg:   cfg,
		creds: creds,
		http: &http.Client{
			Timeout: cfg.Timeout,
		},
	}
}

// Get fetches one profile by ID.
func (c *Client) Get(ctx context.Context, id string) (Profile, error) {
	var p Profile
	if strings.TrimSpace(id) == "" {
		return p, ErrNotFound
	}

	endpoint := strings.TrimSuffix(c.cfg.URL, "/") +
		"/api/collections/" + url.PathEscape(c.cfg.Collection) +
		"/records/" + url.PathEscape(id)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return p, err
	}
	req.Header.Set("Accept", "application/json")
	if token, ok := c.creds.Current(); ok {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return p, fmt.Errorf("gateway unreachable: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return p, err
	}

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return p, fmt.Errorf("%w: %s", ErrNotFound, id)
	case resp.StatusCode != http.StatusOK:
		return p, fmt.Errorf("gateway HTTP %d: %s", resp.StatusCode, apiMessage(data))
	}

	if err := json.Unmarshal(data, &p); err != nil {
		return p, fmt.Errorf("parse profile %s: %w", id, err)
	}
	return p, nil
}

// apiMessage extracts the message of a PocketBase error body, falling back
// to the raw body.
func apiMessage(data []byte) string {
	var body struct {
		Message string `json:"message"`
	}
	if err := json.Unmarshal(data, &body); err == nil && body.Message != "" {
		return body.Message
	}
	return strings.TrimSpace(string(data))
}
