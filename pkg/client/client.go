// Package client provides HTTP client functionality to communicate with a
// running streamwatch daemon over its loopback control plane.
package client

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/loykin/streamwatch/internal/advert"
	"github.com/loykin/streamwatch/internal/daemon"
	"github.com/loykin/streamwatch/internal/streamtool"
)

// Client talks to the daemon's control plane.
type Client struct {
	baseURL string
	token   string
	client  *http.Client
	logger  *slog.Logger
}

// Config holds client configuration.
type Config struct {
	BaseURL string
	Token   string
	Timeout time.Duration
	Logger  *slog.Logger // Optional logger for client operations
}

// New creates a control-plane client from explicit configuration.
func New(config Config) *Client {
	if config.Timeout == 0 {
		config.Timeout = 10 * time.Second
	}
	if config.Logger == nil {
		config.Logger = slog.Default()
	}
	return &Client{
		baseURL: config.BaseURL,
		token:   config.Token,
		logger:  config.Logger,
		client:  &http.Client{Timeout: config.Timeout},
	}
}

// FromAdvertisement builds a client by reading the daemon.json advertisement
// in stateDir; the address and bearer token come from the running daemon.
func FromAdvertisement(stateDir string, logger *slog.Logger) (*Client, error) {
	ad, err := advert.Read(stateDir)
	if err != nil {
		return nil, fmt.Errorf("no running daemon found in %s: %w", stateDir, err)
	}
	return New(Config{BaseURL: ad.BaseURL(), Token: ad.Token, Logger: logger}), nil
}

// IsReachable reports whether the daemon answers on its advertised address.
func (c *Client) IsReachable(ctx context.Context) bool {
	var st daemon.Status
	if err := c.doJSON(ctx, http.MethodGet, "/status", &st); err != nil {
		c.logger.Debug("daemon unreachable", "error", err)
		return false
	}
	return true
}

// Status fetches the daemon snapshot.
func (c *Client) Status(ctx context.Context) (daemon.Status, error) {
	var st daemon.Status
	err := c.doJSON(ctx, http.MethodGet, "/status", &st)
	return st, err
}

// Recordings lists the currently active recordings.
func (c *Client) Recordings(ctx context.Context) ([]daemon.ActiveSummary, error) {
	var out []daemon.ActiveSummary
	err := c.doJSON(ctx, http.MethodGet, "/recordings", &out)
	return out, err
}

// Probe asks the daemon to check one target right now.
func (c *Client) Probe(ctx context.Context, targetID int64) (streamtool.ProbeResult, error) {
	var res streamtool.ProbeResult
	err := c.doJSON(ctx, http.MethodPost, fmt.Sprintf("/probe/%d", targetID), &res)
	return res, err
}

// Reload asks the daemon to re-read its store-held settings.
func (c *Client) Reload(ctx context.Context) error {
	return c.doJSON(ctx, http.MethodPost, "/reload", nil)
}

// Shutdown asks the daemon to stop gracefully.
func (c *Client) Shutdown(ctx context.Context) error {
	return c.doJSON(ctx, http.MethodPost, "/shutdown", nil)
}

type errorResponse struct {
	Error string `json:"error"`
}

// doJSON performs an authenticated request and decodes the response into out
// when out is non-nil.
func (c *Client) doJSON(ctx context.Context, method, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, nil)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.token)

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("do request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		var er errorResponse
		if err := json.NewDecoder(resp.Body).Decode(&er); err != nil || er.Error == "" {
			return fmt.Errorf("HTTP %d", resp.StatusCode)
		}
		return fmt.Errorf("daemon error: %s", er.Error)
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
