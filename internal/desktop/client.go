// internal/desktop/client.go

// Package desktop is the client for the remote virtual desktop provisioning
// service. The core treats its answers (stream URL, sandbox ID) as opaque
// values attached to a session.
package desktop

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	gocache "github.com/patrickmn/go-cache"

	"github.com/user/deskpilot/internal/types"
)

// Default screen size requested for new sandboxes.
var resolution = [2]int{1280, 720}

// sandboxTimeout is how long the provisioning service keeps an idle sandbox
// alive. Cached connections expire well inside that window so a stale stream
// URL is never served.
const (
	sandboxTimeout = 5 * time.Minute
	cacheTTL       = 2 * time.Minute
)

// Client talks to the provisioning API.
type Client struct {
	baseURL string
	apiKey  string
	client  *http.Client
	cache   *gocache.Cache
}

var _ types.DesktopProvider = (*Client)(nil)

// New creates a provisioning client for the given API endpoint.
func New(baseURL, apiKey string) *Client {
	return &Client{
		baseURL: baseURL,
		apiKey:  apiKey,
		client:  &http.Client{Timeout: 30 * time.Second},
		cache:   gocache.New(cacheTTL, 5*time.Minute),
	}
}

type sandboxResponse struct {
	SandboxID string `json:"sandbox_id"`
	StreamURL string `json:"stream_url"`
	Running   bool   `json:"running"`
}

// ConnectOrCreate reconnects to the given sandbox when it is still running,
// otherwise creates a fresh one. An empty sandboxID always creates.
func (c *Client) ConnectOrCreate(ctx context.Context, sandboxID types.SandboxID) (*types.Desktop, error) {
	if sandboxID != "" {
		if cached, ok := c.cache.Get(string(sandboxID)); ok {
			return cached.(*types.Desktop), nil
		}
		desktop, err := c.connect(ctx, sandboxID)
		if err == nil {
			c.cache.Set(string(desktop.SandboxID), desktop, gocache.DefaultExpiration)
			return desktop, nil
		}
		// Expired or dead sandbox: fall through to create.
	}

	desktop, err := c.create(ctx)
	if err != nil {
		return nil, err
	}
	c.cache.Set(string(desktop.SandboxID), desktop, gocache.DefaultExpiration)
	return desktop, nil
}

func (c *Client) connect(ctx context.Context, sandboxID types.SandboxID) (*types.Desktop, error) {
	var resp sandboxResponse
	err := c.do(ctx, http.MethodPost, fmt.Sprintf("/sandboxes/%s/connect", sandboxID), nil, &resp)
	if err != nil {
		return nil, err
	}
	if !resp.Running {
		return nil, fmt.Errorf("sandbox %s is not running", sandboxID)
	}
	return &types.Desktop{StreamURL: resp.StreamURL, SandboxID: types.SandboxID(resp.SandboxID)}, nil
}

func (c *Client) create(ctx context.Context) (*types.Desktop, error) {
	body := map[string]any{
		"resolution": resolution,
		"timeout_ms": sandboxTimeout.Milliseconds(),
	}
	var resp sandboxResponse
	if err := c.do(ctx, http.MethodPost, "/sandboxes", body, &resp); err != nil {
		return nil, err
	}
	return &types.Desktop{StreamURL: resp.StreamURL, SandboxID: types.SandboxID(resp.SandboxID)}, nil
}

// Terminate kills a sandbox and drops it from the cache.
func (c *Client) Terminate(ctx context.Context, sandboxID types.SandboxID) error {
	c.cache.Delete(string(sandboxID))
	return c.do(ctx, http.MethodDelete, fmt.Sprintf("/sandboxes/%s", sandboxID), nil, nil)
}

func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("X-API-Key", c.apiKey)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("provisioning request: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("provisioning API error (status %d): %s", resp.StatusCode, string(data))
	}

	if out != nil {
		if err := json.Unmarshal(data, out); err != nil {
			return fmt.Errorf("parse response: %w", err)
		}
	}
	return nil
}
