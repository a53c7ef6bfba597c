// internal/coordination/client.go
package coordination

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"vaste-chatbot/internal/middleware"
)

// Client is the runner side of the coordination protocol. Every call is
// bounded by the configured timeout.
type Client struct {
	baseURL    string
	backendKey string
	http       *http.Client
}

func NewClient(baseURL, backendKey string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		backendKey: backendKey,
		http:       &http.Client{Timeout: timeout},
	}
}

func (c *Client) ActiveConfigs(ctx context.Context) ([]BotConfig, error) {
	var configs []BotConfig
	if err := c.do(ctx, http.MethodGet, "/discord/bot/activeConfigs", nil, &configs); err != nil {
		return nil, err
	}
	return configs, nil
}

// Claim reports whether the lease on configID is now held by instanceID.
func (c *Client) Claim(ctx context.Context, configID, instanceID string, ttl time.Duration) (bool, error) {
	return c.lease(ctx, "/discord/bot/claim", configID, instanceID, ttl)
}

// Renew reports whether instanceID still holds the lease after extending it.
func (c *Client) Renew(ctx context.Context, configID, instanceID string, ttl time.Duration) (bool, error) {
	return c.lease(ctx, "/discord/bot/renew", configID, instanceID, ttl)
}

func (c *Client) lease(ctx context.Context, path, configID, instanceID string, ttl time.Duration) (bool, error) {
	var result LockResult
	req := LockRequest{ConfigID: configID, InstanceID: instanceID, TTLMs: ttl.Milliseconds()}
	if err := c.do(ctx, http.MethodPost, path, req, &result); err != nil {
		return false, err
	}
	return result.OK, nil
}

func (c *Client) Release(ctx context.Context, configID, instanceID string) error {
	var result ReleaseResult
	return c.do(ctx, http.MethodPost, "/discord/bot/release", ReleaseRequest{ConfigID: configID, InstanceID: instanceID}, &result)
}

func (c *Client) UpdateStatus(ctx context.Context, configID, status string, lastSeen time.Time) error {
	req := StatusRequest{ConfigID: configID, Status: status}
	if !lastSeen.IsZero() {
		ms := lastSeen.UnixMilli()
		req.LastSeen = &ms
	}
	return c.do(ctx, http.MethodPost, "/discord/bot/updateStatus", req, nil)
}

func (c *Client) do(ctx context.Context, method, path string, body, out interface{}) error {
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode %s request: %w", path, err)
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(middleware.BackendKeyHeader, c.backendKey)

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s request: %w", path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return fmt.Errorf("%s error: status %d: %s", path, resp.StatusCode, strings.TrimSpace(string(msg)))
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode %s response: %w", path, err)
	}
	return nil
}
