// internal/widget/client.go
package widget

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

// Client speaks the session/chat protocol over HTTP. The bot runner uses it
// so Discord conversations go through the same path as the web widget.
type Client struct {
	baseURL    string
	backendKey string
	http       *http.Client
}

// NewClient returns a client for baseURL. A non-empty backendKey is sent on
// every request so the server treats the caller as a trusted relay.
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

func (c *Client) CreateSession(ctx context.Context, agentID string) (*Session, error) {
	var session Session
	if err := c.post(ctx, "/session", createSessionRequest{AgentID: agentID}, &session); err != nil {
		return nil, err
	}
	return &session, nil
}

func (c *Client) Chat(ctx context.Context, req ChatRequest) (*ChatReply, error) {
	var reply ChatReply
	if err := c.post(ctx, "/chat", req, &reply); err != nil {
		return nil, err
	}
	return &reply, nil
}

func (c *Client) post(ctx context.Context, path string, body, out interface{}) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("encode %s request: %w", path, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if c.backendKey != "" {
		req.Header.Set(middleware.BackendKeyHeader, c.backendKey)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s request: %w", path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return statusError(path, resp)
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode %s response: %w", path, err)
	}
	return nil
}

// statusError maps a protocol status back onto the service's error values.
func statusError(path string, resp *http.Response) error {
	var body struct {
		Error string `json:"error"`
	}
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	_ = json.Unmarshal(raw, &body)

	var kind error
	switch resp.StatusCode {
	case http.StatusBadRequest:
		kind = ErrInvalidInput
	case http.StatusNotFound:
		kind = ErrNotFound
	case http.StatusForbidden:
		kind = ErrSessionMismatch
	default:
		return fmt.Errorf("%s failed: status %d: %s", path, resp.StatusCode, body.Error)
	}
	return fmt.Errorf("%s failed: %w: %s", path, kind, body.Error)
}
