// Package workerclient is the HTTP client pipeline workers use to report
// back to the lifecycle API. It owns the worker's credential lifecycle:
// exchanging the long-lived API key for a short-lived JWT, refreshing it
// before expiry, and retrying exactly once with a fresh token when the
// server rejects a stale one.
package workerclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"
)

// refreshMargin renews the token this long before its stated expiry so a
// request never departs with a token about to lapse in flight.
const refreshMargin = 60 * time.Second

// APIError is a non-2xx response decoded from the API error envelope.
type APIError struct {
	StatusCode int
	Code       string
	Message    string
	Details    map[string]any
}

func (e *APIError) Error() string {
	return fmt.Sprintf("workerclient: api error %d %s: %s", e.StatusCode, e.Code, e.Message)
}

// IsConflict reports whether the error is a state conflict: a duplicate or
// out-of-order report whose transition another delivery already made.
// Conflicts surface as 409s (duplicate_content, address_mismatch) or as 400
// invalid_status when the conditional write found the entity already moved.
// Consumers ack the message on conflicts: the work was already done.
func (e *APIError) IsConflict() bool {
	if e.StatusCode == http.StatusConflict {
		return true
	}
	return e.StatusCode == http.StatusBadRequest &&
		(e.Code == "invalid_status" || e.Code == "duplicate_content")
}

// Client talks to the lifecycle API on behalf of one worker.
type Client struct {
	baseURL string
	apiKey  string
	http    *http.Client

	mu        sync.Mutex
	token     string
	expiresAt time.Time
}

// New creates a client for the given API base URL and worker API key.
func New(baseURL, apiKey string) *Client {
	return &Client{
		baseURL: baseURL,
		apiKey:  apiKey,
		http:    &http.Client{Timeout: 30 * time.Second},
	}
}

type tokenResponse struct {
	Token     string `json:"token"`
	ExpiresAt string `json:"expires_at"`
}

// currentToken returns a valid token, exchanging the API key when the cached
// one is missing or inside the refresh margin.
func (c *Client) currentToken(ctx context.Context) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.token != "" && time.Now().Before(c.expiresAt.Add(-refreshMargin)) {
		return c.token, nil
	}
	return c.exchangeLocked(ctx)
}

// invalidateAndRefresh drops the cached token and exchanges again. Used after
// a 401 so clock skew against the server cannot wedge the worker.
func (c *Client) invalidateAndRefresh(ctx context.Context) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.token = ""
	return c.exchangeLocked(ctx)
}

func (c *Client) exchangeLocked(ctx context.Context) (string, error) {
	body, _ := json.Marshal(map[string]string{"api_key": c.apiKey})
	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.baseURL+"/api/worker/token", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("workerclient: create token request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return "", fmt.Errorf("workerclient: token exchange: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", decodeAPIError(resp)
	}

	var env struct {
		Data tokenResponse `json:"data"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&env); err != nil {
		return "", fmt.Errorf("workerclient: decode token response: %w", err)
	}
	expiresAt, err := time.Parse(time.RFC3339, env.Data.ExpiresAt)
	if err != nil {
		return "", fmt.Errorf("workerclient: parse token expiry: %w", err)
	}

	c.token = env.Data.Token
	c.expiresAt = expiresAt
	return c.token, nil
}

// Post sends a JSON report and decodes the data envelope into out (out may
// be nil). On a 401 the token is refreshed and the request retried exactly
// once.
func (c *Client) Post(ctx context.Context, path string, payload, out any) error {
	tok, err := c.currentToken(ctx)
	if err != nil {
		return err
	}

	err = c.do(ctx, path, tok, payload, out)
	var apiErr *APIError
	if errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusUnauthorized {
		tok, rerr := c.invalidateAndRefresh(ctx)
		if rerr != nil {
			return rerr
		}
		return c.do(ctx, path, tok, payload, out)
	}
	return err
}

func (c *Client) do(ctx context.Context, path, token string, payload, out any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("workerclient: marshal payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("workerclient: create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("workerclient: %s: %w", path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return decodeAPIError(resp)
	}
	if out == nil {
		io.Copy(io.Discard, resp.Body)
		return nil
	}

	var env struct {
		Data json.RawMessage `json:"data"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&env); err != nil {
		return fmt.Errorf("workerclient: decode response: %w", err)
	}
	if err := json.Unmarshal(env.Data, out); err != nil {
		return fmt.Errorf("workerclient: decode response data: %w", err)
	}
	return nil
}

func decodeAPIError(resp *http.Response) error {
	apiErr := &APIError{StatusCode: resp.StatusCode, Code: "unknown"}
	var env struct {
		Error struct {
			Code    string         `json:"code"`
			Message string         `json:"message"`
			Details map[string]any `json:"details"`
		} `json:"error"`
	}
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	if err := json.Unmarshal(raw, &env); err == nil && env.Error.Code != "" {
		apiErr.Code = env.Error.Code
		apiErr.Message = env.Error.Message
		apiErr.Details = env.Error.Details
	} else {
		apiErr.Message = string(raw)
	}
	return apiErr
}
