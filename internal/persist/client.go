package persist

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

const maxResponseBytes = 4 << 20

// Client is a Syncer backed by the form API served by cmd/api.
type Client struct {
	baseURL    string
	token      string
	httpClient *http.Client
}

// NewClient returns a client for the API rooted at baseURL. token is sent as
// a bearer token when non-empty.
func NewClient(baseURL, token string) *Client {
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		token:      token,
		httpClient: &http.Client{Timeout: 15 * time.Second},
	}
}

// WithHTTPClient swaps the underlying HTTP client.
func (c *Client) WithHTTPClient(hc *http.Client) *Client {
	c.httpClient = hc
	return c
}

type apiError struct {
	Code    string `json:"code"`
	Error   string `json:"error"`
	Success *bool  `json:"success"`
}

func (c *Client) formURL(user, formKey string) string {
	return fmt.Sprintf("%s/api/users/%s/forms/%s", c.baseURL, url.PathEscape(user), url.PathEscape(formKey))
}

// Sync uploads payload. Transport and server failures are reported through
// the result, never as a panic or error value.
func (c *Client) Sync(ctx context.Context, user, formKey string, payload []byte) SyncResult {
	req, err := http.NewRequestWithContext(ctx, http.MethodPut, c.formURL(user, formKey), bytes.NewReader(payload))
	if err != nil {
		return SyncResult{Error: err.Error()}
	}
	req.Header.Set("Content-Type", "application/json")
	c.authorize(req)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return SyncResult{Error: err.Error()}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return SyncResult{Error: fmt.Sprintf("read response: %v", err)}
	}

	var result SyncResult
	if err := json.Unmarshal(body, &result); err != nil {
		return SyncResult{Error: fmt.Sprintf("unexpected response (%d)", resp.StatusCode)}
	}
	if resp.StatusCode >= 300 && result.Success {
		result.Success = false
	}
	if !result.Success && result.Error == "" {
		result.Error = http.StatusText(resp.StatusCode)
	}
	return result
}

// Fetch downloads the saved payload, or ErrAbsent when the server has none.
func (c *Client) Fetch(ctx context.Context, user, formKey string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.formURL(user, formKey), nil)
	if err != nil {
		return nil, fmt.Errorf("fetch %s: %w", formKey, err)
	}
	req.Header.Set("Accept", "application/json")
	c.authorize(req)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch %s: %w", formKey, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, fmt.Errorf("fetch %s: read body: %w", formKey, err)
	}

	switch {
	case resp.StatusCode == http.StatusNotFound:
		var apiErr apiError
		if json.Unmarshal(body, &apiErr) == nil && apiErr.Code == "UNKNOWN_FORM" {
			return nil, fmt.Errorf("fetch %s: %s", formKey, apiErr.Error)
		}
		return nil, ErrAbsent
	case resp.StatusCode >= 300:
		var apiErr apiError
		if json.Unmarshal(body, &apiErr) == nil && apiErr.Error != "" {
			return nil, fmt.Errorf("fetch %s: %s (%d)", formKey, apiErr.Error, resp.StatusCode)
		}
		return nil, fmt.Errorf("fetch %s: unexpected status %d", formKey, resp.StatusCode)
	}
	return body, nil
}

func (c *Client) authorize(req *http.Request) {
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
}
