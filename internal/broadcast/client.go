package broadcast

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/tinywideclouds/go-broadcast-service/pkg/dispatch"
)

// SessionHeader carries the broadcast session id on every outer batch.
const SessionHeader = "X-Broadcast-Session"

// BatchOutcome is the endpoint's own accounting for one outer batch.
// Sent is nil when the endpoint omitted it.
type BatchOutcome struct {
	Success bool `json:"success"`
	Sent    *int `json:"sent"`
	Failed  *int `json:"failed"`
	Total   *int `json:"total"`
}

// BatchPoster delivers one outer batch to the dispatch endpoint.
type BatchPoster interface {
	PostBatch(ctx context.Context, sessionID string, batch []dispatch.Payload, dryRun bool) (*BatchOutcome, error)
}

// Client posts outer batches to POST /api/notifications.
type Client struct {
	endpoint   string
	token      string
	httpClient *http.Client
}

// NewClient targets serverURL (scheme and host, optional path prefix).
// A non-empty token is sent as a bearer credential.
func NewClient(serverURL, token string, timeout time.Duration) (*Client, error) {
	base, err := url.Parse(serverURL)
	if err != nil || base.Scheme == "" || base.Host == "" {
		return nil, fmt.Errorf("invalid server url %q", serverURL)
	}
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	return &Client{
		endpoint:   strings.TrimSuffix(base.String(), "/") + "/api/notifications",
		token:      token,
		httpClient: &http.Client{Timeout: timeout},
	}, nil
}

func (c *Client) PostBatch(ctx context.Context, sessionID string, batch []dispatch.Payload, dryRun bool) (*BatchOutcome, error) {
	body, err := json.Marshal(batch)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal batch: %w", err)
	}

	target := c.endpoint + "?dryRun=" + strconv.FormatBool(dryRun)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, target, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if sessionID != "" {
		req.Header.Set(SessionHeader, sessionID)
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("dispatch request failed: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("dispatch endpoint returned %d: %s", resp.StatusCode, strings.TrimSpace(string(snippet)))
	}

	var outcome BatchOutcome
	if err := json.NewDecoder(resp.Body).Decode(&outcome); err != nil {
		return nil, fmt.Errorf("failed to decode dispatch response: %w", err)
	}
	return &outcome, nil
}
