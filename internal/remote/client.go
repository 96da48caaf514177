// Package remote provides the default HTTP implementation of the
// remote-apply contract. The host application may substitute any other
// syncer.RemoteApplier; this client covers the common REST backend.
package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/outposthq/outpost/internal/queue"
	"github.com/outposthq/outpost/internal/record"
)

// APIError is returned when the remote service responds with a
// non-success status.
type APIError struct {
	StatusCode int
	Body       string
}

// Error implements the error interface.
func (e *APIError) Error() string {
	return fmt.Sprintf("remote returned %d: %s", e.StatusCode, e.Body)
}

// Client applies queued mutations to a REST backend:
//
//	create -> POST   {base}/v1/{collection}
//	update -> PUT    {base}/v1/{collection}/{id}
//	delete -> DELETE {base}/v1/{collection}/{id}
type Client struct {
	baseURL   string
	authToken string
	client    *http.Client
}

// NewClient creates a Client. The timeout bounds each request so a
// stalled drain item cannot hang a drain indefinitely.
func NewClient(baseURL, authToken string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &Client{
		baseURL:   baseURL,
		authToken: authToken,
		client:    &http.Client{Timeout: timeout},
	}
}

// Apply implements syncer.RemoteApplier.
func (c *Client) Apply(ctx context.Context, col record.Collection, op queue.Op, payload json.RawMessage) error {
	var method, endpoint string

	switch op {
	case queue.OpCreate:
		method = http.MethodPost
		endpoint = fmt.Sprintf("%s/v1/%s", c.baseURL, col)
	case queue.OpUpdate, queue.OpDelete:
		id, err := payloadID(payload)
		if err != nil {
			return err
		}
		endpoint = fmt.Sprintf("%s/v1/%s/%s", c.baseURL, col, url.PathEscape(id))
		if op == queue.OpUpdate {
			method = http.MethodPut
		} else {
			method = http.MethodDelete
		}
	default:
		return fmt.Errorf("unsupported operation %q", op)
	}

	var body io.Reader
	if op != queue.OpDelete {
		body = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, endpoint, body)
	if err != nil {
		return fmt.Errorf("failed to build request: %w", err)
	}
	if op != queue.OpDelete {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.authToken != "" {
		req.Header.Set("Authorization", "Bearer "+c.authToken)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return &APIError{StatusCode: resp.StatusCode, Body: string(respBody)}
	}
	return nil
}

// payloadID extracts the record id from a mutation payload.
func payloadID(payload json.RawMessage) (string, error) {
	var body struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal(payload, &body); err != nil {
		return "", fmt.Errorf("failed to parse payload: %w", err)
	}
	if body.ID == "" {
		return "", fmt.Errorf("payload has no id field")
	}
	return body.ID, nil
}
