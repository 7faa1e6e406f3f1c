package sink

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/gyaneshwarpardhi/eventrelay/internal/event"
)

const (
	forwardPath = "/v1/ingest/batch"
	deletePath  = "/v1/events/delete"

	maxErrorBody = 4 << 10
)

// HTTPClient talks JSON to the recommendation service's batch ingest and
// delete endpoints.
type HTTPClient struct {
	baseURL string
	token   string
	http    *http.Client
}

// NewHTTPClient builds a client. timeout bounds every call, including a stuck
// remote; zero means 10s.
func NewHTTPClient(baseURL, token string, timeout time.Duration) *HTTPClient {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &HTTPClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   token,
		http:    &http.Client{Timeout: timeout},
	}
}

type forwardRequest struct {
	Events []event.Wire `json:"events"`
}

type deleteRequest struct {
	SourceEventIDs []string `json:"source_event_ids"`
}

// remoteResponse is optional; an empty 2xx body counts as success.
type remoteResponse struct {
	OK    *bool  `json:"ok"`
	Error string `json:"error"`
}

// ForwardBatch sends the whole batch in one call. It succeeds or fails as a unit.
func (c *HTTPClient) ForwardBatch(ctx context.Context, batch []event.Wire) error {
	if len(batch) == 0 {
		return nil
	}
	return c.post(ctx, "forward", forwardPath, forwardRequest{Events: batch})
}

// DeleteByIDs asks the remote to forget the given source event ids.
func (c *HTTPClient) DeleteByIDs(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	return c.post(ctx, "delete", deletePath, deleteRequest{SourceEventIDs: ids})
}

func (c *HTTPClient) post(ctx context.Context, op, path string, body any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("sink %s: encode: %w", op, err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("sink %s: build request: %w", op, err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return &TransportError{Op: op, Err: err}
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	if err != nil {
		return &TransportError{Op: op, Err: fmt.Errorf("read response: %w", err)}
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return &RejectionError{Op: op, Status: resp.StatusCode, Reason: strings.TrimSpace(string(raw))}
	}

	if len(bytes.TrimSpace(raw)) == 0 {
		return nil
	}
	var rr remoteResponse
	if err := json.Unmarshal(raw, &rr); err != nil {
		// Non-JSON 2xx bodies are accepted as success.
		return nil
	}
	if rr.OK != nil && !*rr.OK {
		reason := rr.Error
		if reason == "" {
			reason = "remote reported ok=false"
		}
		return &RejectionError{Op: op, Status: resp.StatusCode, Reason: reason}
	}
	return nil
}
