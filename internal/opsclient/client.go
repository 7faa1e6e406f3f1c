// Package opsclient is a thin client for eventrelay's operator endpoints.
package opsclient

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

	"github.com/gyaneshwarpardhi/eventrelay/internal/event"
)

// Error is a non-2xx answer from the server.
type Error struct {
	Status    int
	Message   string
	Attempted int
}

func (e *Error) Error() string {
	if e.Attempted > 0 {
		return fmt.Sprintf("server returned %d: %s (attempted %d)", e.Status, e.Message, e.Attempted)
	}
	return fmt.Sprintf("server returned %d: %s", e.Status, e.Message)
}

type Client struct {
	base string
	http *http.Client
}

func New(baseURL string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Client{base: strings.TrimRight(baseURL, "/"), http: &http.Client{Timeout: timeout}}
}

// ListQuery mirrors the list endpoint's query parameters.
type ListQuery struct {
	Type   string
	State  string
	UserID string
	ItemID string
	From   string
	To     string
	Limit  int
	Offset int
}

type Page struct {
	Items []event.Event `json:"items"`
	Total int           `json:"total"`
}

func (c *Client) List(ctx context.Context, q ListQuery) (Page, error) {
	v := url.Values{}
	set := func(k, val string) {
		if val != "" {
			v.Set(k, val)
		}
	}
	set("type", q.Type)
	set("state", q.State)
	set("user_id", q.UserID)
	set("item_id", q.ItemID)
	set("from", q.From)
	set("to", q.To)
	if q.Limit > 0 {
		v.Set("limit", fmt.Sprint(q.Limit))
	}
	if q.Offset > 0 {
		v.Set("offset", fmt.Sprint(q.Offset))
	}
	path := "/v1/events"
	if len(v) > 0 {
		path += "?" + v.Encode()
	}
	var page Page
	err := c.do(ctx, http.MethodGet, path, nil, &page)
	return page, err
}

func (c *Client) Get(ctx context.Context, id string) (event.Event, error) {
	var ev event.Event
	err := c.do(ctx, http.MethodGet, "/v1/events/"+url.PathEscape(id), nil, &ev)
	return ev, err
}

// Flush returns how many events were forwarded.
func (c *Client) Flush(ctx context.Context) (int, error) {
	var out struct {
		Forwarded int `json:"forwarded"`
	}
	err := c.do(ctx, http.MethodPost, "/v1/events/flush", nil, &out)
	return out.Forwarded, err
}

// Retry returns how many failed events were re-forwarded.
func (c *Client) Retry(ctx context.Context) (int, error) {
	var out struct {
		Retried int `json:"retried"`
	}
	err := c.do(ctx, http.MethodPost, "/v1/events/retry", nil, &out)
	return out.Retried, err
}

// RecoverStale returns how many abandoned in_flight events were failed.
func (c *Client) RecoverStale(ctx context.Context) (int, error) {
	var out struct {
		Recovered int `json:"recovered"`
	}
	err := c.do(ctx, http.MethodPost, "/v1/events/recover-stale", nil, &out)
	return out.Recovered, err
}

// BatchDelete runs one of the batch delete actions and returns the affected count.
func (c *Client) BatchDelete(ctx context.Context, action string, ids []string) (int, error) {
	var out struct {
		Affected int `json:"affected"`
	}
	err := c.do(ctx, http.MethodPost, "/v1/events/batch-delete", map[string]any{"action": action, "ids": ids}, &out)
	return out.Affected, err
}

func (c *Client) Reload(ctx context.Context) (map[string]any, error) {
	var out map[string]any
	err := c.do(ctx, http.MethodPost, "/v1/config/reload", nil, &out)
	return out, err
}

func (c *Client) Ready(ctx context.Context) (map[string]any, error) {
	var out map[string]any
	err := c.do(ctx, http.MethodGet, "/readyz", nil, &out)
	return out, err
}

func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	var rd io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return err
		}
		rd = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.base+path, rd)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode/100 != 2 {
		var e struct {
			Error     string `json:"error"`
			Attempted int    `json:"attempted"`
		}
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4<<10))
		if json.Unmarshal(raw, &e) != nil || e.Error == "" {
			e.Error = strings.TrimSpace(string(raw))
		}
		return &Error{Status: resp.StatusCode, Message: e.Error, Attempted: e.Attempted}
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
