package capture

import (
	"context"
	"encoding/json"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/gyaneshwarpardhi/eventrelay/internal/event"
	"github.com/gyaneshwarpardhi/eventrelay/internal/metrics"
	"github.com/gyaneshwarpardhi/eventrelay/internal/workpool"
)

const DefaultRetryDelay = time.Second

// Identity says who is acting and where. Callers pass it explicitly on every
// Emit.
type Identity struct {
	UserID    string
	SessionID string
	Referrer  string
	Path      string
}

// Partial is what call sites know about an interaction. Everything else is
// filled in by Emit.
type Partial struct {
	ItemID    string
	Type      event.Type
	Value     *float64
	Timestamp time.Time
	Meta      map[string]any
}

// Beacon is a fire-and-forget transport that reports whether it accepted the
// payload.
type Beacon interface {
	SendBeacon(url string, body []byte) bool
}

// Poster is the fallback request transport.
type Poster interface {
	Post(ctx context.Context, url string, body []byte) error
}

// Config wires a Client.
type Config struct {
	Endpoint   string
	Beacon     Beacon
	Poster     Poster
	Sessions   SessionStore
	RetryDelay time.Duration
	Workers    int
	QueueSize  int
	Now        func() time.Time
}

// payload mirrors the create endpoint's request body.
type payload struct {
	UserID    string         `json:"userId"`
	ItemID    string         `json:"itemId,omitempty"`
	Type      event.Type     `json:"type"`
	Value     float64        `json:"value"`
	Timestamp string         `json:"timestamp"`
	Meta      map[string]any `json:"meta"`
}

// Client enriches and ships interaction events. It never reports an error to
// the caller: losing an analytics event must not break the page.
type Client struct {
	conf   Config
	pool   *workpool.Pool[[]byte]
	logger *slog.Logger
	cancel context.CancelFunc
}

func New(conf Config, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	if conf.RetryDelay <= 0 {
		conf.RetryDelay = DefaultRetryDelay
	}
	if conf.Workers <= 0 {
		conf.Workers = 1
	}
	if conf.QueueSize <= 0 {
		conf.QueueSize = 128
	}
	if conf.Sessions == nil {
		conf.Sessions = NewMemorySessionStore()
	}
	if conf.Poster == nil {
		conf.Poster = NewHTTPPoster(0)
	}
	if conf.Now == nil {
		conf.Now = time.Now
	}
	ctx, cancel := context.WithCancel(context.Background())
	c := &Client{conf: conf, logger: logger.With("component", "capture"), cancel: cancel}
	c.pool = workpool.New(ctx, conf.Workers, conf.QueueSize, c.send)
	return c
}

// Emit enriches p and queues it for delivery. It returns immediately.
func (c *Client) Emit(id Identity, p Partial) {
	if id.UserID == "" {
		metrics.CaptureDropped.WithLabelValues("no_user").Inc()
		return
	}
	body, err := c.build(id, p)
	if err != nil {
		metrics.CaptureDropped.WithLabelValues("invalid").Inc()
		c.logger.Warn("dropping event that violates the ingest contract", "user_id", id.UserID, "err", err)
		return
	}
	if !c.pool.Submit(body) {
		metrics.CaptureDropped.WithLabelValues("queue_full").Inc()
		c.logger.Warn("capture queue full, event dropped", "user_id", id.UserID)
	}
	metrics.PoolUtilization.WithLabelValues("capture").Set(c.pool.Utilization())
}

func (c *Client) build(id Identity, p Partial) ([]byte, error) {
	ts := p.Timestamp
	if ts.IsZero() {
		ts = c.conf.Now()
	}
	typ := p.Type
	if typ == "" {
		typ = event.TypeView
	}
	value := 1.0
	if p.Value != nil {
		value = *p.Value
	}

	meta := make(map[string]any, len(p.Meta)+3)
	for k, v := range p.Meta {
		meta[k] = v
	}
	if _, ok := meta["sessionId"]; !ok {
		meta["sessionId"] = c.sessionID(id)
	}
	if !nonEmpty(meta["requestId"]) {
		if bandit := meta["banditRequestId"]; nonEmpty(bandit) {
			meta["requestId"] = bandit
		} else {
			meta["requestId"] = uuid.NewString()
		}
	}
	if _, ok := meta["referrer"]; !ok {
		ref := id.Referrer
		if ref == "" {
			ref = id.Path
		}
		if ref != "" {
			meta["referrer"] = ref
		}
	}

	w := event.Wire{
		UserID: id.UserID,
		ItemID: p.ItemID,
		Type:   typ.Code(),
		Value:  value,
		TS:     ts.UTC().Format(time.RFC3339Nano),
		Meta:   meta,
	}
	if err := w.Validate(false); err != nil {
		return nil, err
	}
	return json.Marshal(payload{
		UserID:    id.UserID,
		ItemID:    p.ItemID,
		Type:      typ,
		Value:     value,
		Timestamp: w.TS,
		Meta:      meta,
	})
}

func (c *Client) sessionID(id Identity) string {
	if id.SessionID != "" {
		return id.SessionID
	}
	if sid, ok := c.conf.Sessions.SessionID(id.UserID); ok {
		return sid
	}
	sid := uuid.NewString()
	c.conf.Sessions.SetSessionID(id.UserID, sid)
	return sid
}

// send prefers the beacon; otherwise it posts, retrying exactly once after
// RetryDelay.
func (c *Client) send(ctx context.Context, body []byte) {
	if c.conf.Beacon != nil && c.conf.Beacon.SendBeacon(c.conf.Endpoint, body) {
		return
	}
	err := c.conf.Poster.Post(ctx, c.conf.Endpoint, body)
	if err == nil {
		return
	}
	c.logger.Debug("capture post failed, retrying once", "err", err)

	t := time.NewTimer(c.conf.RetryDelay)
	select {
	case <-t.C:
	case <-ctx.Done():
		t.Stop()
		metrics.CaptureDropped.WithLabelValues("transport").Inc()
		return
	}
	if err := c.conf.Poster.Post(ctx, c.conf.Endpoint, body); err != nil {
		metrics.CaptureDropped.WithLabelValues("transport").Inc()
		c.logger.Warn("capture post failed after retry, event dropped", "err", err)
	}
}

// Close flushes queued events and stops the workers.
func (c *Client) Close() {
	c.pool.Drain()
	c.cancel()
}

func nonEmpty(v any) bool {
	s, ok := v.(string)
	return ok && strings.TrimSpace(s) != ""
}
