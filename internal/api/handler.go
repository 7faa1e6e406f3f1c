package api

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/gyaneshwarpardhi/eventrelay/internal/config"
	"github.com/gyaneshwarpardhi/eventrelay/internal/delivery"
	"github.com/gyaneshwarpardhi/eventrelay/internal/event"
	"github.com/gyaneshwarpardhi/eventrelay/internal/normalize"
	"github.com/gyaneshwarpardhi/eventrelay/internal/store"
)

// EventStore is the part of the store the API serves from.
type EventStore interface {
	Create(ctx context.Context, drafts ...event.Draft) ([]event.Event, error)
	Get(ctx context.Context, id string) (event.Event, error)
	List(ctx context.Context, f store.Filter) (store.Page, error)
	CountByState(ctx context.Context) (map[event.DeliveryState]int, error)
	DeleteByIDs(ctx context.Context, ids []string) (int, error)
	DeleteByState(ctx context.Context, state event.DeliveryState) (int, error)
	Ping(ctx context.Context) error
}

// Observer sees every batch of freshly created events.
type Observer interface {
	Observe(events ...event.Event)
}

// Deps are the handler's collaborators. Hooks and Loader are optional.
type Deps struct {
	Store           EventStore
	Coordinator     *delivery.Coordinator
	Normalizer      *normalize.Normalizer
	Hooks           Observer
	Loader          *config.Loader
	MaxBodyBytes    int64
	CreatePerMinute int
	Logger          *slog.Logger
}

// Handler holds all HTTP handler dependencies.
type Handler struct {
	Deps
	mux *http.ServeMux
}

// New creates an HTTP handler and registers all routes.
func New(d Deps) http.Handler {
	if d.Logger == nil {
		d.Logger = slog.Default()
	}
	if d.Normalizer == nil {
		d.Normalizer = normalize.New(0)
	}
	if d.MaxBodyBytes <= 0 {
		d.MaxBodyBytes = 4 << 20
	}
	h := &Handler{Deps: d, mux: http.NewServeMux()}

	create := http.Handler(http.HandlerFunc(h.createEvents))
	if d.CreatePerMinute > 0 {
		create = rateLimit(d.CreatePerMinute, time.Minute)(create)
	}

	h.mux.Handle("POST /v1/events", create)
	h.mux.HandleFunc("GET /v1/events", h.listEvents)
	h.mux.HandleFunc("GET /v1/events/{id}", h.getEvent)
	h.mux.HandleFunc("POST /v1/events/flush", h.flush)
	h.mux.HandleFunc("POST /v1/events/retry", h.retry)
	h.mux.HandleFunc("POST /v1/events/recover-stale", h.recoverStale)
	h.mux.HandleFunc("POST /v1/events/batch-delete", h.batchDelete)
	h.mux.HandleFunc("POST /v1/config/reload", h.reloadConfig)
	h.mux.HandleFunc("GET /healthz", h.healthz)
	h.mux.HandleFunc("GET /readyz", h.readyz)
	h.mux.Handle("GET /metrics", promhttp.Handler())

	return loggingMiddleware(d.Logger, h.mux)
}
