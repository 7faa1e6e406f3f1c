package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/gyaneshwarpardhi/eventrelay/internal/delivery"
	"github.com/gyaneshwarpardhi/eventrelay/internal/event"
	"github.com/gyaneshwarpardhi/eventrelay/internal/metrics"
	"github.com/gyaneshwarpardhi/eventrelay/internal/normalize"
	"github.com/gyaneshwarpardhi/eventrelay/internal/store"
)

// Batch delete actions.
const (
	ActionDeleteByIDs           = "delete-by-ids"
	ActionDeleteAllPending      = "delete-all-pending"
	ActionDeleteFromRemoteByIDs = "delete-from-remote-by-ids"
)

// POST /v1/events: one object or an array, admitted all-or-nothing.
func (h *Handler) createEvents(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, h.MaxBodyBytes))
	if err != nil {
		status := http.StatusBadRequest
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			status = http.StatusRequestEntityTooLarge
		}
		writeError(w, status, fmt.Sprintf("read body: %s", err))
		return
	}
	drafts, err := h.Normalizer.Normalize(body)
	if err != nil {
		metrics.CreateRejected.Inc()
		var ve *normalize.ValidationError
		if errors.As(err, &ve) {
			writeJSON(w, http.StatusBadRequest, validationResponse{Error: ve.Error(), Index: ve.Index, Field: ve.Field})
			return
		}
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	created, err := h.Store.Create(r.Context(), drafts...)
	if err != nil {
		h.Logger.Error("create events failed", "count", len(drafts), "err", err)
		writeError(w, http.StatusInternalServerError, "could not persist events")
		return
	}
	metrics.EventsCreated.Add(float64(len(created)))
	if h.Hooks != nil {
		h.Hooks.Observe(created...)
	}
	writeJSON(w, http.StatusCreated, map[string]int{"inserted": len(created)})
}

type validationResponse struct {
	Error string `json:"error"`
	Index int    `json:"index"`
	Field string `json:"field,omitempty"`
}

// GET /v1/events
func (h *Handler) listEvents(w http.ResponseWriter, r *http.Request) {
	f, err := parseFilter(r.URL.Query())
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	page, err := h.Store.List(r.Context(), f)
	if err != nil {
		h.Logger.Error("list events failed", "err", err)
		writeError(w, http.StatusInternalServerError, "could not list events")
		return
	}
	writeJSON(w, http.StatusOK, page)
}

func parseFilter(q url.Values) (store.Filter, error) {
	var f store.Filter
	if v := q.Get("type"); v != "" {
		t, ok := event.ParseType(v)
		if !ok {
			return f, fmt.Errorf("unknown type %q", v)
		}
		f.Type = t
	}
	if v := q.Get("state"); v != "" {
		s := event.DeliveryState(v)
		if !s.Valid() {
			return f, fmt.Errorf("unknown state %q", v)
		}
		f.State = s
	}
	f.UserID = q.Get("user_id")
	f.ItemID = q.Get("item_id")

	var err error
	if f.From, err = parseTime(q.Get("from")); err != nil {
		return f, fmt.Errorf("from: %w", err)
	}
	if f.To, err = parseTime(q.Get("to")); err != nil {
		return f, fmt.Errorf("to: %w", err)
	}
	if f.Limit, err = parseInt(q.Get("limit")); err != nil {
		return f, fmt.Errorf("limit: %w", err)
	}
	if f.Offset, err = parseInt(q.Get("offset")); err != nil {
		return f, fmt.Errorf("offset: %w", err)
	}
	return f, nil
}

// parseTime accepts RFC 3339 or epoch milliseconds.
func parseTime(v string) (time.Time, error) {
	if v == "" {
		return time.Time{}, nil
	}
	if ms, err := strconv.ParseInt(v, 10, 64); err == nil {
		return time.UnixMilli(ms).UTC(), nil
	}
	t, err := time.Parse(time.RFC3339Nano, v)
	if err != nil {
		return time.Time{}, fmt.Errorf("%q is not RFC 3339 or epoch milliseconds", v)
	}
	return t, nil
}

func parseInt(v string) (int, error) {
	if v == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 {
		return 0, fmt.Errorf("%q is not a non-negative integer", v)
	}
	return n, nil
}

// GET /v1/events/{id}
func (h *Handler) getEvent(w http.ResponseWriter, r *http.Request) {
	ev, err := h.Store.Get(r.Context(), r.PathValue("id"))
	if errors.Is(err, store.ErrNotFound) {
		writeError(w, http.StatusNotFound, "event not found")
		return
	}
	if err != nil {
		h.Logger.Error("get event failed", "err", err)
		writeError(w, http.StatusInternalServerError, "could not load event")
		return
	}
	writeJSON(w, http.StatusOK, ev)
}

// POST /v1/events/flush
func (h *Handler) flush(w http.ResponseWriter, r *http.Request) {
	res, err := h.Coordinator.Flush(r.Context())
	if err != nil {
		writeDeliveryError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"forwarded": res.Forwarded})
}

// POST /v1/events/retry
func (h *Handler) retry(w http.ResponseWriter, r *http.Request) {
	res, err := h.Coordinator.RetryFailed(r.Context())
	if err != nil {
		writeDeliveryError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"retried": res.Forwarded})
}

// POST /v1/events/recover-stale
func (h *Handler) recoverStale(w http.ResponseWriter, r *http.Request) {
	n, err := h.Coordinator.RecoverStale(r.Context())
	if err != nil {
		h.Logger.Error("stale claim recovery failed", "err", err)
		writeError(w, http.StatusInternalServerError, "could not recover stale claims")
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"recovered": n})
}

type batchDeleteRequest struct {
	Action string   `json:"action"`
	IDs    []string `json:"ids"`
}

// POST /v1/events/batch-delete
func (h *Handler) batchDelete(w http.ResponseWriter, r *http.Request) {
	var req batchDeleteRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, h.MaxBodyBytes)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid JSON: %s", err))
		return
	}

	var (
		n   int
		err error
	)
	switch req.Action {
	case ActionDeleteByIDs:
		if len(req.IDs) == 0 {
			writeError(w, http.StatusBadRequest, "ids must not be empty")
			return
		}
		n, err = h.Store.DeleteByIDs(r.Context(), req.IDs)
	case ActionDeleteAllPending:
		n, err = h.Store.DeleteByState(r.Context(), event.StatePending)
	case ActionDeleteFromRemoteByIDs:
		if len(req.IDs) == 0 {
			writeError(w, http.StatusBadRequest, "ids must not be empty")
			return
		}
		n, err = h.Coordinator.DeleteFromRemote(r.Context(), req.IDs)
		if err != nil {
			writeDeliveryError(w, err)
			return
		}
	default:
		writeError(w, http.StatusBadRequest, fmt.Sprintf("unknown action %q", req.Action))
		return
	}
	if err != nil {
		h.Logger.Error("batch delete failed", "action", req.Action, "err", err)
		writeError(w, http.StatusInternalServerError, "batch delete failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"affected": n})
}

// POST /v1/config/reload
func (h *Handler) reloadConfig(w http.ResponseWriter, r *http.Request) {
	if h.Loader == nil {
		writeError(w, http.StatusNotFound, "config reload is not enabled")
		return
	}
	cfg, err := h.Loader.Reload()
	if err != nil {
		writeError(w, http.StatusUnprocessableEntity, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"reloaded":    true,
		"flush_batch": cfg.Delivery.FlushBatch,
		"retry_batch": cfg.Delivery.RetryBatch,
		"hook_rules":  len(cfg.Hooks.Rules),
	})
}

// GET /healthz: liveness only.
func (h *Handler) healthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// GET /readyz: 503 when the store is unreachable.
func (h *Handler) readyz(w http.ResponseWriter, r *http.Request) {
	if err := h.Store.Ping(r.Context()); err != nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable", "error": err.Error()})
		return
	}
	counts, err := h.Store.CountByState(r.Context())
	if err != nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable", "error": err.Error()})
		return
	}
	states := make(map[string]int, len(event.States))
	for _, s := range event.States {
		states[string(s)] = counts[s]
		metrics.EventsByState.WithLabelValues(string(s)).Set(float64(counts[s]))
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "ready", "events": states})
}

func writeDeliveryError(w http.ResponseWriter, err error) {
	status := http.StatusBadGateway
	if delivery.Attempted(err) == 0 {
		status = http.StatusInternalServerError
	}
	writeJSON(w, status, deliveryErrorResponse{Error: err.Error(), Attempted: delivery.Attempted(err)})
}
