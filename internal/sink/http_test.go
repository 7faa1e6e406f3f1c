package sink_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gyaneshwarpardhi/eventrelay/internal/event"
	"github.com/gyaneshwarpardhi/eventrelay/internal/resilience"
	"github.com/gyaneshwarpardhi/eventrelay/internal/sink"
)

func sampleBatch() []event.Wire {
	return []event.Wire{
		{UserID: "U1", ItemID: "P1", Type: 0, Value: 1, TS: "2026-01-01T00:00:00Z", SourceEventID: "e1"},
		{UserID: "U1", ItemID: "P1", Type: 3, Value: 1, TS: "2026-01-01T00:00:01Z", SourceEventID: "e2"},
	}
}

func TestForwardBatchSuccess(t *testing.T) {
	var got struct {
		Events []event.Wire `json:"events"`
	}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/ingest/batch", r.URL.Path)
		assert.Equal(t, "Bearer s3cret", r.Header.Get("Authorization"))
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		_, _ = w.Write([]byte(`{"ok":true}`))
	}))
	defer srv.Close()

	c := sink.NewHTTPClient(srv.URL+"/", "s3cret", time.Second)
	require.NoError(t, c.ForwardBatch(context.Background(), sampleBatch()))
	assert.Equal(t, sampleBatch(), got.Events)
}

func TestForwardBatchRejections(t *testing.T) {
	cases := map[string]http.HandlerFunc{
		"server error": func(w http.ResponseWriter, r *http.Request) {
			http.Error(w, "overloaded", http.StatusServiceUnavailable)
		},
		"ok false": func(w http.ResponseWriter, r *http.Request) {
			_, _ = w.Write([]byte(`{"ok":false,"error":"schema mismatch"}`))
		},
	}
	for name, h := range cases {
		t.Run(name, func(t *testing.T) {
			srv := httptest.NewServer(h)
			defer srv.Close()

			err := sink.NewHTTPClient(srv.URL, "", time.Second).ForwardBatch(context.Background(), sampleBatch())
			require.ErrorIs(t, err, sink.ErrDelivery)
			var rej *sink.RejectionError
			require.ErrorAs(t, err, &rej)
			assert.Equal(t, "forward", rej.Op)
		})
	}
}

func TestForwardBatchTransportError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	url := srv.URL
	srv.Close()

	err := sink.NewHTTPClient(url, "", time.Second).ForwardBatch(context.Background(), sampleBatch())
	require.ErrorIs(t, err, sink.ErrDelivery)
	var te *sink.TransportError
	assert.ErrorAs(t, err, &te)
}

func TestForwardBatchTimeout(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-release
	}))
	defer srv.Close()
	defer close(release)

	err := sink.NewHTTPClient(srv.URL, "", 50*time.Millisecond).ForwardBatch(context.Background(), sampleBatch())
	var te *sink.TransportError
	assert.ErrorAs(t, err, &te)
}

func TestDeleteByIDs(t *testing.T) {
	var got struct {
		IDs []string `json:"source_event_ids"`
	}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/events/delete", r.URL.Path)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	c := sink.NewHTTPClient(srv.URL, "", time.Second)
	require.NoError(t, c.DeleteByIDs(context.Background(), []string{"e1", "e2"}))
	assert.Equal(t, []string{"e1", "e2"}, got.IDs)
	require.NoError(t, c.DeleteByIDs(context.Background(), nil))
}

func TestBreakerOpenIsTransportError(t *testing.T) {
	calls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	cb := resilience.NewCircuitBreaker("sink_test", 1, time.Hour)
	s := sink.WithBreaker(sink.NewHTTPClient(srv.URL, "", time.Second), cb)

	var rej *sink.RejectionError
	require.ErrorAs(t, s.ForwardBatch(context.Background(), sampleBatch()), &rej)

	err := s.ForwardBatch(context.Background(), sampleBatch())
	var te *sink.TransportError
	require.ErrorAs(t, err, &te)
	assert.ErrorIs(t, err, resilience.ErrCircuitOpen)
	assert.Equal(t, 1, calls)
}
