package opsclient_test

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gyaneshwarpardhi/eventrelay/internal/api"
	"github.com/gyaneshwarpardhi/eventrelay/internal/delivery"
	"github.com/gyaneshwarpardhi/eventrelay/internal/event"
	"github.com/gyaneshwarpardhi/eventrelay/internal/opsclient"
	"github.com/gyaneshwarpardhi/eventrelay/internal/testutil"
)

func TestClientAgainstServer(t *testing.T) {
	s := testutil.OpenTestStore(t)
	fake := &testutil.FakeSink{}
	srv := httptest.NewServer(api.New(api.Deps{
		Store:       s,
		Coordinator: delivery.New(s, fake, delivery.Config{}, nil),
	}))
	defer srv.Close()

	resp, err := http.Post(srv.URL+"/v1/events", "application/json",
		strings.NewReader(`[{"userId":"U1","type":"view"},{"userId":"U2","type":"click"},{"userId":"U3"}]`))
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	ctx := context.Background()
	c := opsclient.New(srv.URL+"/", time.Second)

	page, err := c.List(ctx, opsclient.ListQuery{Type: "view"})
	require.NoError(t, err)
	require.Equal(t, 1, page.Total)
	ev, err := c.Get(ctx, page.Items[0].ID)
	require.NoError(t, err)
	assert.Equal(t, "U1", ev.UserID)

	n, err := c.Flush(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	n, err = c.Retry(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)

	n, err = c.RecoverStale(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)

	n, err = c.BatchDelete(ctx, api.ActionDeleteFromRemoteByIDs, []string{ev.ID})
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	page, err = c.List(ctx, opsclient.ListQuery{State: string(event.StateDeletedRemote)})
	require.NoError(t, err)
	assert.Equal(t, 1, page.Total)

	ready, err := c.Ready(ctx)
	require.NoError(t, err)
	assert.Equal(t, "ready", ready["status"])

	_, err = c.Get(ctx, "nope")
	var apiErr *opsclient.Error
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, http.StatusNotFound, apiErr.Status)
}

func TestClientSurfacesAttempted(t *testing.T) {
	s := testutil.OpenTestStore(t)
	fake := &testutil.FakeSink{FailForward: true}
	srv := httptest.NewServer(api.New(api.Deps{
		Store:       s,
		Coordinator: delivery.New(s, fake, delivery.Config{}, nil),
	}))
	defer srv.Close()

	resp, err := http.Post(srv.URL+"/v1/events", "application/json", strings.NewReader(`{"userId":"U1"}`))
	require.NoError(t, err)
	resp.Body.Close()

	_, err = opsclient.New(srv.URL, time.Second).Flush(context.Background())
	var apiErr *opsclient.Error
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, http.StatusBadGateway, apiErr.Status)
	assert.Equal(t, 1, apiErr.Attempted)
	assert.Contains(t, apiErr.Error(), "attempted 1")
}
