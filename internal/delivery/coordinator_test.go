package delivery_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gyaneshwarpardhi/eventrelay/internal/delivery"
	"github.com/gyaneshwarpardhi/eventrelay/internal/event"
	"github.com/gyaneshwarpardhi/eventrelay/internal/normalize"
	"github.com/gyaneshwarpardhi/eventrelay/internal/store"
	"github.com/gyaneshwarpardhi/eventrelay/internal/testutil"
)

func createEvents(t *testing.T, s *store.Store, body string) []event.Event {
	t.Helper()
	drafts, err := normalize.New(0).Normalize([]byte(body))
	require.NoError(t, err)
	created, err := s.Create(context.Background(), drafts...)
	require.NoError(t, err)
	return created
}

func states(t *testing.T, s *store.Store) map[event.DeliveryState]int {
	t.Helper()
	counts, err := s.CountByState(context.Background())
	require.NoError(t, err)
	return counts
}

func TestFlushDeliversAllPending(t *testing.T) {
	s := testutil.OpenTestStore(t)
	fake := &testutil.FakeSink{}
	c := delivery.New(s, fake, delivery.Config{}, nil)
	sentAt := time.Date(2026, 6, 1, 12, 0, 0, 0, time.UTC)
	c.SetClock(func() time.Time { return sentAt })

	created := createEvents(t, s, `[
		{"userId":"U1","itemId":"P1","type":"view"},
		{"userId":"U1","itemId":"P1","type":"click"},
		{"userId":"U1","itemId":"P1","type":"purchase"}
	]`)

	res, err := c.Flush(context.Background())
	require.NoError(t, err)
	assert.Equal(t, delivery.Result{Claimed: 3, Forwarded: 3}, res)

	require.Len(t, fake.Batches, 1)
	forwarded := fake.Forwarded()
	require.Len(t, forwarded, 3)
	for i, w := range forwarded {
		assert.Equal(t, created[i].ID, w.SourceEventID)
		assert.Equal(t, "U1", w.UserID)
		assert.Equal(t, "P1", w.ItemID)
	}
	assert.Equal(t, []int{0, 1, 3}, []int{forwarded[0].Type, forwarded[1].Type, forwarded[2].Type})

	page, err := s.List(context.Background(), store.Filter{})
	require.NoError(t, err)
	require.Len(t, page.Items, 3)
	for i, ev := range page.Items {
		assert.Equal(t, event.StateSent, ev.DeliveryState)
		require.NotNil(t, ev.SentAt)
		assert.True(t, ev.SentAt.Equal(sentAt))
		if i > 0 {
			assert.False(t, ev.Timestamp.After(page.Items[i-1].Timestamp), "list must be newest first")
		}
	}

	// Nothing left: a second flush is a no-op, not an error.
	res, err = c.Flush(context.Background())
	require.NoError(t, err)
	assert.Zero(t, res)
}

func TestFlushFailureMarksWholeBatchFailed(t *testing.T) {
	s := testutil.OpenTestStore(t)
	fake := &testutil.FakeSink{FailForward: true}
	c := delivery.New(s, fake, delivery.Config{}, nil)

	const n = 5
	for i := 0; i < n; i++ {
		createEvents(t, s, fmt.Sprintf(`{"userId":"U%d"}`, i))
	}

	res, err := c.Flush(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, testutil.ErrSinkDown)
	assert.Equal(t, n, delivery.Attempted(err))
	assert.Equal(t, 0, res.Forwarded)

	counts := states(t, s)
	assert.Equal(t, n, counts[event.StateFailed])
	assert.Zero(t, counts[event.StateSent])
	assert.Zero(t, counts[event.StateInFlight])
}

func TestFlushThenRetryKeepsSourceEventID(t *testing.T) {
	s := testutil.OpenTestStore(t)
	fake := &testutil.FakeSink{FailForward: true}
	c := delivery.New(s, fake, delivery.Config{}, nil)

	created := createEvents(t, s, `[{"userId":"U1","itemId":"P1"},{"userId":"U2","itemId":"P2"}]`)

	res, err := c.Flush(context.Background())
	require.Error(t, err)
	assert.Equal(t, 0, res.Forwarded)
	assert.Equal(t, 2, states(t, s)[event.StateFailed])

	// Failed events are not picked up by flush.
	fake.SetFailForward(false)
	res, err = c.Flush(context.Background())
	require.NoError(t, err)
	assert.Zero(t, res.Claimed)

	res, err = c.RetryFailed(context.Background())
	require.NoError(t, err)
	assert.Equal(t, delivery.Result{Claimed: 2, Forwarded: 2}, res)

	counts := states(t, s)
	assert.Equal(t, 2, counts[event.StateSent])
	assert.Zero(t, counts[event.StateFailed])

	forwarded := fake.Forwarded()
	require.Len(t, forwarded, 2)
	assert.Equal(t, created[0].ID, forwarded[0].SourceEventID)
	assert.Equal(t, created[1].ID, forwarded[1].SourceEventID)
}

// lossyOutbox loses the first MarkFailed write.
type lossyOutbox struct {
	*store.Store
	lost bool
}

func (o *lossyOutbox) MarkFailed(ctx context.Context, ids []string) (int, error) {
	if !o.lost {
		o.lost = true
		return 0, errors.New("database is gone")
	}
	return o.Store.MarkFailed(ctx, ids)
}

func TestLostResolutionIsRecoveredByRetry(t *testing.T) {
	s := testutil.OpenTestStore(t)
	created := createEvents(t, s, `[{"userId":"U1"},{"userId":"U2"}]`)

	// The failed flush claimed its batch an hour ago.
	s.SetClock(func() time.Time { return time.Now().Add(-time.Hour) })
	lossy := delivery.New(&lossyOutbox{Store: s}, &testutil.FakeSink{FailForward: true}, delivery.Config{}, nil)
	_, err := lossy.Flush(context.Background())
	require.Error(t, err)
	assert.Equal(t, 2, delivery.Attempted(err))
	assert.Equal(t, map[event.DeliveryState]int{event.StateInFlight: 2}, states(t, s))
	s.SetClock(func() time.Time { return time.Now().UTC() })

	fake := &testutil.FakeSink{}
	c := delivery.New(s, fake, delivery.Config{StaleAfter: time.Minute}, nil)
	res, err := c.Flush(context.Background())
	require.NoError(t, err)
	assert.Zero(t, res.Claimed)

	res, err = c.RetryFailed(context.Background())
	require.NoError(t, err)
	assert.Equal(t, delivery.Result{Claimed: 2, Forwarded: 2}, res)
	assert.Equal(t, map[event.DeliveryState]int{event.StateSent: 2}, states(t, s))

	forwarded := fake.Forwarded()
	require.Len(t, forwarded, 2)
	assert.Equal(t, created[0].ID, forwarded[0].SourceEventID)
	assert.Equal(t, created[1].ID, forwarded[1].SourceEventID)
}

func TestRecoverStaleLeavesFreshClaims(t *testing.T) {
	s := testutil.OpenTestStore(t)
	createEvents(t, s, `{"userId":"U1"}`)
	_, err := s.Claim(context.Background(), 1, event.StatePending)
	require.NoError(t, err)

	c := delivery.New(s, &testutil.FakeSink{}, delivery.Config{StaleAfter: time.Minute}, nil)
	n, err := c.RecoverStale(context.Background())
	require.NoError(t, err)
	assert.Zero(t, n)

	res, err := c.RetryFailed(context.Background())
	require.NoError(t, err)
	assert.Zero(t, res)
	assert.Equal(t, 1, states(t, s)[event.StateInFlight])
}

func TestRetryFailureStaysFailed(t *testing.T) {
	s := testutil.OpenTestStore(t)
	fake := &testutil.FakeSink{FailForward: true}
	c := delivery.New(s, fake, delivery.Config{}, nil)
	createEvents(t, s, `{"userId":"U1"}`)

	_, err := c.Flush(context.Background())
	require.Error(t, err)
	_, err = c.RetryFailed(context.Background())
	require.Error(t, err)
	assert.Equal(t, 1, delivery.Attempted(err))
	assert.Equal(t, 1, states(t, s)[event.StateFailed])
}

func TestBatchSizeBoundsClaim(t *testing.T) {
	s := testutil.OpenTestStore(t)
	fake := &testutil.FakeSink{}
	c := delivery.New(s, fake, delivery.Config{FlushBatch: 2}, nil)
	createEvents(t, s, `[
		{"userId":"U1","timestamp":"2026-01-01T00:00:03Z"},
		{"userId":"U1","timestamp":"2026-01-01T00:00:01Z"},
		{"userId":"U1","timestamp":"2026-01-01T00:00:02Z"}
	]`)

	res, err := c.Flush(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, res.Forwarded)
	forwarded := fake.Forwarded()
	assert.Equal(t, "2026-01-01T00:00:01Z", forwarded[0].TS)
	assert.Equal(t, "2026-01-01T00:00:02Z", forwarded[1].TS)
	assert.Equal(t, 1, states(t, s)[event.StatePending])
}

func TestSinkPanicStillResolvesBatch(t *testing.T) {
	s := testutil.OpenTestStore(t)
	c := delivery.New(s, &testutil.FakeSink{Panic: true}, delivery.Config{}, nil)
	createEvents(t, s, `[{"userId":"U1"},{"userId":"U2"}]`)

	_, err := c.Flush(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "sink panicked")

	counts := states(t, s)
	assert.Equal(t, 2, counts[event.StateFailed])
	assert.Zero(t, counts[event.StateInFlight])
}

func TestCancelledCallerStillResolvesBatch(t *testing.T) {
	s := testutil.OpenTestStore(t)
	ctx, cancel := context.WithCancel(context.Background())
	fake := &testutil.FakeSink{BeforeForward: cancel}
	c := delivery.New(s, fake, delivery.Config{}, nil)
	createEvents(t, s, `{"userId":"U1"}`)

	res, err := c.Flush(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Forwarded)
	assert.Equal(t, 1, states(t, s)[event.StateSent])
}

func TestConcurrentFlushesDeliverEachEventOnce(t *testing.T) {
	s := testutil.OpenTestStore(t)
	fake := &testutil.FakeSink{}
	c := delivery.New(s, fake, delivery.Config{FlushBatch: 3}, nil)

	const total = 40
	for i := 0; i < total; i++ {
		createEvents(t, s, fmt.Sprintf(`{"userId":"U%d","itemId":"P%d"}`, i%3, i))
	}

	var wg sync.WaitGroup
	for w := 0; w < 6; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				res, err := c.Flush(context.Background())
				if err != nil || res.Claimed == 0 {
					return
				}
			}
		}()
	}
	wg.Wait()

	seen := make(map[string]int)
	for _, w := range fake.Forwarded() {
		seen[w.SourceEventID]++
	}
	assert.Len(t, seen, total)
	for id, n := range seen {
		assert.Equal(t, 1, n, "event %s forwarded %d times", id, n)
	}
	assert.Equal(t, total, states(t, s)[event.StateSent])
}

func TestDeleteFromRemoteFailureLeavesLocalState(t *testing.T) {
	s := testutil.OpenTestStore(t)
	fake := &testutil.FakeSink{FailDelete: true}
	c := delivery.New(s, fake, delivery.Config{}, nil)
	created := createEvents(t, s, `{"userId":"U1"}`)

	n, err := c.DeleteFromRemote(context.Background(), []string{created[0].ID})
	require.Error(t, err)
	assert.ErrorIs(t, err, testutil.ErrSinkDown)
	assert.Zero(t, n)

	got, err := s.Get(context.Background(), created[0].ID)
	require.NoError(t, err)
	assert.Equal(t, event.StatePending, got.DeliveryState)
}

func TestDeleteFromRemoteSuccess(t *testing.T) {
	s := testutil.OpenTestStore(t)
	fake := &testutil.FakeSink{}
	c := delivery.New(s, fake, delivery.Config{}, nil)
	created := createEvents(t, s, `[{"userId":"U1"},{"userId":"U2"}]`)

	_, err := c.Flush(context.Background())
	require.NoError(t, err)

	ids := []string{created[0].ID, created[1].ID, "never-existed"}
	n, err := c.DeleteFromRemote(context.Background(), ids)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.Equal(t, ids, fake.Deleted)
	assert.Equal(t, 2, states(t, s)[event.StateDeletedRemote])
}
