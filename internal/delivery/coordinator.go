package delivery

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/gyaneshwarpardhi/eventrelay/internal/event"
	"github.com/gyaneshwarpardhi/eventrelay/internal/metrics"
	"github.com/gyaneshwarpardhi/eventrelay/internal/sink"
)

const (
	DefaultFlushBatch     = 500
	DefaultRetryBatch     = 200
	DefaultResolveTimeout = 30 * time.Second
	DefaultStaleAfter     = 10 * time.Minute

	OpFlush        = "flush"
	OpRetry        = "retry"
	OpDeleteRemote = "delete-remote"
)

// Outbox is the slice of the event store the coordinator drives.
type Outbox interface {
	Claim(ctx context.Context, n int, from event.DeliveryState) ([]event.Event, error)
	MarkDelivered(ctx context.Context, ids []string, sentAt time.Time) (int, error)
	MarkFailed(ctx context.Context, ids []string) (int, error)
	MarkDeletedRemote(ctx context.Context, ids []string) (int, error)
}

// Result summarises one flush or retry invocation. A zero Result with a nil
// error means nothing was eligible.
type Result struct {
	Claimed   int `json:"claimed"`
	Forwarded int `json:"forwarded"`
}

// Error is returned when a coordinator operation fails. Attempted is how many
// events the operation had taken on when it failed.
type Error struct {
	Op        string
	Attempted int
	Err       error
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s failed after attempting %d events: %v", e.Op, e.Attempted, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// Attempted extracts the attempted count from a coordinator error.
func Attempted(err error) int {
	var de *Error
	if errors.As(err, &de) {
		return de.Attempted
	}
	return 0
}

// Config holds the coordinator's tunables.
type Config struct {
	FlushBatch     int
	RetryBatch     int
	ResolveTimeout time.Duration
	// StaleAfter bounds how long a claim may stay in_flight before
	// RecoverStale fails it.
	StaleAfter     time.Duration
}

// Coordinator claims due batches, forwards them to the sink and resolves their
// state. It holds no locks of its own: the store's claim is the only
// serialization point, so any number of coordinators may run at once.
type Coordinator struct {
	outbox Outbox
	sink   sink.Sink
	logger *slog.Logger

	flushBatch     atomic.Int64
	retryBatch     atomic.Int64
	resolveTimeout time.Duration
	staleAfter     time.Duration
	now            func() time.Time
}

// New creates a Coordinator. Zero config fields take their defaults.
func New(outbox Outbox, s sink.Sink, conf Config, logger *slog.Logger) *Coordinator {
	if logger == nil {
		logger = slog.Default()
	}
	c := &Coordinator{
		outbox:         outbox,
		sink:           s,
		logger:         logger.With("component", "delivery"),
		resolveTimeout: conf.ResolveTimeout,
		staleAfter:     conf.StaleAfter,
		now:            func() time.Time { return time.Now().UTC() },
	}
	if c.resolveTimeout <= 0 {
		c.resolveTimeout = DefaultResolveTimeout
	}
	if c.staleAfter <= 0 {
		c.staleAfter = DefaultStaleAfter
	}
	c.SetBatchSizes(conf.FlushBatch, conf.RetryBatch)
	return c
}

// SetBatchSizes swaps batch sizes at runtime (config hot reload).
func (c *Coordinator) SetBatchSizes(flush, retry int) {
	if flush <= 0 {
		flush = DefaultFlushBatch
	}
	if retry <= 0 {
		retry = DefaultRetryBatch
	}
	c.flushBatch.Store(int64(flush))
	c.retryBatch.Store(int64(retry))
}

// SetClock overrides the sentAt time source.
func (c *Coordinator) SetClock(now func() time.Time) {
	c.now = now
}

// Flush forwards the oldest pending events.
func (c *Coordinator) Flush(ctx context.Context) (Result, error) {
	return c.deliver(ctx, OpFlush, event.StatePending, int(c.flushBatch.Load()))
}

// RetryFailed re-forwards the oldest failed events. Each retry carries the
// same source_event_id as the original attempt. Claims older than StaleAfter
// are failed first so a batch whose resolution write was lost is retried too.
func (c *Coordinator) RetryFailed(ctx context.Context) (Result, error) {
	if _, err := c.RecoverStale(ctx); err != nil {
		c.logger.Warn("stale claim recovery failed", "err", err)
	}
	return c.deliver(ctx, OpRetry, event.StateFailed, int(c.retryBatch.Load()))
}

// RecoverStale fails in_flight events claimed more than StaleAfter ago. It is
// a no-op when the outbox cannot recover claims.
func (c *Coordinator) RecoverStale(ctx context.Context) (int, error) {
	rec, ok := c.outbox.(StaleRecoverer)
	if !ok {
		return 0, nil
	}
	n, err := rec.RecoverStale(ctx, c.now().Add(-c.staleAfter))
	if err != nil {
		return 0, err
	}
	if n > 0 {
		metrics.StaleRecovered.Add(float64(n))
		c.logger.Info("recovered stale claims", "count", n)
	}
	return n, nil
}

func (c *Coordinator) deliver(ctx context.Context, op string, from event.DeliveryState, n int) (Result, error) {
	claimed, err := c.outbox.Claim(ctx, n, from)
	if err != nil {
		return Result{}, &Error{Op: op, Err: fmt.Errorf("claim: %w", err)}
	}
	if len(claimed) == 0 {
		return Result{}, nil
	}
	metrics.EventsClaimed.WithLabelValues(op).Add(float64(len(claimed)))

	ids := make([]string, len(claimed))
	batch := make([]event.Wire, len(claimed))
	for i, ev := range claimed {
		ids[i] = ev.ID
		batch[i] = event.ToWire(ev)
	}

	start := time.Now()
	fwdErr := c.forward(ctx, batch)
	metrics.ForwardDuration.WithLabelValues(op).Observe(float64(time.Since(start).Milliseconds()))

	// The claimed rows must leave in_flight even if the caller has gone away.
	resolveCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.resolveTimeout)
	defer cancel()

	res := Result{Claimed: len(claimed)}
	if fwdErr != nil {
		metrics.EventsResolved.WithLabelValues(op, "failed").Add(float64(len(claimed)))
		if _, err := c.outbox.MarkFailed(resolveCtx, ids); err != nil {
			c.logger.Error("could not mark batch failed", "op", op, "count", len(ids), "err", err)
			return res, &Error{Op: op, Attempted: len(claimed), Err: errors.Join(fwdErr, err)}
		}
		c.logger.Warn("batch forward failed", "op", op, "count", len(ids), "err", fwdErr)
		return res, &Error{Op: op, Attempted: len(claimed), Err: fwdErr}
	}

	res.Forwarded = len(claimed)
	metrics.EventsResolved.WithLabelValues(op, "sent").Add(float64(len(claimed)))
	if _, err := c.outbox.MarkDelivered(resolveCtx, ids, c.now()); err != nil {
		if errors.Is(err, event.ErrInvalidTransition) {
			// Rows recovered as stale while we were forwarding; the retry
			// path will redeliver them under the same idempotency key.
			c.logger.Warn("some delivered events were no longer in flight", "op", op, "err", err)
			return res, nil
		}
		c.logger.Error("could not mark batch delivered", "op", op, "count", len(ids), "err", err)
		return res, &Error{Op: op, Attempted: len(claimed), Err: fmt.Errorf("mark delivered: %w", err)}
	}
	c.logger.Info("batch delivered", "op", op, "count", len(ids))
	return res, nil
}

// forward calls the sink, turning a panic into an error so the batch is
// still resolved.
func (c *Coordinator) forward(ctx context.Context, batch []event.Wire) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("sink panicked: %v", r)
		}
	}()
	return c.sink.ForwardBatch(ctx, batch)
}

// DeleteFromRemote removes events from the remote first and only then
// records the deletion locally. If the remote call fails nothing local
// changes.
func (c *Coordinator) DeleteFromRemote(ctx context.Context, ids []string) (int, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	if err := c.sink.DeleteByIDs(ctx, ids); err != nil {
		metrics.RemoteDeletes.WithLabelValues("error").Inc()
		c.logger.Warn("remote delete failed", "count", len(ids), "err", err)
		return 0, &Error{Op: OpDeleteRemote, Attempted: len(ids), Err: err}
	}
	metrics.RemoteDeletes.WithLabelValues("ok").Inc()

	resolveCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.resolveTimeout)
	defer cancel()
	n, err := c.outbox.MarkDeletedRemote(resolveCtx, ids)
	if err != nil {
		if errors.Is(err, event.ErrInvalidTransition) {
			c.logger.Warn("remote delete confirmed but some events were not eligible locally", "requested", len(ids), "marked", n)
			return n, nil
		}
		return n, &Error{Op: OpDeleteRemote, Attempted: len(ids), Err: fmt.Errorf("mark deleted remote: %w", err)}
	}
	return n, nil
}
