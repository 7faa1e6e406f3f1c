package sink

import (
	"context"
	"errors"

	"github.com/gyaneshwarpardhi/eventrelay/internal/event"
	"github.com/gyaneshwarpardhi/eventrelay/internal/resilience"
)

type breakerSink struct {
	next Sink
	cb   *resilience.CircuitBreaker
}

// WithBreaker short-circuits calls while the remote keeps failing. An open
// circuit is reported as a TransportError so callers treat it like an outage.
func WithBreaker(next Sink, cb *resilience.CircuitBreaker) Sink {
	return &breakerSink{next: next, cb: cb}
}

func (b *breakerSink) ForwardBatch(ctx context.Context, batch []event.Wire) error {
	return b.run("forward", func() error { return b.next.ForwardBatch(ctx, batch) })
}

func (b *breakerSink) DeleteByIDs(ctx context.Context, ids []string) error {
	return b.run("delete", func() error { return b.next.DeleteByIDs(ctx, ids) })
}

func (b *breakerSink) run(op string, fn func() error) error {
	err := b.cb.Execute(fn)
	if errors.Is(err, resilience.ErrCircuitOpen) {
		return &TransportError{Op: op, Err: err}
	}
	return err
}
