package sink

import (
	"context"
	"errors"
	"fmt"

	"github.com/gyaneshwarpardhi/eventrelay/internal/event"
)

// Sink is the external recommendation backend. ForwardBatch must be
// idempotent on SourceEventID: redelivering an id it already ingested must
// not count twice downstream.
type Sink interface {
	ForwardBatch(ctx context.Context, batch []event.Wire) error
	DeleteByIDs(ctx context.Context, ids []string) error
}

// ErrDelivery is wrapped by every sink failure, whether the remote was
// unreachable or answered with a rejection.
var ErrDelivery = errors.New("remote sink delivery failed")

// TransportError means the remote could not be reached or did not answer.
type TransportError struct {
	Op  string
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("sink %s: transport: %v", e.Op, e.Err)
}

func (e *TransportError) Unwrap() []error { return []error{ErrDelivery, e.Err} }

// RejectionError means the remote answered but refused the request.
type RejectionError struct {
	Op     string
	Status int
	Reason string
}

func (e *RejectionError) Error() string {
	return fmt.Sprintf("sink %s: rejected (status %d): %s", e.Op, e.Status, e.Reason)
}

func (e *RejectionError) Unwrap() error { return ErrDelivery }
