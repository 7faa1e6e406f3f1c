package testutil

import (
	"context"
	"errors"
	"sync"

	"github.com/gyaneshwarpardhi/eventrelay/internal/event"
)

var ErrSinkDown = errors.New("sink down")

// FakeSink records forwarded batches and remote deletions. Fail toggles make
// the next calls return ErrSinkDown; Panic makes ForwardBatch panic.
type FakeSink struct {
	mu            sync.Mutex
	Batches       [][]event.Wire
	Deleted       []string
	FailForward   bool
	FailDelete    bool
	Panic         bool
	BeforeForward func()
}

func (f *FakeSink) ForwardBatch(ctx context.Context, batch []event.Wire) error {
	if f.BeforeForward != nil {
		f.BeforeForward()
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.Panic {
		panic("sink exploded")
	}
	if f.FailForward {
		return ErrSinkDown
	}
	cp := make([]event.Wire, len(batch))
	copy(cp, batch)
	f.Batches = append(f.Batches, cp)
	return nil
}

func (f *FakeSink) DeleteByIDs(ctx context.Context, ids []string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.FailDelete {
		return ErrSinkDown
	}
	f.Deleted = append(f.Deleted, ids...)
	return nil
}

// SetFailForward flips forward failures under the lock.
func (f *FakeSink) SetFailForward(fail bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.FailForward = fail
}

// Forwarded returns every wire event received so far, in order.
func (f *FakeSink) Forwarded() []event.Wire {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []event.Wire
	for _, b := range f.Batches {
		out = append(out, b...)
	}
	return out
}
