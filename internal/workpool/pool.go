package workpool

import (
	"context"
	"sync"
)

// Pool is a fixed-size goroutine pool with a bounded input queue. Work is
// fire-and-forget: submitters get no completion signal.
type Pool[T any] struct {
	queue   chan T
	process func(ctx context.Context, t T)
	wg      sync.WaitGroup

	mu     sync.RWMutex
	closed bool
}

// New starts a pool with n goroutines and queue capacity size.
func New[T any](ctx context.Context, n, size int, fn func(context.Context, T)) *Pool[T] {
	if n <= 0 {
		n = 1
	}
	if size < 0 {
		size = 0
	}
	p := &Pool[T]{
		queue:   make(chan T, size),
		process: fn,
	}
	for i := 0; i < n; i++ {
		p.wg.Add(1)
		go func() {
			defer p.wg.Done()
			p.run(ctx)
		}()
	}
	return p
}

func (p *Pool[T]) run(ctx context.Context) {
	for {
		select {
		case t, ok := <-p.queue:
			if !ok {
				return
			}
			p.process(ctx, t)
		case <-ctx.Done():
			return
		}
	}
}

// Submit enqueues work without blocking. It returns false when the queue is
// full or the pool has been drained.
func (p *Pool[T]) Submit(t T) bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		return false
	}
	select {
	case p.queue <- t:
		return true
	default:
		return false
	}
}

// Drain stops accepting work, lets the workers finish what is queued and
// waits for them. Safe to call more than once.
func (p *Pool[T]) Drain() {
	p.mu.Lock()
	if !p.closed {
		p.closed = true
		close(p.queue)
	}
	p.mu.Unlock()
	p.wg.Wait()
}

// QueueLen returns how many jobs are currently queued.
func (p *Pool[T]) QueueLen() int {
	return len(p.queue)
}

// QueueCap returns the total queue capacity.
func (p *Pool[T]) QueueCap() int {
	return cap(p.queue)
}

// Utilization returns queue used / capacity (0-1).
func (p *Pool[T]) Utilization() float64 {
	if p.QueueCap() == 0 {
		return 0
	}
	return float64(p.QueueLen()) / float64(p.QueueCap())
}
