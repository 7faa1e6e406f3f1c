package workpool_test

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"go.uber.org/goleak"

	"github.com/gyaneshwarpardhi/eventrelay/internal/workpool"
)

func TestPoolProcessesAndDrains(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	var n atomic.Int64
	p := workpool.New(context.Background(), 4, 100, func(_ context.Context, v int) {
		n.Add(int64(v))
	})
	for i := 1; i <= 10; i++ {
		assert.True(t, p.Submit(i))
	}
	p.Drain()
	assert.Equal(t, int64(55), n.Load())

	assert.False(t, p.Submit(1), "submit after drain")
	p.Drain()
}

func TestPoolSubmitFullQueue(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	block := make(chan struct{})
	var started sync.WaitGroup
	started.Add(1)
	var once sync.Once
	p := workpool.New(context.Background(), 1, 1, func(_ context.Context, _ int) {
		once.Do(started.Done)
		<-block
	})

	assert.True(t, p.Submit(1))
	started.Wait()
	assert.True(t, p.Submit(2))
	assert.False(t, p.Submit(3), "queue of one is full")
	assert.Equal(t, 1.0, p.Utilization())

	close(block)
	p.Drain()
}

func TestPoolStopsOnContextCancel(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	ctx, cancel := context.WithCancel(context.Background())
	p := workpool.New(ctx, 2, 10, func(context.Context, int) {})
	cancel()
	p.Drain()
}
