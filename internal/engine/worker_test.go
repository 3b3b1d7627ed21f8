package engine

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPoolRunsSubmittedWork(t *testing.T) {
	p := NewPool(4)
	defer p.Shutdown()

	var count atomic.Int32
	for i := 0; i < 10; i++ {
		require.NoError(t, p.Submit(context.Background(), func(context.Context) {
			count.Add(1)
		}))
	}
	p.Wait()

	assert.Equal(t, int32(10), count.Load())
	assert.Equal(t, int64(10), p.Completed())
	assert.Equal(t, int64(0), p.Active())
}

func TestPoolBoundsConcurrency(t *testing.T) {
	p := NewPool(2)
	defer p.Shutdown()

	var current, peak atomic.Int32
	var mu sync.Mutex

	for i := 0; i < 8; i++ {
		require.NoError(t, p.Submit(context.Background(), func(context.Context) {
			n := current.Add(1)
			mu.Lock()
			if n > peak.Load() {
				peak.Store(n)
			}
			mu.Unlock()
			time.Sleep(10 * time.Millisecond)
			current.Add(-1)
		}))
	}
	p.Wait()

	assert.LessOrEqual(t, peak.Load(), int32(2))
}

func TestPoolRecoversFromPanic(t *testing.T) {
	p := NewPool(1)
	defer p.Shutdown()

	require.NoError(t, p.Submit(context.Background(), func(context.Context) {
		panic("worker exploded")
	}))
	p.Wait()

	// The slot is released; the pool keeps working.
	var ran atomic.Bool
	require.NoError(t, p.Submit(context.Background(), func(context.Context) {
		ran.Store(true)
	}))
	p.Wait()
	assert.True(t, ran.Load())
}

func TestPoolRejectsAfterShutdown(t *testing.T) {
	p := NewPool(1)
	p.Shutdown()

	err := p.Submit(context.Background(), func(context.Context) {})
	assert.ErrorIs(t, err, ErrPoolShutdown)

	// Shutdown is idempotent.
	p.Shutdown()
}

func TestPoolSubmitRespectsContext(t *testing.T) {
	p := NewPool(1)
	defer p.Shutdown()

	release := make(chan struct{})
	require.NoError(t, p.Submit(context.Background(), func(context.Context) {
		<-release
	}))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	err := p.Submit(ctx, func(context.Context) {})
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	close(release)
	p.Wait()
}
