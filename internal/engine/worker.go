package engine

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
)

// ErrPoolShutdown is returned when work is submitted to a shut-down pool.
var ErrPoolShutdown = errors.New("worker pool is shut down")

// Pool is the bounded goroutine pool that drives executions, resumed
// continuations, and Map iterations. Many suspended executions can be
// outstanding against a fixed number of workers.
type Pool struct {
	sem    chan struct{}
	wg     sync.WaitGroup
	mu     sync.Mutex
	done   chan struct{}
	closed bool

	active    int64
	completed int64
	panics    int64
}

// NewPool creates a pool admitting at most size concurrent tasks.
func NewPool(size int) *Pool {
	if size <= 0 {
		size = 1
	}
	return &Pool{
		sem:  make(chan struct{}, size),
		done: make(chan struct{}),
	}
}

// Submit enqueues fn. It blocks while the pool is at capacity, respecting
// context cancellation, and returns ErrPoolShutdown after Shutdown.
func (p *Pool) Submit(ctx context.Context, fn func(ctx context.Context)) error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return ErrPoolShutdown
	}
	p.mu.Unlock()

	select {
	case p.sem <- struct{}{}:
	case <-ctx.Done():
		return ctx.Err()
	case <-p.done:
		return ErrPoolShutdown
	}

	// wg.Add must happen under the lock so Shutdown's wg.Wait cannot race a
	// submission that already holds a slot.
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		<-p.sem
		return ErrPoolShutdown
	}
	p.wg.Add(1)
	atomic.AddInt64(&p.active, 1)
	p.mu.Unlock()

	go func() {
		defer func() {
			if r := recover(); r != nil {
				atomic.AddInt64(&p.panics, 1)
			}
			atomic.AddInt64(&p.active, -1)
			atomic.AddInt64(&p.completed, 1)
			<-p.sem
			p.wg.Done()
		}()
		fn(ctx)
	}()

	return nil
}

// Wait blocks until all submitted work completes.
func (p *Pool) Wait() {
	p.wg.Wait()
}

// Shutdown prevents new submissions and waits for active work to finish.
func (p *Pool) Shutdown() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	close(p.done)
	p.mu.Unlock()

	p.wg.Wait()
}

// Active returns the number of tasks currently running.
func (p *Pool) Active() int64 { return atomic.LoadInt64(&p.active) }

// Completed returns the number of tasks that have finished.
func (p *Pool) Completed() int64 { return atomic.LoadInt64(&p.completed) }
