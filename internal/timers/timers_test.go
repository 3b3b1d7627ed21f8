package timers

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAfterFuncFires(t *testing.T) {
	s := New()
	defer s.Stop()

	fired := make(chan struct{})
	s.AfterFunc(5*time.Millisecond, func() { close(fired) })

	select {
	case <-fired:
	case <-time.After(time.Second):
		t.Fatal("timer did not fire")
	}
	assert.Equal(t, 0, s.Pending())
}

func TestAfterFuncCancel(t *testing.T) {
	s := New()
	defer s.Stop()

	var fired atomic.Bool
	cancel := s.AfterFunc(20*time.Millisecond, func() { fired.Store(true) })
	cancel()

	time.Sleep(50 * time.Millisecond)
	assert.False(t, fired.Load())
	assert.Equal(t, 0, s.Pending())
}

func TestNegativeDelayFiresImmediately(t *testing.T) {
	s := New()
	defer s.Stop()

	fired := make(chan struct{})
	s.AfterFunc(-time.Second, func() { close(fired) })

	select {
	case <-fired:
	case <-time.After(time.Second):
		t.Fatal("timer did not fire")
	}
}

func TestStopCancelsOutstanding(t *testing.T) {
	s := New()

	var fired atomic.Int32
	for i := 0; i < 5; i++ {
		s.AfterFunc(30*time.Millisecond, func() { fired.Add(1) })
	}
	assert.Equal(t, 5, s.Pending())

	s.Stop()
	assert.Equal(t, 0, s.Pending())

	time.Sleep(60 * time.Millisecond)
	assert.Equal(t, int32(0), fired.Load())

	// New timers after Stop never run.
	s.AfterFunc(time.Millisecond, func() { fired.Add(1) })
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, int32(0), fired.Load())
}

func TestAt(t *testing.T) {
	s := New()
	defer s.Stop()

	fired := make(chan struct{})
	s.At(time.Now().Add(5*time.Millisecond), func() { close(fired) })

	select {
	case <-fired:
	case <-time.After(time.Second):
		t.Fatal("timer did not fire")
	}
}

func TestSleep(t *testing.T) {
	s := New()
	defer s.Stop()

	start := time.Now()
	require.NoError(t, s.Sleep(context.Background(), 10*time.Millisecond))
	assert.GreaterOrEqual(t, time.Since(start), 10*time.Millisecond)

	// Zero delay returns immediately.
	require.NoError(t, s.Sleep(context.Background(), 0))
}

func TestSleepRespectsContext(t *testing.T) {
	s := New()
	defer s.Stop()

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(10 * time.Millisecond)
		cancel()
	}()

	err := s.Sleep(ctx, time.Minute)
	assert.ErrorIs(t, err, context.Canceled)
}
