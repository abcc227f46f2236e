package scheduler

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewPanicsOnZeroInterval(t *testing.T) {
	assert.Panics(t, func() {
		New(Options{}, zerolog.Nop())
	})
}

func TestRunOnStartTicksImmediately(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	ran := make(chan struct{}, 1)
	s := New(Options{Interval: time.Hour, RunOnStart: true}, zerolog.Nop())

	done := make(chan error, 1)
	go func() {
		done <- s.Run(ctx, func(ctx context.Context) {
			select {
			case ran <- struct{}{}:
			default:
			}
		})
	}()

	select {
	case <-ran:
	case <-time.After(2 * time.Second):
		t.Fatal("tick did not run on start")
	}

	cancel()
	select {
	case err := <-done:
		require.ErrorIs(t, err, context.Canceled)
	case <-time.After(5 * time.Second):
		t.Fatal("scheduler did not stop")
	}
}

func TestOverlappingTicksAreDropped(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var running, maxRunning, total int32
	s := New(Options{Interval: 20 * time.Millisecond, RunOnStart: true}, zerolog.Nop())

	done := make(chan error, 1)
	go func() {
		done <- s.Run(ctx, func(ctx context.Context) {
			n := atomic.AddInt32(&running, 1)
			for {
				m := atomic.LoadInt32(&maxRunning)
				if n <= m || atomic.CompareAndSwapInt32(&maxRunning, m, n) {
					break
				}
			}
			atomic.AddInt32(&total, 1)
			select {
			case <-time.After(150 * time.Millisecond):
			case <-ctx.Done():
			}
			atomic.AddInt32(&running, -1)
		})
	}()

	time.Sleep(400 * time.Millisecond)
	cancel()
	<-done

	assert.Equal(t, int32(1), atomic.LoadInt32(&maxRunning))
	assert.GreaterOrEqual(t, atomic.LoadInt32(&total), int32(1))
	// 400ms of 150ms ticks cannot exceed a handful of runs once overlaps are dropped
	assert.LessOrEqual(t, atomic.LoadInt32(&total), int32(4))
}
