package denylist

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGateAdmitsOneAtATime(t *testing.T) {
	gate := NewGate(0, nil)

	var inFlight, peak int32
	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := gate.Run(context.Background(), func(context.Context) {
				current := atomic.AddInt32(&inFlight, 1)
				for {
					seen := atomic.LoadInt32(&peak)
					if current <= seen || atomic.CompareAndSwapInt32(&peak, seen, current) {
						break
					}
				}
				time.Sleep(time.Millisecond)
				atomic.AddInt32(&inFlight, -1)
			})
			assert.NoError(t, err)
		}()
	}
	wg.Wait()
	require.EqualValues(t, 1, atomic.LoadInt32(&peak))
}

func TestGateQueuedCallerHonoursContext(t *testing.T) {
	gate := NewGate(0, nil)

	holding := make(chan struct{})
	release := make(chan struct{})
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = gate.Run(context.Background(), func(context.Context) {
			close(holding)
			<-release
		})
	}()
	<-holding

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	ran := false
	err := gate.Run(ctx, func(context.Context) { ran = true })
	require.ErrorIs(t, err, context.DeadlineExceeded)
	require.False(t, ran)

	close(release)
	<-done

	require.NoError(t, gate.Run(context.Background(), func(context.Context) { ran = true }))
	require.True(t, ran, "gate is usable after a queued caller gave up")
}

func TestGateSpacesCalls(t *testing.T) {
	gate := NewGate(40*time.Millisecond, nil)

	started := time.Now()
	for i := 0; i < 3; i++ {
		require.NoError(t, gate.Run(context.Background(), func(context.Context) {}))
	}
	require.GreaterOrEqual(t, time.Since(started), 70*time.Millisecond)
}
