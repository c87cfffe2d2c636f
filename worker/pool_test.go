package worker_test

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/firasghr/GoShroud/worker"
)

func TestPool_ExecutesAllJobs(t *testing.T) {
	const jobs = 500
	p := worker.NewPool(10)
	p.Start()

	var (
		counter atomic.Int64
		wg      sync.WaitGroup
	)
	for i := 0; i < jobs; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.NoError(t, p.Do(context.Background(), func() { counter.Add(1) }))
		}()
	}
	wg.Wait()
	p.Stop()

	assert.Equal(t, int64(jobs), counter.Load())
}

func TestPool_ZeroWorkersFallsBackToOne(t *testing.T) {
	p := worker.NewPool(0)
	assert.Equal(t, 1, p.Size())
	p.Start()
	var ran atomic.Int64
	require.NoError(t, p.Do(context.Background(), func() { ran.Add(1) }))
	p.Stop()
	assert.Equal(t, int64(1), ran.Load())
}

func TestPool_DoWaitsForResult(t *testing.T) {
	p := worker.NewPool(2)
	p.Start()
	defer p.Stop()

	var out string
	require.NoError(t, p.Do(context.Background(), func() { out = "done" }))
	assert.Equal(t, "done", out)
}

func TestPool_DoBoundsConcurrency(t *testing.T) {
	p := worker.NewPool(2)
	p.Start()
	defer p.Stop()

	var running, peak atomic.Int64
	errs := make(chan error, 8)
	for i := 0; i < 8; i++ {
		go func() {
			errs <- p.Do(context.Background(), func() {
				n := running.Add(1)
				for {
					old := peak.Load()
					if n <= old || peak.CompareAndSwap(old, n) {
						break
					}
				}
				time.Sleep(5 * time.Millisecond)
				running.Add(-1)
			})
		}()
	}
	for i := 0; i < 8; i++ {
		require.NoError(t, <-errs)
	}
	assert.LessOrEqual(t, peak.Load(), int64(2))
}

func TestPool_DoSkipsQueuedJobOnCancel(t *testing.T) {
	p := worker.NewPool(1)
	p.Start()
	defer p.Stop()

	release := make(chan struct{})
	busy := make(chan struct{})
	go func() {
		_ = p.Do(context.Background(), func() {
			close(busy)
			<-release
		})
	}()
	<-busy

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	var ran atomic.Bool
	err := p.Do(ctx, func() { ran.Store(true) })
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	close(release)
	// Drain: a later job completing proves the skipped one was consumed.
	require.NoError(t, p.Do(context.Background(), func() {}))
	assert.False(t, ran.Load())
}
