// Package worker provides a bounded goroutine pool for CPU-heavy jobs such as
// document rewrites, so a burst of requests cannot run more of them at once
// than there are workers.
package worker

import (
	"context"
	"sync"
)

// Pool manages a fixed number of goroutines that drain a shared job queue.
//
// Design choices:
//   - workerCount goroutines are started once and reused.
//   - jobQueue is a buffered channel (capacity workerCount*4): workers can pick
//     up the next job immediately after finishing the current one. Do blocks
//     only when the buffer is full, applying back-pressure to producers.
//   - Do submits and waits, and gives up while still queued if the caller's
//     context ends, so an abandoned request does not hold a slot.
//   - Stop closes the channel and waits (via wg) for every in-flight job to
//     finish before returning, preventing goroutine leaks.
type Pool struct {
	workerCount int
	jobQueue    chan func()
	wg          sync.WaitGroup
}

// NewPool creates a Pool with workerCount goroutines ready to receive jobs.
func NewPool(workerCount int) *Pool {
	if workerCount <= 0 {
		workerCount = 1
	}
	return &Pool{
		workerCount: workerCount,
		jobQueue:    make(chan func(), workerCount*4),
	}
}

// Size returns the number of workers.
func (p *Pool) Size() int { return p.workerCount }

// Start launches the worker goroutines. It must be called exactly once before
// the first Do.
func (p *Pool) Start() {
	for i := 0; i < p.workerCount; i++ {
		p.wg.Add(1)
		go func() {
			defer p.wg.Done()
			for job := range p.jobQueue {
				job()
			}
		}()
	}
}

// Do runs job on a worker and waits for it to return. If ctx ends before a
// worker picks the job up, the job is skipped and ctx.Err() returned at once;
// a job that has started always runs to completion before Do returns. Do must
// not be called after Stop.
func (p *Pool) Do(ctx context.Context, job func()) error {
	var (
		mu      sync.Mutex
		started bool
		skipped bool
	)
	done := make(chan struct{})
	wrapped := func() {
		mu.Lock()
		if skipped {
			mu.Unlock()
			return
		}
		started = true
		mu.Unlock()
		defer close(done)
		job()
	}

	select {
	case p.jobQueue <- wrapped:
	case <-ctx.Done():
		return ctx.Err()
	}

	select {
	case <-done:
		return nil
	case <-ctx.Done():
	}
	mu.Lock()
	if !started {
		skipped = true
		mu.Unlock()
		return ctx.Err()
	}
	mu.Unlock()
	<-done
	return ctx.Err()
}

// Stop finishes all queued jobs and then waits for all worker goroutines to
// exit.
func (p *Pool) Stop() {
	close(p.jobQueue)
	p.wg.Wait()
}
