// Package janitor removes expired session records in the background.
package janitor

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/firasghr/GoShroud/logger"
)

// Sweeper deletes expired records and reports how many went.
type Sweeper interface {
	Sweep(ctx context.Context) (int, error)
}

// Janitor drives a Sweeper on a fixed interval.
//
// Architecture:
//   - Start spawns one control goroutine that sweeps on every tick.
//   - A stop channel allows clean shutdown: Stop closes it and waits for the
//     goroutine, so a sweep in flight finishes before Stop returns.
//   - Sweep failures are logged and retried on the next tick.
type Janitor struct {
	sweeper  Sweeper
	interval time.Duration
	timeout  time.Duration
	log      *logger.Logger
	stopCh   chan struct{}
	done     chan struct{}
	once     sync.Once
}

// New returns a Janitor sweeping s every interval.
func New(s Sweeper, interval time.Duration, log *logger.Logger) *Janitor {
	if log == nil {
		log = logger.NewNop()
	}
	timeout := interval / 2
	if timeout <= 0 || timeout > time.Minute {
		timeout = time.Minute
	}
	return &Janitor{
		sweeper:  s,
		interval: interval,
		timeout:  timeout,
		log:      log.Named("janitor"),
		stopCh:   make(chan struct{}),
		done:     make(chan struct{}),
	}
}

// Start begins sweeping. It is non-blocking. A non-positive interval
// disables the janitor.
func (j *Janitor) Start() {
	if j.interval <= 0 {
		close(j.done)
		return
	}
	go func() {
		defer close(j.done)
		ticker := time.NewTicker(j.interval)
		defer ticker.Stop()
		for {
			select {
			case <-j.stopCh:
				return
			case <-ticker.C:
				j.sweep()
			}
		}
	}()
}

func (j *Janitor) sweep() {
	ctx, cancel := context.WithTimeout(context.Background(), j.timeout)
	defer cancel()
	n, err := j.sweeper.Sweep(ctx)
	if err != nil {
		j.log.Warn("sweep failed", zap.Error(err))
		return
	}
	if n > 0 {
		j.log.Info("expired sessions removed", zap.Int("count", n))
	}
}

// Stop ends the loop and waits for it. Stop is idempotent; it must follow
// Start.
func (j *Janitor) Stop() {
	j.once.Do(func() {
		close(j.stopCh)
	})
	<-j.done
}
