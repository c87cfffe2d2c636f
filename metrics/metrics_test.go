package metrics_test

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/firasghr/GoShroud/metrics"
)

func TestIncrements(t *testing.T) {
	m := metrics.NewMetrics()
	m.IncrementTotal()
	m.IncrementTotal()
	m.ChallengesIssued.Add(1)
	m.TransformFailures.Add(1)

	snap := m.Snapshot()
	assert.Equal(t, uint64(2), snap.Total)
	assert.Equal(t, uint64(1), snap.ChallengesIssued)
	assert.Equal(t, uint64(1), snap.TransformFailures)
	assert.Zero(t, snap.LinkHits)
}

func TestConcurrentIncrements(t *testing.T) {
	m := metrics.NewMetrics()
	const goroutines = 1000
	var wg sync.WaitGroup
	wg.Add(goroutines)
	for i := 0; i < goroutines; i++ {
		go func() {
			defer wg.Done()
			m.IncrementTotal()
			m.Transforms.Add(1)
		}()
	}
	wg.Wait()

	snap := m.Snapshot()
	assert.Equal(t, uint64(goroutines), snap.Total)
	assert.Equal(t, uint64(goroutines), snap.Transforms)
}
