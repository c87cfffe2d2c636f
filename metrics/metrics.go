// Package metrics provides lightweight, lock-free gateway counters using
// atomic operations so they impose minimal overhead on hot paths.
package metrics

import (
	"sync/atomic"
	"time"
)

// Metrics tracks aggregate statistics for the gateway.
//
// All counters are accessed exclusively through atomic operations, so the
// struct may be shared by every request goroutine without additional
// synchronisation.
type Metrics struct {
	// TotalRequests is the number of requests that reached the gateway.
	TotalRequests atomic.Uint64

	// ChallengesIssued counts fresh nonces handed out by GET /challenge.
	ChallengesIssued atomic.Uint64
	// ChallengesPassed counts accepted proof-of-work solutions.
	ChallengesPassed atomic.Uint64
	// VerifyFailures counts rejected solutions and verify calls without a
	// challenge.
	VerifyFailures atomic.Uint64
	// CrawlerBypasses counts requests let through by the crawler allow-list.
	CrawlerBypasses atomic.Uint64

	// Transforms counts documents rewritten successfully.
	Transforms atomic.Uint64
	// TransformFailures counts documents whose rewrite was aborted.
	TransformFailures atomic.Uint64

	// LinkHits and LinkMisses count reverse link lookups.
	LinkHits   atomic.Uint64
	LinkMisses atomic.Uint64

	startTime time.Time
}

// NewMetrics creates a Metrics instance with the start time set to now.
func NewMetrics() *Metrics {
	return &Metrics{startTime: time.Now()}
}

// IncrementTotal atomically increments the total-requests counter.
func (m *Metrics) IncrementTotal() { m.TotalRequests.Add(1) }

// Uptime returns the time elapsed since the Metrics instance was created.
func (m *Metrics) Uptime() time.Duration { return time.Since(m.startTime) }

// RequestsPerSecond returns the average request rate since creation.
func (m *Metrics) RequestsPerSecond() float64 {
	elapsed := m.Uptime().Seconds()
	if elapsed == 0 {
		return 0
	}
	return float64(m.TotalRequests.Load()) / elapsed
}

// Snapshot is a point-in-time copy of every counter. The loads are not
// performed under a single lock, which is acceptable for monitoring.
type Snapshot struct {
	Timestamp         int64   `json:"timestamp"`
	Total             uint64  `json:"total"`
	RPS               float64 `json:"rps"`
	ChallengesIssued  uint64  `json:"challenges_issued"`
	ChallengesPassed  uint64  `json:"challenges_passed"`
	VerifyFailures    uint64  `json:"verify_failures"`
	CrawlerBypasses   uint64  `json:"crawler_bypasses"`
	Transforms        uint64  `json:"transforms"`
	TransformFailures uint64  `json:"transform_failures"`
	LinkHits          uint64  `json:"link_hits"`
	LinkMisses        uint64  `json:"link_misses"`
}

// Snapshot returns the current counter values.
func (m *Metrics) Snapshot() Snapshot {
	return Snapshot{
		Timestamp:         time.Now().UnixMilli(),
		Total:             m.TotalRequests.Load(),
		RPS:               m.RequestsPerSecond(),
		ChallengesIssued:  m.ChallengesIssued.Load(),
		ChallengesPassed:  m.ChallengesPassed.Load(),
		VerifyFailures:    m.VerifyFailures.Load(),
		CrawlerBypasses:   m.CrawlerBypasses.Load(),
		Transforms:        m.Transforms.Load(),
		TransformFailures: m.TransformFailures.Load(),
		LinkHits:          m.LinkHits.Load(),
		LinkMisses:        m.LinkMisses.Load(),
	}
}
