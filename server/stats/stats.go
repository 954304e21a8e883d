// Package stats tracks in-process counters for the memory engine. This is a
// lightweight alternative to enterprise monitoring solutions.
package stats

import (
	"sync"
	"sync/atomic"
	"time"
)

// Collector aggregates counters across all memory operations.
type Collector struct {
	consolidations        atomic.Int64
	degradedConsolidation atomic.Int64
	retrievals            atomic.Int64
	retrievalFailures     atomic.Int64
	memoriesReturned      atomic.Int64
	linksInferred         atomic.Int64
	embeddingsBackfilled  atomic.Int64

	mu            sync.Mutex
	lastRetrieval time.Time
	startedAt     time.Time
}

// NewCollector creates a collector.
func NewCollector() *Collector {
	return &Collector{startedAt: time.Now().UTC()}
}

// RecordConsolidation records one consolidation. degraded marks an
// interaction persisted without an episodic memory.
func (c *Collector) RecordConsolidation(degraded bool) {
	c.consolidations.Add(1)
	if degraded {
		c.degradedConsolidation.Add(1)
	}
}

// RecordRetrieval records one retrieval call and the number of memories it
// returned.
func (c *Collector) RecordRetrieval(returned int) {
	c.retrievals.Add(1)
	c.memoriesReturned.Add(int64(returned))
	c.mu.Lock()
	c.lastRetrieval = time.Now().UTC()
	c.mu.Unlock()
}

// RecordRetrievalFailure records one failed retrieval call.
func (c *Collector) RecordRetrievalFailure() {
	c.retrievalFailures.Add(1)
}

// RecordLinksInferred records causal links persisted by one inference pass.
func (c *Collector) RecordLinksInferred(count int) {
	c.linksInferred.Add(int64(count))
}

// RecordBackfill records memories created by the embedding backfill runner.
func (c *Collector) RecordBackfill(count int) {
	c.embeddingsBackfilled.Add(int64(count))
}

// Snapshot is a point-in-time copy of all counters.
type Snapshot struct {
	Consolidations         int64     `json:"consolidations"`
	DegradedConsolidations int64     `json:"degradedConsolidations"`
	Retrievals             int64     `json:"retrievals"`
	RetrievalFailures      int64     `json:"retrievalFailures"`
	MemoriesReturned       int64     `json:"memoriesReturned"`
	LinksInferred          int64     `json:"linksInferred"`
	EmbeddingsBackfilled   int64     `json:"embeddingsBackfilled"`
	LastRetrieval          time.Time `json:"lastRetrieval"`
	StartedAt              time.Time `json:"startedAt"`
}

// Snapshot returns the current counter values.
func (c *Collector) Snapshot() *Snapshot {
	c.mu.Lock()
	lastRetrieval := c.lastRetrieval
	c.mu.Unlock()

	return &Snapshot{
		Consolidations:         c.consolidations.Load(),
		DegradedConsolidations: c.degradedConsolidation.Load(),
		Retrievals:             c.retrievals.Load(),
		RetrievalFailures:      c.retrievalFailures.Load(),
		MemoriesReturned:       c.memoriesReturned.Load(),
		LinksInferred:          c.linksInferred.Load(),
		EmbeddingsBackfilled:   c.embeddingsBackfilled.Load(),
		LastRetrieval:          lastRetrieval,
		StartedAt:              c.startedAt,
	}
}

// DegradedRate returns the fraction of consolidations that completed without
// an episodic memory.
func (s *Snapshot) DegradedRate() float64 {
	if s.Consolidations == 0 {
		return 0
	}
	return float64(s.DegradedConsolidations) / float64(s.Consolidations)
}
