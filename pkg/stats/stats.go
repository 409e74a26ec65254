package stats

import (
	"sync"
	"time"
)

// Tracker accumulates per-adapter observability counters. Safe for
// concurrent use; never consulted for control flow.
type Tracker struct {
	mu            sync.Mutex
	queries       int64
	itemsReturned int64
	totalLatency  time.Duration
}

type Snapshot struct {
	Queries        int64
	ItemsReturned  int64
	AvgLatencyMS   float64
	ItemsPerQuery  float64
}

func NewTracker() *Tracker {
	return &Tracker{}
}

// Record notes one completed call with the number of items it returned.
func (t *Tracker) Record(items int, latency time.Duration) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.queries++
	t.itemsReturned += int64(items)
	t.totalLatency += latency
}

func (t *Tracker) Snapshot() Snapshot {
	t.mu.Lock()
	defer t.mu.Unlock()

	s := Snapshot{
		Queries:       t.queries,
		ItemsReturned: t.itemsReturned,
	}
	if t.queries > 0 {
		s.AvgLatencyMS = float64(t.totalLatency.Milliseconds()) / float64(t.queries)
		s.ItemsPerQuery = float64(t.itemsReturned) / float64(t.queries)
	}
	return s
}
