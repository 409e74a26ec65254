package stats

import (
	"sync"
	"testing"
	"time"
)

func TestTrackerStartsEmpty(t *testing.T) {
	snap := NewTracker().Snapshot()

	if snap.Queries != 0 || snap.ItemsReturned != 0 {
		t.Errorf("fresh tracker not empty: %+v", snap)
	}
	if snap.AvgLatencyMS != 0 || snap.ItemsPerQuery != 0 {
		t.Errorf("derived values must be zero without samples: %+v", snap)
	}
}

func TestTrackerAverages(t *testing.T) {
	tr := NewTracker()
	tr.Record(10, 100*time.Millisecond)
	tr.Record(4, 300*time.Millisecond)

	snap := tr.Snapshot()

	if snap.Queries != 2 {
		t.Errorf("Queries = %d, want 2", snap.Queries)
	}
	if snap.ItemsReturned != 14 {
		t.Errorf("ItemsReturned = %d, want 14", snap.ItemsReturned)
	}
	if snap.AvgLatencyMS != 200 {
		t.Errorf("AvgLatencyMS = %v, want 200", snap.AvgLatencyMS)
	}
	if snap.ItemsPerQuery != 7 {
		t.Errorf("ItemsPerQuery = %v, want 7", snap.ItemsPerQuery)
	}
}

func TestTrackerConcurrentRecords(t *testing.T) {
	tr := NewTracker()

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			tr.Record(2, time.Millisecond)
		}()
	}
	wg.Wait()

	snap := tr.Snapshot()
	if snap.Queries != 50 {
		t.Errorf("Queries = %d, want 50", snap.Queries)
	}
	if snap.ItemsReturned != 100 {
		t.Errorf("ItemsReturned = %d, want 100", snap.ItemsReturned)
	}
}
