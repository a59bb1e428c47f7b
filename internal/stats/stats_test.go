package stats

import (
	"regexp"
	"sync"
	"testing"
	"time"

	"github.com/page-vault/page-vault/internal/kv"
)

func newTestTracker(t *testing.T) *Tracker {
	t.Helper()
	store, err := kv.Open("")
	if err != nil {
		t.Fatalf("failed to open store: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	return New(store)
}

func TestWeekKeyFormat(t *testing.T) {
	tracker := newTestTracker(t)
	tracker.now = func() time.Time { return time.Date(2026, 8, 30, 12, 0, 0, 0, time.UTC) }

	key := tracker.WeekKey()
	if !regexp.MustCompile(`^\d{4}-W\d{2}$`).MatchString(key) {
		t.Fatalf("week key format: %s", key)
	}
}

func TestIncrementConcurrent(t *testing.T) {
	tracker := newTestTracker(t)

	const workers = 50
	var wg sync.WaitGroup
	wg.Add(workers)
	for i := 0; i < workers; i++ {
		go func() {
			defer wg.Done()
			if err := tracker.Increment(MetricWarmedPages, 1); err != nil {
				t.Errorf("increment error: %v", err)
			}
		}()
	}
	wg.Wait()

	if got := tracker.Value(MetricWarmedPages); got != workers {
		t.Fatalf("lost updates: got %d, want %d", got, workers)
	}
}

func TestRollingAverageDampsSpikes(t *testing.T) {
	tracker := newTestTracker(t)

	if err := tracker.RecordUncachedTiming(100); err != nil {
		t.Fatalf("record error: %v", err)
	}
	if got := tracker.Value(MetricAvgUncached); got != 100 {
		t.Fatalf("first sample should be taken as-is, got %d", got)
	}

	if err := tracker.RecordUncachedTiming(1000); err != nil {
		t.Fatalf("record error: %v", err)
	}
	if got := tracker.Value(MetricAvgUncached); got != 190 {
		t.Fatalf("spike should be damped to 190, got %d", got)
	}
}

func TestRollingAverageConverges(t *testing.T) {
	tracker := newTestTracker(t)

	if err := tracker.RecordUncachedTiming(100); err != nil {
		t.Fatalf("record error: %v", err)
	}
	for i := 0; i < 30; i++ {
		if err := tracker.RecordUncachedTiming(1000); err != nil {
			t.Fatalf("record error: %v", err)
		}
	}
	if got := tracker.Value(MetricAvgUncached); got < 950 {
		t.Fatalf("average should converge toward repeated samples, got %d", got)
	}
}

func TestAddTimeSavedFromHit(t *testing.T) {
	tracker := newTestTracker(t)

	if err := tracker.RecordUncachedTiming(500); err != nil {
		t.Fatalf("record error: %v", err)
	}
	if err := tracker.RecordCachedTiming(20); err != nil {
		t.Fatalf("record error: %v", err)
	}

	if err := tracker.AddTimeSavedFromHit(); err != nil {
		t.Fatalf("time saved error: %v", err)
	}
	if err := tracker.AddTimeSavedFromHit(); err != nil {
		t.Fatalf("time saved error: %v", err)
	}
	if got := tracker.Value(MetricTimeSaved); got != 960 {
		t.Fatalf("time saved = %d, want 960", got)
	}
}

func TestAddTimeSavedClampsNegative(t *testing.T) {
	tracker := newTestTracker(t)

	if err := tracker.RecordUncachedTiming(10); err != nil {
		t.Fatalf("record error: %v", err)
	}
	if err := tracker.RecordCachedTiming(50); err != nil {
		t.Fatalf("record error: %v", err)
	}
	if err := tracker.AddTimeSavedFromHit(); err != nil {
		t.Fatalf("time saved error: %v", err)
	}
	if got := tracker.Value(MetricTimeSaved); got != 0 {
		t.Fatalf("negative delta must clamp to zero, got %d", got)
	}
}

func TestWeeksArePartitioned(t *testing.T) {
	tracker := newTestTracker(t)

	tracker.now = func() time.Time { return time.Date(2026, 8, 24, 0, 0, 0, 0, time.UTC) }
	if err := tracker.Increment(MetricCacheHits, 5); err != nil {
		t.Fatalf("increment error: %v", err)
	}

	// 新的一周从零开始，旧周的行保持不变。
	tracker.now = func() time.Time { return time.Date(2026, 8, 31, 0, 0, 0, 0, time.UTC) }
	if got := tracker.Value(MetricCacheHits); got != 0 {
		t.Fatalf("new week should start empty, got %d", got)
	}
	if err := tracker.Increment(MetricCacheHits, 2); err != nil {
		t.Fatalf("increment error: %v", err)
	}

	tracker.now = func() time.Time { return time.Date(2026, 8, 24, 0, 0, 0, 0, time.UTC) }
	if got := tracker.Value(MetricCacheHits); got != 5 {
		t.Fatalf("historic week must be preserved, got %d", got)
	}
}
