package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestPromCounters(t *testing.T) {
	reg := prometheus.NewRegistry()
	p := NewProm(reg)

	p.Hit()
	p.Hit()
	p.Miss()
	p.Warmed()
	p.RateLimited()

	if got := testutil.ToFloat64(p.hits); got != 2 {
		t.Fatalf("hits = %v, want 2", got)
	}
	if got := testutil.ToFloat64(p.misses); got != 1 {
		t.Fatalf("misses = %v, want 1", got)
	}
	if got := testutil.ToFloat64(p.warmed); got != 1 {
		t.Fatalf("warmed = %v, want 1", got)
	}
	if got := testutil.ToFloat64(p.purged); got != 0 {
		t.Fatalf("purged = %v, want 0", got)
	}
	if got := testutil.ToFloat64(p.rateLimited); got != 1 {
		t.Fatalf("rate limited = %v, want 1", got)
	}
}
