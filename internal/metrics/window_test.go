package metrics

import (
	"testing"
	"time"
)

func TestWindowStatsEmpty(t *testing.T) {
	w := NewWindow(time.Minute)
	got := w.Stats(time.Now())
	if got.Count != 0 || got.Mean != 0 {
		t.Fatalf("expected zero stats for empty window, got %+v", got)
	}
}

func TestWindowStatsPrunesOldSamples(t *testing.T) {
	w := NewWindow(10 * time.Second)
	base := time.Now()
	w.Record(1, base.Add(-20*time.Second))
	w.Record(2, base.Add(-5*time.Second))
	w.Record(3, base)

	got := w.Stats(base)
	if got.Count != 2 {
		t.Fatalf("count = %d, want 2 (old sample pruned)", got.Count)
	}
	if got.Mean != 2.5 {
		t.Fatalf("mean = %v, want 2.5", got.Mean)
	}
	if got.Min != 2 || got.Max != 3 {
		t.Fatalf("min/max = %v/%v, want 2/3", got.Min, got.Max)
	}
}

func TestWelfordMeanMatchesArithmeticMean(t *testing.T) {
	var w WelfordMean
	values := []float64{10, 20, 30, 40}
	for _, v := range values {
		w.Add(v)
	}
	if got, want := w.Mean(), 25.0; got != want {
		t.Fatalf("mean = %v, want %v", got, want)
	}
	if w.Count() != int64(len(values)) {
		t.Fatalf("count = %d, want %d", w.Count(), len(values))
	}
}

func TestRegistryHandlerServesText(t *testing.T) {
	r := New()
	r.IncEventsMalformed()
	if r.Handler() == nil {
		t.Fatalf("expected non-nil handler")
	}
}
