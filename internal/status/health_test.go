package status

import (
	"testing"
	"time"
)

func TestChannelHealthFailureRate(t *testing.T) {
	now := time.Date(2024, time.January, 1, 0, 0, 0, 0, time.UTC)
	h := NewChannelHealth(5 * time.Minute)
	h.WithClock(func() time.Time { return now })

	h.Record("slack", true, now)
	h.Record("slack", false, now)
	h.Record("slack", false, now)

	if rate := h.FailureRate("slack"); rate < 0.66 || rate > 0.67 {
		t.Fatalf("expected ~0.667 failure rate, got %f", rate)
	}
}

func TestChannelHealthPrunesOldSamples(t *testing.T) {
	now := time.Date(2024, time.January, 1, 0, 0, 0, 0, time.UTC)
	h := NewChannelHealth(time.Minute)
	h.WithClock(func() time.Time { return now })

	h.Record("webhook", false, now)
	now = now.Add(2 * time.Minute)
	h.WithClock(func() time.Time { return now })

	if rate := h.FailureRate("webhook"); rate != 0 {
		t.Fatalf("expected stale failures to be pruned, got rate %f", rate)
	}
}

func TestAnyChannelDegradedThreshold(t *testing.T) {
	now := time.Now()
	h := NewChannelHealth(5 * time.Minute)
	h.WithClock(func() time.Time { return now })

	h.Record("email", false, now)
	h.Record("email", true, now)
	if h.AnyChannelDegraded() {
		t.Fatal("expected 50% failure rate to not exceed the Degraded threshold")
	}

	h.Record("email", false, now)
	if !h.AnyChannelDegraded() {
		t.Fatal("expected >50% failure rate to trip Degraded")
	}
}

func TestDeriveEngineStatus(t *testing.T) {
	if got := Derive(IngressFailed, nil); got != StatusFailed {
		t.Fatalf("expected Failed, got %v", got)
	}
	if got := Derive(IngressReconnecting, nil); got != StatusDegraded {
		t.Fatalf("expected Degraded, got %v", got)
	}
	if got := Derive(IngressConnected, nil); got != StatusRunning {
		t.Fatalf("expected Running, got %v", got)
	}
}
