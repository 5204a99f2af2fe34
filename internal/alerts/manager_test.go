package alerts

import (
	"testing"
	"time"

	"github.com/hasip-timurtas/solana-watchtower/internal/events"
	"github.com/hasip-timurtas/solana-watchtower/internal/logging"
	"github.com/hasip-timurtas/solana-watchtower/internal/metrics"
	"github.com/hasip-timurtas/solana-watchtower/internal/rules"
)

func programID(b byte) events.ProgramID {
	var id events.ProgramID
	id[0] = b
	return id
}

func newTestManager(t *testing.T, policy AutoResolvePolicy) *Manager {
	t.Helper()
	namer := func(id events.ProgramID) string { return "demo-pool" }
	return New(metrics.New(), logging.NewTestLogger(), namer, policy)
}

func TestSubmitDedupsCollidingAlertsWithinBucket(t *testing.T) {
	m := newTestManager(t, AutoResolvePolicy{})
	a := &rules.Alert{RuleName: "large_tx", ProgramID: programID(1), Severity: rules.SeverityHigh, Message: "big transfer"}

	first := m.Submit(a)
	second := m.Submit(a)

	if first.ID != second.ID {
		t.Fatalf("expected same dedup key, got %q and %q", first.ID, second.ID)
	}
	if second.OccurrenceCount != 2 {
		t.Fatalf("expected occurrence_count 2 after merge, got %d", second.OccurrenceCount)
	}
	if m.Stats().Total != 1 {
		t.Fatalf("expected a single stored alert after dedup, got %d", m.Stats().Total)
	}
}

func TestAcknowledgeThenResolveIsMonotonic(t *testing.T) {
	m := newTestManager(t, AutoResolvePolicy{})
	a := m.Submit(&rules.Alert{RuleName: "liquidity_drop", ProgramID: programID(2), Severity: rules.SeverityCritical})

	if err := m.Acknowledge(a.ID); err != nil {
		t.Fatalf("acknowledge: %v", err)
	}
	if err := m.Acknowledge(a.ID); err != nil {
		t.Fatalf("expected idempotent re-acknowledge, got %v", err)
	}
	if err := m.Resolve(a.ID); err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if err := m.Acknowledge(a.ID); err != ErrIllegalTransition {
		t.Fatalf("expected illegal transition acknowledging a resolved alert, got %v", err)
	}
	if err := m.Resolve(a.ID); err != nil {
		t.Fatalf("expected idempotent re-resolve, got %v", err)
	}
}

func TestUnknownAlertIDIsRejected(t *testing.T) {
	m := newTestManager(t, AutoResolvePolicy{})
	if err := m.Acknowledge("does-not-exist"); err != ErrUnknownAlert {
		t.Fatalf("expected ErrUnknownAlert, got %v", err)
	}
	if err := m.Resolve("does-not-exist"); err != ErrUnknownAlert {
		t.Fatalf("expected ErrUnknownAlert, got %v", err)
	}
}

func TestAutoResolveSweepsStaleActiveAlerts(t *testing.T) {
	m := newTestManager(t, AutoResolvePolicy{Default: time.Minute, Retention: time.Hour})
	a := m.Submit(&rules.Alert{RuleName: "oracle_deviation", ProgramID: programID(3), Severity: rules.SeverityMedium})

	m.AutoResolve(time.Now().UTC().Add(2 * time.Minute))

	got := m.List(Filter{})
	if len(got) != 1 || got[0].ID != a.ID {
		t.Fatalf("expected the alert to still be listed (within retention), got %+v", got)
	}
	if got[0].Status != StatusResolved {
		t.Fatalf("expected auto-resolve to transition to Resolved, got %v", got[0].Status)
	}
}

func TestAutoResolveEvictsPastRetention(t *testing.T) {
	m := newTestManager(t, AutoResolvePolicy{Default: time.Minute, Retention: time.Minute})
	m.Submit(&rules.Alert{RuleName: "high_failure_rate", ProgramID: programID(4), Severity: rules.SeverityLow})

	now := time.Now().UTC()
	m.AutoResolve(now.Add(2 * time.Minute))
	m.AutoResolve(now.Add(5 * time.Minute))

	if got := m.List(Filter{}); len(got) != 0 {
		t.Fatalf("expected resolved alert evicted past retention, got %+v", got)
	}
}

func TestListFilterBySeverityAndStatus(t *testing.T) {
	m := newTestManager(t, AutoResolvePolicy{})
	m.Submit(&rules.Alert{RuleName: "r1", ProgramID: programID(5), Severity: rules.SeverityHigh})
	m.Submit(&rules.Alert{RuleName: "r2", ProgramID: programID(6), Severity: rules.SeverityLow})

	high := rules.SeverityHigh
	got := m.List(Filter{Severity: &high})
	if len(got) != 1 || got[0].RuleName != "r1" {
		t.Fatalf("expected only the high-severity alert, got %+v", got)
	}

	active := StatusActive
	got = m.List(Filter{Status: &active})
	if len(got) != 2 {
		t.Fatalf("expected both alerts to still be Active, got %d", len(got))
	}
}

func TestParseSeverityRoundTrips(t *testing.T) {
	cases := map[string]rules.Severity{
		"info":     rules.SeverityInfo,
		"Low":      rules.SeverityLow,
		" MEDIUM ": rules.SeverityMedium,
		"high":     rules.SeverityHigh,
		"critical": rules.SeverityCritical,
	}
	for in, want := range cases {
		got, ok := ParseSeverity(in)
		if !ok || got != want {
			t.Fatalf("ParseSeverity(%q) = %v, %v; want %v, true", in, got, ok, want)
		}
	}
	if _, ok := ParseSeverity("nonsense"); ok {
		t.Fatal("expected ParseSeverity to reject an unknown level")
	}
}
