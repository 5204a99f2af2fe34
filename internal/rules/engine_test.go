package rules

import (
	"context"
	"testing"
	"time"

	"github.com/hasip-timurtas/solana-watchtower/internal/events"
	"github.com/hasip-timurtas/solana-watchtower/internal/history"
	"github.com/hasip-timurtas/solana-watchtower/internal/logging"
	"github.com/hasip-timurtas/solana-watchtower/internal/metrics"
)

type fakeRule struct {
	name     string
	delay    time.Duration
	result   *Alert
	program  events.ProgramID
	filtered bool
}

func (f *fakeRule) Name() string       { return f.name }
func (f *fakeRule) Describe() Describe { return Describe{} }
func (f *fakeRule) ProgramFilter() (events.ProgramID, bool) {
	return f.program, f.filtered
}
func (f *fakeRule) Evaluate(ctx context.Context, ev *events.ProgramEvent, h HistoryView, now time.Time) (*Alert, error) {
	if f.delay > 0 {
		select {
		case <-time.After(f.delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	return f.result, nil
}

func newTestEngine(t *testing.T, cfg Config) (*Engine, *history.History) {
	t.Helper()
	h := history.New(history.Config{MaxEvents: 1000, MaxAgeSecond: 3600}, metrics.New())
	e := New(cfg, h, metrics.New(), logging.NewTestLogger())
	return e, h
}

func TestEngineEmitsAlertFromMatchingRule(t *testing.T) {
	program := programID(1)
	e, _ := newTestEngine(t, Config{MaxConcurrentEvaluations: 4, RuleTimeout: time.Second})
	want := &Alert{RuleName: "fake", ProgramID: program, Severity: SeverityHigh}
	if err := e.Register(&fakeRule{name: "fake", result: want}); err != nil {
		t.Fatalf("register: %v", err)
	}

	ev := events.New(events.TypeAccountUpdate, program, nil)
	go e.Process(context.Background(), ev)

	select {
	case got := <-e.SubscribeAlerts():
		if got.RuleName != "fake" {
			t.Fatalf("got rule %q, want fake", got.RuleName)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for alert")
	}
}

func TestEngineRuleTimeout(t *testing.T) {
	program := programID(2)
	e, _ := newTestEngine(t, Config{MaxConcurrentEvaluations: 4, RuleTimeout: 50 * time.Millisecond})
	if err := e.Register(&fakeRule{name: "slow", delay: time.Second}); err != nil {
		t.Fatalf("register: %v", err)
	}

	ev := events.New(events.TypeAccountUpdate, program, nil)
	e.Process(context.Background(), ev)

	select {
	case got := <-e.SubscribeAlerts():
		t.Fatalf("expected no alert from timed-out rule, got %+v", got)
	case <-time.After(200 * time.Millisecond):
		// No alert arrived, as expected.
	}
}

func TestEngineRejectsDuplicateRuleNames(t *testing.T) {
	e, _ := newTestEngine(t, Config{})
	if err := e.Register(&fakeRule{name: "dup"}); err != nil {
		t.Fatalf("register: %v", err)
	}
	if err := e.Register(&fakeRule{name: "dup"}); err == nil {
		t.Fatalf("expected error registering duplicate rule name")
	}
}

func TestEngineProgramFilterExcludesNonMatching(t *testing.T) {
	program := programID(3)
	other := programID(4)
	e, _ := newTestEngine(t, Config{MaxConcurrentEvaluations: 4, RuleTimeout: time.Second})
	want := &Alert{RuleName: "scoped"}
	if err := e.Register(&fakeRule{name: "scoped", program: program, filtered: true, result: want}); err != nil {
		t.Fatalf("register: %v", err)
	}

	ev := events.New(events.TypeAccountUpdate, other, nil)
	e.Process(context.Background(), ev)

	select {
	case got := <-e.SubscribeAlerts():
		t.Fatalf("expected no alert for non-matching program, got %+v", got)
	case <-time.After(100 * time.Millisecond):
	}
}
