package rules

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/hasip-timurtas/solana-watchtower/internal/events"
)

// HighFailureRateConfig parametrises the HighFailureRate rule's window,
// minimum sample size, and failure-rate threshold.
type HighFailureRateConfig struct {
	ProgramID           events.ProgramID
	WindowSeconds       int
	MinTransactionCount int
	MaxFailureRatePct   float64
}

type outcome struct {
	at     time.Time
	failed bool
}

// HighFailureRate is a stateful rule: it maintains a per-program ring of
// recent transaction outcomes and guards that state with its own mutex
// so it stays safe under concurrent Evaluate calls.
type HighFailureRate struct {
	cfg HighFailureRateConfig

	mu       sync.Mutex
	outcomes map[events.ProgramID][]outcome
}

// NewHighFailureRate constructs the rule with the given thresholds.
func NewHighFailureRate(cfg HighFailureRateConfig) *HighFailureRate {
	return &HighFailureRate{cfg: cfg, outcomes: make(map[events.ProgramID][]outcome)}
}

func (r *HighFailureRate) Name() string { return "HighFailureRate" }

func (r *HighFailureRate) Describe() Describe {
	return Describe{
		Description:     "Flags a program whose recent transaction failure rate exceeds a threshold.",
		SeverityDefault: SeverityHigh,
		Parameters: map[string]any{
			"window_seconds":        r.cfg.WindowSeconds,
			"min_transaction_count": r.cfg.MinTransactionCount,
			"max_failure_rate_pct":  r.cfg.MaxFailureRatePct,
		},
	}
}

func (r *HighFailureRate) ProgramFilter() (events.ProgramID, bool) {
	return r.cfg.ProgramID, r.cfg.ProgramID != (events.ProgramID{})
}

func (r *HighFailureRate) Evaluate(_ context.Context, ev *events.ProgramEvent, _ HistoryView, now time.Time) (*Alert, error) {
	if ev.Type != events.TypeTransactionUpdate {
		return nil, nil
	}
	failed := false
	if errVal, present := ev.Data["err"]; present && errVal != nil {
		failed = true
	}

	window := time.Duration(r.cfg.WindowSeconds) * time.Second
	if window <= 0 {
		window = 5 * time.Minute
	}

	r.mu.Lock()
	ring := append(r.outcomes[ev.ProgramID], outcome{at: now, failed: failed})
	cutoff := now.Add(-window)
	kept := ring[:0]
	for _, o := range ring {
		if o.at.After(cutoff) {
			kept = append(kept, o)
		}
	}
	r.outcomes[ev.ProgramID] = kept
	total := len(kept)
	failedCount := 0
	for _, o := range kept {
		if o.failed {
			failedCount++
		}
	}
	r.mu.Unlock()

	if total < r.cfg.MinTransactionCount {
		return nil, nil
	}
	rate := float64(failedCount) / float64(total) * 100
	if rate < r.cfg.MaxFailureRatePct {
		return nil, nil
	}

	return &Alert{
		RuleName:   r.Name(),
		ProgramID:  ev.ProgramID,
		Severity:   SeverityHigh,
		Message:    fmt.Sprintf("transaction failure rate %.1f%% over last %d observations", rate, total),
		Confidence: 1.0,
		Metadata: map[string]string{
			"failure_rate": fmt.Sprintf("%.1f", rate),
			"sample_size":  fmt.Sprintf("%d", total),
		},
		VolatileMetadataKeys: []string{"observed_at", "sample_id", "sample_size"},
		SuggestedActions:     []string{"Check program logs for recurring instruction errors", "Verify upstream RPC health"},
	}, nil
}
