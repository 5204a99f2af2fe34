package rules

import (
	"context"
	"fmt"
	"time"

	"github.com/hasip-timurtas/solana-watchtower/internal/events"
)

// LargeTransactionConfig parametrises the LargeTransaction rule's amount
// threshold.
type LargeTransactionConfig struct {
	ProgramID       events.ProgramID
	AmountThreshold float64
}

// LargeTransaction emits Medium severity at >=1x amount_threshold and
// High at >=10x.
type LargeTransaction struct {
	cfg LargeTransactionConfig
}

// NewLargeTransaction constructs the rule with the given threshold.
func NewLargeTransaction(cfg LargeTransactionConfig) *LargeTransaction {
	return &LargeTransaction{cfg: cfg}
}

func (r *LargeTransaction) Name() string { return "LargeTransaction" }

func (r *LargeTransaction) Describe() Describe {
	return Describe{
		Description:     "Flags transactions whose amount exceeds a configured threshold.",
		SeverityDefault: SeverityMedium,
		Parameters:      map[string]any{"amount_threshold": r.cfg.AmountThreshold},
	}
}

func (r *LargeTransaction) ProgramFilter() (events.ProgramID, bool) {
	return r.cfg.ProgramID, r.cfg.ProgramID != (events.ProgramID{})
}

func (r *LargeTransaction) Evaluate(_ context.Context, ev *events.ProgramEvent, _ HistoryView, _ time.Time) (*Alert, error) {
	if ev.Type != events.TypeTransactionUpdate {
		return nil, nil
	}
	amount, ok := ev.Float64("amount")
	if !ok {
		return nil, nil
	}
	if amount < r.cfg.AmountThreshold {
		return nil, nil
	}

	severity := SeverityMedium
	if amount >= 10*r.cfg.AmountThreshold {
		severity = SeverityHigh
	}

	return &Alert{
		RuleName:   r.Name(),
		ProgramID:  ev.ProgramID,
		Severity:   severity,
		Message:    fmt.Sprintf("transaction amount %.0f exceeds threshold %.0f", amount, r.cfg.AmountThreshold),
		Confidence: 1.0,
		Metadata: map[string]string{
			"amount":    fmt.Sprintf("%.0f", amount),
			"threshold": fmt.Sprintf("%.0f", r.cfg.AmountThreshold),
		},
		SuggestedActions: []string{"Review the transaction on a block explorer", "Confirm counterparty identity"},
	}, nil
}
