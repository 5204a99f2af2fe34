package rules

import (
	"context"
	"fmt"
	"time"

	"github.com/hasip-timurtas/solana-watchtower/internal/events"
)

// LiquidityDropConfig parametrises the LiquidityDrop rule's drop
// threshold, lookback window, and minimum-liquidity floor.
type LiquidityDropConfig struct {
	ProgramID     events.ProgramID
	ThresholdPct  float64
	WindowSeconds int
	MinLiquidity  float64
}

// LiquidityDrop watches AccountUpdate events carrying a liquidity value
// and fires when the current reading falls at least ThresholdPct below
// the maximum observed over the prior WindowSeconds.
type LiquidityDrop struct {
	cfg LiquidityDropConfig
}

// NewLiquidityDrop constructs the rule with the given thresholds.
func NewLiquidityDrop(cfg LiquidityDropConfig) *LiquidityDrop {
	return &LiquidityDrop{cfg: cfg}
}

func (r *LiquidityDrop) Name() string { return "LiquidityDrop" }

func (r *LiquidityDrop) Describe() Describe {
	return Describe{
		Description:     "Flags a sudden drop in pool/account liquidity relative to its recent peak.",
		SeverityDefault: SeverityHigh,
		Parameters: map[string]any{
			"threshold_pct":  r.cfg.ThresholdPct,
			"window_seconds": r.cfg.WindowSeconds,
			"min_liquidity":  r.cfg.MinLiquidity,
		},
	}
}

func (r *LiquidityDrop) ProgramFilter() (events.ProgramID, bool) {
	return r.cfg.ProgramID, r.cfg.ProgramID != (events.ProgramID{})
}

func (r *LiquidityDrop) Evaluate(_ context.Context, ev *events.ProgramEvent, history HistoryView, now time.Time) (*Alert, error) {
	if ev.Type != events.TypeAccountUpdate {
		return nil, nil
	}
	current, ok := ev.Float64("liquidity")
	if !ok {
		return nil, nil
	}
	if current <= r.cfg.MinLiquidity {
		return nil, nil
	}

	window := time.Duration(r.cfg.WindowSeconds) * time.Second
	if window <= 0 {
		window = 5 * time.Minute
	}
	recent := history.Query(ev.ProgramID, now.Add(-window), now)

	max := current
	for _, prior := range recent {
		if liquidity, ok := prior.Float64("liquidity"); ok && liquidity > max {
			max = liquidity
		}
	}
	if max <= 0 {
		return nil, nil
	}

	dropPct := (max - current) / max * 100
	if dropPct < r.cfg.ThresholdPct {
		return nil, nil
	}

	return &Alert{
		RuleName:   r.Name(),
		ProgramID:  ev.ProgramID,
		Severity:   SeverityHigh,
		Message:    fmt.Sprintf("liquidity dropped %.1f%% from recent peak %.0f to %.0f", dropPct, max, current),
		Confidence: 1.0,
		Metadata: map[string]string{
			"current_liquidity": fmt.Sprintf("%.0f", current),
			"peak_liquidity":    fmt.Sprintf("%.0f", max),
			"drop_pct":          fmt.Sprintf("%.1f", dropPct),
		},
		SuggestedActions: []string{"Check for large withdrawals", "Monitor for continued drawdown"},
	}, nil
}
