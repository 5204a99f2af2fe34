package rules

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/hasip-timurtas/solana-watchtower/internal/events"
)

// OracleDeviationConfig parametrises the OracleDeviation rule's
// reference oracle and maximum allowed deviation.
type OracleDeviationConfig struct {
	ProgramID        events.ProgramID
	ReferenceOracle  string
	MaxDeviationPct  float64
}

// OracleDeviation compares a reported price to a rolling reference
// median over the last minute and fires High when the relative
// deviation reaches or exceeds MaxDeviationPct.
type OracleDeviation struct {
	cfg OracleDeviationConfig
}

// NewOracleDeviation constructs the rule with the given configuration.
func NewOracleDeviation(cfg OracleDeviationConfig) *OracleDeviation {
	return &OracleDeviation{cfg: cfg}
}

func (r *OracleDeviation) Name() string { return "OracleDeviation" }

func (r *OracleDeviation) Describe() Describe {
	return Describe{
		Description:     "Flags a price reading that deviates from the rolling reference median.",
		SeverityDefault: SeverityHigh,
		Parameters: map[string]any{
			"reference_oracle": r.cfg.ReferenceOracle,
			"max_deviation_pct": r.cfg.MaxDeviationPct,
		},
	}
}

func (r *OracleDeviation) ProgramFilter() (events.ProgramID, bool) {
	return r.cfg.ProgramID, r.cfg.ProgramID != (events.ProgramID{})
}

func (r *OracleDeviation) Evaluate(_ context.Context, ev *events.ProgramEvent, history HistoryView, now time.Time) (*Alert, error) {
	price, ok := ev.Float64("price")
	if !ok {
		return nil, nil
	}
	if oracle, ok := ev.String("oracle"); !ok || (r.cfg.ReferenceOracle != "" && oracle != r.cfg.ReferenceOracle) {
		return nil, nil
	}

	recent := history.Query(ev.ProgramID, now.Add(-time.Minute), now)
	samples := make([]float64, 0, len(recent)+1)
	for _, prior := range recent {
		if p, ok := prior.Float64("price"); ok {
			samples = append(samples, p)
		}
	}
	if len(samples) == 0 {
		return nil, nil
	}
	ref := median(samples)
	if ref == 0 {
		return nil, nil
	}

	deviation := absFloat(price-ref) / ref * 100
	if deviation < r.cfg.MaxDeviationPct {
		return nil, nil
	}

	return &Alert{
		RuleName:   r.Name(),
		ProgramID:  ev.ProgramID,
		Severity:   SeverityHigh,
		Message:    fmt.Sprintf("price %.4f deviates %.2f%% from reference median %.4f", price, deviation, ref),
		Confidence: 1.0,
		Metadata: map[string]string{
			"price":      fmt.Sprintf("%.6f", price),
			"reference":  fmt.Sprintf("%.6f", ref),
			"deviation":  fmt.Sprintf("%.2f", deviation),
		},
		SuggestedActions: []string{"Cross-check against a second oracle feed", "Pause dependent strategies if deviation persists"},
	}, nil
}

func median(values []float64) float64 {
	sorted := append([]float64(nil), values...)
	sort.Float64s(sorted)
	n := len(sorted)
	if n == 0 {
		return 0
	}
	if n%2 == 1 {
		return sorted[n/2]
	}
	return (sorted[n/2-1] + sorted[n/2]) / 2
}

func absFloat(v float64) float64 {
	if v < 0 {
		return -v
	}
	return v
}
