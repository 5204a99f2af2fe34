// Package rules implements the rule capability set and the concurrent
// evaluation dispatcher.
package rules

import (
	"context"
	"time"

	"github.com/hasip-timurtas/solana-watchtower/internal/events"
)

// Severity is the ordered alert severity enumeration.
type Severity int

const (
	SeverityInfo Severity = iota
	SeverityLow
	SeverityMedium
	SeverityHigh
	SeverityCritical
)

func (s Severity) String() string {
	switch s {
	case SeverityInfo:
		return "Info"
	case SeverityLow:
		return "Low"
	case SeverityMedium:
		return "Medium"
	case SeverityHigh:
		return "High"
	case SeverityCritical:
		return "Critical"
	default:
		return "Info"
	}
}

// Alert is the rule-facing shape of an emitted alert; the alert manager
// fills in dedup/lifecycle bookkeeping when it receives one, so rules
// only need to describe what they observed.
type Alert struct {
	RuleName         string
	ProgramID        events.ProgramID
	Severity         Severity
	Message          string
	Confidence       float64
	Metadata         map[string]string
	SuggestedActions []string
	// VolatileMetadataKeys lists Metadata keys excluded from the dedup
	// fingerprint; defaults to {"observed_at","sample_id"} when nil.
	VolatileMetadataKeys []string
}

// HistoryView is the read-only interface into the event store exposed
// to rules. Rules may query prior events but may not write to history.
type HistoryView interface {
	Query(programID events.ProgramID, from, to time.Time) []*events.ProgramEvent
}

// ErrorKind classifies an evaluation error for metrics/logging.
type ErrorKind string

const (
	ErrorKindTimeout ErrorKind = "timeout"
	ErrorKindPanic   ErrorKind = "panic"
	ErrorKindInvalid ErrorKind = "invalid_input"
)

// EvalError carries the classification recorded in rule_errors{rule, kind}.
type EvalError struct {
	Kind ErrorKind
	Err  error
}

func (e *EvalError) Error() string { return string(e.Kind) + ": " + e.Err.Error() }
func (e *EvalError) Unwrap() error { return e.Err }

// Describe is the static metadata a rule reports.
type Describe struct {
	Description     string
	SeverityDefault Severity
	Parameters      map[string]any
}

// Rule is the capability set every evaluator (built-in or custom)
// implements. It must be safe to invoke Evaluate concurrently on the
// same instance; stateful rules guard their own state.
type Rule interface {
	Name() string
	Describe() Describe
	// ProgramFilter returns the optional program_id filter; a false
	// filtered result means "no filter, matches every program" and id
	// is then ignored.
	ProgramFilter() (id events.ProgramID, filtered bool)
	// Evaluate inspects a single incoming event and returns at most one
	// Alert. A nil Alert with a nil error means NoAlert.
	Evaluate(ctx context.Context, ev *events.ProgramEvent, history HistoryView, now time.Time) (*Alert, error)
}
