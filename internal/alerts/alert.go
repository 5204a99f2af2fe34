// Package alerts implements alert deduplication, acknowledge/resolve
// state transitions, and aggregate statistics over the
// active/acknowledged/resolved alert set.
package alerts

import (
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"sort"
	"strings"
	"time"

	"github.com/hasip-timurtas/solana-watchtower/internal/events"
	"github.com/hasip-timurtas/solana-watchtower/internal/rules"
)

// Status is the lifecycle state of a stored alert.
type Status int

const (
	StatusActive Status = iota
	StatusAcknowledged
	StatusResolved
)

func (s Status) String() string {
	switch s {
	case StatusActive:
		return "Active"
	case StatusAcknowledged:
		return "Acknowledged"
	case StatusResolved:
		return "Resolved"
	default:
		return "Active"
	}
}

// Alert is the stored, lifecycle-bearing record derived from a
// rules.Alert once it reaches the manager.
type Alert struct {
	ID                string
	RuleName          string
	ProgramID         events.ProgramID
	ProgramName       string
	Severity          rules.Severity
	Message           string
	Confidence        float64
	Timestamp         time.Time
	LastSeen          time.Time
	OccurrenceCount   int
	Metadata          map[string]string
	SuggestedActions  []string
	Status            Status
	AcknowledgedAt    time.Time
	ResolvedAt        time.Time
	volatileKeys      map[string]struct{}
}

// dedupKey computes a bucketed fingerprint:
// hash(rule_name || program_id || floor(timestamp/60s) || fingerprint(metadata)).
func dedupKey(ruleName string, programID events.ProgramID, ts time.Time, metadata map[string]string, volatile []string) string {
	skip := make(map[string]struct{}, len(volatile))
	for _, k := range volatile {
		skip[k] = struct{}{}
	}
	if len(volatile) == 0 {
		skip["observed_at"] = struct{}{}
		skip["sample_id"] = struct{}{}
	}

	keys := make([]string, 0, len(metadata))
	for k := range metadata {
		if _, excluded := skip[k]; excluded {
			continue
		}
		keys = append(keys, k)
	}
	sort.Strings(keys)

	h := sha256.New()
	h.Write([]byte(ruleName))
	h.Write([]byte{0})
	h.Write(programID[:])
	h.Write([]byte{0})

	var bucket [8]byte
	binary.BigEndian.PutUint64(bucket[:], uint64(ts.Unix()/60))
	h.Write(bucket[:])

	for _, k := range keys {
		h.Write([]byte(k))
		h.Write([]byte{'='})
		h.Write([]byte(metadata[k]))
		h.Write([]byte{';'})
	}
	return hex.EncodeToString(h.Sum(nil))
}

// fromRuleAlert builds the stored representation of a freshly emitted
// rules.Alert, computing its dedup key.
func fromRuleAlert(a *rules.Alert, programName string, now time.Time) *Alert {
	id := dedupKey(a.RuleName, a.ProgramID, now, a.Metadata, a.VolatileMetadataKeys)
	volatile := map[string]struct{}{}
	for _, k := range a.VolatileMetadataKeys {
		volatile[k] = struct{}{}
	}
	return &Alert{
		ID:               id,
		RuleName:         a.RuleName,
		ProgramID:        a.ProgramID,
		ProgramName:      programName,
		Severity:         a.Severity,
		Message:          a.Message,
		Confidence:       a.Confidence,
		Timestamp:        now,
		LastSeen:         now,
		OccurrenceCount:  1,
		Metadata:         a.Metadata,
		SuggestedActions: a.SuggestedActions,
		Status:           StatusActive,
		volatileKeys:     volatile,
	}
}

func severityRank(s rules.Severity) int { return int(s) }

// ParseSeverity maps a config/dashboard-facing string to rules.Severity.
func ParseSeverity(s string) (rules.Severity, bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "info":
		return rules.SeverityInfo, true
	case "low":
		return rules.SeverityLow, true
	case "medium":
		return rules.SeverityMedium, true
	case "high":
		return rules.SeverityHigh, true
	case "critical":
		return rules.SeverityCritical, true
	default:
		return rules.SeverityInfo, false
	}
}
