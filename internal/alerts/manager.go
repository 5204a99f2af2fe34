package alerts

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/hasip-timurtas/solana-watchtower/internal/events"
	"github.com/hasip-timurtas/solana-watchtower/internal/logging"
	"github.com/hasip-timurtas/solana-watchtower/internal/metrics"
	"github.com/hasip-timurtas/solana-watchtower/internal/rules"
)

// ErrUnknownAlert is returned by Acknowledge/Resolve for an id the
// manager has never seen or has already evicted.
var ErrUnknownAlert = errors.New("unknown alert id")

// ErrIllegalTransition is returned when a lifecycle transition would
// violate the Active -> Acknowledged -> Resolved monotonicity invariant.
var ErrIllegalTransition = errors.New("illegal lifecycle transition")

// AutoResolvePolicy maps a rule name to the duration of inactivity after
// which its Active alerts are automatically resolved. It is an explicit,
// conservatively-defaulted, per-rule knob rather than a single global
// timeout.
type AutoResolvePolicy struct {
	Default    time.Duration
	PerRule    map[string]time.Duration
	Retention  time.Duration
}

func (p AutoResolvePolicy) after(rule string) time.Duration {
	if d, ok := p.PerRule[rule]; ok {
		return d
	}
	if p.Default > 0 {
		return p.Default
	}
	return 24 * time.Hour
}

// Stats is the aggregate snapshot returned by Manager.Stats.
type Stats struct {
	Total                int
	BySeverity           map[string]int
	ByRule               map[string]int
	Active               int
	Acknowledged         int
	Resolved             int
	AvgResolutionSeconds float64
	DeliveriesOK         uint64
	DeliveriesFailed     uint64
}

// ProgramNamer resolves a program id to the human-readable name
// configured for it; the engine builds this from config, not the store.
type ProgramNamer func(events.ProgramID) string

// Manager owns the active/acknowledged/resolved alert set: dedup,
// lifecycle transitions, stats, and the auto-resolve sweep.
type Manager struct {
	met     *metrics.Registry
	log     *logging.Logger
	namer   ProgramNamer
	policy  AutoResolvePolicy

	resolution metrics.WelfordMean

	mu     sync.RWMutex
	byID   map[string]*Alert
	// lastEventAt tracks, per rule, the most recent event timestamp that
	// kept an active alert's dedup key alive (used by auto_resolve).
	lastEventAt map[string]time.Time
}

// New constructs an alert manager.
func New(met *metrics.Registry, log *logging.Logger, namer ProgramNamer, policy AutoResolvePolicy) *Manager {
	if namer == nil {
		namer = func(events.ProgramID) string { return "" }
	}
	if policy.Retention <= 0 {
		policy.Retention = time.Hour
	}
	return &Manager{
		met:         met,
		log:         log,
		namer:       namer,
		policy:      policy,
		byID:        make(map[string]*Alert),
		lastEventAt: make(map[string]time.Time),
	}
}

// Run subscribes to the engine's alert stream and submits every alert
// that arrives, until ctx is cancelled or the channel closes.
func (m *Manager) Run(ctx context.Context, alertCh <-chan *rules.Alert) {
	for {
		select {
		case <-ctx.Done():
			return
		case a, ok := <-alertCh:
			if !ok {
				return
			}
			m.Submit(a)
		}
	}
}

// Submit applies the dedup rule: a colliding Active alert is merged
// (last_seen bumped, occurrence_count incremented) instead of creating
// a new emission.
func (m *Manager) Submit(a *rules.Alert) *Alert {
	now := time.Now().UTC()
	name := m.namer(a.ProgramID)
	candidate := fromRuleAlert(a, name, now)

	m.mu.Lock()
	defer m.mu.Unlock()

	m.lastEventAt[a.RuleName] = now

	if existing, ok := m.byID[candidate.ID]; ok && existing.Status == StatusActive {
		existing.LastSeen = now
		existing.OccurrenceCount++
		if m.log != nil {
			m.log.Debug("alert merged into existing dedup bucket",
				logging.String("rule", existing.RuleName), logging.ProgramID(existing.ProgramID),
				logging.Severity(existing.Severity), logging.Int("occurrence_count", existing.OccurrenceCount))
		}
		return existing
	}

	m.byID[candidate.ID] = candidate
	if m.met != nil {
		m.met.SetAlertsActive(float64(m.countLocked(StatusActive)))
	}
	if m.log != nil {
		m.log.Info("alert submitted",
			logging.String("rule", candidate.RuleName), logging.ProgramID(candidate.ProgramID),
			logging.Severity(candidate.Severity), logging.String("id", candidate.ID))
	}
	return candidate
}

// Acknowledge transitions an Active alert to Acknowledged.
func (m *Manager) Acknowledge(id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.byID[id]
	if !ok {
		return ErrUnknownAlert
	}
	switch a.Status {
	case StatusAcknowledged:
		return nil // idempotent
	case StatusActive:
		a.Status = StatusAcknowledged
		a.AcknowledgedAt = time.Now().UTC()
		if m.log != nil {
			m.log.Info("alert acknowledged",
				logging.String("id", id), logging.String("rule", a.RuleName), logging.ProgramID(a.ProgramID))
		}
		return nil
	default:
		return ErrIllegalTransition
	}
}

// Resolve transitions an Active or Acknowledged alert to Resolved.
func (m *Manager) Resolve(id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.byID[id]
	if !ok {
		return ErrUnknownAlert
	}
	switch a.Status {
	case StatusResolved:
		return nil // idempotent
	case StatusActive, StatusAcknowledged:
		resolvedAt := time.Now().UTC()
		if !a.Timestamp.IsZero() {
			m.resolution.Add(resolvedAt.Sub(a.Timestamp).Seconds())
		}
		a.Status = StatusResolved
		a.ResolvedAt = resolvedAt
		if m.met != nil {
			m.met.SetAlertsActive(float64(m.countLocked(StatusActive)))
		}
		if m.log != nil {
			m.log.Info("alert resolved",
				logging.String("id", id), logging.String("rule", a.RuleName), logging.ProgramID(a.ProgramID),
				logging.Float64("resolution_seconds", resolvedAt.Sub(a.Timestamp).Seconds()))
		}
		return nil
	default:
		return ErrIllegalTransition
	}
}

// Filter narrows List() results.
type Filter struct {
	Severity *rules.Severity
	Status   *Status
}

func (f Filter) matches(a *Alert) bool {
	if f.Severity != nil && a.Severity != *f.Severity {
		return false
	}
	if f.Status != nil && a.Status != *f.Status {
		return false
	}
	return true
}

// List returns a snapshot ordered by timestamp descending.
func (m *Manager) List(f Filter) []*Alert {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]*Alert, 0, len(m.byID))
	for _, a := range m.byID {
		if f.matches(a) {
			cp := *a
			out = append(out, &cp)
		}
	}
	sortByTimestampDesc(out)
	return out
}

func sortByTimestampDesc(alerts []*Alert) {
	for i := 1; i < len(alerts); i++ {
		for j := i; j > 0 && alerts[j].Timestamp.After(alerts[j-1].Timestamp); j-- {
			alerts[j], alerts[j-1] = alerts[j-1], alerts[j]
		}
	}
}

func (m *Manager) countLocked(status Status) int {
	n := 0
	for _, a := range m.byID {
		if a.Status == status {
			n++
		}
	}
	return n
}

// Stats computes the aggregate counts and delivery stats over the
// current alert set.
func (m *Manager) Stats() Stats {
	m.mu.RLock()
	defer m.mu.RUnlock()

	s := Stats{
		BySeverity: make(map[string]int),
		ByRule:     make(map[string]int),
	}
	for _, a := range m.byID {
		s.Total++
		s.BySeverity[a.Severity.String()]++
		s.ByRule[a.RuleName]++
		switch a.Status {
		case StatusActive:
			s.Active++
		case StatusAcknowledged:
			s.Acknowledged++
		case StatusResolved:
			s.Resolved++
		}
	}
	s.AvgResolutionSeconds = m.resolution.Mean()
	if m.met != nil {
		s.DeliveriesOK, s.DeliveriesFailed = m.met.DeliveryCounts()
	}
	return s
}

// AutoResolve sweeps Active alerts whose rule has had no matching event
// for longer than the configured auto_resolve_after, and evicts Resolved
// alerts past resolved_retention_seconds. It is intended to run on a
// periodic ticker (see cmd/watchtower's composition root).
func (m *Manager) AutoResolve(now time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var autoResolved, evicted int
	for id, a := range m.byID {
		if a.Status == StatusActive {
			last, ok := m.lastEventAt[a.RuleName]
			if !ok {
				last = a.LastSeen
			}
			if now.Sub(last) >= m.policy.after(a.RuleName) {
				if !a.Timestamp.IsZero() {
					m.resolution.Add(now.Sub(a.Timestamp).Seconds())
				}
				a.Status = StatusResolved
				a.ResolvedAt = now
				autoResolved++
			}
			continue
		}
		if a.Status == StatusResolved && now.Sub(a.ResolvedAt) >= m.policy.Retention {
			delete(m.byID, id)
			evicted++
		}
	}
	if m.met != nil {
		m.met.SetAlertsActive(float64(m.countLocked(StatusActive)))
	}
	if m.log != nil && (autoResolved > 0 || evicted > 0) {
		m.log.Debug("auto-resolve sweep completed",
			logging.Int("auto_resolved", autoResolved), logging.Int("evicted", evicted))
	}
}

// RunAutoResolveLoop runs AutoResolve on a ticker until ctx is cancelled.
func (m *Manager) RunAutoResolveLoop(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			m.AutoResolve(now.UTC())
		}
	}
}
