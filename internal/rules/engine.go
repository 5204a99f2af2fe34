package rules

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/hasip-timurtas/solana-watchtower/internal/events"
	"github.com/hasip-timurtas/solana-watchtower/internal/history"
	"github.com/hasip-timurtas/solana-watchtower/internal/logging"
	"github.com/hasip-timurtas/solana-watchtower/internal/metrics"
)

// Config bounds the engine's concurrency and per-rule timeout.
type Config struct {
	MaxConcurrentEvaluations int
	RuleTimeout              time.Duration
}

const (
	defaultMaxConcurrent = 64
	defaultRuleTimeout   = 5 * time.Second
)

func (c Config) maxConcurrent() int {
	if c.MaxConcurrentEvaluations <= 0 {
		return defaultMaxConcurrent
	}
	return c.MaxConcurrentEvaluations
}

func (c Config) ruleTimeout() time.Duration {
	if c.RuleTimeout <= 0 {
		return defaultRuleTimeout
	}
	return c.RuleTimeout
}

// Engine owns the registered rule set and drives per-event dispatch.
// It appends every incoming event to history, fans evaluation out
// across a bounded worker ceiling, and forwards emitted alerts to
// whoever subscribed.
type Engine struct {
	cfg     Config
	history *history.History
	met     *metrics.Registry
	log     *logging.Logger

	mu       sync.RWMutex
	rules    []Rule
	started  bool

	sem       chan struct{}
	alertCh   chan *Alert
}

// New constructs an Engine bound to the given history store. Rules must
// be registered before the first Process call; registration is
// pre-start only.
func New(cfg Config, h *history.History, met *metrics.Registry, log *logging.Logger) *Engine {
	return &Engine{
		cfg:     cfg,
		history: h,
		met:     met,
		log:     log,
		sem:     make(chan struct{}, cfg.maxConcurrent()),
		alertCh: make(chan *Alert, 1024),
	}
}

// Register adds a rule instance. Duplicate names are rejected, as is
// registration after the engine has started processing events.
func (e *Engine) Register(r Rule) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.started {
		return fmt.Errorf("rules: cannot register %q after engine start", r.Name())
	}
	for _, existing := range e.rules {
		if existing.Name() == r.Name() {
			return fmt.Errorf("rules: duplicate rule name %q", r.Name())
		}
	}
	e.rules = append(e.rules, r)
	return nil
}

// SubscribeAlerts returns the stream of alerts consumed by the alert
// manager/notification dispatcher.
func (e *Engine) SubscribeAlerts() <-chan *Alert {
	return e.alertCh
}

// markStarted marks registration closed; Process calls it on every
// invocation, so tests can Register freely before the first event.
func (e *Engine) markStarted() {
	e.mu.Lock()
	e.started = true
	e.mu.Unlock()
}

// Process appends ev to history then dispatches concurrent evaluation
// across every candidate rule.
func (e *Engine) Process(ctx context.Context, ev *events.ProgramEvent) {
	e.markStarted()
	e.history.Append(ev)
	if e.met != nil {
		e.met.IncEventsIngested(string(ev.Type))
	}

	e.mu.RLock()
	candidates := make([]Rule, 0, len(e.rules))
	for _, r := range e.rules {
		if id, filtered := r.ProgramFilter(); !filtered || id == ev.ProgramID {
			candidates = append(candidates, r)
		}
	}
	e.mu.RUnlock()

	var wg sync.WaitGroup
	for _, r := range candidates {
		r := r
		wg.Add(1)
		go func() {
			defer wg.Done()
			e.dispatchOne(ctx, r, ev)
		}()
	}
	wg.Wait()
}

// dispatchOne admits a single rule evaluation into the concurrency
// ceiling, enforces the per-rule timeout, and routes the result.
func (e *Engine) dispatchOne(ctx context.Context, r Rule, ev *events.ProgramEvent) {
	waitCtx, cancelWait := context.WithTimeout(ctx, e.cfg.ruleTimeout())
	defer cancelWait()

	select {
	case e.sem <- struct{}{}:
	case <-waitCtx.Done():
		if e.met != nil {
			e.met.IncRuleDrop()
		}
		if e.log != nil {
			e.log.Warn("rule dropped waiting for concurrency ceiling",
				logging.String("rule", r.Name()), logging.ProgramID(ev.ProgramID))
		}
		return
	}
	defer func() { <-e.sem }()

	evalCtx, cancel := context.WithTimeout(ctx, e.cfg.ruleTimeout())
	defer cancel()

	start := time.Now()
	alert, err := e.safeEvaluate(evalCtx, r, ev)
	elapsed := time.Since(start)
	if e.met != nil {
		e.met.ObserveRuleDuration(r.Name(), elapsed.Seconds())
	}

	switch {
	case err != nil:
		kind := ErrorKind(ErrorKindInvalid)
		var evalErr *EvalError
		if ok := asEvalError(err, &evalErr); ok {
			kind = evalErr.Kind
		}
		if evalCtx.Err() == context.DeadlineExceeded {
			kind = ErrorKindTimeout
		}
		if e.met != nil {
			e.met.IncRuleError(r.Name(), string(kind))
		}
		if e.log != nil {
			e.log.Warn("rule evaluation error",
				logging.String("rule", r.Name()), logging.String("kind", string(kind)),
				logging.ProgramID(ev.ProgramID), logging.Error(err))
		}
	case alert != nil:
		e.emit(alert)
	default:
		if e.met != nil {
			e.met.IncRuleEval(r.Name())
		}
	}
}

func asEvalError(err error, target **EvalError) bool {
	e, ok := err.(*EvalError)
	if ok {
		*target = e
	}
	return ok
}

// safeEvaluate recovers from rule panics, converting them into an
// EvalError{Kind: ErrorKindPanic} instead of crashing the engine.
func (e *Engine) safeEvaluate(ctx context.Context, r Rule, ev *events.ProgramEvent) (alert *Alert, err error) {
	type result struct {
		alert *Alert
		err   error
	}
	done := make(chan result, 1)
	go func() {
		defer func() {
			if rec := recover(); rec != nil {
				done <- result{err: &EvalError{Kind: ErrorKindPanic, Err: fmt.Errorf("panic: %v", rec)}}
			}
		}()
		a, e := r.Evaluate(ctx, ev, e.history, time.Now())
		done <- result{alert: a, err: e}
	}()

	select {
	case <-ctx.Done():
		return nil, &EvalError{Kind: ErrorKindTimeout, Err: ctx.Err()}
	case res := <-done:
		return res.alert, res.err
	}
}

// emit hands an alert to the alert channel, dropping the oldest
// pending alert on overflow rather than blocking the caller.
func (e *Engine) emit(a *Alert) {
	select {
	case e.alertCh <- a:
	default:
		select {
		case <-e.alertCh:
		default:
		}
		select {
		case e.alertCh <- a:
		default:
		}
		if e.met != nil {
			e.met.IncAlertsDroppedOverflow()
		}
		if e.log != nil {
			e.log.Warn("alert dropped: alert channel overflow",
				logging.String("rule", a.RuleName), logging.ProgramID(a.ProgramID), logging.Severity(a.Severity))
		}
	}
}

// Shutdown closes the alert channel once all in-flight dispatches have
// drained, or the deadline elapses, whichever comes first.
func (e *Engine) Shutdown(ctx context.Context) {
	done := make(chan struct{})
	go func() {
		for i := 0; i < cap(e.sem); i++ {
			e.sem <- struct{}{}
		}
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		if e.met != nil {
			e.met.IncShutdownAbandoned()
		}
	}
	close(e.alertCh)
}
