package notify

import (
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/hasip-timurtas/solana-watchtower/internal/alerts"
	"github.com/hasip-timurtas/solana-watchtower/internal/logging"
	"github.com/hasip-timurtas/solana-watchtower/internal/metrics"
	"github.com/hasip-timurtas/solana-watchtower/internal/rules"
)

// HealthRecorder is notified of every delivery outcome so
// internal/status can compute the sliding-window channel failure rate
// feeding the Degraded engine state. Defined here, not in
// internal/status, to avoid notify depending back on status.
type HealthRecorder interface {
	Record(channel string, success bool, at time.Time)
}

// ChannelConfig binds a Channel adapter to its rate limit, queue
// capacity, batching policy, and template.
type ChannelConfig struct {
	Channel            Channel
	Template           *Template
	MaxMessagesPerMin  int
	BurstSize          int
	EnableBatching     bool
	BatchSize          int
	BatchTimeoutSeconds int
}

type channelWorker struct {
	cfg     ChannelConfig
	limiter *rate.Limiter
	queue   *dropOldestQueue
}

// Dispatcher is the notification fan-out half of alerting: global+
// per-channel rate limiting, per-channel bounded FIFO with drop-oldest
// overflow, batching, global severity/channel filters, and retried
// delivery.
type Dispatcher struct {
	met         *metrics.Registry
	log         *logging.Logger
	health      HealthRecorder
	global      *rate.Limiter
	minSeverity rules.Severity
	filters     []GlobalFilter

	mu       sync.RWMutex
	channels map[string]*channelWorker

	wg     sync.WaitGroup
	cancel context.CancelFunc
}

// NewDispatcher constructs a dispatcher. maxMessagesPerMinute/burstSize
// parametrise the global token bucket.
func NewDispatcher(met *metrics.Registry, log *logging.Logger, health HealthRecorder, maxMessagesPerMinute, burstSize int, minSeverity rules.Severity, filters []GlobalFilter) *Dispatcher {
	return &Dispatcher{
		met:         met,
		log:         log,
		health:      health,
		global:      rate.NewLimiter(rate.Limit(float64(maxMessagesPerMinute)/60.0), burstSize),
		minSeverity: minSeverity,
		filters:     filters,
		channels:    make(map[string]*channelWorker),
	}
}

// RegisterChannel wires a channel adapter and starts its delivery
// worker goroutine.
func (d *Dispatcher) RegisterChannel(ctx context.Context, cfg ChannelConfig) {
	burst := cfg.BurstSize
	if burst <= 0 {
		burst = 1
	}
	capacity := 4 * burst
	w := &channelWorker{
		cfg:     cfg,
		limiter: rate.NewLimiter(rate.Limit(float64(cfg.MaxMessagesPerMin)/60.0), burst),
		queue:   newDropOldestQueue(capacity),
	}

	d.mu.Lock()
	d.channels[cfg.Channel.Name()] = w
	d.mu.Unlock()

	d.wg.Add(1)
	go d.runWorker(ctx, w)
}

// Notify fans an alert out to every registered channel it passes the
// global filter set for.
func (d *Dispatcher) Notify(a *alerts.Alert) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	for name, w := range d.channels {
		if !Allowed(a, name, d.minSeverity, d.filters) {
			continue
		}
		if w.queue.Push(a) {
			if d.met != nil {
				d.met.IncDeliveryDropped(name)
			}
			if d.log != nil {
				d.log.Warn("dropped oldest pending delivery on overflow", logging.String("channel", name))
			}
		}
	}
}

func (d *Dispatcher) runWorker(ctx context.Context, w *channelWorker) {
	defer d.wg.Done()
	batchTimeout := time.Duration(w.cfg.BatchTimeoutSeconds) * time.Second
	if batchTimeout <= 0 {
		batchTimeout = 5 * time.Second
	}

	go func() {
		<-ctx.Done()
		w.queue.Close()
	}()

	for {
		n := 1
		if w.cfg.EnableBatching && w.cfg.BatchSize > 1 {
			n = w.cfg.BatchSize
		}
		batch := w.queue.DrainUpTo(n)
		if len(batch) == 0 {
			// DrainUpTo only returns empty when the queue has been
			// closed (shutdown in progress); nothing left to drain.
			return
		}

		if w.cfg.EnableBatching && len(batch) < w.cfg.BatchSize {
			batch = d.waitForMoreOrTimeout(w, batch, batchTimeout)
		}

		d.deliverBatch(ctx, w, batch)
	}
}

// waitForMoreOrTimeout tops up a partial batch until batch_size or
// batch_timeout_seconds elapses.
func (d *Dispatcher) waitForMoreOrTimeout(w *channelWorker, batch []*alerts.Alert, timeout time.Duration) []*alerts.Alert {
	deadline := time.Now().Add(timeout)
	for len(batch) < w.cfg.BatchSize {
		remaining := time.Until(deadline)
		if remaining <= 0 {
			break
		}
		extra := pollOnce(w.queue, w.cfg.BatchSize-len(batch), remaining)
		if len(extra) == 0 {
			break
		}
		batch = append(batch, extra...)
	}
	return batch
}

func pollOnce(q *dropOldestQueue, n int, wait time.Duration) []*alerts.Alert {
	resultCh := make(chan []*alerts.Alert, 1)
	go func() { resultCh <- q.DrainUpTo(n) }()
	select {
	case r := <-resultCh:
		return r
	case <-time.After(wait):
		return nil
	}
}

func (d *Dispatcher) deliverBatch(ctx context.Context, w *channelWorker, batch []*alerts.Alert) {
	name := w.cfg.Channel.Name()
	for _, a := range batch {
		if err := d.global.Wait(ctx); err != nil {
			return
		}
		if err := w.limiter.Wait(ctx); err != nil {
			return
		}
		d.deliverOne(ctx, w, name, a)
	}
}

func (d *Dispatcher) deliverOne(ctx context.Context, w *channelWorker, name string, a *alerts.Alert) {
	tmpl := w.cfg.Template
	if tmpl == nil {
		tmpl = DefaultTemplate
	}
	rendered, err := tmpl.Render(a)
	if err != nil {
		if d.met != nil {
			d.met.IncTemplateError(name)
		}
		rendered = PlaintextSummary(a)
	}

	deliverCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	result := retryDeliver(deliverCtx, w.cfg.Channel, rendered)
	success := result.Err == nil
	if d.met != nil {
		if success {
			d.met.IncDeliveryOK(name)
		} else {
			d.met.IncDeliveryFailed(name)
		}
	}
	if d.health != nil {
		d.health.Record(name, success, time.Now())
	}
	if !success && d.log != nil {
		d.log.Warn("channel delivery failed", logging.String("channel", name), logging.String("error", result.Err.Error()))
	}
}

// retryDeliver retries transient failures with backoff 1s/2s/4s (max 3
// attempts); permanent failures are not retried.
func retryDeliver(ctx context.Context, ch Channel, r Rendered) DeliveryResult {
	delays := []time.Duration{time.Second, 2 * time.Second, 4 * time.Second}
	var last DeliveryResult
	for attempt := 0; attempt < len(delays); attempt++ {
		last = ch.Deliver(ctx, r)
		if last.Err == nil || !last.Retryable {
			return last
		}
		select {
		case <-time.After(delays[attempt]):
		case <-ctx.Done():
			return last
		}
	}
	return last
}

// Shutdown cancels every worker and waits up to the deadline for
// in-flight deliveries to drain before returning.
func (d *Dispatcher) Shutdown(ctx context.Context) {
	if d.cancel != nil {
		d.cancel()
	}
	doneCh := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(doneCh)
	}()
	select {
	case <-doneCh:
	case <-ctx.Done():
		if d.met != nil {
			d.met.IncShutdownAbandoned()
		}
	}
}

// WithCancel binds the dispatcher's own cancel function, called once by
// the composition root right after NewDispatcher, before any
// RegisterChannel call.
func (d *Dispatcher) WithCancel(cancel context.CancelFunc) {
	d.cancel = cancel
}
