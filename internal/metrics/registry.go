// Package metrics implements typed counters/gauges/histograms plus
// per-rule sliding-window statistics, exposed in the standard
// Prometheus text exposition format.
package metrics

import (
	"net/http"
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Registry is the process-wide metrics surface, injected explicitly
// into every component as an explicit dependency rather than reached
// for as ambient state. It is created first and destroyed last.
type Registry struct {
	reg *prometheus.Registry

	eventsIngested    *prometheus.CounterVec
	eventsMalformed   prometheus.Counter
	eventsOutOfOrder  prometheus.Counter
	historySize       prometheus.Gauge
	ruleEvalsTotal    *prometheus.CounterVec
	ruleErrors        *prometheus.CounterVec
	ruleDrops         prometheus.Counter
	ruleDuration      *prometheus.HistogramVec
	alertsDropped     prometheus.Counter
	alertsActive      prometheus.Gauge
	deliveriesOK      *prometheus.CounterVec
	deliveriesFailed  *prometheus.CounterVec
	deliveriesDropped *prometheus.CounterVec
	templateErrors    *prometheus.CounterVec
	reconnectAttempts prometheus.Counter
	shutdownAbandoned prometheus.Counter

	deliveriesOKTotal     uint64
	deliveriesFailedTotal uint64

	windows *windowSet
}

// New constructs a Registry with every series pre-registered so that
// the /metrics exposition always carries a stable set of series even
// before the first event, matching prometheus.MustRegister's fail-fast
// startup idiom used throughout the client_golang ecosystem.
func New() *Registry {
	reg := prometheus.NewRegistry()
	r := &Registry{
		reg: reg,
		eventsIngested: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "watchtower_events_ingested_total",
			Help: "Total ProgramEvents successfully decoded and appended to history.",
		}, []string{"event_type"}),
		eventsMalformed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "watchtower_events_malformed_total",
			Help: "Total inbound frames dropped for failing to decode.",
		}),
		eventsOutOfOrder: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "watchtower_events_out_of_order_total",
			Help: "Total events dropped for arriving more than the skew tolerance out of order.",
		}),
		historySize: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "watchtower_history_size",
			Help: "Current total event count retained across all programs.",
		}),
		ruleEvalsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "watchtower_rule_evals_total",
			Help: "Total rule evaluations that completed without error and produced no alert.",
		}, []string{"rule"}),
		ruleErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "watchtower_rule_errors_total",
			Help: "Total rule evaluation errors by kind.",
		}, []string{"rule", "kind"}),
		ruleDrops: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "watchtower_rule_drops_total",
			Help: "Total rule evaluations dropped waiting for the concurrency ceiling.",
		}),
		ruleDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "watchtower_rule_eval_duration_seconds",
			Help:    "Rule evaluation latency.",
			Buckets: prometheus.DefBuckets,
		}, []string{"rule"}),
		alertsDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "watchtower_alerts_dropped_overflow_total",
			Help: "Total alerts dropped because the alert channel was full.",
		}),
		alertsActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "watchtower_alerts_active",
			Help: "Current count of active alerts.",
		}),
		deliveriesOK: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "watchtower_deliveries_ok_total",
			Help: "Total successful channel deliveries.",
		}, []string{"channel"}),
		deliveriesFailed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "watchtower_deliveries_failed_total",
			Help: "Total permanently failed channel deliveries.",
		}, []string{"channel"}),
		deliveriesDropped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "watchtower_notifications_dropped_total",
			Help: "Total deliveries dropped from an overflowing per-channel queue.",
		}, []string{"channel"}),
		templateErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "watchtower_template_errors_total",
			Help: "Total template render failures by channel.",
		}, []string{"channel"}),
		reconnectAttempts: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "watchtower_reconnect_attempts_total",
			Help: "Total ingress reconnect attempts.",
		}),
		shutdownAbandoned: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "watchtower_shutdown_abandoned_total",
			Help: "Total in-flight tasks abandoned at shutdown after the drain deadline.",
		}),
		windows: newWindowSet(),
	}

	reg.MustRegister(
		r.eventsIngested, r.eventsMalformed, r.eventsOutOfOrder, r.historySize,
		r.ruleEvalsTotal, r.ruleErrors, r.ruleDrops, r.ruleDuration,
		r.alertsDropped, r.alertsActive,
		r.deliveriesOK, r.deliveriesFailed, r.deliveriesDropped, r.templateErrors,
		r.reconnectAttempts, r.shutdownAbandoned,
	)
	return r
}

// Handler returns the HTTP handler for the /metrics endpoint. Owning
// the HTTP route itself is the external collaborator's job; this just
// produces the bytes.
func (r *Registry) Handler() http.Handler {
	return promhttp.HandlerFor(r.reg, promhttp.HandlerOpts{})
}

func (r *Registry) IncEventsIngested(eventType string) { r.eventsIngested.WithLabelValues(eventType).Inc() }
func (r *Registry) IncEventsMalformed()                { r.eventsMalformed.Inc() }
func (r *Registry) IncEventsOutOfOrder()               { r.eventsOutOfOrder.Inc() }
func (r *Registry) SetHistorySize(v float64)           { r.historySize.Set(v) }
func (r *Registry) IncRuleEval(rule string)            { r.ruleEvalsTotal.WithLabelValues(rule).Inc() }
func (r *Registry) IncRuleError(rule, kind string)     { r.ruleErrors.WithLabelValues(rule, kind).Inc() }
func (r *Registry) IncRuleDrop()                       { r.ruleDrops.Inc() }
func (r *Registry) ObserveRuleDuration(rule string, seconds float64) {
	r.ruleDuration.WithLabelValues(rule).Observe(seconds)
}
func (r *Registry) IncAlertsDroppedOverflow()       { r.alertsDropped.Inc() }
func (r *Registry) SetAlertsActive(v float64)       { r.alertsActive.Set(v) }
func (r *Registry) IncDeliveryOK(channel string) {
	r.deliveriesOK.WithLabelValues(channel).Inc()
	atomic.AddUint64(&r.deliveriesOKTotal, 1)
}
func (r *Registry) IncDeliveryFailed(channel string) {
	r.deliveriesFailed.WithLabelValues(channel).Inc()
	atomic.AddUint64(&r.deliveriesFailedTotal, 1)
}

// DeliveryCounts returns the process-wide successful/failed delivery
// totals consumed by AlertManager.Stats().
func (r *Registry) DeliveryCounts() (ok, failed uint64) {
	return atomic.LoadUint64(&r.deliveriesOKTotal), atomic.LoadUint64(&r.deliveriesFailedTotal)
}
func (r *Registry) IncDeliveryDropped(channel string) {
	r.deliveriesDropped.WithLabelValues(channel).Inc()
}
func (r *Registry) IncTemplateError(channel string) { r.templateErrors.WithLabelValues(channel).Inc() }
func (r *Registry) IncReconnectAttempt()            { r.reconnectAttempts.Inc() }
func (r *Registry) IncShutdownAbandoned()           { r.shutdownAbandoned.Inc() }

// Windows exposes the sliding-window statistics helper.
func (r *Registry) Windows() *windowSet { return r.windows }
