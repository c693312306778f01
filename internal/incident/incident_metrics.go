package incident

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds Prometheus metrics for the alerting subsystem.
type Metrics struct {
	AlertsTotal       *prometheus.CounterVec
	DispatchTotal     *prometheus.CounterVec
	DispatchDuration  *prometheus.HistogramVec
	DispatchAttempts  prometheus.Histogram
	AckLatency        prometheus.Histogram
	ResolveLatency    prometheus.Histogram
	EscalationsTotal  *prometheus.CounterVec
	StuckIncidents    prometheus.Gauge
	ScanDuration      prometheus.Histogram
	ScansSkippedTotal prometheus.Counter
	PermanentDispatch prometheus.Counter
}

// NewMetrics registers and returns alerting metrics on the given registerer.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		AlertsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "klaxon_alerts_total",
			Help: "Alert requests by outcome.",
		}, []string{"outcome", "severity"}),
		DispatchTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "klaxon_dispatch_total",
			Help: "Page dispatches by severity and outcome.",
		}, []string{"severity", "outcome"}),
		DispatchDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "klaxon_dispatch_duration_seconds",
			Help:    "End-to-end page dispatch duration including retries.",
			Buckets: prometheus.ExponentialBuckets(0.1, 2, 10), // 0.1s .. ~51s
		}, []string{"severity"}),
		DispatchAttempts: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "klaxon_dispatch_attempts",
			Help:    "Provider calls needed per dispatch.",
			Buckets: prometheus.LinearBuckets(1, 1, 5),
		}),
		AckLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "klaxon_ack_latency_seconds",
			Help:    "Time from incident creation to acknowledgement.",
			Buckets: prometheus.ExponentialBuckets(30, 2, 10), // 30s .. ~4h
		}),
		ResolveLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "klaxon_resolve_latency_seconds",
			Help:    "Time from incident creation to resolution.",
			Buckets: prometheus.ExponentialBuckets(60, 2, 12), // 1m .. ~2.8d
		}),
		EscalationsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "klaxon_escalations_total",
			Help: "Escalations by resulting tier.",
		}, []string{"level"}),
		StuckIncidents: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "klaxon_incidents_stuck",
			Help: "Open incidents at the escalation cap as of the last scan.",
		}),
		ScanDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "klaxon_scan_duration_seconds",
			Help:    "Duration of escalation scheduler scans.",
			Buckets: prometheus.ExponentialBuckets(0.001, 4, 8), // 1ms .. ~16s
		}),
		ScansSkippedTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "klaxon_scans_skipped_total",
			Help: "Scheduler ticks skipped because the previous scan was still running.",
		}),
		PermanentDispatch: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "klaxon_dispatch_permanent_failures_total",
			Help: "Dispatch failures that indicate broken paging configuration.",
		}),
	}

	reg.MustRegister(
		m.AlertsTotal,
		m.DispatchTotal,
		m.DispatchDuration,
		m.DispatchAttempts,
		m.AckLatency,
		m.ResolveLatency,
		m.EscalationsTotal,
		m.StuckIncidents,
		m.ScanDuration,
		m.ScansSkippedTotal,
		m.PermanentDispatch,
	)

	return m
}

// EngineHooks receives engine and scheduler events. Nil funcs are skipped, so
// tests can pass the zero value.
type EngineHooks struct {
	OnRaise    func(outcome string, severity Severity)
	OnDispatch func(severity Severity, outcome string, attempts int, duration float64)
	OnAck      func(latency time.Duration)
	OnResolve  func(latency time.Duration)
	OnEscalate func(level int)
	OnScan     func(duration float64, escalated, stuck int)
	OnSkipScan func()
}

// Hooks returns an EngineHooks that increments the corresponding metrics.
func (m *Metrics) Hooks() EngineHooks {
	return EngineHooks{
		OnRaise: func(outcome string, severity Severity) {
			m.AlertsTotal.WithLabelValues(outcome, string(severity)).Inc()
		},
		OnDispatch: func(severity Severity, outcome string, attempts int, duration float64) {
			m.DispatchTotal.WithLabelValues(string(severity), outcome).Inc()
			m.DispatchDuration.WithLabelValues(string(severity)).Observe(duration)
			m.DispatchAttempts.Observe(float64(attempts))
			if outcome == DispatchOutcomePermanent {
				m.PermanentDispatch.Inc()
			}
		},
		OnAck: func(latency time.Duration) {
			m.AckLatency.Observe(latency.Seconds())
		},
		OnResolve: func(latency time.Duration) {
			m.ResolveLatency.Observe(latency.Seconds())
		},
		OnEscalate: func(level int) {
			m.EscalationsTotal.WithLabelValues(strconv.Itoa(level)).Inc()
		},
		OnScan: func(duration float64, escalated, stuck int) {
			m.ScanDuration.Observe(duration)
			m.StuckIncidents.Set(float64(stuck))
		},
		OnSkipScan: func() {
			m.ScansSkippedTotal.Inc()
		},
	}
}
