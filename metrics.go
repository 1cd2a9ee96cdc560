package stackz

import (
	"github.com/prometheus/client_golang/prometheus"
)

const metricsNamespace = "stackz"

// Metrics holds the Prometheus collectors updated by trace scopes.
// A nil *Metrics records nothing.
type Metrics struct {
	ActiveContexts    prometheus.Gauge
	ActiveSpans       prometheus.Gauge
	ReportsPublished  prometheus.Counter
	PublishFailures   prometheus.Counter
	ContextMismatches *prometheus.CounterVec
}

// NewMetrics creates the collectors and registers them with reg when reg is
// not nil. Registering twice with the same registerer panics.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		ActiveContexts: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Name:      "active_contexts",
			Help:      "Number of trace scopes currently open.",
		}),
		ActiveSpans: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Name:      "active_spans",
			Help:      "Number of non-root span nodes alive across open trace scopes.",
		}),
		ReportsPublished: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "reports_published_total",
			Help:      "Number of reports published by reporters.",
		}),
		PublishFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "report_publish_failures_total",
			Help:      "Number of reporters parked because their receiver was closed.",
		}),
		ContextMismatches: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "context_mismatches_total",
			Help:      "Number of traced futures polled or dropped outside the context they were first polled in.",
		}, []string{"op"}),
	}

	if reg != nil {
		reg.MustRegister(
			m.ActiveContexts,
			m.ActiveSpans,
			m.ReportsPublished,
			m.PublishFailures,
			m.ContextMismatches,
		)
	}
	return m
}

func (m *Metrics) contextOpened() {
	if m == nil {
		return
	}
	m.ActiveContexts.Inc()
}

// contextClosed accounts for a closed context that still held live nodes,
// the root included.
func (m *Metrics) contextClosed(live int) {
	if m == nil {
		return
	}
	m.ActiveContexts.Dec()
	if live > 1 {
		m.ActiveSpans.Sub(float64(live - 1))
	}
}

func (m *Metrics) nodeAdded() {
	if m == nil {
		return
	}
	m.ActiveSpans.Inc()
}

func (m *Metrics) nodeRemoved() {
	if m == nil {
		return
	}
	m.ActiveSpans.Dec()
}

func (m *Metrics) published() {
	if m == nil {
		return
	}
	m.ReportsPublished.Inc()
}

func (m *Metrics) publishFailed() {
	if m == nil {
		return
	}
	m.PublishFailures.Inc()
}

func (m *Metrics) mismatch(op string) {
	if m == nil {
		return
	}
	m.ContextMismatches.WithLabelValues(op).Inc()
}
