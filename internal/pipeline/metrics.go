package pipeline

import (
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics exposes pipeline counters as Prometheus instruments. Each event
// updates both an atomic counter (read back by Snapshot) and the matching
// Prometheus instrument. When metrics collection is disabled the pipeline
// holds a nil *Metrics and nothing is counted.
type Metrics struct {
	dispatched     atomic.Int64
	retried        atomic.Int64
	failedTerminal atomic.Int64
	completed      atomic.Int64
	inFlight       atomic.Int64

	dispatchedTotal     prometheus.Counter
	retriedTotal        prometheus.Counter
	failedTerminalTotal prometheus.Counter
	completedTotal      prometheus.Counter
	inFlightGauge       prometheus.Gauge
}

// NewMetrics registers the pipeline's counters/gauges with reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		dispatchedTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "epub_translator_jobs_dispatched_total",
			Help: "Number of translation jobs sent to the credential pool.",
		}),
		retriedTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "epub_translator_jobs_retried_total",
			Help: "Number of translation jobs that were retried after a failure.",
		}),
		failedTerminalTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "epub_translator_jobs_failed_terminal_total",
			Help: "Number of text nodes left untranslated after exhausting retries.",
		}),
		completedTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "epub_translator_jobs_completed_total",
			Help: "Number of text nodes successfully translated and written.",
		}),
		inFlightGauge: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "epub_translator_jobs_in_flight",
			Help: "Number of translation requests currently holding a semaphore permit.",
		}),
	}
	reg.MustRegister(m.dispatchedTotal, m.retriedTotal, m.failedTerminalTotal, m.completedTotal, m.inFlightGauge)
	return m
}

func (m *Metrics) incDispatched() {
	m.dispatched.Add(1)
	m.dispatchedTotal.Inc()
}

func (m *Metrics) incRetried() {
	m.retried.Add(1)
	m.retriedTotal.Inc()
}

func (m *Metrics) incFailedTerminal() {
	m.failedTerminal.Add(1)
	m.failedTerminalTotal.Inc()
}

func (m *Metrics) incCompleted() {
	m.completed.Add(1)
	m.completedTotal.Inc()
}

func (m *Metrics) incInFlight() {
	m.inFlight.Add(1)
	m.inFlightGauge.Inc()
}

func (m *Metrics) decInFlight() {
	m.inFlight.Add(-1)
	m.inFlightGauge.Dec()
}

// Snapshot returns the current counter values for end-of-run reporting.
func (m *Metrics) Snapshot() (dispatched, retried, failedTerminal, completed, inFlight int64) {
	return m.dispatched.Load(), m.retried.Load(), m.failedTerminal.Load(), m.completed.Load(), m.inFlight.Load()
}
