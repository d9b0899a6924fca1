package proxy

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const (
	metricsNamespace = "cellsync"
	proxySubsystem   = "proxy"
)

// Metrics counts protocol anomalies and deliveries.
//
// A nil *Metrics is valid and records nothing.
//
// Thread-safety: all operations are safe for concurrent use.
type Metrics struct {
	// Desyncs counts version gaps detected while synchronized.
	// Labels: store
	Desyncs *prometheus.CounterVec

	// StaleSyncs counts snapshot responses discarded as stale.
	// Labels: store
	StaleSyncs *prometheus.CounterVec

	// Suppressed counts events that changed nothing observable, plus echoes
	// of the proxy's own writes.
	// Labels: store
	Suppressed *prometheus.CounterVec

	// Applied counts events applied to a proxy model.
	// Labels: store
	Applied *prometheus.CounterVec

	// Tasks counts scheduler tasks by outcome.
	// Labels: outcome (ok, error, panic)
	Tasks *prometheus.CounterVec
}

// NewMetrics creates the proxy metrics and registers them with reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	counter := func(name, help string, labels ...string) *prometheus.CounterVec {
		return f.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: proxySubsystem,
			Name:      name,
			Help:      help,
		}, labels)
	}
	return &Metrics{
		Desyncs:    counter("desyncs_total", "Version gaps detected while synchronized", "store"),
		StaleSyncs: counter("stale_syncs_total", "Snapshot responses discarded as stale", "store"),
		Suppressed: counter("suppressed_events_total", "Events that produced no notification", "store"),
		Applied:    counter("applied_events_total", "Events applied to a proxy model", "store"),
		Tasks:      counter("scheduler_tasks_total", "Scheduler tasks run, by outcome", "outcome"),
	}
}

func (m *Metrics) desync(storeID string) {
	if m != nil {
		m.Desyncs.WithLabelValues(storeID).Inc()
	}
}

func (m *Metrics) staleSync(storeID string) {
	if m != nil {
		m.StaleSyncs.WithLabelValues(storeID).Inc()
	}
}

func (m *Metrics) suppressed(storeID string) {
	if m != nil {
		m.Suppressed.WithLabelValues(storeID).Inc()
	}
}

func (m *Metrics) applied(storeID string) {
	if m != nil {
		m.Applied.WithLabelValues(storeID).Inc()
	}
}

func (m *Metrics) task(outcome string) {
	if m != nil {
		m.Tasks.WithLabelValues(outcome).Inc()
	}
}
