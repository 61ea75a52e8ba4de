/*
metrics.go - Prometheus instrumentation for the engine

PURPOSE:
  Operational visibility into the ledger hot path: how many events land,
  what gets rejected and why, how often audits run, and how many
  violations are currently open. No global registry - the metrics object
  is constructed with the engine and registered explicitly.
*/
package ledger

import (
	"github.com/prometheus/client_golang/prometheus"
)

type Metrics struct {
	EventsAppended     *prometheus.CounterVec
	OpsRejected        *prometheus.CounterVec
	ChainVerifications prometheus.Counter
	SlicesSealed       prometheus.Counter
	OpenViolations     *prometheus.GaugeVec
}

func NewMetrics() *Metrics {
	return &Metrics{
		EventsAppended: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "massbalance",
			Name:      "events_appended_total",
			Help:      "Ledger events appended, by event kind.",
		}, []string{"kind"}),
		OpsRejected: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "massbalance",
			Name:      "operations_rejected_total",
			Help:      "Mutations rejected before any state change, by reason.",
		}, []string{"reason"}),
		ChainVerifications: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "massbalance",
			Name:      "chain_verifications_total",
			Help:      "Full hash-chain verification walks.",
		}),
		SlicesSealed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "massbalance",
			Name:      "slices_sealed_total",
			Help:      "Time slices sealed.",
		}),
		OpenViolations: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "massbalance",
			Name:      "open_violations",
			Help:      "Current validation violations, by severity.",
		}, []string{"severity"}),
	}
}

// Register attaches all collectors to the given registerer.
func (m *Metrics) Register(reg prometheus.Registerer) {
	reg.MustRegister(
		m.EventsAppended,
		m.OpsRejected,
		m.ChainVerifications,
		m.SlicesSealed,
		m.OpenViolations,
	)
}

func (m *Metrics) recordViolations(violations []Violation) {
	var errs, warns float64
	for _, v := range violations {
		if v.Severity == SeverityError {
			errs++
		} else {
			warns++
		}
	}
	m.OpenViolations.WithLabelValues(string(SeverityError)).Set(errs)
	m.OpenViolations.WithLabelValues(string(SeverityWarning)).Set(warns)
}

func rejectionReason(err error) string {
	switch {
	case IsNotFound(err):
		return "pool_not_found"
	case err == nil:
		return "none"
	default:
		if IsClientError(err) {
			return "precondition"
		}
		return "internal"
	}
}
