package ledger

import (
	"errors"

	"github.com/prometheus/client_golang/prometheus"
)

// Operation outcome labels.
const (
	outcomeOK           = "ok"
	outcomeNoEligible   = "no_eligible"
	outcomeInsufficient = "insufficient"
	outcomeConflict     = "conflict"
	outcomeInvariant    = "invariant_violation"
	outcomeError        = "error"
)

// Metrics are the ledger's Prometheus counters. A nil *Metrics is valid and
// records nothing.
type Metrics struct {
	operations *prometheus.CounterVec
	retries    *prometheus.CounterVec
	nights     *prometheus.CounterVec
	violations *prometheus.CounterVec
}

// NewMetrics creates the counters and registers them with reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		operations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "funding_ledger",
			Name:      "operations_total",
			Help:      "Ledger operations by outcome.",
		}, []string{"operation", "outcome"}),
		retries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "funding_ledger",
			Name:      "retries_total",
			Help:      "Transaction retries after concurrent modification.",
		}, []string{"operation"}),
		nights: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "funding_ledger",
			Name:      "nights_total",
			Help:      "Nights moved against approvals, by pool and direction.",
		}, []string{"pool", "direction"}),
		violations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "funding_ledger",
			Name:      "invariant_violations_total",
			Help:      "Detected ledger invariant violations.",
		}, []string{"kind"}),
	}
	if reg != nil {
		reg.MustRegister(m.operations, m.retries, m.nights, m.violations)
	}
	return m
}

func (m *Metrics) operation(op string, err error) {
	if m == nil {
		return
	}
	m.operations.WithLabelValues(op, outcomeFor(err)).Inc()
}

func (m *Metrics) retry(op string) {
	if m == nil {
		return
	}
	m.retries.WithLabelValues(op).Inc()
}

func (m *Metrics) moved(p Pool, direction string, n int) {
	if m == nil || n == 0 {
		return
	}
	m.nights.WithLabelValues(string(p), direction).Add(float64(n))
}

func (m *Metrics) violation(kind string) {
	if m == nil {
		return
	}
	m.violations.WithLabelValues(kind).Inc()
}

func outcomeFor(err error) string {
	switch {
	case err == nil:
		return outcomeOK
	case errors.Is(err, ErrNoEligibleApproval):
		return outcomeNoEligible
	case errors.Is(err, ErrInsufficientNights):
		return outcomeInsufficient
	case IsRetryable(err):
		return outcomeConflict
	case errors.Is(err, ErrInvariantViolation):
		return outcomeInvariant
	}
	return outcomeError
}
