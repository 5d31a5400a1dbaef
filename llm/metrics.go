package llm

import (
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const metricsNamespace = "seminvoke"

// Outcome and attempt result label values.
const (
	OutcomeSucceeded = "succeeded"
	OutcomeExhausted = "exhausted"

	attemptSucceeded      = "succeeded"
	attemptCallError      = "call_error"
	attemptSchemaMismatch = "schema_mismatch"
)

// Metrics holds the Prometheus collectors updated by the invoker.
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	invocations *prometheus.CounterVec
	attempts    *prometheus.CounterVec
	perCall     prometheus.Histogram
	backoff     prometheus.Histogram
}

// NewMetrics creates the invoker collectors and registers them with reg.
func NewMetrics(reg prometheus.Registerer) (*Metrics, error) {
	m := &Metrics{
		invocations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "invocations_total",
			Help:      "Invocations by terminal outcome.",
		}, []string{"outcome"}),
		attempts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "attempts_total",
			Help:      "Attempts by result.",
		}, []string{"result"}),
		perCall: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: metricsNamespace,
			Name:      "invocation_attempts",
			Help:      "Attempts made per invocation.",
			Buckets:   []float64{1, 2, 3, 4, 5, 8, 13},
		}),
		backoff: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: metricsNamespace,
			Name:      "backoff_seconds",
			Help:      "Backoff delays applied between attempts.",
			Buckets:   prometheus.ExponentialBuckets(0.1, 2, 10),
		}),
	}

	if reg == nil {
		return m, nil
	}
	for _, c := range []prometheus.Collector{m.invocations, m.attempts, m.perCall, m.backoff} {
		if err := reg.Register(c); err != nil {
			return nil, fmt.Errorf("register invoker metrics: %w", err)
		}
	}
	return m, nil
}

func (m *Metrics) observeAttempt(err error) {
	if m == nil {
		return
	}
	switch {
	case err == nil:
		m.attempts.WithLabelValues(attemptSucceeded).Inc()
	case IsSchemaMismatch(err):
		m.attempts.WithLabelValues(attemptSchemaMismatch).Inc()
	default:
		m.attempts.WithLabelValues(attemptCallError).Inc()
	}
}

func (m *Metrics) observeBackoff(d time.Duration) {
	if m == nil {
		return
	}
	m.backoff.Observe(d.Seconds())
}

func (m *Metrics) observeOutcome(outcome string, attempts int) {
	if m == nil {
		return
	}
	m.invocations.WithLabelValues(outcome).Inc()
	m.perCall.Observe(float64(attempts))
}
