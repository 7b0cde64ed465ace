package rules

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics contains the Prometheus collectors recorded by the Evaluator.
type Metrics struct {
	evaluations        *prometheus.CounterVec
	outcomes           *prometheus.CounterVec
	faults             *prometheus.CounterVec
	evaluationDuration *prometheus.HistogramVec
}

// NewMetrics registers the evaluator collectors with reg
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		evaluations: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "shoprules_evaluations_total",
				Help: "Total number of rule group evaluations",
			},
			[]string{"group"},
		),

		outcomes: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "shoprules_rule_outcomes_total",
				Help: "Rule outcomes by group, bucket and severity",
			},
			[]string{"group", "bucket", "severity"},
		),

		faults: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "shoprules_condition_faults_total",
				Help: "Rule conditions that errored, panicked or timed out",
			},
			[]string{"rule"},
		),

		evaluationDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "shoprules_evaluation_duration_seconds",
				Help:    "Duration of a rule group evaluation",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"group"},
		),
	}
}

func (m *Metrics) recordEvaluation(group string, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.evaluations.WithLabelValues(group).Inc()
	m.evaluationDuration.WithLabelValues(group).Observe(elapsed.Seconds())
}

func (m *Metrics) recordOutcome(group string, bucket Bucket, sev Severity) {
	if m == nil {
		return
	}
	m.outcomes.WithLabelValues(group, bucket.String(), sev.String()).Inc()
}

func (m *Metrics) recordFault(ruleID string) {
	if m == nil {
		return
	}
	m.faults.WithLabelValues(ruleID).Inc()
}
