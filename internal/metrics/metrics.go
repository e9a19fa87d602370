// Package metrics provides Prometheus metrics for the Athena deployer.
package metrics

import (
	"context"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/push"
)

// Submission outcomes.
const (
	OutcomeAccepted = "accepted"
	OutcomeFailed   = "failed"
)

// Metrics holds all Prometheus metrics for one deployer process.
type Metrics struct {
	registry *prometheus.Registry

	StatementsSubmitted    *prometheus.CounterVec
	StatementSubmitSeconds *prometheus.HistogramVec
	TablesProvisioned      *prometheus.CounterVec
	DeploymentSeconds      prometheus.Histogram
}

// New registers the deployer's metrics on a private registry.
func New(namespace string) *Metrics {
	if namespace == "" {
		namespace = "athena_deployer"
	}

	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	return &Metrics{
		registry: reg,
		StatementsSubmitted: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "statements_submitted_total",
				Help:      "Total number of DDL statements submitted to Athena",
			},
			[]string{"step", "outcome"},
		),
		StatementSubmitSeconds: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "statement_submit_duration_seconds",
				Help:      "Time for Athena to accept (and, when waiting, finish) a statement",
				Buckets:   prometheus.ExponentialBuckets(0.05, 2, 10), // 50ms to ~25s
			},
			[]string{"step"},
		),
		TablesProvisioned: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "tables_provisioned_total",
				Help:      "Total number of table sub-sequences by outcome",
			},
			[]string{"outcome"},
		),
		DeploymentSeconds: factory.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "deployment_duration_seconds",
				Help:      "Wall time of a deployment run",
				Buckets:   prometheus.ExponentialBuckets(0.1, 2, 12), // 0.1s to ~400s
			},
		),
	}
}

// Registry exposes the private registry, mainly for tests.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// ObserveStatement records one submission.
func (m *Metrics) ObserveStatement(step string, elapsed time.Duration, err error) {
	if m == nil {
		return
	}
	outcome := OutcomeAccepted
	if err != nil {
		outcome = OutcomeFailed
	}
	m.StatementsSubmitted.WithLabelValues(step, outcome).Inc()
	m.StatementSubmitSeconds.WithLabelValues(step).Observe(elapsed.Seconds())
}

// ObserveTable records the outcome of one table sub-sequence.
func (m *Metrics) ObserveTable(err error) {
	if m == nil {
		return
	}
	outcome := OutcomeAccepted
	if err != nil {
		outcome = OutcomeFailed
	}
	m.TablesProvisioned.WithLabelValues(outcome).Inc()
}

// ObserveDeployment records the duration of a run.
func (m *Metrics) ObserveDeployment(elapsed time.Duration) {
	if m == nil {
		return
	}
	m.DeploymentSeconds.Observe(elapsed.Seconds())
}

// Push sends the registry to a Pushgateway. The deployer is a batch job, so it
// is never scraped.
func (m *Metrics) Push(ctx context.Context, url, job string) error {
	if err := push.New(url, job).Gatherer(m.registry).PushContext(ctx); err != nil {
		return fmt.Errorf("push metrics to %s: %w", url, err)
	}
	return nil
}
