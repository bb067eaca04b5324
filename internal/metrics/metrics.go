// Package metrics holds the batch-job counters for a command run and pushes
// them to a Prometheus Pushgateway when the command finishes.
package metrics

import (
	"context"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/push"
	"github.com/rotisserie/eris"
)

// Metrics is a per-run set of counters on a private registry.
type Metrics struct {
	Registry *prometheus.Registry

	PoliciesProcessed prometheus.Counter
	AlertsRaised      prometheus.Counter
	LookupErrors      *prometheus.CounterVec
	CRMRetries        prometheus.Counter
	ResetRequests     *prometheus.CounterVec
	RunDuration       *prometheus.GaugeVec
}

// New registers a fresh set of counters.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	f := promauto.With(reg)

	return &Metrics{
		Registry: reg,
		PoliciesProcessed: f.NewCounter(prometheus.CounterOpts{
			Name: "marx_policies_processed_total",
			Help: "Policy rows attempted by reconciliation, including rejected ones",
		}),
		AlertsRaised: f.NewCounter(prometheus.CounterOpts{
			Name: "marx_alerts_raised_total",
			Help: "New plan-change alerts raised",
		}),
		LookupErrors: f.NewCounterVec(prometheus.CounterOpts{
			Name: "marx_lookup_errors_total",
			Help: "Policies written to the error log, by reason",
		}, []string{"reason"}),
		CRMRetries: f.NewCounter(prometheus.CounterOpts{
			Name: "marx_crm_retries_total",
			Help: "CRM requests retried after a non-success response",
		}),
		ResetRequests: f.NewCounterVec(prometheus.CounterOpts{
			Name: "marx_reset_requests_total",
			Help: "Plan-change-result reset requests, by HTTP status",
		}, []string{"status"}),
		RunDuration: f.NewGaugeVec(prometheus.GaugeOpts{
			Name: "marx_run_duration_seconds",
			Help: "Wall time of the last run",
		}, []string{"kind"}),
	}
}

// OnCRMRetry is a resilience OnRetry callback that counts CRM retries.
func (m *Metrics) OnCRMRetry(int, error) {
	m.CRMRetries.Inc()
}

// Push sends every metric to the Pushgateway at url under job. An empty url
// disables pushing.
func (m *Metrics) Push(ctx context.Context, url, job string) error {
	if url == "" {
		return nil
	}
	if err := push.New(url, job).Gatherer(m.Registry).PushContext(ctx); err != nil {
		return eris.Wrapf(err, "metrics: push to %s", url)
	}
	return nil
}
