package metrics

import (
	"context"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/push"
)

// JobName is the Pushgateway job the run metrics are grouped under.
const JobName = "ledger_recon"

// Run outcomes.
const (
	StatusSuccess  = "success"
	StatusDegraded = "degraded"
	StatusFailed   = "failed"
)

// Recorder holds the metrics of reconciliation runs in its own registry.
type Recorder struct {
	reg *prometheus.Registry

	InputRecords   *prometheus.GaugeVec
	Records        *prometheus.CounterVec
	DataErrors     *prometheus.CounterVec
	AIExplanations *prometheus.CounterVec
	Runs           *prometheus.CounterVec
	RunDuration    prometheus.Histogram
	LastRun        prometheus.Gauge
}

// New creates a Recorder with a fresh registry.
func New() *Recorder {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	return &Recorder{
		reg: reg,

		InputRecords: factory.NewGaugeVec(prometheus.GaugeOpts{
			Name: "recon_input_records",
			Help: "Number of records acquired in the last run, labelled by source.",
		}, []string{"source"}),

		Records: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "recon_records_total",
			Help: "Total number of classified records, labelled by discrepancy type.",
		}, []string{"discrepancy_type"}),

		DataErrors: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "recon_data_errors_total",
			Help: "Total number of rejected input rows, labelled by error kind.",
		}, []string{"kind"}),

		AIExplanations: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "recon_ai_explanations_total",
			Help: "Total number of AI explanation outcomes, labelled by outcome.",
		}, []string{"outcome"}),

		Runs: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "recon_runs_total",
			Help: "Total number of reconciliation runs, labelled by status.",
		}, []string{"status"}),

		RunDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "recon_run_duration_seconds",
			Help:    "End-to-end reconciliation run duration in seconds.",
			Buckets: []float64{0.1, 0.5, 1, 2.5, 5, 10, 30, 60, 120, 300},
		}),

		LastRun: factory.NewGauge(prometheus.GaugeOpts{
			Name: "recon_last_run_timestamp_seconds",
			Help: "Unix time the last run finished.",
		}),
	}
}

// Registry exposes the underlying registry.
func (r *Recorder) Registry() *prometheus.Registry {
	return r.reg
}

// ObserveRun records the outcome of a finished run.
func (r *Recorder) ObserveRun(status string, duration time.Duration, finished time.Time) {
	r.Runs.WithLabelValues(status).Inc()
	r.RunDuration.Observe(duration.Seconds())
	r.LastRun.Set(float64(finished.Unix()))
}

// Push sends the registry to a Pushgateway, grouped by run.
func (r *Recorder) Push(ctx context.Context, url, runID string) error {
	err := push.New(url, JobName).
		Gatherer(r.reg).
		Grouping("run_id", runID).
		PushContext(ctx)
	if err != nil {
		return fmt.Errorf("Push: %w", err)
	}
	return nil
}
