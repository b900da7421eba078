package pipeline

import (
	"context"
	"errors"
	"io"
	"time"

	"github.com/dvloznov/ledger-recon/internal/domain"
	"github.com/dvloznov/ledger-recon/internal/logger"
	"github.com/dvloznov/ledger-recon/internal/metrics"
	"github.com/dvloznov/ledger-recon/internal/recon"
	"github.com/dvloznov/ledger-recon/internal/report"
	"github.com/google/uuid"
)

// Dependencies wires a reconciliation run. Uploader, Runs, Metrics and
// Console are optional.
type Dependencies struct {
	InternalSources SourceResolver
	GatewaySources  SourceResolver
	InternalMode    string
	GatewayMode     string
	Policy          recon.Policy

	Enricher RecordEnricher
	Writer   ReportWriter
	Uploader ReportUploader
	Runs     RunRecorder
	Trigger  AlertTrigger

	Metrics        *metrics.Recorder
	PushgatewayURL string

	Console io.Writer

	Now      func() time.Time
	NewRunID func() string
}

// Result is what a finished run reports back to the caller.
type Result struct {
	RunID     string
	Timestamp string
	Records   []domain.Discrepancy
	Artifacts report.Artifacts
	ReportRef string
	Alerted   bool

	Degraded        bool
	DegradedReasons []string

	Summary  report.Summary
	Duration time.Duration
}

// NewReconciliationPipeline assembles the steps for deps, skipping the
// optional collaborators that are not configured.
func NewReconciliationPipeline(deps Dependencies) *Pipeline {
	steps := []PipelineStep{
		&AcquireStep{
			Internal:     deps.InternalSources,
			Gateway:      deps.GatewaySources,
			InternalMode: deps.InternalMode,
			GatewayMode:  deps.GatewayMode,
		},
		&NormalizeStep{Policy: deps.Policy},
		&ReconcileStep{},
		&EnrichStep{Enricher: deps.Enricher},
		&WriteReportStep{Writer: deps.Writer, Console: deps.Console},
	}
	if deps.Uploader != nil {
		steps = append(steps, &UploadReportStep{Uploader: deps.Uploader})
	}
	if deps.Runs != nil {
		steps = append(steps, &RecordRunStep{Runs: deps.Runs})
	}
	steps = append(steps, &NotifyStep{Trigger: deps.Trigger})
	if deps.Metrics != nil {
		steps = append(steps, &MetricsStep{Metrics: deps.Metrics})
	}
	return NewPipeline(steps...)
}

// Run executes one reconciliation end to end. A returned error means the run
// produced no report: the sources could not be read or the data errors were
// rejected under the strict policy.
func Run(ctx context.Context, deps Dependencies) (*Result, error) {
	now := deps.Now
	if now == nil {
		now = time.Now
	}
	newRunID := deps.NewRunID
	if newRunID == nil {
		newRunID = uuid.NewString
	}

	state := &PipelineState{
		RunID:     newRunID(),
		StartedAt: now(),
	}
	state.Timestamp = report.RunTimestamp(state.StartedAt)

	log := logger.WithRun(logger.FromContext(ctx), state.RunID, state.Timestamp)
	ctx = logger.WithContext(ctx, log)

	log.Info().
		Str("internal_mode", deps.InternalMode).
		Str("gateway_mode", deps.GatewayMode).
		Str("policy", string(deps.Policy)).
		Msg("Starting reconciliation run")

	if deps.Runs != nil {
		if err := deps.Runs.StartRun(ctx, state.RunID, deps.InternalMode, deps.GatewayMode, state.StartedAt); err != nil {
			log.Warn().Err(err).Msg("Failed to record run start")
		}
	}

	err := NewReconciliationPipeline(deps).Execute(ctx, state)
	finished := now()
	duration := finished.Sub(state.StartedAt)

	if err != nil {
		log.Error().Err(err).Dur("duration", duration).Msg("Reconciliation run failed")
		if deps.Runs != nil {
			deps.Runs.MarkRunFailed(ctx, state.RunID, err)
		}
		if deps.Metrics != nil {
			countDataErrors(deps.Metrics, err)
			finishMetrics(ctx, deps, state.RunID, metrics.StatusFailed, duration, finished)
		}
		return nil, err
	}

	location := state.ReportRef
	if location == "" {
		location = deps.Writer.Dir()
	}

	result := &Result{
		RunID:           state.RunID,
		Timestamp:       state.Timestamp,
		Records:         state.Records,
		Artifacts:       state.Artifacts,
		ReportRef:       state.ReportRef,
		Alerted:         state.Alert != nil,
		Degraded:        state.Degraded,
		DegradedReasons: state.DegradedReasons,
		Summary:         report.Summarize(state.Records, location),
		Duration:        duration,
	}

	status := metrics.StatusSuccess
	if state.Degraded {
		status = metrics.StatusDegraded
	}
	if deps.Metrics != nil {
		finishMetrics(ctx, deps, state.RunID, status, duration, finished)
	}

	log.Info().
		Str("status", status).
		Int("records", result.Summary.Total).
		Int("mismatches", result.Summary.Mismatches).
		Bool("alerted", result.Alerted).
		Dur("duration", duration).
		Msg("Reconciliation run complete")

	return result, nil
}

func countDataErrors(m *metrics.Recorder, err error) {
	var de recon.DataErrors
	if !errors.As(err, &de) {
		return
	}
	for _, e := range de {
		m.DataErrors.WithLabelValues(string(e.Kind)).Inc()
	}
}

func finishMetrics(ctx context.Context, deps Dependencies, runID, status string, duration time.Duration, finished time.Time) {
	deps.Metrics.ObserveRun(status, duration, finished)
	if deps.PushgatewayURL == "" {
		return
	}
	if err := deps.Metrics.Push(ctx, deps.PushgatewayURL, runID); err != nil {
		log := logger.FromContext(ctx)
		log.Warn().Err(err).Msg("Failed to push metrics")
	}
}
