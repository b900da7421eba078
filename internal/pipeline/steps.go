package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/dvloznov/ledger-recon/internal/domain"
	"github.com/dvloznov/ledger-recon/internal/enrich"
	infra "github.com/dvloznov/ledger-recon/internal/infra/bigquery"
	"github.com/dvloznov/ledger-recon/internal/logger"
	"github.com/dvloznov/ledger-recon/internal/metrics"
	"github.com/dvloznov/ledger-recon/internal/notify"
	"github.com/dvloznov/ledger-recon/internal/recon"
	"github.com/dvloznov/ledger-recon/internal/report"
	"github.com/dvloznov/ledger-recon/internal/source"
	"github.com/dvloznov/ledger-recon/internal/source/httpclient"
	"golang.org/x/sync/errgroup"
)

// PipelineStep represents a single step in the reconciliation pipeline.
type PipelineStep interface {
	Execute(ctx context.Context, state *PipelineState) error
}

// PipelineState holds the shared state across all pipeline steps.
type PipelineState struct {
	RunID     string
	StartedAt time.Time
	Timestamp string

	InternalRaw []domain.RawRecord
	GatewayRaw  []domain.RawRecord
	Internal    []domain.Record
	Gateway     []domain.Record

	Classified []domain.Discrepancy
	Enriched   []enrich.Result
	Records    []domain.Discrepancy

	Artifacts report.Artifacts
	ReportRef string
	Alert     *notify.Alert

	// Degraded is set when a source contributed an empty set because of a
	// configuration or gateway error.
	Degraded        bool
	DegradedReasons []string
}

func (s *PipelineState) degrade(reason string) {
	s.Degraded = true
	s.DegradedReasons = append(s.DegradedReasons, reason)
}

// Step 1: AcquireStep loads both raw record sets concurrently.
type AcquireStep struct {
	Internal     SourceResolver
	Gateway      SourceResolver
	InternalMode string
	GatewayMode  string
}

func (s *AcquireStep) Execute(ctx context.Context, state *PipelineState) error {
	var (
		internal, gateway             []domain.RawRecord
		internalReason, gatewayReason string
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		internal, internalReason, err = acquire(gctx, domain.SourceInternal, s.Internal, s.InternalMode)
		return err
	})
	g.Go(func() error {
		var err error
		gateway, gatewayReason, err = acquire(gctx, domain.SourceGateway, s.Gateway, s.GatewayMode)
		return err
	})
	if err := g.Wait(); err != nil {
		return err
	}

	state.InternalRaw = internal
	state.GatewayRaw = gateway
	if internalReason != "" {
		state.degrade(internalReason)
	}
	if gatewayReason != "" {
		state.degrade(gatewayReason)
	}
	return nil
}

// acquire loads one side. Unsupported modes and gateway HTTP errors degrade
// to an empty set with a reason; every other error is returned, including a
// recovered loader panic.
func acquire(ctx context.Context, side domain.Source, resolver SourceResolver, mode string) (records []domain.RawRecord, reason string, err error) {
	defer func() {
		if r := recover(); r != nil {
			records, reason, err = nil, "", fmt.Errorf("acquire %s: panic: %v", side, r)
		}
	}()

	log := logger.FromContext(ctx).With().Str("source", string(side)).Str("mode", mode).Logger()

	loader, err := resolver.Loader(mode)
	if err != nil {
		if errors.Is(err, source.ErrUnsupportedMode) {
			log.Error().Err(err).Msg("Unsupported source mode, continuing with an empty record set")
			return nil, err.Error(), nil
		}
		return nil, "", fmt.Errorf("acquire %s: %w", side, err)
	}

	records, err = loader.Load(ctx)
	if err != nil {
		var apiErr *httpclient.APIError
		if errors.As(err, &apiErr) {
			log.Error().Err(err).Int("status_code", apiErr.StatusCode).Msg("Gateway API request failed, continuing with an empty record set")
			return nil, fmt.Sprintf("%s mode %q: %v", side, mode, err), nil
		}
		return nil, "", fmt.Errorf("acquire %s: %w", side, err)
	}

	return records, "", nil
}

// Step 2: NormalizeStep canonicalizes both record sets under the data-error policy.
type NormalizeStep struct {
	Policy recon.Policy
}

func (s *NormalizeStep) Execute(ctx context.Context, state *PipelineState) error {
	var all recon.DataErrors

	internal, err := recon.Normalize(ctx, state.InternalRaw, domain.SourceInternal, s.Policy)
	if err != nil && !collectDataErrors(err, &all) {
		return err
	}
	gateway, err := recon.Normalize(ctx, state.GatewayRaw, domain.SourceGateway, s.Policy)
	if err != nil && !collectDataErrors(err, &all) {
		return err
	}

	if len(all) > 0 {
		return all
	}

	state.Internal = internal
	state.Gateway = gateway
	return nil
}

func collectDataErrors(err error, into *recon.DataErrors) bool {
	var de recon.DataErrors
	if !errors.As(err, &de) {
		return false
	}
	*into = append(*into, de...)
	return true
}

// Step 3: ReconcileStep joins and classifies the normalized sets.
type ReconcileStep struct{}

func (s *ReconcileStep) Execute(ctx context.Context, state *PipelineState) error {
	log := logger.FromContext(ctx)
	log.Info().
		Int("internal", len(state.Internal)).
		Int("gateway", len(state.Gateway)).
		Msg("Starting reconciliation")

	classified, err := recon.Reconcile(state.Internal, state.Gateway)
	if err != nil {
		return err
	}
	state.Classified = classified

	log.Info().
		Int("records", len(classified)).
		Int("discrepancies", len(domain.Discrepancies(classified))).
		Msg("Reconciliation complete")
	return nil
}

// Step 4: EnrichStep attaches reasons, actions and AI notes.
type EnrichStep struct {
	Enricher RecordEnricher
}

func (s *EnrichStep) Execute(ctx context.Context, state *PipelineState) error {
	state.Enriched = s.Enricher.Enrich(ctx, state.Classified)
	state.Records = enrich.Records(state.Enriched)
	return nil
}

// Step 5: WriteReportStep persists the CSV and JSON artifacts and prints the
// per-record summary. Write failures are logged, not returned.
type WriteReportStep struct {
	Writer  ReportWriter
	Console io.Writer
}

func (s *WriteReportStep) Execute(ctx context.Context, state *PipelineState) error {
	art, err := s.Writer.Write(ctx, state.Records, state.Timestamp)
	state.Artifacts = art
	state.ReportRef = art.JSONPath
	if err != nil {
		log := logger.FromContext(ctx)
		log.Error().Err(err).Msg("Report write incomplete")
	}

	if s.Console != nil {
		report.PrintRecords(s.Console, state.Records)
	}
	return nil
}

// Step 6: UploadReportStep copies the JSON artifact to object storage; on
// success its URI becomes the report reference.
type UploadReportStep struct {
	Uploader ReportUploader
}

func (s *UploadReportStep) Execute(ctx context.Context, state *PipelineState) error {
	log := logger.FromContext(ctx)

	if state.Artifacts.JSONPath == "" {
		log.Warn().Msg("No JSON report to upload")
		return nil
	}

	uri, err := s.Uploader.UploadReport(ctx, state.Artifacts.JSONPath)
	if err != nil {
		log.Warn().Err(err).Msg("Report upload failed, keeping the local path as reference")
		return nil
	}

	state.ReportRef = uri
	log.Info().Str("uri", uri).Msg("Report uploaded")
	return nil
}

// Step 7: RecordRunStep stores the run's rows and totals. Failures are logged.
type RecordRunStep struct {
	Runs RunRecorder
}

func (s *RecordRunStep) Execute(ctx context.Context, state *PipelineState) error {
	log := logger.FromContext(ctx)

	rows := infra.NewDiscrepancyRows(state.RunID, state.StartedAt, state.Records)
	if err := s.Runs.InsertDiscrepancies(ctx, rows); err != nil {
		log.Warn().Err(err).Int("rows", len(rows)).Msg("Failed to store discrepancy rows")
	}

	stats := infra.RunStats{
		Total:         len(state.Records),
		Discrepancies: len(domain.Discrepancies(state.Records)),
		ReportURI:     state.ReportRef,
		Degraded:      state.Degraded,
	}
	if err := s.Runs.MarkRunSucceeded(ctx, state.RunID, stats); err != nil {
		log.Warn().Err(err).Msg("Failed to record run")
	}
	return nil
}

// Step 8: NotifyStep hands the alert to the configured senders.
type NotifyStep struct {
	Trigger AlertTrigger
}

func (s *NotifyStep) Execute(ctx context.Context, state *PipelineState) error {
	alert, _ := s.Trigger.Fire(ctx, state.Records, state.StartedAt, state.ReportRef, state.Artifacts.JSONPath)
	state.Alert = alert
	return nil
}

// Step 9: MetricsStep records the run's record counts.
type MetricsStep struct {
	Metrics *metrics.Recorder
}

func (s *MetricsStep) Execute(ctx context.Context, state *PipelineState) error {
	s.Metrics.InputRecords.WithLabelValues(string(domain.SourceInternal)).Set(float64(len(state.Internal)))
	s.Metrics.InputRecords.WithLabelValues(string(domain.SourceGateway)).Set(float64(len(state.Gateway)))

	for t, n := range domain.CountByType(state.Records) {
		s.Metrics.Records.WithLabelValues(string(t)).Add(float64(n))
	}
	for o, n := range enrich.CountOutcomes(state.Enriched) {
		s.Metrics.AIExplanations.WithLabelValues(string(o)).Add(float64(n))
	}
	return nil
}

// Pipeline executes a sequence of steps in order.
type Pipeline struct {
	steps []PipelineStep
}

// NewPipeline creates a new pipeline with the given steps.
func NewPipeline(steps ...PipelineStep) *Pipeline {
	return &Pipeline{steps: steps}
}

// Execute runs all steps in the pipeline sequentially.
func (p *Pipeline) Execute(ctx context.Context, state *PipelineState) error {
	for i, step := range p.steps {
		if err := step.Execute(ctx, state); err != nil {
			return fmt.Errorf("pipeline step %d failed: %w", i+1, err)
		}
	}
	return nil
}
