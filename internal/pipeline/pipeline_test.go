package pipeline_test

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/dvloznov/ledger-recon/internal/domain"
	"github.com/dvloznov/ledger-recon/internal/enrich"
	infra "github.com/dvloznov/ledger-recon/internal/infra/bigquery"
	"github.com/dvloznov/ledger-recon/internal/metrics"
	"github.com/dvloznov/ledger-recon/internal/notify"
	"github.com/dvloznov/ledger-recon/internal/pipeline"
	"github.com/dvloznov/ledger-recon/internal/recon"
	"github.com/dvloznov/ledger-recon/internal/report"
	"github.com/dvloznov/ledger-recon/internal/source"
	"github.com/dvloznov/ledger-recon/internal/source/httpclient"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

// MockRunRecorder is a mock implementation of RunRecorder for testing.
type MockRunRecorder struct {
	StartRunFunc            func(ctx context.Context, runID, internalMode, gatewayMode string, started time.Time) error
	MarkRunSucceededFunc    func(ctx context.Context, runID string, stats infra.RunStats) error
	MarkRunFailedFunc       func(ctx context.Context, runID string, runErr error)
	InsertDiscrepanciesFunc func(ctx context.Context, rows []*infra.DiscrepancyRow) error

	started   []string
	succeeded []infra.RunStats
	failed    []error
	rows      []*infra.DiscrepancyRow
}

func (m *MockRunRecorder) StartRun(ctx context.Context, runID, internalMode, gatewayMode string, started time.Time) error {
	m.started = append(m.started, runID)
	if m.StartRunFunc != nil {
		return m.StartRunFunc(ctx, runID, internalMode, gatewayMode, started)
	}
	return nil
}

func (m *MockRunRecorder) MarkRunSucceeded(ctx context.Context, runID string, stats infra.RunStats) error {
	m.succeeded = append(m.succeeded, stats)
	if m.MarkRunSucceededFunc != nil {
		return m.MarkRunSucceededFunc(ctx, runID, stats)
	}
	return nil
}

func (m *MockRunRecorder) MarkRunFailed(ctx context.Context, runID string, runErr error) {
	m.failed = append(m.failed, runErr)
	if m.MarkRunFailedFunc != nil {
		m.MarkRunFailedFunc(ctx, runID, runErr)
	}
}

func (m *MockRunRecorder) InsertDiscrepancies(ctx context.Context, rows []*infra.DiscrepancyRow) error {
	m.rows = append(m.rows, rows...)
	if m.InsertDiscrepanciesFunc != nil {
		return m.InsertDiscrepanciesFunc(ctx, rows)
	}
	return nil
}

// MockReportUploader is a mock implementation of ReportUploader for testing.
type MockReportUploader struct {
	UploadReportFunc func(ctx context.Context, localPath string) (string, error)
}

func (m *MockReportUploader) UploadReport(ctx context.Context, localPath string) (string, error) {
	if m.UploadReportFunc != nil {
		return m.UploadReportFunc(ctx, localPath)
	}
	return "gs://bucket/reconciliation/" + filepath.Base(localPath), nil
}

// MockSender is a mock implementation of notify.Sender for testing.
type MockSender struct {
	SendFunc func(ctx context.Context, alert *notify.Alert, reportPath string) error
	alerts   []*notify.Alert
	paths    []string
}

func (m *MockSender) Name() string { return "mock" }

func (m *MockSender) Send(ctx context.Context, alert *notify.Alert, reportPath string) error {
	m.alerts = append(m.alerts, alert)
	m.paths = append(m.paths, reportPath)
	if m.SendFunc != nil {
		return m.SendFunc(ctx, alert, reportPath)
	}
	return nil
}

var runStart = time.Date(2025, 6, 1, 12, 30, 0, 0, time.UTC)

func registry(side domain.Source, mode string, rows []domain.RawRecord, err error) *source.Registry {
	r := source.NewRegistry(side)
	r.Register(mode, source.LoaderFunc(func(ctx context.Context) ([]domain.RawRecord, error) {
		return rows, err
	}))
	return r
}

func deps(t *testing.T, internal, gateway []domain.RawRecord) (pipeline.Dependencies, *MockSender) {
	t.Helper()
	sender := &MockSender{}
	return pipeline.Dependencies{
		InternalSources: registry(domain.SourceInternal, source.ModeMock, internal, nil),
		GatewaySources:  registry(domain.SourceGateway, source.ModeMock, gateway, nil),
		InternalMode:    source.ModeMock,
		GatewayMode:     source.ModeMock,
		Policy:          recon.PolicyStrict,
		Enricher:        enrich.New(enrich.Options{}, nil),
		Writer:          report.NewWriter(filepath.Join(t.TempDir(), "reports")),
		Trigger:         notify.NewTrigger(sender),
		Now:             func() time.Time { return runStart },
		NewRunID:        func() string { return "run-1" },
	}, sender
}

func typesOf(records []domain.Discrepancy) map[string]domain.DiscrepancyType {
	out := make(map[string]domain.DiscrepancyType, len(records))
	for _, r := range records {
		out[r.TxID] = r.Type
	}
	return out
}

func TestRun_Scenarios(t *testing.T) {
	tests := []struct {
		name     string
		internal []domain.RawRecord
		gateway  []domain.RawRecord
		want     domain.DiscrepancyType
	}{
		{
			name:     "matched",
			internal: []domain.RawRecord{{"tx_id": "A", "amount": 100, "status": "success", "currency": "USD"}},
			gateway:  []domain.RawRecord{{"tx_id": "A", "amount": 100, "status": "success", "currency": "USD"}},
			want:     domain.Matched,
		},
		{
			name:     "missing in gateway",
			internal: []domain.RawRecord{{"tx_id": "B", "amount": 50, "status": "success"}},
			gateway:  []domain.RawRecord{},
			want:     domain.MissingInGateway,
		},
		{
			name:     "amount mismatch",
			internal: []domain.RawRecord{{"tx_id": "C", "amount": 100, "status": "success"}},
			gateway:  []domain.RawRecord{{"tx_id": "C", "amount": 95, "status": "success"}},
			want:     domain.AmountMismatch,
		},
		{
			name:     "status mismatch",
			internal: []domain.RawRecord{{"tx_id": "D", "amount": 100, "status": "pending"}},
			gateway:  []domain.RawRecord{{"tx_id": "D", "amount": 100, "status": "success"}},
			want:     domain.StatusMismatch,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d, _ := deps(t, tt.internal, tt.gateway)

			res, err := pipeline.Run(context.Background(), d)
			if err != nil {
				t.Fatalf("Run: %v", err)
			}
			if len(res.Records) != 1 {
				t.Fatalf("got %d records, want 1", len(res.Records))
			}
			if res.Records[0].Type != tt.want {
				t.Errorf("type = %s, want %s", res.Records[0].Type, tt.want)
			}
			if res.Degraded {
				t.Error("run should not be degraded")
			}
		})
	}
}

func TestRun_EndToEnd(t *testing.T) {
	internal := []domain.RawRecord{
		{"tx_id": "A", "amount": 100.0, "status": "success", "currency": "USD"},
		{"tx_id": "B", "amount": 50.0, "status": "success"},
		{"tx_id": "C", "amount": 100.0, "status": "success"},
	}
	gateway := []domain.RawRecord{
		{"reference": "A", "amount": 100.0, "status": "SUCCESS", "currency": "USD"},
		{"reference": "C", "amount": 95.0, "status": "success"},
		{"reference": "E", "amount": 10.0, "status": "success"},
	}
	d, sender := deps(t, internal, gateway)
	runs := &MockRunRecorder{}
	rec := metrics.New()
	var console bytes.Buffer
	d.Runs = runs
	d.Metrics = rec
	d.Console = &console
	d.Uploader = &MockReportUploader{}

	res, err := pipeline.Run(context.Background(), d)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	want := map[string]domain.DiscrepancyType{
		"A": domain.Matched,
		"B": domain.MissingInGateway,
		"C": domain.AmountMismatch,
		"E": domain.MissingInInternal,
	}
	got := typesOf(res.Records)
	if len(got) != len(want) || len(res.Records) != len(want) {
		t.Fatalf("got %v, want %v", got, want)
	}
	for id, typ := range want {
		if got[id] != typ {
			t.Errorf("%s: type = %s, want %s", id, got[id], typ)
		}
	}

	for _, r := range res.Records {
		if r.AIExplanation != enrich.PlaceholderDisabled {
			t.Errorf("%s: ai_explanation = %q", r.TxID, r.AIExplanation)
		}
		if r.ProbableReason == "" || r.SuggestedAction == "" {
			t.Errorf("%s: enrichment fields missing", r.TxID)
		}
	}

	if res.Timestamp != "2025-06-01_1230" {
		t.Errorf("Timestamp = %q", res.Timestamp)
	}
	for _, p := range []string{res.Artifacts.CSVPath, res.Artifacts.JSONPath} {
		if !strings.Contains(filepath.Base(p), res.Timestamp) {
			t.Errorf("artifact %q does not carry the run timestamp", p)
		}
		if _, err := os.Stat(p); err != nil {
			t.Errorf("artifact missing: %v", err)
		}
	}

	wantRef := "gs://bucket/reconciliation/" + filepath.Base(res.Artifacts.JSONPath)
	if res.ReportRef != wantRef {
		t.Errorf("ReportRef = %q, want %q", res.ReportRef, wantRef)
	}

	if !res.Alerted || len(sender.alerts) != 1 {
		t.Fatalf("expected one alert, got %d", len(sender.alerts))
	}
	if sender.alerts[0].Count != 3 {
		t.Errorf("alert count = %d, want 3", sender.alerts[0].Count)
	}
	if sender.alerts[0].ReportRef != wantRef {
		t.Errorf("alert ReportRef = %q", sender.alerts[0].ReportRef)
	}
	if sender.paths[0] != res.Artifacts.JSONPath {
		t.Errorf("alert report path = %q", sender.paths[0])
	}

	if res.Summary.Total != 4 || res.Summary.Mismatches != 3 {
		t.Errorf("Summary = %+v", res.Summary)
	}
	if res.Summary.Location != wantRef {
		t.Errorf("Summary.Location = %q", res.Summary.Location)
	}
	if strings.Count(console.String(), "Transaction ID:") != 4 {
		t.Errorf("expected one console block per record:\n%s", console.String())
	}

	if len(runs.started) != 1 || runs.started[0] != "run-1" {
		t.Errorf("StartRun calls = %v", runs.started)
	}
	if len(runs.rows) != 4 {
		t.Errorf("stored %d rows, want 4", len(runs.rows))
	}
	if len(runs.succeeded) != 1 || runs.succeeded[0].Discrepancies != 3 || runs.succeeded[0].ReportURI != wantRef {
		t.Errorf("MarkRunSucceeded = %+v", runs.succeeded)
	}

	if v := testutil.ToFloat64(rec.Records.WithLabelValues(string(domain.MissingInInternal))); v != 1 {
		t.Errorf("missing_in_internal counter = %v", v)
	}
	if v := testutil.ToFloat64(rec.InputRecords.WithLabelValues(string(domain.SourceGateway))); v != 3 {
		t.Errorf("gateway input gauge = %v", v)
	}
	if v := testutil.ToFloat64(rec.Runs.WithLabelValues(metrics.StatusSuccess)); v != 1 {
		t.Errorf("success runs = %v", v)
	}
	if v := testutil.ToFloat64(rec.AIExplanations.WithLabelValues(string(enrich.OutcomeDisabled))); v != 4 {
		t.Errorf("disabled AI outcomes = %v", v)
	}
}

func TestRun_NoAlertWhenAllMatched(t *testing.T) {
	rows := []domain.RawRecord{
		{"tx_id": "A", "amount": 100, "status": "success", "currency": "USD"},
		{"tx_id": "B", "amount": 20, "status": "failed", "currency": "EUR"},
	}
	d, sender := deps(t, rows, rows)

	res, err := pipeline.Run(context.Background(), d)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if res.Alerted || len(sender.alerts) != 0 {
		t.Error("no alert expected when every record matches")
	}
	if res.Summary.Mismatches != 0 {
		t.Errorf("Mismatches = %d", res.Summary.Mismatches)
	}
}

func TestRun_UnsupportedModeDegrades(t *testing.T) {
	internal := []domain.RawRecord{
		{"tx_id": "A", "amount": 100, "status": "success"},
		{"tx_id": "B", "amount": 50, "status": "success"},
	}
	d, _ := deps(t, internal, nil)
	d.GatewayMode = "carrier-pigeon"
	rec := metrics.New()
	d.Metrics = rec

	res, err := pipeline.Run(context.Background(), d)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if !res.Degraded || len(res.DegradedReasons) != 1 {
		t.Fatalf("expected a degraded run, got %+v", res.DegradedReasons)
	}
	if !strings.Contains(res.DegradedReasons[0], "carrier-pigeon") {
		t.Errorf("reason = %q", res.DegradedReasons[0])
	}
	for _, r := range res.Records {
		if r.Type != domain.MissingInGateway {
			t.Errorf("%s: type = %s, want missing_in_gateway", r.TxID, r.Type)
		}
	}
	if v := testutil.ToFloat64(rec.Runs.WithLabelValues(metrics.StatusDegraded)); v != 1 {
		t.Errorf("degraded runs = %v", v)
	}
}

func TestRun_GatewayAPIErrorDegrades(t *testing.T) {
	d, _ := deps(t, []domain.RawRecord{{"tx_id": "A", "amount": 1}}, nil)
	d.GatewaySources = registry(domain.SourceGateway, source.ModeMock, nil, &httpclient.APIError{StatusCode: 401, Body: "bad key"})

	res, err := pipeline.Run(context.Background(), d)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if !res.Degraded {
		t.Error("expected a degraded run")
	}
	if len(res.Records) != 1 || res.Records[0].Type != domain.MissingInGateway {
		t.Errorf("records = %+v", res.Records)
	}
}

func TestRun_LoadErrorIsFatal(t *testing.T) {
	loadErr := errors.New("connection refused")
	d, sender := deps(t, nil, nil)
	d.InternalSources = registry(domain.SourceInternal, source.ModeMock, nil, loadErr)
	runs := &MockRunRecorder{}
	d.Runs = runs

	res, err := pipeline.Run(context.Background(), d)
	if !errors.Is(err, loadErr) {
		t.Fatalf("err = %v, want %v", err, loadErr)
	}
	if res != nil {
		t.Error("no result expected for a failed run")
	}
	if len(runs.failed) != 1 || len(runs.succeeded) != 0 {
		t.Errorf("failed = %d, succeeded = %d", len(runs.failed), len(runs.succeeded))
	}
	if len(sender.alerts) != 0 {
		t.Error("failed runs must not alert")
	}
}

func TestRun_LoaderPanicIsReturnedAsError(t *testing.T) {
	d, sender := deps(t, nil, nil)
	r := source.NewRegistry(domain.SourceInternal)
	r.Register(source.ModeMock, source.LoaderFunc(func(ctx context.Context) ([]domain.RawRecord, error) {
		panic("loader blew up")
	}))
	d.InternalSources = r
	runs := &MockRunRecorder{}
	d.Runs = runs

	res, err := pipeline.Run(context.Background(), d)
	if err == nil {
		t.Fatal("expected an error from a panicking loader")
	}
	if !strings.Contains(err.Error(), "loader blew up") {
		t.Errorf("err = %v, want it to carry the panic value", err)
	}
	if res != nil {
		t.Error("no result expected for a failed run")
	}
	if len(runs.failed) != 1 {
		t.Errorf("failed = %d, want 1", len(runs.failed))
	}
	if len(sender.alerts) != 0 {
		t.Error("failed runs must not alert")
	}
}

func TestRun_StrictDataErrors(t *testing.T) {
	internal := []domain.RawRecord{
		{"tx_id": "A", "amount": 100},
		{"tx_id": "A", "amount": 90},
	}
	gateway := []domain.RawRecord{
		{"tx_id": "B", "amount": "ten"},
	}
	d, _ := deps(t, internal, gateway)
	rec := metrics.New()
	d.Metrics = rec

	_, err := pipeline.Run(context.Background(), d)
	var de recon.DataErrors
	if !errors.As(err, &de) {
		t.Fatalf("err = %v, want DataErrors", err)
	}
	if len(de) != 2 {
		t.Errorf("got %d data errors, want 2: %v", len(de), de)
	}
	if v := testutil.ToFloat64(rec.DataErrors.WithLabelValues(string(recon.DuplicateTxID))); v != 1 {
		t.Errorf("duplicate counter = %v", v)
	}
	if v := testutil.ToFloat64(rec.DataErrors.WithLabelValues(string(recon.MalformedAmount))); v != 1 {
		t.Errorf("malformed counter = %v", v)
	}
	if v := testutil.ToFloat64(rec.Runs.WithLabelValues(metrics.StatusFailed)); v != 1 {
		t.Errorf("failed runs = %v", v)
	}
}

func TestRun_LenientDropsBadRows(t *testing.T) {
	internal := []domain.RawRecord{
		{"tx_id": "A", "amount": 100},
		{"tx_id": "A", "amount": 90},
		{"tx_id": "B", "amount": 5},
	}
	gateway := []domain.RawRecord{
		{"tx_id": "B", "amount": 5},
	}
	d, _ := deps(t, internal, gateway)
	d.Policy = recon.PolicyLenient

	res, err := pipeline.Run(context.Background(), d)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	got := typesOf(res.Records)
	if len(got) != 1 || got["B"] != domain.Matched {
		t.Errorf("records = %v, want only B matched", got)
	}
}

func TestRun_CollaboratorFailuresDoNotAbort(t *testing.T) {
	d, sender := deps(t,
		[]domain.RawRecord{{"tx_id": "A", "amount": 1}},
		[]domain.RawRecord{{"tx_id": "A", "amount": 2}},
	)
	sender.SendFunc = func(ctx context.Context, alert *notify.Alert, reportPath string) error {
		return errors.New("slack is down")
	}
	d.Uploader = &MockReportUploader{UploadReportFunc: func(ctx context.Context, localPath string) (string, error) {
		return "", errors.New("bucket not found")
	}}
	d.Runs = &MockRunRecorder{
		StartRunFunc: func(ctx context.Context, runID, internalMode, gatewayMode string, started time.Time) error {
			return errors.New("quota exceeded")
		},
		InsertDiscrepanciesFunc: func(ctx context.Context, rows []*infra.DiscrepancyRow) error {
			return errors.New("quota exceeded")
		},
	}

	res, err := pipeline.Run(context.Background(), d)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if res.ReportRef != res.Artifacts.JSONPath {
		t.Errorf("ReportRef = %q, want the local JSON path", res.ReportRef)
	}
	if !res.Alerted {
		t.Error("the alert is built even when its delivery fails")
	}
}

func TestRun_ReportWriteFailureDoesNotAbort(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "reports")
	if err := os.WriteFile(dir, []byte("not a directory"), 0o644); err != nil {
		t.Fatal(err)
	}
	d, sender := deps(t,
		[]domain.RawRecord{{"tx_id": "A", "amount": 1}},
		nil,
	)
	d.Writer = report.NewWriter(dir)

	res, err := pipeline.Run(context.Background(), d)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if res.Artifacts.JSONPath != "" || res.ReportRef != "" {
		t.Errorf("no artifact expected, got %+v", res.Artifacts)
	}
	if res.Summary.Location != dir {
		t.Errorf("Summary.Location = %q, want the report dir", res.Summary.Location)
	}
	if len(sender.paths) != 1 || sender.paths[0] != "" {
		t.Errorf("sender report paths = %q", sender.paths)
	}
}

func TestNewReconciliationPipeline_OptionalSteps(t *testing.T) {
	d, _ := deps(t, nil, nil)
	state := &pipeline.PipelineState{RunID: "run-1", StartedAt: runStart, Timestamp: report.RunTimestamp(runStart)}

	if err := pipeline.NewReconciliationPipeline(d).Execute(context.Background(), state); err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if len(state.Records) != 0 {
		t.Errorf("records = %d, want 0", len(state.Records))
	}
	if state.Alert != nil {
		t.Error("empty runs must not alert")
	}
}

func TestPipeline_StopsAtFirstError(t *testing.T) {
	boom := errors.New("boom")
	var ran []int
	step := func(i int, err error) pipeline.PipelineStep {
		return stepFunc(func(ctx context.Context, state *pipeline.PipelineState) error {
			ran = append(ran, i)
			return err
		})
	}

	err := pipeline.NewPipeline(step(1, nil), step(2, boom), step(3, nil)).Execute(context.Background(), &pipeline.PipelineState{})
	if !errors.Is(err, boom) {
		t.Fatalf("err = %v", err)
	}
	if !strings.Contains(err.Error(), "pipeline step 2 failed") {
		t.Errorf("err = %v", err)
	}
	if len(ran) != 2 {
		t.Errorf("ran steps %v, want [1 2]", ran)
	}
}

type stepFunc func(ctx context.Context, state *pipeline.PipelineState) error

func (f stepFunc) Execute(ctx context.Context, state *pipeline.PipelineState) error {
	return f(ctx, state)
}
