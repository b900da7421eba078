package pipeline

import (
	"context"
	"time"

	"github.com/dvloznov/ledger-recon/internal/domain"
	"github.com/dvloznov/ledger-recon/internal/enrich"
	infra "github.com/dvloznov/ledger-recon/internal/infra/bigquery"
	"github.com/dvloznov/ledger-recon/internal/notify"
	"github.com/dvloznov/ledger-recon/internal/report"
	"github.com/dvloznov/ledger-recon/internal/source"
)

// SourceResolver returns the loader for a mode. *source.Registry implements it.
type SourceResolver interface {
	Loader(mode string) (source.Loader, error)
}

// RecordEnricher attaches reasons, actions and AI notes. *enrich.Enricher implements it.
type RecordEnricher interface {
	Enrich(ctx context.Context, records []domain.Discrepancy) []enrich.Result
}

// ReportWriter persists a run's records. *report.Writer implements it.
type ReportWriter interface {
	Write(ctx context.Context, records []domain.Discrepancy, ts string) (report.Artifacts, error)
	Dir() string
}

// ReportUploader copies a local artifact to remote storage and returns its URI.
type ReportUploader interface {
	UploadReport(ctx context.Context, localPath string) (string, error)
}

// RunRecorder tracks runs and stores discrepancy rows. infra.RunRepository fits.
type RunRecorder = infra.RunRepository

// AlertTrigger decides on and hands off the run's alert. *notify.Trigger implements it.
type AlertTrigger interface {
	Fire(ctx context.Context, records []domain.Discrepancy, runDate time.Time, reportRef, reportPath string) (*notify.Alert, bool)
}
