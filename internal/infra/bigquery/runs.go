package bigquery

import (
	"context"
	"fmt"
	"time"

	"cloud.google.com/go/bigquery"
	"github.com/dvloznov/ledger-recon/internal/logger"
)

// Run statuses.
const (
	RunStatusRunning  = "RUNNING"
	RunStatusSuccess  = "SUCCESS"
	RunStatusDegraded = "DEGRADED"
	RunStatusFailed   = "FAILED"
)

const maxErrorLen = 2000

// RunRow is one reconciliation run in the runs table.
type RunRow struct {
	RunID string `bigquery:"run_id"` // REQUIRED

	StartedTS  time.Time              `bigquery:"started_ts"`  // REQUIRED
	FinishedTS bigquery.NullTimestamp `bigquery:"finished_ts"` // NULLABLE

	InternalMode string `bigquery:"internal_mode"`
	GatewayMode  string `bigquery:"gateway_mode"`

	Status       string `bigquery:"status"`
	ErrorMessage string `bigquery:"error_message"`

	TotalRecords  bigquery.NullInt64  `bigquery:"total_records"`
	Discrepancies bigquery.NullInt64  `bigquery:"discrepancies"`
	ReportURI     bigquery.NullString `bigquery:"report_uri"`
}

// RunStats is what a finished run reports back to the runs table.
type RunStats struct {
	Total         int
	Discrepancies int
	ReportURI     string
	Degraded      bool
}

// NewRunRow returns the initial RUNNING row for a run.
func NewRunRow(runID, internalMode, gatewayMode string, started time.Time) RunRow {
	return RunRow{
		RunID:        runID,
		StartedTS:    started,
		InternalMode: internalMode,
		GatewayMode:  gatewayMode,
		Status:       RunStatusRunning,
	}
}

// StartRunWithClient inserts the initial row for a run.
func StartRunWithClient(ctx context.Context, client *bigquery.Client, table TableRef, row RunRow) error {
	if err := table.Validate(); err != nil {
		return fmt.Errorf("StartRun: %w", err)
	}

	q := client.Query(fmt.Sprintf(`
		INSERT %s (
			run_id,
			started_ts,
			internal_mode,
			gateway_mode,
			status
		)
		VALUES (
			@run_id,
			@started_ts,
			@internal_mode,
			@gateway_mode,
			@status
		)
	`, table))

	q.Parameters = []bigquery.QueryParameter{
		{Name: "run_id", Value: row.RunID},
		{Name: "started_ts", Value: row.StartedTS},
		{Name: "internal_mode", Value: row.InternalMode},
		{Name: "gateway_mode", Value: row.GatewayMode},
		{Name: "status", Value: row.Status},
	}

	return runDML(ctx, q, "StartRun")
}

// MarkRunSucceededWithClient records the run's totals and sets status to
// SUCCESS, or DEGRADED when a source contributed an empty set.
func MarkRunSucceededWithClient(ctx context.Context, client *bigquery.Client, table TableRef, runID string, stats RunStats) error {
	if err := table.Validate(); err != nil {
		return fmt.Errorf("MarkRunSucceeded: %w", err)
	}

	status := RunStatusSuccess
	if stats.Degraded {
		status = RunStatusDegraded
	}

	q := client.Query(fmt.Sprintf(`
		UPDATE %s
		SET status = @status,
		    finished_ts = @finished_ts,
		    total_records = @total_records,
		    discrepancies = @discrepancies,
		    report_uri = @report_uri,
		    error_message = ""
		WHERE run_id = @run_id
	`, table))

	q.Parameters = []bigquery.QueryParameter{
		{Name: "status", Value: status},
		{Name: "finished_ts", Value: time.Now()},
		{Name: "total_records", Value: stats.Total},
		{Name: "discrepancies", Value: stats.Discrepancies},
		{Name: "report_uri", Value: stats.ReportURI},
		{Name: "run_id", Value: runID},
	}

	return runDML(ctx, q, "MarkRunSucceeded")
}

// MarkRunFailedWithClient sets status=FAILED, finished_ts and error_message.
// Failures are logged only.
func MarkRunFailedWithClient(ctx context.Context, client *bigquery.Client, table TableRef, runID string, runErr error) {
	log := logger.FromContext(ctx)

	if err := table.Validate(); err != nil {
		log.Error().Err(err).Str("run_id", runID).Msg("MarkRunFailed: invalid table")
		return
	}

	q := client.Query(fmt.Sprintf(`
		UPDATE %s
		SET status = @status,
		    finished_ts = @finished_ts,
		    error_message = @error_message
		WHERE run_id = @run_id
	`, table))

	q.Parameters = []bigquery.QueryParameter{
		{Name: "status", Value: RunStatusFailed},
		{Name: "finished_ts", Value: time.Now()},
		{Name: "error_message", Value: TruncateError(runErr)},
		{Name: "run_id", Value: runID},
	}

	if err := runDML(ctx, q, "MarkRunFailed"); err != nil {
		log.Error().Err(err).Str("run_id", runID).Msg("MarkRunFailed: update failed")
	}
}

// TruncateError renders err for the error_message column.
func TruncateError(err error) string {
	if err == nil {
		return ""
	}
	msg := err.Error()
	if len(msg) > maxErrorLen {
		msg = msg[:maxErrorLen]
	}
	return msg
}

func runDML(ctx context.Context, q *bigquery.Query, op string) error {
	job, err := q.Run(ctx)
	if err != nil {
		return fmt.Errorf("%s: running query: %w", op, err)
	}

	status, err := job.Wait(ctx)
	if err != nil {
		return fmt.Errorf("%s: waiting for job: %w", op, err)
	}
	if err := status.Err(); err != nil {
		return fmt.Errorf("%s: job error: %w", op, err)
	}
	return nil
}
