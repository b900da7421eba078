package bigquery

import (
	"context"
	"fmt"
	"time"

	"cloud.google.com/go/bigquery"
)

// TransactionSource reads raw transaction rows.
type TransactionSource interface {
	QueryTransactions(ctx context.Context, table TableRef, columns []string) ([]map[string]bigquery.Value, error)
}

// RunRepository records reconciliation runs and their discrepancy rows.
type RunRepository interface {
	StartRun(ctx context.Context, runID, internalMode, gatewayMode string, started time.Time) error
	MarkRunSucceeded(ctx context.Context, runID string, stats RunStats) error
	MarkRunFailed(ctx context.Context, runID string, runErr error)
	InsertDiscrepancies(ctx context.Context, rows []*DiscrepancyRow) error
}

// Repository is the BigQuery-backed TransactionSource and RunRepository.
// It holds a shared client. The run methods are no-ops when their table is unset.
type Repository struct {
	client      *bigquery.Client
	runs        TableRef
	discrepancy TableRef
}

// Tables configures the tables a Repository writes to. Empty Table names
// disable that sink.
type Tables struct {
	Runs          TableRef
	Discrepancies TableRef
}

// NewRepository creates a Repository with a BigQuery client for projectID.
func NewRepository(ctx context.Context, projectID string, tables Tables) (*Repository, error) {
	client, err := bigquery.NewClient(ctx, projectID)
	if err != nil {
		return nil, fmt.Errorf("NewRepository: creating client: %w", err)
	}
	return &Repository{
		client:      client,
		runs:        tables.Runs,
		discrepancy: tables.Discrepancies,
	}, nil
}

// Close closes the BigQuery client connection.
func (r *Repository) Close() error {
	if r.client != nil {
		return r.client.Close()
	}
	return nil
}

// QueryTransactions delegates to QueryTransactionsWithClient.
func (r *Repository) QueryTransactions(ctx context.Context, table TableRef, columns []string) ([]map[string]bigquery.Value, error) {
	return QueryTransactionsWithClient(ctx, r.client, table, columns)
}

// StartRun delegates to StartRunWithClient.
func (r *Repository) StartRun(ctx context.Context, runID, internalMode, gatewayMode string, started time.Time) error {
	if r.runs.Table == "" {
		return nil
	}
	return StartRunWithClient(ctx, r.client, r.runs, NewRunRow(runID, internalMode, gatewayMode, started))
}

// MarkRunSucceeded delegates to MarkRunSucceededWithClient.
func (r *Repository) MarkRunSucceeded(ctx context.Context, runID string, stats RunStats) error {
	if r.runs.Table == "" {
		return nil
	}
	return MarkRunSucceededWithClient(ctx, r.client, r.runs, runID, stats)
}

// MarkRunFailed delegates to MarkRunFailedWithClient.
func (r *Repository) MarkRunFailed(ctx context.Context, runID string, runErr error) {
	if r.runs.Table == "" {
		return
	}
	MarkRunFailedWithClient(ctx, r.client, r.runs, runID, runErr)
}

// InsertDiscrepancies delegates to InsertDiscrepanciesWithClient.
func (r *Repository) InsertDiscrepancies(ctx context.Context, rows []*DiscrepancyRow) error {
	if r.discrepancy.Table == "" {
		return nil
	}
	return InsertDiscrepanciesWithClient(ctx, r.client, r.discrepancy, rows)
}

// EnsureTables creates the configured runs and discrepancy tables when they
// are missing and returns the names of the tables it created.
func (r *Repository) EnsureTables(ctx context.Context) ([]string, error) {
	targets := []struct {
		table     TableRef
		schema    func() (bigquery.Schema, error)
		partition string
	}{
		{r.runs, RunsSchema, "started_ts"},
		{r.discrepancy, DiscrepanciesSchema, "run_ts"},
	}

	var created []string
	for _, t := range targets {
		if t.table.Table == "" {
			continue
		}
		schema, err := t.schema()
		if err != nil {
			return created, fmt.Errorf("EnsureTables: inferring schema for %s: %w", t.table, err)
		}
		ok, err := EnsureTableWithClient(ctx, r.client, t.table, schema, t.partition)
		if err != nil {
			return created, fmt.Errorf("EnsureTables: %w", err)
		}
		if ok {
			created = append(created, t.table.String())
		}
	}
	return created, nil
}
