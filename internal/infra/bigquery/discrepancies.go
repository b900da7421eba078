package bigquery

import (
	"context"
	"fmt"
	"time"

	"cloud.google.com/go/bigquery"
	"cloud.google.com/go/civil"
	"github.com/dvloznov/ledger-recon/internal/domain"
)

// insertBatchSize bounds the rows sent per streaming insert request.
const insertBatchSize = 500

// DiscrepancyRow is one classified record in the discrepancy table.
type DiscrepancyRow struct {
	RunID   string     `bigquery:"run_id"`   // REQUIRED
	RunTS   time.Time  `bigquery:"run_ts"`   // REQUIRED
	RunDate civil.Date `bigquery:"run_date"` // REQUIRED
	TxID    string     `bigquery:"tx_id"`    // REQUIRED

	DiscrepancyType string `bigquery:"discrepancy_type"` // REQUIRED

	AmountInternal   bigquery.NullFloat64 `bigquery:"amount_internal"`
	AmountGateway    bigquery.NullFloat64 `bigquery:"amount_gateway"`
	StatusInternal   bigquery.NullString  `bigquery:"status_internal"`
	StatusGateway    bigquery.NullString  `bigquery:"status_gateway"`
	CurrencyInternal bigquery.NullString  `bigquery:"currency_internal"`
	CurrencyGateway  bigquery.NullString  `bigquery:"currency_gateway"`

	ProbableReason  string `bigquery:"probable_reason"`
	SuggestedAction string `bigquery:"suggested_action"`
	AIExplanation   string `bigquery:"ai_explanation"`
}

// NewDiscrepancyRows maps a run's records to table rows.
func NewDiscrepancyRows(runID string, runTS time.Time, records []domain.Discrepancy) []*DiscrepancyRow {
	rows := make([]*DiscrepancyRow, 0, len(records))
	for _, d := range records {
		row := &DiscrepancyRow{
			RunID:           runID,
			RunTS:           runTS,
			RunDate:         civil.DateOf(runTS),
			TxID:            d.TxID,
			DiscrepancyType: string(d.Type),
			ProbableReason:  d.ProbableReason,
			SuggestedAction: d.SuggestedAction,
			AIExplanation:   d.AIExplanation,
		}
		if d.Internal != nil {
			row.AmountInternal = nullFloat(d.Internal.Amount)
			row.StatusInternal = nullString(d.Internal.Status)
			row.CurrencyInternal = nullString(d.Internal.Currency)
		}
		if d.Gateway != nil {
			row.AmountGateway = nullFloat(d.Gateway.Amount)
			row.StatusGateway = nullString(d.Gateway.Status)
			row.CurrencyGateway = nullString(d.Gateway.Currency)
		}
		rows = append(rows, row)
	}
	return rows
}

func nullFloat(f *float64) bigquery.NullFloat64 {
	if f == nil {
		return bigquery.NullFloat64{}
	}
	return bigquery.NullFloat64{Float64: *f, Valid: true}
}

func nullString(s *string) bigquery.NullString {
	if s == nil {
		return bigquery.NullString{}
	}
	return bigquery.NullString{StringVal: *s, Valid: true}
}

// InsertDiscrepanciesWithClient streams rows into the discrepancy table.
func InsertDiscrepanciesWithClient(ctx context.Context, client *bigquery.Client, table TableRef, rows []*DiscrepancyRow) error {
	if len(rows) == 0 {
		return nil
	}
	if err := table.Validate(); err != nil {
		return fmt.Errorf("InsertDiscrepancies: %w", err)
	}

	inserter := client.DatasetInProject(table.Project, table.Dataset).Table(table.Table).Inserter()
	for start := 0; start < len(rows); start += insertBatchSize {
		end := start + insertBatchSize
		if end > len(rows) {
			end = len(rows)
		}
		if err := inserter.Put(ctx, rows[start:end]); err != nil {
			return fmt.Errorf("InsertDiscrepancies: inserting rows %d-%d: %w", start, end-1, err)
		}
	}

	return nil
}
