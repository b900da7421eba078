package source

import (
	"context"
	"fmt"

	"github.com/dvloznov/ledger-recon/internal/domain"
	infra "github.com/dvloznov/ledger-recon/internal/infra/bigquery"
	"github.com/dvloznov/ledger-recon/internal/logger"
)

// BigQueryLoader reads internal records from a BigQuery table.
type BigQueryLoader struct {
	repo    infra.TransactionSource
	table   infra.TableRef
	mapping FieldMapping
}

// NewBigQueryLoader creates a BigQueryLoader.
func NewBigQueryLoader(repo infra.TransactionSource, table infra.TableRef, mapping FieldMapping) *BigQueryLoader {
	return &BigQueryLoader{repo: repo, table: table, mapping: mapping}
}

// Load queries the mapped columns of the table.
func (l *BigQueryLoader) Load(ctx context.Context) ([]domain.RawRecord, error) {
	log := logger.FromContext(ctx)
	log.Info().Str("table", l.table.String()).Msg("Loading records from BigQuery")

	rows, err := l.repo.QueryTransactions(ctx, l.table, l.mapping.SourceFields())
	if err != nil {
		return nil, fmt.Errorf("BigQueryLoader.Load: %w", err)
	}

	records := make([]domain.RawRecord, 0, len(rows))
	for _, row := range rows {
		rec := make(domain.RawRecord, len(row))
		for k, v := range row {
			rec[k] = v
		}
		records = append(records, rec)
	}

	records = ApplyMapping(ctx, records, l.mapping, "internal")
	log.Info().Int("records", len(records)).Msg("Loaded records from BigQuery")
	return records, nil
}
