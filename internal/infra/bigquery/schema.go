package bigquery

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"cloud.google.com/go/bigquery"
	"github.com/dvloznov/ledger-recon/internal/logger"
	"google.golang.org/api/googleapi"
)

// RunsSchema is the schema of the runs table, inferred from RunRow.
func RunsSchema() (bigquery.Schema, error) {
	return bigquery.InferSchema(RunRow{})
}

// DiscrepanciesSchema is the schema of the discrepancy table, inferred from DiscrepancyRow.
func DiscrepanciesSchema() (bigquery.Schema, error) {
	return bigquery.InferSchema(DiscrepancyRow{})
}

// EnsureTableWithClient creates table unless it already exists. The table is
// day-partitioned on partitionField when one is given. It reports whether the
// table was created.
func EnsureTableWithClient(ctx context.Context, client *bigquery.Client, table TableRef, schema bigquery.Schema, partitionField string) (bool, error) {
	if err := table.Validate(); err != nil {
		return false, fmt.Errorf("EnsureTableWithClient: %w", err)
	}

	meta := &bigquery.TableMetadata{Schema: schema}
	if partitionField != "" {
		meta.TimePartitioning = &bigquery.TimePartitioning{
			Type:  bigquery.DayPartitioningType,
			Field: partitionField,
		}
	}

	log := logger.FromContext(ctx)

	err := client.DatasetInProject(table.Project, table.Dataset).Table(table.Table).Create(ctx, meta)
	if err != nil {
		if IsAlreadyExists(err) {
			log.Info().Str("table", table.String()).Msg("Table already exists")
			return false, nil
		}
		return false, fmt.Errorf("EnsureTableWithClient: creating %s: %w", table, err)
	}

	log.Info().Str("table", table.String()).Msg("Table created")
	return true, nil
}

// IsAlreadyExists reports whether err is BigQuery's 409 for an existing resource.
func IsAlreadyExists(err error) bool {
	var apiErr *googleapi.Error
	return errors.As(err, &apiErr) && apiErr.Code == http.StatusConflict
}
