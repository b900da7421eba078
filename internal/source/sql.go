package source

import (
	"context"
	"fmt"
	"strings"

	"github.com/dvloznov/ledger-recon/internal/domain"
	"github.com/dvloznov/ledger-recon/internal/logger"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
)

// DefaultSQLTable is the table read when none is configured.
const DefaultSQLTable = "transactions"

// SQLLoader reads internal records from a PostgreSQL table, selecting only
// the columns named by the mapping.
type SQLLoader struct {
	dsn     string
	table   string
	mapping FieldMapping
}

// NewSQLLoader creates a SQLLoader.
func NewSQLLoader(dsn, table string, mapping FieldMapping) *SQLLoader {
	if table == "" {
		table = DefaultSQLTable
	}
	return &SQLLoader{dsn: dsn, table: table, mapping: mapping}
}

// SelectQuery builds the SELECT for table with quoted identifiers.
// A schema-qualified table ("ledger.transactions") is quoted part by part.
func SelectQuery(table string, columns []string) string {
	sel := "*"
	if len(columns) > 0 {
		quoted := make([]string, 0, len(columns))
		for _, c := range columns {
			quoted = append(quoted, pq.QuoteIdentifier(c))
		}
		sel = strings.Join(quoted, ", ")
	}

	parts := strings.Split(table, ".")
	for i, p := range parts {
		parts[i] = pq.QuoteIdentifier(p)
	}

	return fmt.Sprintf("SELECT %s FROM %s", sel, strings.Join(parts, "."))
}

// Load connects, runs the query and closes the connection.
func (l *SQLLoader) Load(ctx context.Context) ([]domain.RawRecord, error) {
	log := logger.FromContext(ctx)
	log.Info().Str("table", l.table).Msg("Loading records from SQL database")

	db, err := sqlx.ConnectContext(ctx, "postgres", l.dsn)
	if err != nil {
		return nil, fmt.Errorf("SQLLoader.Load: connect: %w", err)
	}
	defer db.Close()

	records, err := queryRecords(ctx, db, SelectQuery(l.table, l.mapping.SourceFields()))
	if err != nil {
		return nil, fmt.Errorf("SQLLoader.Load: %w", err)
	}

	records = ApplyMapping(ctx, records, l.mapping, "internal")
	log.Info().Int("records", len(records)).Msg("Loaded records from SQL database")
	return records, nil
}

func queryRecords(ctx context.Context, db *sqlx.DB, query string) ([]domain.RawRecord, error) {
	rows, err := db.QueryxContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("query: %w", err)
	}
	defer rows.Close()

	var records []domain.RawRecord
	for rows.Next() {
		row := make(map[string]interface{})
		if err := rows.MapScan(row); err != nil {
			return nil, fmt.Errorf("scanning row: %w", err)
		}
		// lib/pq returns NUMERIC and text columns as []byte.
		for k, v := range row {
			if b, ok := v.([]byte); ok {
				row[k] = string(b)
			}
		}
		records = append(records, domain.RawRecord(row))
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating rows: %w", err)
	}

	return records, nil
}
