package bigquery

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"cloud.google.com/go/bigquery"
	"google.golang.org/api/iterator"
)

var columnPattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// BuildTransactionsQuery returns the SELECT used to read a transaction table.
// An empty column list selects every column.
func BuildTransactionsQuery(table TableRef, columns []string) (string, error) {
	if err := table.Validate(); err != nil {
		return "", err
	}

	sel := "*"
	if len(columns) > 0 {
		quoted := make([]string, 0, len(columns))
		for _, c := range columns {
			if !columnPattern.MatchString(c) {
				return "", fmt.Errorf("invalid column name %q", c)
			}
			quoted = append(quoted, "`"+c+"`")
		}
		sel = strings.Join(quoted, ", ")
	}

	return fmt.Sprintf("SELECT %s FROM %s", sel, table), nil
}

// QueryTransactionsWithClient reads every row of a transaction table as
// column -> value maps.
func QueryTransactionsWithClient(ctx context.Context, client *bigquery.Client, table TableRef, columns []string) ([]map[string]bigquery.Value, error) {
	sql, err := BuildTransactionsQuery(table, columns)
	if err != nil {
		return nil, fmt.Errorf("QueryTransactions: %w", err)
	}

	it, err := client.Query(sql).Read(ctx)
	if err != nil {
		return nil, fmt.Errorf("QueryTransactions: query read: %w", err)
	}

	var rows []map[string]bigquery.Value
	for {
		row := make(map[string]bigquery.Value)
		err := it.Next(&row)
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("QueryTransactions: iter next: %w", err)
		}
		rows = append(rows, row)
	}

	return rows, nil
}
