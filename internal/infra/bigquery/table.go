package bigquery

import (
	"fmt"
	"regexp"
)

var identPattern = regexp.MustCompile(`^[A-Za-z0-9_-]+$`)

// TableRef names a BigQuery table.
type TableRef struct {
	Project string
	Dataset string
	Table   string
}

// Validate checks that every part is set and safe to interpolate into SQL.
func (t TableRef) Validate() error {
	for name, v := range map[string]string{"project": t.Project, "dataset": t.Dataset, "table": t.Table} {
		if v == "" {
			return fmt.Errorf("table ref: empty %s", name)
		}
		if !identPattern.MatchString(v) {
			return fmt.Errorf("table ref: invalid %s %q", name, v)
		}
	}
	return nil
}

// String returns the backquoted fully qualified table name.
func (t TableRef) String() string {
	return fmt.Sprintf("`%s.%s.%s`", t.Project, t.Dataset, t.Table)
}
