package report

import (
	"bytes"
	"context"
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/dvloznov/ledger-recon/internal/domain"
	"github.com/dvloznov/ledger-recon/internal/logger"
)

// TimestampLayout is the minute-granularity run timestamp used in artifact names.
const TimestampLayout = "2006-01-02_1504"

// DefaultDir is the report directory used when none is configured.
const DefaultDir = "reports"

const filePrefix = "reconciliation_report_"

// RunTimestamp formats t as a run timestamp token.
func RunTimestamp(t time.Time) string {
	return t.Format(TimestampLayout)
}

// Artifacts lists the files written for one run. A path is empty when that
// artifact could not be written.
type Artifacts struct {
	Timestamp string
	CSVPath   string
	JSONPath  string
}

// Writer persists a run's records as CSV and JSON under one directory.
type Writer struct {
	dir string
}

// NewWriter creates a Writer rooted at dir (DefaultDir when empty).
func NewWriter(dir string) *Writer {
	if dir == "" {
		dir = DefaultDir
	}
	return &Writer{dir: dir}
}

// Dir returns the output directory.
func (w *Writer) Dir() string {
	return w.dir
}

// CSVPath returns the tabular artifact path for a run timestamp.
func (w *Writer) CSVPath(ts string) string {
	return filepath.Join(w.dir, filePrefix+ts+".csv")
}

// JSONPath returns the structured artifact path for a run timestamp.
func (w *Writer) JSONPath(ts string) string {
	return filepath.Join(w.dir, filePrefix+ts+".json")
}

// Write creates the output directory if needed and writes both artifacts.
// The writes are independent: a failure of one does not prevent the other,
// and the returned Artifacts only name files that were written.
func (w *Writer) Write(ctx context.Context, records []domain.Discrepancy, ts string) (Artifacts, error) {
	log := logger.FromContext(ctx)
	out := Artifacts{Timestamp: ts}

	if err := os.MkdirAll(w.dir, 0o755); err != nil {
		return out, fmt.Errorf("Write: creating report dir %s: %w", w.dir, err)
	}

	cols := Columns(records)
	rows := make([]Row, 0, len(records))
	for _, r := range records {
		rows = append(rows, Flatten(r))
	}

	var errs []error

	csvPath := w.CSVPath(ts)
	if err := writeCSV(csvPath, cols, rows); err != nil {
		errs = append(errs, fmt.Errorf("Write: csv report: %w", err))
	} else {
		out.CSVPath = csvPath
		log.Info().Str("path", csvPath).Int("rows", len(rows)).Msg("CSV report saved")
	}

	jsonPath := w.JSONPath(ts)
	if err := writeJSON(jsonPath, cols, rows); err != nil {
		errs = append(errs, fmt.Errorf("Write: json report: %w", err))
	} else {
		out.JSONPath = jsonPath
		log.Info().Str("path", jsonPath).Int("rows", len(rows)).Msg("JSON report saved")
	}

	return out, errors.Join(errs...)
}

func writeCSV(path string, cols []string, rows []Row) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}

	cw := csv.NewWriter(f)
	if err := cw.Write(cols); err != nil {
		f.Close()
		return err
	}

	record := make([]string, len(cols))
	for _, row := range rows {
		for i, c := range cols {
			record[i] = cell(row[c])
		}
		if err := cw.Write(record); err != nil {
			f.Close()
			return err
		}
	}

	cw.Flush()
	if err := cw.Error(); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

// cell renders a value for the CSV artifact; absent values are empty.
func cell(v interface{}) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case float64:
		if math.IsNaN(t) {
			return ""
		}
		return strconv.FormatFloat(t, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(t)
	case time.Time:
		return t.Format(time.RFC3339)
	case fmt.Stringer:
		return t.String()
	default:
		return fmt.Sprint(t)
	}
}

// orderedRow marshals a Row as a JSON object with keys in column order.
// Every column is present; absent values become null.
type orderedRow struct {
	cols []string
	row  Row
}

func (o orderedRow) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, c := range o.cols {
		if i > 0 {
			buf.WriteByte(',')
		}
		key, err := marshalNoEscape(c)
		if err != nil {
			return nil, err
		}
		buf.Write(key)
		buf.WriteByte(':')

		val, err := marshalNoEscape(jsonValue(o.row[c]))
		if err != nil {
			return nil, fmt.Errorf("column %s: %w", c, err)
		}
		buf.Write(val)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

func jsonValue(v interface{}) interface{} {
	if f, ok := v.(float64); ok && (math.IsNaN(f) || math.IsInf(f, 0)) {
		return nil
	}
	return v
}

func marshalNoEscape(v interface{}) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return nil, err
	}
	return bytes.TrimRight(buf.Bytes(), "\n"), nil
}

func writeJSON(path string, cols []string, rows []Row) error {
	objs := make([]orderedRow, 0, len(rows))
	for _, r := range rows {
		objs = append(objs, orderedRow{cols: cols, row: r})
	}

	f, err := os.Create(path)
	if err != nil {
		return err
	}

	enc := json.NewEncoder(f)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "    ")
	if err := enc.Encode(objs); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}
