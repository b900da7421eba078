package source

import (
	"bytes"
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/dvloznov/ledger-recon/internal/domain"
	"github.com/dvloznov/ledger-recon/internal/gcsuploader"
	"github.com/dvloznov/ledger-recon/internal/logger"
)

// CSVLoader reads a record set from a CSV file with a header row. The path
// may be local or a gs:// URI.
type CSVLoader struct {
	path    string
	mapping FieldMapping
	storage gcsuploader.StorageService
}

// NewCSVLoader creates a CSVLoader. mapping may be nil; storage is only
// needed for gs:// paths.
func NewCSVLoader(path string, mapping FieldMapping, storage gcsuploader.StorageService) *CSVLoader {
	return &CSVLoader{path: path, mapping: mapping, storage: storage}
}

// Load reads and parses the file.
func (l *CSVLoader) Load(ctx context.Context) ([]domain.RawRecord, error) {
	log := logger.FromContext(ctx)
	log.Info().Str("path", l.path).Msg("Loading records from CSV")

	data, err := l.read(ctx)
	if err != nil {
		return nil, err
	}

	records, err := ParseCSV(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("CSVLoader.Load: parsing %s: %w", l.path, err)
	}

	if l.mapping != nil {
		records = ApplyMapping(ctx, records, l.mapping, "csv")
	}

	log.Info().Str("path", l.path).Int("records", len(records)).Msg("Loaded records from CSV")
	return records, nil
}

func (l *CSVLoader) read(ctx context.Context) ([]byte, error) {
	if gcsuploader.IsGCSURI(l.path) {
		if l.storage == nil {
			return nil, fmt.Errorf("CSVLoader.Load: no storage service for %s", l.path)
		}
		data, err := l.storage.FetchFromGCS(ctx, l.path)
		if err != nil {
			return nil, fmt.Errorf("CSVLoader.Load: %w", err)
		}
		log := logger.FromContext(ctx)
		log.Debug().
			Str("file", gcsuploader.ExtractFilenameFromGCSURI(l.path)).
			Int("bytes", len(data)).
			Msg("Fetched CSV from GCS")
		return data, nil
	}

	data, err := os.ReadFile(l.path)
	if err != nil {
		return nil, fmt.Errorf("CSVLoader.Load: reading %s: %w", l.path, err)
	}
	return data, nil
}

// ParseCSV reads a header row followed by data rows. Empty cells are absent
// values (nil); every other cell stays a string.
func ParseCSV(r io.Reader) ([]domain.RawRecord, error) {
	cr := csv.NewReader(r)
	cr.TrimLeadingSpace = true

	header, err := cr.Read()
	if err == io.EOF {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading header: %w", err)
	}
	if len(header) > 0 {
		header[0] = strings.TrimPrefix(header[0], "\ufeff")
	}
	for i := range header {
		header[i] = strings.TrimSpace(header[i])
	}

	var records []domain.RawRecord
	for line := 2; ; line++ {
		row, err := cr.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}

		rec := make(domain.RawRecord, len(header))
		for i, name := range header {
			if name == "" {
				continue
			}
			if i >= len(row) || strings.TrimSpace(row[i]) == "" {
				rec[name] = nil
				continue
			}
			rec[name] = row[i]
		}
		records = append(records, rec)
	}

	return records, nil
}
