package report

import (
	"sort"

	"github.com/dvloznov/ledger-recon/internal/domain"
)

// Column name suffixes for the two sides of a joined record.
const (
	SuffixInternal = "_internal"
	SuffixGateway  = "_gateway"
)

var coreFields = []string{"amount", "currency", "status", "source"}

var enrichmentColumns = []string{"discrepancy_type", "probable_reason", "suggested_action", "ai_explanation"}

// Row is one flattened discrepancy record: column name -> value.
// A nil value means the field is absent for that record.
type Row map[string]interface{}

// Columns returns the report header: the union of every field across records,
// in a fixed order (tx_id, internal side, gateway side, enrichment).
func Columns(records []domain.Discrepancy) []string {
	internalExtra := make(map[string]struct{})
	gatewayExtra := make(map[string]struct{})
	for _, r := range records {
		collectExtra(internalExtra, r.Internal)
		collectExtra(gatewayExtra, r.Gateway)
	}

	cols := []string{"tx_id"}
	cols = append(cols, sideColumns(SuffixInternal, internalExtra)...)
	cols = append(cols, sideColumns(SuffixGateway, gatewayExtra)...)
	cols = append(cols, enrichmentColumns...)
	return cols
}

func collectExtra(into map[string]struct{}, rec *domain.Record) {
	if rec == nil {
		return
	}
	for k := range rec.Extra {
		if isCoreField(k) || k == "tx_id" {
			continue
		}
		into[k] = struct{}{}
	}
}

func sideColumns(suffix string, extra map[string]struct{}) []string {
	names := make([]string, 0, len(extra))
	for k := range extra {
		names = append(names, k)
	}
	sort.Strings(names)

	cols := make([]string, 0, len(coreFields)+len(names))
	for _, f := range coreFields {
		cols = append(cols, f+suffix)
	}
	for _, f := range names {
		cols = append(cols, f+suffix)
	}
	return cols
}

func isCoreField(name string) bool {
	for _, f := range coreFields {
		if f == name {
			return true
		}
	}
	return false
}

// Flatten turns a discrepancy record into a Row keyed by report column.
func Flatten(d domain.Discrepancy) Row {
	row := Row{
		"tx_id":            d.TxID,
		"discrepancy_type": string(d.Type),
		"probable_reason":  d.ProbableReason,
		"suggested_action": d.SuggestedAction,
		"ai_explanation":   d.AIExplanation,
	}
	flattenSide(row, SuffixInternal, d.Internal)
	flattenSide(row, SuffixGateway, d.Gateway)
	return row
}

func flattenSide(row Row, suffix string, rec *domain.Record) {
	if rec == nil {
		return
	}
	for k, v := range rec.Extra {
		if isCoreField(k) || k == "tx_id" {
			continue
		}
		row[k+suffix] = v
	}
	if rec.Amount != nil {
		row["amount"+suffix] = *rec.Amount
	}
	if rec.Currency != nil {
		row["currency"+suffix] = *rec.Currency
	}
	if rec.Status != nil {
		row["status"+suffix] = *rec.Status
	}
	row["source"+suffix] = string(rec.Source)
}
