package source

import (
	"context"
	"sort"
	"strings"

	"github.com/dvloznov/ledger-recon/internal/domain"
	"github.com/dvloznov/ledger-recon/internal/logger"
)

// FieldMapping renames origin field names to the logical names the
// normalizer understands (tx_id, amount, status, currency, ...).
type FieldMapping map[string]string

// DefaultInternalMapping is the field mapping for internal records.
func DefaultInternalMapping() FieldMapping {
	return FieldMapping{
		"transaction_id": "tx_id",
		"amount_value":   "amount",
		"status":         "status",
		"currency_code":  "currency",
		"created_on":     "created_at",
	}
}

// DefaultGatewayMappings are the field mappings per payment provider.
func DefaultGatewayMappings() map[string]FieldMapping {
	return map[string]FieldMapping{
		ModePaystack: {
			"id":         "tx_id",
			"amount":     "amount",
			"status":     "status",
			"currency":   "currency",
			"created_at": "created_at",
		},
		ModeStripe: {
			"id":       "tx_id",
			"amount":   "amount",
			"status":   "status",
			"currency": "currency",
			"created":  "created_at",
		},
	}
}

// SourceFields returns the origin field names of the mapping in sorted order.
func (m FieldMapping) SourceFields() []string {
	fields := make([]string, 0, len(m))
	for k := range m {
		fields = append(fields, k)
	}
	sort.Strings(fields)
	return fields
}

// ApplyMapping returns copies of records with mapped fields renamed.
// Field names match case-insensitively; unmapped fields are kept and a mapped
// field wins over an unmapped one of the same target name. An empty mapping
// logs a warning and returns the records unchanged.
func ApplyMapping(ctx context.Context, records []domain.RawRecord, m FieldMapping, name string) []domain.RawRecord {
	if len(m) == 0 {
		log := logger.FromContext(ctx)
		log.Warn().Str("mapping", name).Msg("No field mapping found, using raw field names")
		return records
	}

	targets := make(map[string]string, len(m))
	for from, to := range m {
		targets[strings.ToLower(from)] = to
	}

	out := make([]domain.RawRecord, 0, len(records))
	for _, r := range records {
		mapped := make(domain.RawRecord, len(r))
		for k, v := range r {
			if _, renamed := targets[strings.ToLower(k)]; !renamed {
				mapped[k] = v
			}
		}
		for k, v := range r {
			if to, renamed := targets[strings.ToLower(k)]; renamed {
				mapped[to] = v
			}
		}
		out = append(out, mapped)
	}
	return out
}
