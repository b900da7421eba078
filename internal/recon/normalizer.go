package recon

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"

	"github.com/dvloznov/ledger-recon/internal/domain"
	"github.com/dvloznov/ledger-recon/internal/logger"
)

// Identifier fields, in precedence order. The first one present becomes tx_id;
// any others stay in Extra under their own names.
var idFields = []string{"tx_id", "reference", "id"}

// floater is satisfied by decimal.Decimal and *big.Rat.
type floater interface {
	Float64() (float64, bool)
}

// Normalize canonicalizes one source's record set and applies the data-error
// policy. Under PolicyStrict any bad row makes it return DataErrors and no
// records; under PolicyLenient bad rows are dropped and logged.
func Normalize(ctx context.Context, raw []domain.RawRecord, source domain.Source, policy Policy) ([]domain.Record, error) {
	log := logger.FromContext(ctx)

	var errs DataErrors
	records := make([]domain.Record, 0, len(raw))
	rows := make([]int, 0, len(raw))

	for i, r := range raw {
		rec, err := NormalizeRecord(r, source)
		if err != nil {
			err.Row = i
			errs = append(errs, err)
			continue
		}
		records = append(records, rec)
		rows = append(rows, i)
	}

	// Duplicate keys would fan out in the join, so every row carrying one is rejected.
	firstRow := make(map[string]int, len(records))
	dupKeys := make(map[string]bool)
	for j, rec := range records {
		if first, seen := firstRow[rec.TxID]; seen {
			dupKeys[rec.TxID] = true
			errs = append(errs, &DataError{
				Kind:   DuplicateTxID,
				Source: string(source),
				Row:    rows[j],
				TxID:   rec.TxID,
				Detail: fmt.Sprintf("first seen at row %d", first),
			})
			continue
		}
		firstRow[rec.TxID] = rows[j]
	}

	if len(errs) == 0 {
		return records, nil
	}

	if policy != PolicyLenient {
		sort.SliceStable(errs, func(a, b int) bool { return errs[a].Row < errs[b].Row })
		return nil, errs
	}

	for _, e := range errs {
		log.Warn().
			Str("source", e.Source).
			Int("row", e.Row).
			Str("tx_id", e.TxID).
			Str("kind", string(e.Kind)).
			Msg("Dropping row with data error")
	}

	kept := records[:0]
	for _, rec := range records {
		if dupKeys[rec.TxID] {
			continue
		}
		kept = append(kept, rec)
	}
	return kept, nil
}

// NormalizeRecord canonicalizes a single row: lower-cased field names, a
// string tx_id, a float64 amount, a lower-cased status and the source tag.
// The returned DataError has Row unset; callers fill it in.
func NormalizeRecord(raw domain.RawRecord, source domain.Source) (domain.Record, *DataError) {
	fields := lowerKeys(raw)
	delete(fields, "source")

	rec := domain.Record{Source: source}

	for _, name := range idFields {
		v, ok := fields[name]
		if !ok {
			continue
		}
		delete(fields, name)
		if id := stringify(v); id != "" {
			rec.TxID = id
			break
		}
	}
	if rec.TxID == "" {
		return domain.Record{}, &DataError{Kind: MissingTxID, Source: string(source), Detail: "no tx_id, reference or id value"}
	}

	if v, ok := fields["amount"]; ok {
		delete(fields, "amount")
		amount, present, err := toFloat(v)
		if err != nil {
			return domain.Record{}, &DataError{Kind: MalformedAmount, Source: string(source), TxID: rec.TxID, Detail: err.Error()}
		}
		if present {
			rec.Amount = &amount
		}
	}

	if v, ok := fields["status"]; ok {
		delete(fields, "status")
		if s := stringify(v); s != "" {
			s = strings.ToLower(s)
			rec.Status = &s
		}
	}

	if v, ok := fields["currency"]; ok {
		delete(fields, "currency")
		if s := stringify(v); s != "" {
			rec.Currency = &s
		}
	}

	if len(fields) > 0 {
		rec.Extra = fields
	}
	return rec, nil
}

// lowerKeys copies raw with lower-cased keys. When two keys fold to the same
// name, the one already in lower case wins; otherwise the lexically last original key.
func lowerKeys(raw domain.RawRecord) map[string]interface{} {
	keys := make([]string, 0, len(raw))
	for k := range raw {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	out := make(map[string]interface{}, len(raw))
	exact := make(map[string]bool, len(raw))
	for _, k := range keys {
		lk := strings.ToLower(k)
		if exact[lk] {
			continue
		}
		out[lk] = raw[k]
		if lk == k {
			exact[lk] = true
		}
	}
	return out
}

// stringify renders identifier-like values as trimmed strings; nil yields "".
func stringify(v interface{}) string {
	switch val := v.(type) {
	case nil:
		return ""
	case string:
		return strings.TrimSpace(val)
	case []byte:
		return strings.TrimSpace(string(val))
	case float64:
		return strconv.FormatFloat(val, 'f', -1, 64)
	case float32:
		return strconv.FormatFloat(float64(val), 'f', -1, 32)
	case int:
		return strconv.Itoa(val)
	case int32:
		return strconv.FormatInt(int64(val), 10)
	case int64:
		return strconv.FormatInt(val, 10)
	case json.Number:
		return val.String()
	case fmt.Stringer:
		return strings.TrimSpace(val.String())
	default:
		return strings.TrimSpace(fmt.Sprint(val))
	}
}

// toFloat coerces an amount value. present is false for nil, empty and NaN values.
func toFloat(v interface{}) (amount float64, present bool, err error) {
	var f float64
	switch val := v.(type) {
	case nil:
		return 0, false, nil
	case float64:
		f = val
	case float32:
		f = float64(val)
	case int:
		f = float64(val)
	case int32:
		f = float64(val)
	case int64:
		f = float64(val)
	case json.Number:
		f, err = val.Float64()
	case string:
		return parseAmount(val)
	case []byte:
		return parseAmount(string(val))
	case floater:
		f, _ = val.Float64()
	case fmt.Stringer:
		return parseAmount(val.String())
	default:
		return 0, false, fmt.Errorf("amount has type %T, want number", v)
	}
	if err != nil {
		return 0, false, fmt.Errorf("amount %v is not numeric: %w", v, err)
	}
	if math.IsNaN(f) {
		return 0, false, nil
	}
	return f, true, nil
}

func parseAmount(s string) (float64, bool, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, false, nil
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, false, fmt.Errorf("amount %q is not numeric", s)
	}
	if math.IsNaN(f) {
		return 0, false, nil
	}
	return f, true, nil
}
