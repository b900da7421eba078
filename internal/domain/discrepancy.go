package domain

// DiscrepancyType is the single category assigned to a joined record.
type DiscrepancyType string

const (
	Matched           DiscrepancyType = "matched"
	MissingInGateway  DiscrepancyType = "missing_in_gateway"
	MissingInInternal DiscrepancyType = "missing_in_internal"
	AmountMismatch    DiscrepancyType = "amount_mismatch"
	StatusMismatch    DiscrepancyType = "status_mismatch"
	CurrencyMismatch  DiscrepancyType = "currency_mismatch"
)

// DiscrepancyTypes lists every category in classification precedence order,
// followed by matched.
var DiscrepancyTypes = []DiscrepancyType{
	MissingInGateway,
	MissingInInternal,
	AmountMismatch,
	StatusMismatch,
	CurrencyMismatch,
	Matched,
}

// Discrepancy is a classified joined record plus its enrichment.
// It is the unit written to the report and handed to the notifier.
type Discrepancy struct {
	JoinedRecord

	Type            DiscrepancyType
	ProbableReason  string
	SuggestedAction string
	AIExplanation   string
}

// IsDiscrepancy reports whether the record needs attention (anything but matched).
func (d Discrepancy) IsDiscrepancy() bool {
	return d.Type != Matched
}

// StatusInternal returns the internal status, or "" when absent.
func (d Discrepancy) StatusInternal() string {
	return statusOf(d.Internal)
}

// StatusGateway returns the gateway status, or "" when absent.
func (d Discrepancy) StatusGateway() string {
	return statusOf(d.Gateway)
}

// AmountInternal returns the internal amount, or nil when absent.
func (d Discrepancy) AmountInternal() *float64 {
	if d.Internal == nil {
		return nil
	}
	return d.Internal.Amount
}

// AmountGateway returns the gateway amount, or nil when absent.
func (d Discrepancy) AmountGateway() *float64 {
	if d.Gateway == nil {
		return nil
	}
	return d.Gateway.Amount
}

func statusOf(r *Record) string {
	if r == nil || r.Status == nil {
		return ""
	}
	return *r.Status
}

// CountByType tallies records per category.
func CountByType(records []Discrepancy) map[DiscrepancyType]int {
	counts := make(map[DiscrepancyType]int)
	for _, r := range records {
		counts[r.Type]++
	}
	return counts
}

// Discrepancies returns only the records whose category is not matched,
// preserving order.
func Discrepancies(records []Discrepancy) []Discrepancy {
	var out []Discrepancy
	for _, r := range records {
		if r.IsDiscrepancy() {
			out = append(out, r)
		}
	}
	return out
}
