package enrich

import (
	"fmt"
	"strconv"

	"github.com/dvloznov/ledger-recon/internal/domain"
)

// ProbableReason explains in plain words why a record of this category usually occurs.
func ProbableReason(d domain.Discrepancy) string {
	switch d.Type {
	case domain.MissingInGateway:
		return "Internal record exists but not found in gateway. " +
			"Possible cause: failed API callback, unprocessed webhook, or gateway delay."
	case domain.MissingInInternal:
		return "Transaction found in gateway but missing internally. " +
			"Possible cause: failed DB write, timeout after payment success, or system crash."
	case domain.StatusMismatch:
		return fmt.Sprintf("Status differs (Internal: %s, Gateway: %s). ",
			orNA(d.StatusInternal()), orNA(d.StatusGateway())) +
			"Likely due to delayed webhook update or manual override."
	case domain.AmountMismatch:
		return fmt.Sprintf("Amounts differ (Internal: %s, Gateway: %s). ",
			formatAmount(d.AmountInternal()), formatAmount(d.AmountGateway())) +
			"Possible rounding error, currency conversion issue, or duplicate transaction."
	case domain.CurrencyMismatch:
		return "Currency inconsistency between systems. " +
			"Likely config error or wrong payment channel mapping."
	default:
		return "No issue detected."
	}
}

var suggestedActions = map[domain.DiscrepancyType]string{
	domain.MissingInGateway:  "Verify if gateway webhook/API callback was received; retry if necessary.",
	domain.MissingInInternal: "Re-fetch transaction data from gateway and reinsert into DB.",
	domain.StatusMismatch:    "Sync statuses by calling gateway verify endpoint.",
	domain.AmountMismatch:    "Escalate to finance for manual review.",
	domain.CurrencyMismatch:  "Check currency mapping and payment channel configuration.",
	domain.Matched:           "No action required.",
}

// SuggestedAction returns the remediation step operators should take for a category.
func SuggestedAction(t domain.DiscrepancyType) string {
	if action, ok := suggestedActions[t]; ok {
		return action
	}
	return suggestedActions[domain.Matched]
}

func formatAmount(a *float64) string {
	if a == nil {
		return "N/A"
	}
	return strconv.FormatFloat(*a, 'f', -1, 64)
}

func orNA(s string) string {
	if s == "" {
		return "N/A"
	}
	return s
}
