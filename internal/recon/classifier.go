package recon

import "github.com/dvloznov/ledger-recon/internal/domain"

// Classify assigns exactly one category to a joined record. Existence
// problems win over amount, then status, then currency disagreements.
func Classify(j domain.JoinedRecord) domain.DiscrepancyType {
	switch {
	case j.Gateway == nil:
		return domain.MissingInGateway
	case j.Internal == nil:
		return domain.MissingInInternal
	case !equalAmount(j.Internal.Amount, j.Gateway.Amount):
		return domain.AmountMismatch
	case !equalString(j.Internal.Status, j.Gateway.Status):
		return domain.StatusMismatch
	case !equalString(j.Internal.Currency, j.Gateway.Currency):
		return domain.CurrencyMismatch
	default:
		return domain.Matched
	}
}

// Two absent values are equal; an absent value never equals a present one.
func equalAmount(a, b *float64) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return *a == *b
}

func equalString(a, b *string) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return *a == *b
}
