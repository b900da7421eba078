package recon

import (
	"fmt"
	"strings"
)

// DataErrorKind classifies a problem with an input row.
type DataErrorKind string

const (
	MalformedAmount DataErrorKind = "malformed_amount"
	DuplicateTxID   DataErrorKind = "duplicate_tx_id"
	MissingTxID     DataErrorKind = "missing_tx_id"
)

// DataError describes one rejected input row.
type DataError struct {
	Kind   DataErrorKind
	Source string
	Row    int // 0-based position in the source's record set
	TxID   string
	Detail string
}

func (e *DataError) Error() string {
	msg := fmt.Sprintf("%s: row %d: %s", e.Source, e.Row, e.Kind)
	if e.TxID != "" {
		msg += fmt.Sprintf(" (tx_id %q)", e.TxID)
	}
	if e.Detail != "" {
		msg += ": " + e.Detail
	}
	return msg
}

// DataErrors is every data error found in one normalization pass.
type DataErrors []*DataError

func (errs DataErrors) Error() string {
	if len(errs) == 1 {
		return errs[0].Error()
	}
	parts := make([]string, 0, len(errs))
	for _, e := range errs {
		parts = append(parts, e.Error())
	}
	return fmt.Sprintf("%d data errors: %s", len(errs), strings.Join(parts, "; "))
}

// Policy decides what happens to rows with data errors.
type Policy string

const (
	// PolicyStrict rejects the whole record set when any row is bad.
	PolicyStrict Policy = "strict"
	// PolicyLenient drops bad rows with a warning and keeps the rest.
	PolicyLenient Policy = "lenient"
)

// ParsePolicy maps a config string to a Policy. Empty means strict.
func ParsePolicy(s string) (Policy, error) {
	switch Policy(strings.ToLower(strings.TrimSpace(s))) {
	case "", PolicyStrict:
		return PolicyStrict, nil
	case PolicyLenient:
		return PolicyLenient, nil
	default:
		return "", fmt.Errorf("ParsePolicy: unknown data error policy %q", s)
	}
}
