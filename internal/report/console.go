package report

import (
	"fmt"
	"io"
	"strings"

	"github.com/dvloznov/ledger-recon/internal/domain"
)

var rule = strings.Repeat("-", 90)

// PrintRecords writes one block per record: identifier, both statuses,
// category, reason, action and AI note.
func PrintRecords(w io.Writer, records []domain.Discrepancy) {
	fmt.Fprintln(w, "\n=== RECONCILIATION SUMMARY ===")
	for _, r := range records {
		fmt.Fprintf(w, "\nTransaction ID: %s\n", r.TxID)
		fmt.Fprintf(w, "  Internal Status: %s\n", orNone(r.StatusInternal()))
		fmt.Fprintf(w, "  Gateway Status:  %s\n", orNone(r.StatusGateway()))
		fmt.Fprintf(w, "  Discrepancy: %s\n", r.Type)
		fmt.Fprintf(w, "  Reason: %s\n", r.ProbableReason)
		fmt.Fprintf(w, "  Action: %s\n", r.SuggestedAction)
		fmt.Fprintf(w, "  AI Note: %s\n", r.AIExplanation)
		fmt.Fprintln(w, rule)
	}
	fmt.Fprintln(w, "\nReport generation complete.")
}

func orNone(s string) string {
	if s == "" {
		return "None"
	}
	return s
}

// Summary is the run-level tally shown at the end of a run.
type Summary struct {
	Total      int
	Mismatches int
	ByType     map[domain.DiscrepancyType]int
	Location   string
}

// Summarize counts records per category.
func Summarize(records []domain.Discrepancy, location string) Summary {
	byType := domain.CountByType(records)
	return Summary{
		Total:      len(records),
		Mismatches: len(records) - byType[domain.Matched],
		ByType:     byType,
		Location:   location,
	}
}

// Print writes the summary. Categories are listed in classification order and
// only when non-zero.
func (s Summary) Print(w io.Writer) {
	fmt.Fprintln(w, "\n=== FINTECH RECONCILIATION SUMMARY ===")
	fmt.Fprintf(w, "Total Checked: %d\n", s.Total)
	fmt.Fprintf(w, "Mismatches Found: %d\n", s.Mismatches)
	for _, t := range domain.DiscrepancyTypes {
		if n := s.ByType[t]; n > 0 {
			fmt.Fprintf(w, " - %s: %d\n", t, n)
		}
	}
	if s.Location != "" {
		fmt.Fprintf(w, "\nReport saved in %s\n", s.Location)
	}
}
