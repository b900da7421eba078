package notify

import (
	"fmt"
	"strings"
	"time"

	"cloud.google.com/go/civil"
	"github.com/dvloznov/ledger-recon/internal/domain"
)

// Item is the per-discrepancy detail carried by an alert.
type Item struct {
	TxID           string
	Type           domain.DiscrepancyType
	StatusInternal string
	StatusGateway  string
	Reason         string
	Action         string
}

// Alert is the fully formed payload handed to a sender.
type Alert struct {
	Count     int
	Date      string
	Items     []Item
	ReportRef string
	Text      string
}

// Title is the headline shared by every sender.
func (a *Alert) Title() string {
	return fmt.Sprintf("Fintech Reconciliation Report (%s)", a.Date)
}

// BuildAlert decides whether the run warrants an alert and builds its payload.
// It returns false when no record has a category other than matched.
func BuildAlert(records []domain.Discrepancy, runDate time.Time, reportRef string) (*Alert, bool) {
	discrepancies := domain.Discrepancies(records)
	if len(discrepancies) == 0 {
		return nil, false
	}

	items := make([]Item, 0, len(discrepancies))
	for _, d := range discrepancies {
		items = append(items, Item{
			TxID:           d.TxID,
			Type:           d.Type,
			StatusInternal: orNA(d.StatusInternal()),
			StatusGateway:  orNA(d.StatusGateway()),
			Reason:         orNA(d.ProbableReason),
			Action:         orNA(d.SuggestedAction),
		})
	}

	a := &Alert{
		Count:     len(items),
		Date:      civil.DateOf(runDate).String(),
		Items:     items,
		ReportRef: reportRef,
	}
	a.Text = formatText(a)
	return a, true
}

func formatText(a *Alert) string {
	var b strings.Builder
	fmt.Fprintf(&b, "*%s*\n", a.Title())
	fmt.Fprintf(&b, "Discrepancies detected: %d\n\n", a.Count)
	for _, it := range a.Items {
		fmt.Fprintf(&b, "• `%s` → *%s*\n", it.TxID, it.Type)
		fmt.Fprintf(&b, "   ├ Reason: %s\n", it.Reason)
		fmt.Fprintf(&b, "   ├ Suggestion: %s\n", it.Action)
		fmt.Fprintf(&b, "   └ Status → Internal: %s | Gateway: %s\n\n", it.StatusInternal, it.StatusGateway)
	}
	if a.ReportRef != "" {
		fmt.Fprintf(&b, "Full report saved as `%s`", a.ReportRef)
	}
	return b.String()
}

func orNA(s string) string {
	if s == "" {
		return "N/A"
	}
	return s
}
