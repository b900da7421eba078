package enrich

import (
	"strings"
	"testing"

	"github.com/dvloznov/ledger-recon/internal/domain"
)

func TestSuggestedAction(t *testing.T) {
	tests := []struct {
		typ  domain.DiscrepancyType
		want string
	}{
		{domain.MissingInGateway, "Verify if gateway webhook/API callback was received; retry if necessary."},
		{domain.MissingInInternal, "Re-fetch transaction data from gateway and reinsert into DB."},
		{domain.StatusMismatch, "Sync statuses by calling gateway verify endpoint."},
		{domain.AmountMismatch, "Escalate to finance for manual review."},
		{domain.CurrencyMismatch, "Check currency mapping and payment channel configuration."},
		{domain.Matched, "No action required."},
		{domain.DiscrepancyType("unknown"), "No action required."},
	}

	for _, tt := range tests {
		t.Run(string(tt.typ), func(t *testing.T) {
			if got := SuggestedAction(tt.typ); got != tt.want {
				t.Errorf("SuggestedAction(%s) = %q, want %q", tt.typ, got, tt.want)
			}
		})
	}
}

func TestProbableReason(t *testing.T) {
	tests := []struct {
		name     string
		record   domain.Discrepancy
		contains string
	}{
		{"missing in gateway", discrepancy("A", domain.MissingInGateway), "not found in gateway"},
		{"missing internally", discrepancy("A", domain.MissingInInternal), "missing internally"},
		{"amounts", discrepancy("A", domain.AmountMismatch), "Amounts differ (Internal: 100, Gateway: 95)"},
		{"statuses", discrepancy("A", domain.StatusMismatch), "Status differs (Internal: pending, Gateway: success)"},
		{"currency", discrepancy("A", domain.CurrencyMismatch), "Currency inconsistency"},
		{"matched", discrepancy("A", domain.Matched), "No issue detected."},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ProbableReason(tt.record); !strings.Contains(got, tt.contains) {
				t.Errorf("ProbableReason() = %q, want it to contain %q", got, tt.contains)
			}
		})
	}
}

func TestProbableReason_AbsentAmount(t *testing.T) {
	d := discrepancy("A", domain.AmountMismatch)
	d.Gateway.Amount = nil

	if got := ProbableReason(d); !strings.Contains(got, "Gateway: N/A") {
		t.Errorf("ProbableReason() = %q, want N/A for absent amount", got)
	}
}

func TestBuildPrompt(t *testing.T) {
	prompt := BuildPrompt(discrepancy("TX-9", domain.StatusMismatch))

	for _, want := range []string{"Transaction ID: TX-9", "Discrepancy Type: status_mismatch", "status=pending", "status=success"} {
		if !strings.Contains(prompt, want) {
			t.Errorf("prompt missing %q:\n%s", want, prompt)
		}
	}
}
