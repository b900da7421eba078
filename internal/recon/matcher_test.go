package recon

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/dvloznov/ledger-recon/internal/domain"
)

func reconcileRaw(t *testing.T, internal, gateway []domain.RawRecord) []domain.Discrepancy {
	t.Helper()
	ctx := context.Background()

	in, err := Normalize(ctx, internal, domain.SourceInternal, PolicyStrict)
	if err != nil {
		t.Fatalf("Normalize(internal) error = %v", err)
	}
	gw, err := Normalize(ctx, gateway, domain.SourceGateway, PolicyStrict)
	if err != nil {
		t.Fatalf("Normalize(gateway) error = %v", err)
	}

	out, err := Reconcile(in, gw)
	if err != nil {
		t.Fatalf("Reconcile() error = %v", err)
	}
	return out
}

func TestReconcile_Scenarios(t *testing.T) {
	tests := []struct {
		name     string
		internal []domain.RawRecord
		gateway  []domain.RawRecord
		want     domain.DiscrepancyType
	}{
		{
			name:     "identical records match",
			internal: []domain.RawRecord{{"tx_id": "A", "amount": 100, "status": "success", "currency": "USD"}},
			gateway:  []domain.RawRecord{{"tx_id": "A", "amount": 100, "status": "success", "currency": "USD"}},
			want:     domain.Matched,
		},
		{
			name:     "internal only",
			internal: []domain.RawRecord{{"tx_id": "B", "amount": 50, "status": "success"}},
			want:     domain.MissingInGateway,
		},
		{
			name:    "gateway only",
			gateway: []domain.RawRecord{{"tx_id": "B", "amount": 50, "status": "success"}},
			want:    domain.MissingInInternal,
		},
		{
			name:     "amounts differ",
			internal: []domain.RawRecord{{"tx_id": "C", "amount": 100, "status": "success"}},
			gateway:  []domain.RawRecord{{"tx_id": "C", "amount": 95, "status": "success"}},
			want:     domain.AmountMismatch,
		},
		{
			name:     "statuses differ",
			internal: []domain.RawRecord{{"tx_id": "D", "amount": 100, "status": "pending"}},
			gateway:  []domain.RawRecord{{"tx_id": "D", "amount": 100, "status": "success"}},
			want:     domain.StatusMismatch,
		},
		{
			name:     "status compared case-insensitively",
			internal: []domain.RawRecord{{"tx_id": "E", "amount": 10, "status": "SUCCESS"}},
			gateway:  []domain.RawRecord{{"tx_id": "E", "amount": 10, "status": "success"}},
			want:     domain.Matched,
		},
		{
			name:     "amount numeric not textual",
			internal: []domain.RawRecord{{"tx_id": "F", "amount": "100.00", "status": "success"}},
			gateway:  []domain.RawRecord{{"tx_id": "F", "amount": 100, "status": "success"}},
			want:     domain.Matched,
		},
		{
			name:     "currencies differ",
			internal: []domain.RawRecord{{"tx_id": "G", "amount": 10, "status": "success", "currency": "USD"}},
			gateway:  []domain.RawRecord{{"tx_id": "G", "amount": 10, "status": "success", "currency": "NGN"}},
			want:     domain.CurrencyMismatch,
		},
		{
			name:     "currency absent on one side",
			internal: []domain.RawRecord{{"tx_id": "H", "amount": 10, "status": "success", "currency": "USD"}},
			gateway:  []domain.RawRecord{{"tx_id": "H", "amount": 10, "status": "success"}},
			want:     domain.CurrencyMismatch,
		},
		{
			name:     "amount absent on one side",
			internal: []domain.RawRecord{{"tx_id": "I", "status": "success"}},
			gateway:  []domain.RawRecord{{"tx_id": "I", "amount": 10, "status": "success"}},
			want:     domain.AmountMismatch,
		},
		{
			name:     "amount and status absent on both sides",
			internal: []domain.RawRecord{{"tx_id": "J"}},
			gateway:  []domain.RawRecord{{"tx_id": "J"}},
			want:     domain.Matched,
		},
		{
			name:     "amount wins over status and currency",
			internal: []domain.RawRecord{{"tx_id": "K", "amount": 1, "status": "failed", "currency": "USD"}},
			gateway:  []domain.RawRecord{{"tx_id": "K", "amount": 2, "status": "success", "currency": "EUR"}},
			want:     domain.AmountMismatch,
		},
		{
			name:     "status wins over currency",
			internal: []domain.RawRecord{{"tx_id": "L", "amount": 1, "status": "failed", "currency": "USD"}},
			gateway:  []domain.RawRecord{{"tx_id": "L", "amount": 1, "status": "success", "currency": "EUR"}},
			want:     domain.StatusMismatch,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out := reconcileRaw(t, tt.internal, tt.gateway)
			if len(out) != 1 {
				t.Fatalf("expected 1 record, got %d", len(out))
			}
			if out[0].Type != tt.want {
				t.Errorf("Type = %s, want %s", out[0].Type, tt.want)
			}
		})
	}
}

func TestReconcile_MissingSideNeverValueMismatch(t *testing.T) {
	out := reconcileRaw(t,
		[]domain.RawRecord{{"tx_id": "X", "amount": 1, "status": "success"}},
		[]domain.RawRecord{{"tx_id": "Y", "amount": 2, "status": "failed"}},
	)

	want := map[string]domain.DiscrepancyType{
		"X": domain.MissingInGateway,
		"Y": domain.MissingInInternal,
	}
	for _, d := range out {
		if d.Type != want[d.TxID] {
			t.Errorf("tx %s: Type = %s, want %s", d.TxID, d.Type, want[d.TxID])
		}
	}
}

func TestReconcile_JoinCompleteness(t *testing.T) {
	var internal, gateway []domain.RawRecord
	for i := 0; i < 20; i++ {
		internal = append(internal, domain.RawRecord{"tx_id": fmt.Sprintf("T%02d", i), "amount": i})
	}
	for i := 10; i < 35; i++ {
		gateway = append(gateway, domain.RawRecord{"tx_id": fmt.Sprintf("T%02d", i), "amount": i})
	}

	out := reconcileRaw(t, internal, gateway)

	if len(out) != 35 {
		t.Fatalf("expected 35 records (union of keys), got %d", len(out))
	}

	known := make(map[domain.DiscrepancyType]bool)
	for _, typ := range domain.DiscrepancyTypes {
		known[typ] = true
	}

	seen := make(map[string]bool)
	for i, d := range out {
		if seen[d.TxID] {
			t.Errorf("tx_id %s reported twice", d.TxID)
		}
		seen[d.TxID] = true
		if !known[d.Type] {
			t.Errorf("tx_id %s has invalid type %q", d.TxID, d.Type)
		}
		if i > 0 && out[i-1].TxID >= d.TxID {
			t.Errorf("records not ordered by tx_id: %s before %s", out[i-1].TxID, d.TxID)
		}
	}

	counts := domain.CountByType(out)
	if counts[domain.MissingInGateway] != 10 || counts[domain.MissingInInternal] != 15 || counts[domain.Matched] != 10 {
		t.Errorf("unexpected counts: %v", counts)
	}
}

func TestMatch_Presence(t *testing.T) {
	amount := 1.0
	joined, err := Match(
		[]domain.Record{{TxID: "A", Amount: &amount}, {TxID: "B"}},
		[]domain.Record{{TxID: "B"}, {TxID: "C"}},
	)
	if err != nil {
		t.Fatalf("Match() error = %v", err)
	}

	want := []domain.Presence{domain.PresenceInternalOnly, domain.PresenceBoth, domain.PresenceGatewayOnly}
	if len(joined) != len(want) {
		t.Fatalf("expected %d joined records, got %d", len(want), len(joined))
	}
	for i, j := range joined {
		if j.Presence != want[i] {
			t.Errorf("%s: Presence = %s, want %s", j.TxID, j.Presence, want[i])
		}
	}
}

func TestMatch_RejectsDuplicateKeys(t *testing.T) {
	_, err := Match(
		[]domain.Record{{TxID: "A"}},
		[]domain.Record{{TxID: "A"}, {TxID: "A"}},
	)

	var dataErrs DataErrors
	if !errors.As(err, &dataErrs) {
		t.Fatalf("expected DataErrors, got %v", err)
	}
	if dataErrs[0].Kind != DuplicateTxID || dataErrs[0].Source != "gateway" {
		t.Errorf("unexpected error: %v", dataErrs[0])
	}
}
