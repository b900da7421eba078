package recon

import (
	"fmt"
	"sort"

	"github.com/dvloznov/ledger-recon/internal/domain"
)

// Match full-outer-joins the two normalized sets on tx_id. It returns one
// joined record per distinct key, ordered lexicographically by tx_id.
// A key repeated within one side is a data error.
func Match(internal, gateway []domain.Record) ([]domain.JoinedRecord, error) {
	byKey := make(map[string]*domain.JoinedRecord, len(internal)+len(gateway))
	var errs DataErrors

	for i := range internal {
		rec := &internal[i]
		if _, dup := byKey[rec.TxID]; dup {
			errs = append(errs, &DataError{Kind: DuplicateTxID, Source: string(domain.SourceInternal), Row: i, TxID: rec.TxID})
			continue
		}
		byKey[rec.TxID] = &domain.JoinedRecord{TxID: rec.TxID, Internal: rec}
	}

	seenGateway := make(map[string]bool, len(gateway))
	for i := range gateway {
		rec := &gateway[i]
		if seenGateway[rec.TxID] {
			errs = append(errs, &DataError{Kind: DuplicateTxID, Source: string(domain.SourceGateway), Row: i, TxID: rec.TxID})
			continue
		}
		seenGateway[rec.TxID] = true

		if j, ok := byKey[rec.TxID]; ok {
			j.Gateway = rec
			continue
		}
		byKey[rec.TxID] = &domain.JoinedRecord{TxID: rec.TxID, Gateway: rec}
	}

	if len(errs) > 0 {
		return nil, errs
	}

	keys := make([]string, 0, len(byKey))
	for k := range byKey {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	joined := make([]domain.JoinedRecord, 0, len(keys))
	for _, k := range keys {
		j := byKey[k]
		switch {
		case j.Internal != nil && j.Gateway != nil:
			j.Presence = domain.PresenceBoth
		case j.Internal != nil:
			j.Presence = domain.PresenceInternalOnly
		default:
			j.Presence = domain.PresenceGatewayOnly
		}
		joined = append(joined, *j)
	}
	return joined, nil
}

// Reconcile matches the two sets and classifies every joined record.
// The returned records carry no enrichment yet.
func Reconcile(internal, gateway []domain.Record) ([]domain.Discrepancy, error) {
	joined, err := Match(internal, gateway)
	if err != nil {
		return nil, fmt.Errorf("Reconcile: matching: %w", err)
	}

	out := make([]domain.Discrepancy, 0, len(joined))
	for _, j := range joined {
		out = append(out, domain.Discrepancy{
			JoinedRecord: j,
			Type:         Classify(j),
		})
	}
	return out, nil
}
