package domain

// Source tags the ledger a record came from. It is assigned during
// normalization and never taken from the caller's data.
type Source string

const (
	SourceInternal Source = "internal"
	SourceGateway  Source = "gateway"
)

// RawRecord is one row as delivered by an acquisition source, before
// normalization: field name -> value, with whatever types the origin uses.
type RawRecord map[string]interface{}

// Record is one normalized transaction from a single source.
// Amount, Status and Currency are nil when the origin did not provide them.
type Record struct {
	TxID     string
	Amount   *float64
	Status   *string
	Currency *string
	Source   Source

	// Extra holds every other (lower-cased) field carried by the origin,
	// e.g. created_at. It is reported but never compared.
	Extra map[string]interface{}
}

// Presence records which side(s) of the outer join a transaction key was found on.
type Presence string

const (
	PresenceBoth         Presence = "both"
	PresenceInternalOnly Presence = "internal_only"
	PresenceGatewayOnly  Presence = "gateway_only"
)

// JoinedRecord is the outer-join result for one tx_id.
// Internal or Gateway is nil when the key is absent on that side.
type JoinedRecord struct {
	TxID     string
	Internal *Record
	Gateway  *Record
	Presence Presence
}
