package model

import "strings"

// EventKind names a classified ledger action.
type EventKind uint8

const (
	EventUnknown EventKind = iota
	EventBorrowed
	EventRepaid
	EventSupplied
)

func (k EventKind) String() string {
	switch k {
	case EventBorrowed:
		return "borrowed"
	case EventRepaid:
		return "repaid"
	case EventSupplied:
		return "supplied"
	default:
		return "unknown"
	}
}

// MarshalText encodes the event kind as its canonical name.
func (k EventKind) MarshalText() ([]byte, error) {
	return []byte(k.String()), nil
}

// UnmarshalText decodes an event kind from its canonical name.
func (k *EventKind) UnmarshalText(text []byte) error {
	switch strings.ToLower(string(text)) {
	case "borrowed":
		*k = EventBorrowed
	case "repaid":
		*k = EventRepaid
	case "supplied":
		*k = EventSupplied
	default:
		*k = EventUnknown
	}
	return nil
}

// LedgerEvent is an append-only notification emitted for each classified
// observation. No internal component consumes these; they exist for external
// observers.
type LedgerEvent struct {
	User         string    `json:"user"`
	Protocol     Protocol  `json:"protocol"`
	Kind         EventKind `json:"kind"`
	AmountUSD    uint64    `json:"amount_usd"`
	RunningTotal uint64    `json:"running_total"`
	Count        uint64    `json:"count"`
	BlockHeight  uint64    `json:"block_height"`
}

// ConfigChange is emitted when an admin swaps a service dependency.
type ConfigChange struct {
	Name     string `json:"name"`
	Previous string `json:"previous"`
	Current  string `json:"current"`
}
