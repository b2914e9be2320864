package model

import (
	"fmt"
	"strings"
)

// Protocol identifies a supported money market.
type Protocol uint8

const (
	ProtocolUnknown Protocol = iota
	ProtocolAave
	ProtocolCompound
)

// String returns the canonical lower-case protocol name.
func (p Protocol) String() string {
	switch p {
	case ProtocolAave:
		return "aave"
	case ProtocolCompound:
		return "compound"
	default:
		return "unknown"
	}
}

// ParseProtocol maps a protocol name to its enum value.
func ParseProtocol(name string) (Protocol, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "aave":
		return ProtocolAave, nil
	case "compound":
		return ProtocolCompound, nil
	default:
		return ProtocolUnknown, fmt.Errorf("unknown protocol: %q", name)
	}
}

// MarshalText encodes the protocol as its canonical name.
func (p Protocol) MarshalText() ([]byte, error) {
	return []byte(p.String()), nil
}

// UnmarshalText decodes a protocol from its canonical name.
func (p *Protocol) UnmarshalText(text []byte) error {
	parsed, err := ParseProtocol(string(text))
	if err != nil {
		return err
	}
	*p = parsed
	return nil
}

// Role classifies the position a balance observation was taken from.
type Role uint8

const (
	RoleUnknown Role = iota
	// RoleReserve is a supply/collateral position (aToken or cToken balance).
	RoleReserve
	// RoleVariableDebt is a variable-rate debt position.
	RoleVariableDebt
	// RoleStableDebt is a stable-rate debt position. The ledger does not
	// classify it; encountering one aborts the remaining batch.
	RoleStableDebt
)

func (r Role) String() string {
	switch r {
	case RoleReserve:
		return "reserve"
	case RoleVariableDebt:
		return "variable-debt"
	case RoleStableDebt:
		return "stable-debt"
	default:
		return "unknown"
	}
}

// ParseRole maps a role name to its enum value.
func ParseRole(name string) (Role, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "reserve":
		return RoleReserve, nil
	case "variable-debt":
		return RoleVariableDebt, nil
	case "stable-debt":
		return RoleStableDebt, nil
	default:
		return RoleUnknown, fmt.Errorf("unknown role: %q", name)
	}
}

// MarshalText encodes the role as its canonical name.
func (r Role) MarshalText() ([]byte, error) {
	return []byte(r.String()), nil
}

// UnmarshalText decodes a role from its canonical name.
func (r *Role) UnmarshalText(text []byte) error {
	parsed, err := ParseRole(string(text))
	if err != nil {
		return err
	}
	*r = parsed
	return nil
}

// Observation is one attested balance snapshot for a user position.
// Addresses are hex strings and Balance is a base-10 big integer string,
// parsed at the ledger boundary.
type Observation struct {
	UnderlyingAsset string `json:"underlying_asset"`
	RoleToken       string `json:"role_token"`
	ChainID         uint64 `json:"chain_id"`
	BlockHeight     uint64 `json:"block_height"`
	Balance         string `json:"balance"`
	Role            Role   `json:"role"`
}
