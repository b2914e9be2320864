package model

import "errors"

// Sentinel errors for the ledger and its service surfaces. Callers classify
// with errors.Is; wrapping adds context.
var (
	// ErrUnauthorized means the caller is not the claimed user, or not the
	// privileged admin for admin operations.
	ErrUnauthorized = errors.New("unauthorized")

	// ErrInvalidTokenBinding means an observation's role-token address does
	// not match the registry's authoritative binding for the declared
	// underlying asset, role and chain.
	ErrInvalidTokenBinding = errors.New("invalid token binding")

	// ErrUnsupportedObservationRole means the ledger cannot classify the
	// observation's role. Processing of the remaining batch stops; earlier
	// observations in the same batch stay applied.
	ErrUnsupportedObservationRole = errors.New("unsupported observation role")

	// ErrConfiguration means an admin supplied a zero or malformed
	// dependency address.
	ErrConfiguration = errors.New("configuration error")

	// ErrInvalidObservation means an observation failed to parse (malformed
	// address or balance) before reaching the ledger.
	ErrInvalidObservation = errors.New("invalid observation")
)
