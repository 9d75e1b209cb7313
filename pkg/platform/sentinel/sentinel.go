package sentinel

import "errors"

// Sentinel errors for infrastructure facts. Stores return these (wrapped with
// context) so services can translate them into domain errors.
//
// - ErrUnavailable: the backing medium could not be reached or failed mid-operation
// - ErrConflict: an optimistic write lost every retry against concurrent writers
// - ErrInvalidState: persisted data could not be decoded into a ledger
var (
	ErrUnavailable  = errors.New("unavailable")
	ErrConflict     = errors.New("conflict")
	ErrInvalidState = errors.New("invalid state")
)
