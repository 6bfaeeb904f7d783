package uicc

import "errors"

// Domain errors for the uicc package.
//
// None of these reach query callers; the engine logs them and falls back
// to UninitializedCardID.
var (
	// ErrEmptyIdentifier is returned when resolving a null or empty ICCID/EID.
	ErrEmptyIdentifier = errors.New("uicc: empty card identifier")

	// ErrInvalidConfig is returned when engine options are inconsistent.
	ErrInvalidConfig = errors.New("uicc: invalid configuration")

	// ErrIdentityStore is returned when the identity table backend fails.
	ErrIdentityStore = errors.New("uicc: identity store failure")

	// ErrEngineClosed is returned when posting to an engine that has stopped.
	ErrEngineClosed = errors.New("uicc: engine closed")
)
