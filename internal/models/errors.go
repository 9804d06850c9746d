package models

import "errors"

// Engine error taxonomy. Callers match with errors.Is.
var (
	ErrValidation         = errors.New("validation failed")
	ErrNotFound           = errors.New("note not found")
	ErrPreconditionFailed = errors.New("precondition failed")
	// ErrSettlementFailed is a soft failure: nothing was mutated and the
	// call may be retried.
	ErrSettlementFailed = errors.New("settlement failed")
	ErrUnauthorized     = errors.New("unauthorized")
)
