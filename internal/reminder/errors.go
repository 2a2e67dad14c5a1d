package reminder

import "errors"

// ErrInvalidInput marks caller mistakes (empty text, past due instant).
// These are surfaced back to the user for correction and never logged as
// system faults. Wrap with fmt.Errorf("%w: reason", ErrInvalidInput).
var ErrInvalidInput = errors.New("invalid input")

// ErrNotFound is the normal negative result of cancelling an id that has
// already fired, was already cancelled, or never existed.
var ErrNotFound = errors.New("reminder not found")
