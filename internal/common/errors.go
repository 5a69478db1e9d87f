// Package common defines the error kinds shared by every paylock component.
// Specific errors wrap one of these kinds, so callers classify failures with
// errors.Is against the kind rather than against the specific value.
package common

import "errors"

var (
	// Caller supplied bad input (commission out of range, zero price,
	// empty locator). Never retried.
	ErrValidation = errors.New("validation error")

	// Caller is not allowed to perform the operation. Never retried.
	ErrUnauthorized = errors.New("unauthorized")

	// The listing is in a state that forbids the operation, or the referral
	// is a self-referral. Requires different input.
	ErrState = errors.New("invalid state")

	// Payment below the listing price.
	ErrInsufficientFunds = errors.New("insufficient funds")

	// Content locator errors.
	ErrStoreUnavailable = errors.New("store unavailable")
	ErrStoreRejected    = errors.New("store rejected payload")
	ErrNotFound         = errors.New("not found")
	ErrInvalidLocator   = errors.New("invalid locator")

	// Authentication tag mismatch: wrong key or corrupted ciphertext.
	ErrDecryption = errors.New("decryption failed")

	// The ledger rejected the transaction or its outcome is unknown.
	ErrLedgerSubmission = errors.New("ledger submission failed")
)

// Retryable reports whether err may be retried as is. Only store
// unavailability qualifies; uploads are content-addressed so a retry never
// creates duplicate content.
func Retryable(err error) bool {
	return errors.Is(err, ErrStoreUnavailable)
}

// Ambiguous reports whether err leaves the remote outcome unknown, in which
// case the caller must inspect ledger state before resubmitting.
func Ambiguous(err error) bool {
	return errors.Is(err, ErrLedgerSubmission)
}
