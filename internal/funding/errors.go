package funding

import (
	"errors"
	"fmt"

	"fx-backoffice/internal/mt5"
	"fx-backoffice/internal/wallet"
)

var (
	// ErrValidation covers malformed or out-of-bounds input: self-transfer,
	// amount outside the configured window, missing fields. Raised before any
	// external call.
	ErrValidation = errors.New("validation failed")

	// ErrNotFound marks a referenced record that is absent or not owned by
	// the caller.
	ErrNotFound = errors.New("not found")

	// ErrInvalidState marks a transition attempted from a status that does
	// not allow it, e.g. re-approving a completed deposit.
	ErrInvalidState = errors.New("invalid state")

	// ErrInsufficientFunds re-exports the wallet sentinel so callers can
	// classify without importing the wallet package.
	ErrInsufficientFunds = wallet.ErrInsufficientFunds

	// ErrUnknownOutcome re-exports the gateway sentinel: the external call's
	// effect is unconfirmed and the record is parked in a reconciliation
	// state, reported to the caller as "pending reconciliation".
	ErrUnknownOutcome = mt5.ErrUnknownOutcome

	// ErrDuplicateRequest marks a transfer whose idempotency token was
	// already claimed by an earlier request.
	ErrDuplicateRequest = errors.New("duplicate request")

	// ErrCallbackSignature marks an inbound webhook that failed signature
	// verification. No state was mutated.
	ErrCallbackSignature = errors.New("callback signature invalid")

	// ErrCallbackUnmatched marks a validly-signed webhook that cannot be
	// correlated to any local deposit. Acknowledged to the provider, parked
	// for operator review.
	ErrCallbackUnmatched = errors.New("callback unmatched")
)

// GatewayRejection is a definite business rejection from the external ledger
// for an operation that has no settlement record of its own (transfers). It
// is a business outcome, not a transport error: nothing moved, the caller
// gets the ledger's message.
type GatewayRejection struct {
	Op      string
	Message string
}

func (e *GatewayRejection) Error() string {
	return fmt.Sprintf("%s rejected by ledger: %s", e.Op, e.Message)
}

// CriticalPartialFailure is the highest-severity outcome: one leg of a
// two-leg movement succeeded and the other did not, and no automated
// compensation is safe because the external ledger state at failure time is
// unknown. It always reaches the operator alert channel and is never
// auto-retried.
type CriticalPartialFailure struct {
	TransferID string
	FromRef    string
	ToRef      string
	Amount     string
	FailedLeg  string
	Cause      error
}

func (e *CriticalPartialFailure) Error() string {
	return fmt.Sprintf("critical reconciliation required: transfer %s %s->%s amount %s, %s leg failed: %v",
		e.TransferID, e.FromRef, e.ToRef, e.Amount, e.FailedLeg, e.Cause)
}

func (e *CriticalPartialFailure) Unwrap() error { return e.Cause }

// IsCritical reports whether err carries a CriticalPartialFailure.
func IsCritical(err error) bool {
	var cpf *CriticalPartialFailure
	return errors.As(err, &cpf)
}
