package mt5

import (
	"context"
	"errors"

	"github.com/shopspring/decimal"
)

// ErrUnknownOutcome marks a call whose effect on the trading ledger could not
// be confirmed (timeout, transport failure, undecodable response). It must
// never be collapsed into a definite failure: the external mutation may have
// been applied, and the record that triggered the call has to be reconciled
// against the ledger's true state before any retry.
var ErrUnknownOutcome = errors.New("mt5: outcome unknown")

// Result is the decoded answer of a credit/debit call. Success=false is a
// definite business rejection from the trading server (no money moved by that
// call) and carries the server's message.
type Result struct {
	Success bool
	Balance decimal.Decimal
	Message string
}

// Gateway is the thin client over the external trading-account API. The
// upstream has no idempotency keys, so implementations perform no retries;
// retry policy belongs to the settlement engine.
type Gateway interface {
	Credit(ctx context.Context, accountRef string, amount decimal.Decimal, memo string) (Result, error)
	Debit(ctx context.Context, accountRef string, amount decimal.Decimal, memo string) (Result, error)
	Balance(ctx context.Context, accountRef string) (decimal.Decimal, error)
}
