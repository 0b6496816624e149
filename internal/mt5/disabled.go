package mt5

import (
	"context"
	"errors"

	"github.com/shopspring/decimal"
)

// DisabledGateway is used when MT5 connectivity is not configured
// (development without a trading server). Every call fails definitively so
// no settlement record can be marked completed against a ledger that was
// never touched.
type DisabledGateway struct{}

func NewDisabledGateway() *DisabledGateway {
	return &DisabledGateway{}
}

func (g *DisabledGateway) Credit(ctx context.Context, accountRef string, amount decimal.Decimal, memo string) (Result, error) {
	return Result{Success: false, Message: "mt5 gateway not configured"}, nil
}

func (g *DisabledGateway) Debit(ctx context.Context, accountRef string, amount decimal.Decimal, memo string) (Result, error) {
	return Result{Success: false, Message: "mt5 gateway not configured"}, nil
}

func (g *DisabledGateway) Balance(ctx context.Context, accountRef string) (decimal.Decimal, error) {
	return decimal.Zero, errors.New("mt5 gateway not configured")
}
