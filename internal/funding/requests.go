package funding

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"fx-backoffice/internal/audit"
	"fx-backoffice/internal/types"
)

// RequestDeposit files a deposit for an owned trading account. Manual
// deposits wait for an operator; card and crypto deposits additionally get a
// hosted checkout order whose URL the caller redirects the user to.
func (e *Engine) RequestDeposit(ctx context.Context, userID, accountRef string, amount decimal.Decimal, currency string, method types.DepositMethod) (Deposit, error) {
	if amount.LessThanOrEqual(decimal.Zero) {
		return Deposit{}, fmt.Errorf("%w: amount must be positive", ErrValidation)
	}
	currency = strings.ToUpper(strings.TrimSpace(currency))
	if currency == "" {
		return Deposit{}, fmt.Errorf("%w: currency is required", ErrValidation)
	}
	switch method {
	case types.DepositMethodManual, types.DepositMethodCard, types.DepositMethodCrypto:
	default:
		return Deposit{}, fmt.Errorf("%w: unknown deposit method %q", ErrValidation, method)
	}
	ref, err := e.accounts.ResolveOwned(ctx, userID, accountRef)
	if err != nil {
		return Deposit{}, err
	}

	d := Deposit{
		UserID:       userID,
		AccountRef:   ref,
		Amount:       amount,
		Currency:     currency,
		Method:       method,
		ExternalTxID: uuid.NewString(),
	}
	if err := e.store.CreateDeposit(ctx, &d); err != nil {
		return Deposit{}, err
	}

	if method != types.DepositMethodManual {
		if e.payments == nil || !e.payments.Enabled() {
			return Deposit{}, fmt.Errorf("%w: payment gateway not configured", ErrValidation)
		}
		order, err := e.payments.CreateOrder(ctx, amount, currency, d.ExternalTxID)
		if err != nil {
			// Without a checkout order the user has nothing to pay
			// against, so the record is closed rather than left dangling.
			if ferr := e.store.FailDeposit(ctx, d.ID, "payment order creation failed"); ferr != nil {
				e.logger.Error("failed to close deposit after order error",
					zap.String("deposit_id", d.ID), zap.Error(ferr))
			}
			return Deposit{}, fmt.Errorf("create payment order: %w", err)
		}
		if err := e.store.SetDepositPaymentOrder(ctx, d.ID, order.OrderID, order.PaymentURL); err != nil {
			return Deposit{}, err
		}
		d.ProviderOrderNo = order.OrderID
		d.PaymentURL = order.PaymentURL
	}

	e.record(ctx, audit.Event{Kind: "deposit.requested", RecordID: d.ID,
		UserID: userID, Status: string(types.StatusPending), Amount: amount.String(),
		Fields: map[string]string{"method": string(method), "account": ref}})
	e.publish(userID, "deposit.requested", map[string]string{"deposit_id": d.ID})
	return d, nil
}

// RequestWithdrawal files a withdrawal from either a trading account or the
// custodial wallet. The wallet path pre-checks the live balance so obviously
// unfundable requests are refused up front; the authoritative check happens
// again at approval under the row lock.
func (e *Engine) RequestWithdrawal(ctx context.Context, userID, accountRef string, amount decimal.Decimal, currency, destination string, fromWallet bool) (Withdrawal, error) {
	if amount.LessThanOrEqual(decimal.Zero) {
		return Withdrawal{}, fmt.Errorf("%w: amount must be positive", ErrValidation)
	}
	currency = strings.ToUpper(strings.TrimSpace(currency))
	if currency == "" {
		return Withdrawal{}, fmt.Errorf("%w: currency is required", ErrValidation)
	}
	if strings.TrimSpace(destination) == "" {
		return Withdrawal{}, fmt.Errorf("%w: destination is required", ErrValidation)
	}

	wd := Withdrawal{
		UserID:        userID,
		Amount:        amount,
		Currency:      currency,
		PayoutDetails: destination,
	}
	if fromWallet {
		w, err := e.store.GetWalletForUser(ctx, userID)
		if err != nil {
			return Withdrawal{}, err
		}
		if w.Balance.LessThan(amount) {
			return Withdrawal{}, fmt.Errorf("%w: wallet balance %s below requested %s",
				ErrInsufficientFunds, w.Balance.String(), amount.String())
		}
		wd.WalletID = &w.ID
	} else {
		ref, err := e.accounts.ResolveOwned(ctx, userID, accountRef)
		if err != nil {
			return Withdrawal{}, err
		}
		wd.AccountRef = ref
	}

	if err := e.store.CreateWithdrawal(ctx, &wd); err != nil {
		return Withdrawal{}, err
	}
	e.record(ctx, audit.Event{Kind: "withdrawal.requested", RecordID: wd.ID,
		UserID: userID, Status: string(types.StatusPending), Amount: amount.String(),
		Fields: map[string]string{"from_wallet": fmt.Sprintf("%t", fromWallet)}})
	e.publish(userID, "withdrawal.requested", map[string]string{"withdrawal_id": wd.ID})
	return wd, nil
}

// Deposit returns a single deposit, scoped to its owner unless userID is empty.
func (e *Engine) Deposit(ctx context.Context, userID, depositID string) (Deposit, error) {
	d, err := e.store.GetDeposit(ctx, depositID)
	if err != nil {
		return Deposit{}, err
	}
	if userID != "" && d.UserID != userID {
		return Deposit{}, ErrNotFound
	}
	return d, nil
}

// Withdrawal returns a single withdrawal, scoped to its owner unless userID is empty.
func (e *Engine) Withdrawal(ctx context.Context, userID, withdrawalID string) (Withdrawal, error) {
	wd, err := e.store.GetWithdrawal(ctx, withdrawalID)
	if err != nil {
		return Withdrawal{}, err
	}
	if userID != "" && wd.UserID != userID {
		return Withdrawal{}, ErrNotFound
	}
	return wd, nil
}

func (e *Engine) Deposits(ctx context.Context, userID string, limit int) ([]Deposit, error) {
	return e.store.ListDeposits(ctx, userID, limit)
}

func (e *Engine) Withdrawals(ctx context.Context, userID string, limit int) ([]Withdrawal, error) {
	return e.store.ListWithdrawals(ctx, userID, limit)
}

// DepositsByStatus lists deposits across all users for the review queue.
func (e *Engine) DepositsByStatus(ctx context.Context, status types.SettlementStatus, limit int) ([]Deposit, error) {
	return e.store.ListDepositsByStatus(ctx, status, limit)
}

func (e *Engine) WithdrawalsByStatus(ctx context.Context, status types.SettlementStatus, limit int) ([]Withdrawal, error) {
	return e.store.ListWithdrawalsByStatus(ctx, status, limit)
}

// WalletSummary returns the user's wallet with its recent transactions.
func (e *Engine) WalletSummary(ctx context.Context, userID string) (WalletView, error) {
	w, err := e.store.GetWalletForUser(ctx, userID)
	if err != nil {
		return WalletView{}, err
	}
	txs, err := e.store.ListWalletTransactions(ctx, userID, 0)
	if err != nil {
		return WalletView{}, err
	}
	return WalletView{
		ID:           w.ID,
		WalletNumber: w.WalletNumber,
		Balance:      w.Balance,
		Currency:     "USD",
		Transactions: txs,
	}, nil
}

// WalletView is the wallet plus its transaction history as returned to the
// API layer.
type WalletView struct {
	ID           string              `json:"id"`
	WalletNumber string              `json:"wallet_number"`
	Balance      decimal.Decimal     `json:"balance"`
	Currency     string              `json:"currency"`
	Transactions []WalletTransaction `json:"transactions"`
}
