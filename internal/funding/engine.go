package funding

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"fx-backoffice/internal/audit"
	"fx-backoffice/internal/cregis"
	"fx-backoffice/internal/events"
	"fx-backoffice/internal/idempotency"
	"fx-backoffice/internal/mt5"
	"fx-backoffice/internal/types"
)

// AccountDirectory resolves a trading-account reference scoped to its owner.
type AccountDirectory interface {
	// ResolveOwned returns the account ref iff it belongs to userID,
	// ErrNotFound otherwise.
	ResolveOwned(ctx context.Context, userID, accountRef string) (string, error)
}

// PaymentProvider creates hosted checkout orders for gateway-funded deposits.
type PaymentProvider interface {
	Enabled() bool
	CreateOrder(ctx context.Context, amount decimal.Decimal, currency, orderRef string) (cregis.Order, error)
}

// Notifier delivers user notifications and operator alerts. Both are
// fire-and-forget; the engine commits settlement status first and never lets
// a delivery failure affect it.
type Notifier interface {
	NotifyUser(ctx context.Context, userID, title, message string)
	Alert(ctx context.Context, message string)
}

type nopNotifier struct{}

func (nopNotifier) NotifyUser(ctx context.Context, userID, title, message string) {}
func (nopNotifier) Alert(ctx context.Context, message string)                     {}

// Engine orchestrates every movement of value between the external trading
// ledger and the local custodial wallet ledger. The two cannot share a
// commit, so the engine's job is ordering: irreversible external calls
// strictly before short local transactions, definite failures recorded as
// data, unknown outcomes parked for reconciliation instead of guessed at.
type Engine struct {
	store       Store
	gateway     mt5.Gateway
	accounts    AccountDirectory
	payments    PaymentProvider
	notifier    Notifier
	auditor     audit.Recorder
	idem        idempotency.Store
	bus         *events.Bus
	transferMin decimal.Decimal
	transferMax decimal.Decimal
	callbackKey string
	logger      *zap.Logger
}

type EngineConfig struct {
	Store       Store
	Gateway     mt5.Gateway
	Accounts    AccountDirectory
	Payments    PaymentProvider
	Notifier    Notifier
	Auditor     audit.Recorder
	Idempotency idempotency.Store
	Bus         *events.Bus
	TransferMin decimal.Decimal
	TransferMax decimal.Decimal
	CallbackKey string
	Logger      *zap.Logger
}

func NewEngine(cfg EngineConfig) *Engine {
	e := &Engine{
		store:       cfg.Store,
		gateway:     cfg.Gateway,
		accounts:    cfg.Accounts,
		payments:    cfg.Payments,
		notifier:    cfg.Notifier,
		auditor:     cfg.Auditor,
		idem:        cfg.Idempotency,
		bus:         cfg.Bus,
		transferMin: cfg.TransferMin,
		transferMax: cfg.TransferMax,
		callbackKey: cfg.CallbackKey,
		logger:      cfg.Logger,
	}
	if e.notifier == nil {
		e.notifier = nopNotifier{}
	}
	if e.auditor == nil {
		e.auditor = audit.Nop{}
	}
	if e.logger == nil {
		e.logger = zap.NewNop()
	}
	return e
}

func (e *Engine) notifyAsync(userID, title, message string) {
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 8*time.Second)
		defer cancel()
		e.notifier.NotifyUser(ctx, userID, title, message)
	}()
}

func (e *Engine) alertAsync(message string) {
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 8*time.Second)
		defer cancel()
		e.notifier.Alert(ctx, message)
	}()
}

func (e *Engine) publish(userID, eventType string, data any) {
	if e.bus == nil {
		return
	}
	e.bus.Publish(events.Event{Type: eventType, UserID: userID, Data: data})
}

func (e *Engine) record(ctx context.Context, evt audit.Event) {
	e.auditor.Record(ctx, evt)
}

// ApproveDeposit moves a pending deposit through the external credit.
// Outcomes: definite gateway rejection → failed (returned as data, nil
// error); gateway success → completed; unknown outcome → the deposit stays
// approved-but-not-completed and the error reports "pending reconciliation".
func (e *Engine) ApproveDeposit(ctx context.Context, depositID, reviewer string) (Deposit, error) {
	d, err := e.store.GetDeposit(ctx, depositID)
	if err != nil {
		return Deposit{}, err
	}
	if d.Status != types.StatusPending {
		return Deposit{}, fmt.Errorf("%w: deposit %s is %s", ErrInvalidState, depositID, d.Status)
	}
	if err := e.store.ApproveDeposit(ctx, depositID, reviewer); err != nil {
		return Deposit{}, err
	}

	memo := fmt.Sprintf("Deposit #%s", depositID)
	res, err := e.gateway.Credit(ctx, d.AccountRef, d.Amount, memo)
	if err != nil {
		if errors.Is(err, ErrUnknownOutcome) {
			e.logger.Error("deposit credit outcome unknown, parked for reconciliation",
				zap.String("deposit_id", depositID),
				zap.String("account", d.AccountRef),
				zap.Error(err))
			e.record(ctx, audit.Event{Kind: "deposit.unknown_outcome", RecordID: depositID,
				UserID: d.UserID, Amount: d.Amount.String(), Message: err.Error()})
			e.alertAsync(fmt.Sprintf("deposit %s: credit outcome unknown, verify MT5 account %s before retrying", depositID, d.AccountRef))
			return Deposit{}, fmt.Errorf("deposit %s pending reconciliation: %w", depositID, err)
		}
		return Deposit{}, err
	}

	if !res.Success {
		if err := e.store.FailDeposit(ctx, depositID, res.Message); err != nil {
			return Deposit{}, err
		}
		e.record(ctx, audit.Event{Kind: "deposit.failed", RecordID: depositID,
			UserID: d.UserID, Status: string(types.StatusFailed), Amount: d.Amount.String(), Message: res.Message})
		e.notifyAsync(d.UserID, "Deposit failed",
			fmt.Sprintf("Your deposit of %s %s could not be credited: %s", d.Amount.StringFixed(2), d.Currency, res.Message))
		e.publish(d.UserID, "deposit.failed", map[string]string{"deposit_id": depositID})
		return e.store.GetDeposit(ctx, depositID)
	}

	if err := e.store.CompleteDeposit(ctx, depositID, d.Amount, ""); err != nil {
		// External money already moved; the record must not be lost.
		e.logger.Error("deposit credited but completion not recorded",
			zap.String("deposit_id", depositID), zap.Error(err))
		e.alertAsync(fmt.Sprintf("deposit %s: MT5 credit succeeded but local completion failed: %v", depositID, err))
		return Deposit{}, fmt.Errorf("deposit %s pending reconciliation: %w", depositID, err)
	}
	e.record(ctx, audit.Event{Kind: "deposit.completed", RecordID: depositID,
		UserID: d.UserID, Status: string(types.StatusCompleted), Amount: d.Amount.String()})
	e.notifyAsync(d.UserID, "Deposit completed",
		fmt.Sprintf("%s %s was credited to account %s.", d.Amount.StringFixed(2), d.Currency, d.AccountRef))
	e.publish(d.UserID, "deposit.completed", map[string]string{"deposit_id": depositID})
	return e.store.GetDeposit(ctx, depositID)
}

// RetryDepositCredit re-runs the external credit for a deposit parked in
// approved after an unconfirmed outcome. Nothing retries these rows
// automatically; the operator calls this only after verifying on the MT5
// side that the original credit did not land.
func (e *Engine) RetryDepositCredit(ctx context.Context, depositID, reviewer string) (Deposit, error) {
	d, err := e.store.GetDeposit(ctx, depositID)
	if err != nil {
		return Deposit{}, err
	}
	if d.Status != types.StatusApproved {
		return Deposit{}, fmt.Errorf("%w: deposit %s is %s, only approved deposits can be re-credited",
			ErrInvalidState, depositID, d.Status)
	}

	amount := d.Amount
	if d.ReceivedAmount != nil {
		amount = *d.ReceivedAmount
	}
	e.record(ctx, audit.Event{Kind: "deposit.credit_retried", RecordID: depositID,
		UserID: d.UserID, Amount: amount.String(), Message: "by " + reviewer})

	memo := fmt.Sprintf("Deposit #%s", depositID)
	res, err := e.gateway.Credit(ctx, d.AccountRef, amount, memo)
	if err != nil {
		if errors.Is(err, ErrUnknownOutcome) {
			e.logger.Error("retried deposit credit outcome unknown, still parked",
				zap.String("deposit_id", depositID),
				zap.String("account", d.AccountRef),
				zap.Error(err))
			e.alertAsync(fmt.Sprintf("deposit %s: retried credit outcome unknown, verify MT5 account %s", depositID, d.AccountRef))
			return Deposit{}, fmt.Errorf("deposit %s pending reconciliation: %w", depositID, err)
		}
		return Deposit{}, err
	}
	if !res.Success {
		if err := e.store.FailDeposit(ctx, depositID, res.Message); err != nil {
			return Deposit{}, err
		}
		e.record(ctx, audit.Event{Kind: "deposit.failed", RecordID: depositID,
			UserID: d.UserID, Status: string(types.StatusFailed), Amount: amount.String(), Message: res.Message})
		e.notifyAsync(d.UserID, "Deposit failed",
			fmt.Sprintf("Your deposit of %s %s could not be credited: %s", amount.StringFixed(2), d.Currency, res.Message))
		e.publish(d.UserID, "deposit.failed", map[string]string{"deposit_id": depositID})
		return e.store.GetDeposit(ctx, depositID)
	}

	if err := e.store.CompleteDeposit(ctx, depositID, amount, d.TxHash); err != nil {
		e.logger.Error("retried deposit credited but completion not recorded",
			zap.String("deposit_id", depositID), zap.Error(err))
		e.alertAsync(fmt.Sprintf("deposit %s: MT5 credit succeeded but local completion failed: %v", depositID, err))
		return Deposit{}, fmt.Errorf("deposit %s pending reconciliation: %w", depositID, err)
	}
	e.record(ctx, audit.Event{Kind: "deposit.completed", RecordID: depositID,
		UserID: d.UserID, Status: string(types.StatusCompleted), Amount: amount.String()})
	e.notifyAsync(d.UserID, "Deposit completed",
		fmt.Sprintf("%s %s was credited to account %s.", amount.StringFixed(2), d.Currency, d.AccountRef))
	e.publish(d.UserID, "deposit.completed", map[string]string{"deposit_id": depositID})
	return e.store.GetDeposit(ctx, depositID)
}

// RejectDeposit declines a pending deposit. No external call is made.
func (e *Engine) RejectDeposit(ctx context.Context, depositID, reviewer, reason string) (Deposit, error) {
	d, err := e.store.GetDeposit(ctx, depositID)
	if err != nil {
		return Deposit{}, err
	}
	if err := e.store.RejectDeposit(ctx, depositID, reviewer, reason); err != nil {
		return Deposit{}, err
	}
	e.record(ctx, audit.Event{Kind: "deposit.rejected", RecordID: depositID,
		UserID: d.UserID, Status: string(types.StatusRejected), Message: reason})
	e.notifyAsync(d.UserID, "Deposit rejected",
		fmt.Sprintf("Your deposit of %s %s was rejected: %s", d.Amount.StringFixed(2), d.Currency, reason))
	e.publish(d.UserID, "deposit.rejected", map[string]string{"deposit_id": depositID})
	return e.store.GetDeposit(ctx, depositID)
}

// ApproveWithdrawal settles a pending withdrawal. Wallet-backed withdrawals
// never touch the external ledger: the wallet debit, the wallet-transaction
// completion and the approval commit in one local transaction, with the
// balance re-checked under the row lock. Account-backed withdrawals mirror
// deposit approval with an external debit.
func (e *Engine) ApproveWithdrawal(ctx context.Context, withdrawalID, reviewer string) (Withdrawal, error) {
	wd, err := e.store.GetWithdrawal(ctx, withdrawalID)
	if err != nil {
		return Withdrawal{}, err
	}
	if wd.Status != types.StatusPending {
		return Withdrawal{}, fmt.Errorf("%w: withdrawal %s is %s", ErrInvalidState, withdrawalID, wd.Status)
	}

	if wd.WalletID != nil {
		balance, err := e.store.ApproveWalletWithdrawal(ctx, withdrawalID, *wd.WalletID, wd.Amount, reviewer)
		if err != nil {
			if errors.Is(err, ErrInsufficientFunds) {
				// Balance moved since the request was filed; the
				// withdrawal stays pending for the user to amend.
				return Withdrawal{}, err
			}
			return Withdrawal{}, err
		}
		e.record(ctx, audit.Event{Kind: "withdrawal.approved", RecordID: withdrawalID,
			UserID: wd.UserID, Status: string(types.StatusApproved), Amount: wd.Amount.String(),
			Fields: map[string]string{"wallet_balance": balance.String()}})
		e.notifyAsync(wd.UserID, "Withdrawal approved",
			fmt.Sprintf("Your withdrawal of %s %s was approved and deducted from your wallet.", wd.Amount.StringFixed(2), wd.Currency))
		e.publish(wd.UserID, "withdrawal.approved", map[string]string{"withdrawal_id": withdrawalID})
		return e.store.GetWithdrawal(ctx, withdrawalID)
	}

	if err := e.store.ApproveWithdrawal(ctx, withdrawalID, reviewer); err != nil {
		return Withdrawal{}, err
	}
	memo := fmt.Sprintf("Withdrawal #%s", withdrawalID)
	res, err := e.gateway.Debit(ctx, wd.AccountRef, wd.Amount, memo)
	if err != nil {
		if errors.Is(err, ErrUnknownOutcome) {
			e.logger.Error("withdrawal debit outcome unknown, parked for reconciliation",
				zap.String("withdrawal_id", withdrawalID),
				zap.String("account", wd.AccountRef),
				zap.Error(err))
			e.record(ctx, audit.Event{Kind: "withdrawal.unknown_outcome", RecordID: withdrawalID,
				UserID: wd.UserID, Amount: wd.Amount.String(), Message: err.Error()})
			e.alertAsync(fmt.Sprintf("withdrawal %s: debit outcome unknown, verify MT5 account %s before retrying", withdrawalID, wd.AccountRef))
			return Withdrawal{}, fmt.Errorf("withdrawal %s pending reconciliation: %w", withdrawalID, err)
		}
		return Withdrawal{}, err
	}
	if !res.Success {
		if err := e.store.FailWithdrawal(ctx, withdrawalID, res.Message); err != nil {
			return Withdrawal{}, err
		}
		e.record(ctx, audit.Event{Kind: "withdrawal.failed", RecordID: withdrawalID,
			UserID: wd.UserID, Status: string(types.StatusFailed), Amount: wd.Amount.String(), Message: res.Message})
		e.notifyAsync(wd.UserID, "Withdrawal failed",
			fmt.Sprintf("Your withdrawal of %s %s could not be debited: %s", wd.Amount.StringFixed(2), wd.Currency, res.Message))
		e.publish(wd.UserID, "withdrawal.failed", map[string]string{"withdrawal_id": withdrawalID})
		return e.store.GetWithdrawal(ctx, withdrawalID)
	}
	if err := e.store.CompleteWithdrawal(ctx, withdrawalID); err != nil {
		e.logger.Error("withdrawal debited but completion not recorded",
			zap.String("withdrawal_id", withdrawalID), zap.Error(err))
		e.alertAsync(fmt.Sprintf("withdrawal %s: MT5 debit succeeded but local completion failed: %v", withdrawalID, err))
		return Withdrawal{}, fmt.Errorf("withdrawal %s pending reconciliation: %w", withdrawalID, err)
	}
	e.record(ctx, audit.Event{Kind: "withdrawal.completed", RecordID: withdrawalID,
		UserID: wd.UserID, Status: string(types.StatusCompleted), Amount: wd.Amount.String()})
	e.notifyAsync(wd.UserID, "Withdrawal completed",
		fmt.Sprintf("%s %s was debited from account %s for payout.", wd.Amount.StringFixed(2), wd.Currency, wd.AccountRef))
	e.publish(wd.UserID, "withdrawal.completed", map[string]string{"withdrawal_id": withdrawalID})
	return e.store.GetWithdrawal(ctx, withdrawalID)
}

// RejectWithdrawal declines a pending withdrawal; funds were never moved.
func (e *Engine) RejectWithdrawal(ctx context.Context, withdrawalID, reviewer, reason string) (Withdrawal, error) {
	wd, err := e.store.GetWithdrawal(ctx, withdrawalID)
	if err != nil {
		return Withdrawal{}, err
	}
	if err := e.store.RejectWithdrawal(ctx, withdrawalID, reviewer, reason); err != nil {
		return Withdrawal{}, err
	}
	e.record(ctx, audit.Event{Kind: "withdrawal.rejected", RecordID: withdrawalID,
		UserID: wd.UserID, Status: string(types.StatusRejected), Message: reason})
	e.notifyAsync(wd.UserID, "Withdrawal rejected",
		fmt.Sprintf("Your withdrawal of %s %s was rejected: %s", wd.Amount.StringFixed(2), wd.Currency, reason))
	e.publish(wd.UserID, "withdrawal.rejected", map[string]string{"withdrawal_id": withdrawalID})
	return e.store.GetWithdrawal(ctx, withdrawalID)
}
