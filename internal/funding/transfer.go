package funding

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"fx-backoffice/internal/audit"
)

const transferIdemTTL = 24 * time.Hour

// InternalTransfer moves funds between two trading accounts owned by the
// same user. Both legs live on the external ledger, so there is no shared
// transaction: the debit runs first, then the credit, and only after both
// succeed are the two history rows written locally. A credit failure after
// a successful debit is a critical partial failure, routed to operators and
// never auto-compensated.
func (e *Engine) InternalTransfer(ctx context.Context, userID, fromRef, toRef string, amount decimal.Decimal, idemToken string) (Transfer, error) {
	if amount.LessThanOrEqual(decimal.Zero) {
		return Transfer{}, fmt.Errorf("%w: amount must be positive", ErrValidation)
	}
	if !e.transferMin.IsZero() && amount.LessThan(e.transferMin) {
		return Transfer{}, fmt.Errorf("%w: minimum transfer is %s", ErrValidation, e.transferMin.String())
	}
	if !e.transferMax.IsZero() && amount.GreaterThan(e.transferMax) {
		return Transfer{}, fmt.Errorf("%w: maximum transfer is %s", ErrValidation, e.transferMax.String())
	}
	if fromRef == toRef {
		return Transfer{}, fmt.Errorf("%w: source and destination accounts are the same", ErrValidation)
	}
	from, err := e.accounts.ResolveOwned(ctx, userID, fromRef)
	if err != nil {
		return Transfer{}, err
	}
	to, err := e.accounts.ResolveOwned(ctx, userID, toRef)
	if err != nil {
		return Transfer{}, err
	}

	released := false
	if idemToken != "" && e.idem != nil {
		key := userID + ":" + idemToken
		ok, err := e.idem.Claim(ctx, key, transferIdemTTL)
		if err != nil {
			return Transfer{}, fmt.Errorf("idempotency claim: %w", err)
		}
		if !ok {
			return Transfer{}, fmt.Errorf("%w: transfer token already used", ErrDuplicateRequest)
		}
		// The claim is released only on paths where we know no money
		// moved. After the debit fires the token stays burned even on
		// error, because a retry could double-spend.
		defer func() {
			if released {
				if rerr := e.idem.Release(context.WithoutCancel(ctx), key); rerr != nil {
					e.logger.Warn("idempotency release failed", zap.String("key", key), zap.Error(rerr))
				}
			}
		}()
	}

	balance, err := e.gateway.Balance(ctx, from)
	if err != nil {
		released = true
		return Transfer{}, fmt.Errorf("check source balance: %w", err)
	}
	if balance.LessThan(amount) {
		released = true
		return Transfer{}, fmt.Errorf("%w: account %s balance %s below requested %s",
			ErrInsufficientFunds, from, balance.String(), amount.String())
	}

	transferID := uuid.NewString()
	memo := fmt.Sprintf("Transfer #%s", transferID)

	debitRes, err := e.gateway.Debit(ctx, from, amount, memo)
	if err != nil {
		if errors.Is(err, ErrUnknownOutcome) {
			// The debit may have landed. The token stays burned and
			// operators reconcile by transfer id.
			e.record(ctx, audit.Event{Kind: "transfer.unknown_outcome", RecordID: transferID,
				UserID: userID, Amount: amount.String(), Message: err.Error()})
			e.alertAsync(fmt.Sprintf("transfer %s: debit of %s from %s has unknown outcome, verify before retrying",
				transferID, amount.String(), from))
			return Transfer{}, fmt.Errorf("transfer %s pending reconciliation: %w", transferID, err)
		}
		released = true
		return Transfer{}, fmt.Errorf("debit %s: %w", from, err)
	}
	if !debitRes.Success {
		released = true
		return Transfer{}, &GatewayRejection{Op: "debit", Message: debitRes.Message}
	}

	creditRes, err := e.gateway.Credit(ctx, to, amount, memo)
	if err != nil || !creditRes.Success {
		cause := err
		if cause == nil {
			cause = &GatewayRejection{Op: "credit", Message: creditRes.Message}
		}
		cpf := &CriticalPartialFailure{
			TransferID: transferID,
			FromRef:    from,
			ToRef:      to,
			Amount:     amount.String(),
			FailedLeg:  "credit",
			Cause:      cause,
		}
		e.logger.Error("internal transfer partial failure",
			zap.String("transfer_id", transferID),
			zap.String("from", from),
			zap.String("to", to),
			zap.String("amount", amount.String()),
			zap.Error(cause))
		e.record(ctx, audit.Event{Kind: "transfer.partial_failure", RecordID: transferID,
			UserID: userID, Amount: amount.String(), Message: cpf.Error()})
		e.alertAsync(fmt.Sprintf("CRITICAL transfer %s: debited %s from %s but credit to %s failed: %v",
			transferID, amount.String(), from, to, cause))
		return Transfer{}, cpf
	}

	tr, err := e.store.RecordTransferPair(ctx, userID, transferID, from, to, amount)
	if err != nil {
		// Both legs settled externally; losing the trail is a
		// bookkeeping problem, not a funds problem.
		e.logger.Error("transfer settled but history not recorded",
			zap.String("transfer_id", transferID), zap.Error(err))
		e.alertAsync(fmt.Sprintf("transfer %s settled on MT5 but local history write failed: %v", transferID, err))
		return Transfer{TransferID: transferID, FromRef: from, ToRef: to, Amount: amount}, nil
	}

	e.record(ctx, audit.Event{Kind: "transfer.completed", RecordID: transferID,
		UserID: userID, Amount: amount.String(),
		Fields: map[string]string{"from": from, "to": to}})
	e.notifyAsync(userID, "Transfer completed",
		fmt.Sprintf("%s was transferred from account %s to account %s.", amount.StringFixed(2), from, to))
	e.publish(userID, "transfer.completed", map[string]string{"transfer_id": transferID})
	return tr, nil
}

// TransferMT5ToWallet moves funds from a trading account into the custodial
// wallet. The irreversible external debit runs first; the wallet credit is a
// local transaction that follows only on definite success.
func (e *Engine) TransferMT5ToWallet(ctx context.Context, userID, accountRef string, amount decimal.Decimal) (WalletTransaction, error) {
	if amount.LessThanOrEqual(decimal.Zero) {
		return WalletTransaction{}, fmt.Errorf("%w: amount must be positive", ErrValidation)
	}
	ref, err := e.accounts.ResolveOwned(ctx, userID, accountRef)
	if err != nil {
		return WalletTransaction{}, err
	}
	w, err := e.store.GetWalletForUser(ctx, userID)
	if err != nil {
		return WalletTransaction{}, err
	}

	memo := fmt.Sprintf("To wallet %s", w.WalletNumber)
	res, err := e.gateway.Debit(ctx, ref, amount, memo)
	if err != nil {
		if errors.Is(err, ErrUnknownOutcome) {
			e.record(ctx, audit.Event{Kind: "wallet_topup.unknown_outcome",
				UserID: userID, Amount: amount.String(), Message: err.Error()})
			e.alertAsync(fmt.Sprintf("MT5-to-wallet for user %s: debit of %s from %s has unknown outcome",
				userID, amount.String(), ref))
			return WalletTransaction{}, fmt.Errorf("wallet top-up pending reconciliation: %w", err)
		}
		return WalletTransaction{}, fmt.Errorf("debit %s: %w", ref, err)
	}
	if !res.Success {
		return WalletTransaction{}, &GatewayRejection{Op: "debit", Message: res.Message}
	}

	tx, err := e.store.CreditWalletFromAccount(ctx, userID, ref, amount)
	if err != nil {
		e.logger.Error("MT5 debited but wallet credit failed",
			zap.String("wallet_id", w.ID), zap.String("account", ref), zap.Error(err))
		e.alertAsync(fmt.Sprintf("CRITICAL: debited %s from MT5 %s but wallet %s credit failed: %v",
			amount.String(), ref, w.ID, err))
		return WalletTransaction{}, &CriticalPartialFailure{
			FromRef: ref, ToRef: w.WalletNumber, Amount: amount.String(), FailedLeg: "wallet_credit", Cause: err,
		}
	}
	e.record(ctx, audit.Event{Kind: "wallet_topup.completed", RecordID: tx.ID,
		UserID: userID, Amount: amount.String(), Fields: map[string]string{"account": ref}})
	e.publish(userID, "wallet.credited", map[string]string{"tx_id": tx.ID})
	return tx, nil
}

// TransferWalletToMT5 moves funds from the custodial wallet to a trading
// account. The irreversible external credit runs first; the compensable local
// debit commits only after the credit reported definite success, so a
// rejected or unconfirmed credit leaves the wallet untouched. No DB
// transaction is held across the HTTP call.
func (e *Engine) TransferWalletToMT5(ctx context.Context, userID, accountRef string, amount decimal.Decimal) (WalletTransaction, error) {
	if amount.LessThanOrEqual(decimal.Zero) {
		return WalletTransaction{}, fmt.Errorf("%w: amount must be positive", ErrValidation)
	}
	ref, err := e.accounts.ResolveOwned(ctx, userID, accountRef)
	if err != nil {
		return WalletTransaction{}, err
	}
	w, err := e.store.GetWalletForUser(ctx, userID)
	if err != nil {
		return WalletTransaction{}, err
	}
	// Advisory check so an obviously underfunded request never reaches the
	// gateway; the floor guard under the row lock decides for real.
	if w.Balance.LessThan(amount) {
		return WalletTransaction{}, fmt.Errorf("%w: wallet balance %s below requested %s",
			ErrInsufficientFunds, w.Balance.String(), amount.String())
	}

	memo := fmt.Sprintf("From wallet %s", w.WalletNumber)
	res, err := e.gateway.Credit(ctx, ref, amount, memo)
	if err != nil {
		if errors.Is(err, ErrUnknownOutcome) {
			// The MT5 credit may have landed. The wallet has not been
			// touched, so nothing local needs compensation; the operator
			// verifies the account before anything moves.
			e.record(ctx, audit.Event{Kind: "wallet_payout.unknown_outcome",
				UserID: userID, Amount: amount.String(), Message: err.Error()})
			e.alertAsync(fmt.Sprintf("wallet-to-MT5 for user %s: credit of %s to %s has unknown outcome, wallet not debited, verify the account",
				userID, amount.String(), ref))
			return WalletTransaction{}, fmt.Errorf("wallet payout pending reconciliation: %w", err)
		}
		return WalletTransaction{}, fmt.Errorf("credit %s: %w", ref, err)
	}
	if !res.Success {
		// Definite rejection before any local mutation: consistent by
		// construction, nothing to unwind.
		e.record(ctx, audit.Event{Kind: "wallet_payout.rejected",
			UserID: userID, Amount: amount.String(), Message: res.Message})
		return WalletTransaction{}, fmt.Errorf("credit %s: %w", ref,
			&GatewayRejection{Op: "credit", Message: res.Message})
	}

	tx, err := e.store.DebitWalletForAccount(ctx, userID, ref, amount)
	if err != nil {
		// The account is credited but the wallet kept its funds, most
		// likely because a concurrent spend drained it between the
		// advisory check and the row lock.
		e.alertAsync(fmt.Sprintf("CRITICAL: MT5 account %s credited %s but wallet %s debit failed: %v",
			ref, amount.String(), w.ID, err))
		return WalletTransaction{}, &CriticalPartialFailure{
			FromRef: w.WalletNumber, ToRef: ref, Amount: amount.String(), FailedLeg: "wallet_debit", Cause: err,
		}
	}

	e.record(ctx, audit.Event{Kind: "wallet_payout.completed", RecordID: tx.ID,
		UserID: userID, Amount: amount.String(), Fields: map[string]string{"account": ref}})
	e.publish(userID, "wallet.debited", map[string]string{"tx_id": tx.ID})
	return tx, nil
}
