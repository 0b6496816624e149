package funding

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"fx-backoffice/internal/audit"
	"fx-backoffice/internal/cregis"
	"fx-backoffice/internal/types"
)

// HandleCallback reconciles a payment-provider webhook against the deposit it
// funds. The provider retries until acknowledged and may deliver the same
// event many times, so the whole path is replay-safe: the pending→approved
// gate in the store admits exactly one delivery to the credit call, and every
// later delivery dead-ends on ErrInvalidState and reports success.
//
// The returned error is for logging and alerting only. The HTTP handler
// acknowledges the provider regardless, because a 5xx would only trigger a
// retry of an event we have already classified.
func (e *Engine) HandleCallback(ctx context.Context, cb cregis.Callback) error {
	if !cb.Verify(e.callbackKey) {
		e.logger.Warn("callback signature rejected",
			zap.String("order_no", cb.OrderNo),
			zap.String("third_party_id", cb.ThirdPartyID))
		return ErrCallbackSignature
	}

	outcome := cb.Outcome()
	if outcome == cregis.OutcomeIgnore {
		e.logger.Info("callback with non-final status ignored",
			zap.String("order_no", cb.OrderNo),
			zap.String("status", cb.Status))
		return nil
	}

	d, err := e.store.FindDepositByCorrelation(ctx, cb.CorrelationIDs())
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			e.logger.Error("callback matched no deposit",
				zap.String("order_no", cb.OrderNo),
				zap.String("third_party_id", cb.ThirdPartyID),
				zap.String("status", cb.Status))
			e.record(ctx, audit.Event{Kind: "callback.unmatched",
				Status: cb.Status, Message: "order_no=" + cb.OrderNo + " third_party_id=" + cb.ThirdPartyID})
			e.alertAsync(fmt.Sprintf("payment callback matched no deposit: order_no=%s third_party_id=%s status=%s",
				cb.OrderNo, cb.ThirdPartyID, cb.Status))
			return fmt.Errorf("%w: order_no=%s", ErrCallbackUnmatched, cb.OrderNo)
		}
		return err
	}

	if outcome == cregis.OutcomeFailed {
		err := e.store.FailDeposit(ctx, d.ID, "payment "+cb.Status)
		if errors.Is(err, ErrInvalidState) {
			// Already settled one way or the other; replays change nothing.
			return nil
		}
		if err != nil {
			return err
		}
		e.record(ctx, audit.Event{Kind: "deposit.payment_failed", RecordID: d.ID,
			UserID: d.UserID, Status: string(types.StatusFailed), Message: cb.Status})
		e.notifyAsync(d.UserID, "Deposit failed",
			fmt.Sprintf("Your payment for deposit of %s %s was not completed (%s).", d.Amount.StringFixed(2), d.Currency, cb.Status))
		e.publish(d.UserID, "deposit.failed", map[string]string{"deposit_id": d.ID})
		return nil
	}

	received, ok := cb.ReceivedAmount()
	if !ok {
		received = d.Amount
	}

	if err := e.store.GateDepositForCredit(ctx, d.ID); err != nil {
		if errors.Is(err, ErrInvalidState) {
			return nil
		}
		return err
	}

	memo := fmt.Sprintf("Deposit #%s", d.ID)
	res, err := e.gateway.Credit(ctx, d.AccountRef, received, memo)
	if err != nil {
		if errors.Is(err, ErrUnknownOutcome) {
			// Row stays approved for operator reconciliation; the
			// provider still gets its ack so it stops retrying.
			e.logger.Error("callback credit outcome unknown, deposit parked",
				zap.String("deposit_id", d.ID),
				zap.String("account", d.AccountRef),
				zap.Error(err))
			e.record(ctx, audit.Event{Kind: "deposit.unknown_outcome", RecordID: d.ID,
				UserID: d.UserID, Amount: received.String(), Message: err.Error()})
			e.alertAsync(fmt.Sprintf("deposit %s: payment received but MT5 credit outcome unknown, verify account %s",
				d.ID, d.AccountRef))
			return fmt.Errorf("deposit %s pending reconciliation: %w", d.ID, err)
		}
		return err
	}
	if !res.Success {
		if err := e.store.FailDeposit(ctx, d.ID, res.Message); err != nil {
			return err
		}
		e.record(ctx, audit.Event{Kind: "deposit.failed", RecordID: d.ID,
			UserID: d.UserID, Status: string(types.StatusFailed), Amount: received.String(), Message: res.Message})
		e.alertAsync(fmt.Sprintf("deposit %s: payment received but MT5 rejected the credit: %s", d.ID, res.Message))
		e.notifyAsync(d.UserID, "Deposit failed",
			fmt.Sprintf("Your deposit of %s %s could not be credited: %s", received.StringFixed(2), d.Currency, res.Message))
		e.publish(d.UserID, "deposit.failed", map[string]string{"deposit_id": d.ID})
		return nil
	}

	if err := e.store.CompleteDeposit(ctx, d.ID, received, cb.TxHash()); err != nil {
		e.logger.Error("deposit credited but completion not recorded",
			zap.String("deposit_id", d.ID), zap.Error(err))
		e.alertAsync(fmt.Sprintf("deposit %s: MT5 credit succeeded but local completion failed: %v", d.ID, err))
		return fmt.Errorf("deposit %s pending reconciliation: %w", d.ID, err)
	}
	e.record(ctx, audit.Event{Kind: "deposit.completed", RecordID: d.ID,
		UserID: d.UserID, Status: string(types.StatusCompleted), Amount: received.String(),
		Fields: map[string]string{"tx_hash": cb.TxHash()}})
	e.notifyAsync(d.UserID, "Deposit completed",
		fmt.Sprintf("%s %s was credited to account %s.", received.StringFixed(2), d.Currency, d.AccountRef))
	e.publish(d.UserID, "deposit.completed", map[string]string{"deposit_id": d.ID})
	return nil
}
