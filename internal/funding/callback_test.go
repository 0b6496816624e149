package funding

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"fx-backoffice/internal/cregis"
	"fx-backoffice/internal/mt5"
	"fx-backoffice/internal/types"
)

// signedCallback builds a webhook payload carrying a valid signature for the
// engine's test key.
func signedCallback(t *testing.T, cb cregis.Callback) cregis.Callback {
	t.Helper()
	cb.Sign = cregis.Sign(map[string]string{
		"pid":            cb.Pid,
		"cid":            cb.Cid,
		"order_no":       cb.OrderNo,
		"third_party_id": cb.ThirdPartyID,
		"status":         cb.Status,
		"order_amount":   cb.OrderAmount,
		"paid_amount":    cb.PaidAmount,
		"currency":       cb.Currency,
		"tx_id":          cb.TxID,
		"address":        cb.Address,
		"timestamp":      cb.Timestamp,
	}, "test-key")
	return cb
}

func TestHandleCallbackBadSignature(t *testing.T) {
	store := newFakeStore()
	gw := newFakeGateway()
	eng, _ := newTestEngine(t, store, gw)
	d := pendingDeposit(t, store, 100)

	cb := cregis.Callback{ThirdPartyID: d.ExternalTxID, Status: "paid", Sign: "forged"}
	err := eng.HandleCallback(context.Background(), cb)
	assert.ErrorIs(t, err, ErrCallbackSignature)
	assert.Zero(t, gw.creditCount())

	got, _ := store.GetDeposit(context.Background(), d.ID)
	assert.Equal(t, types.StatusPending, got.Status, "forged callback changes nothing")
}

func TestHandleCallbackPaidCreditsAndCompletes(t *testing.T) {
	store := newFakeStore()
	gw := newFakeGateway()
	eng, _ := newTestEngine(t, store, gw)
	d := pendingDeposit(t, store, 100)

	cb := signedCallback(t, cregis.Callback{
		ThirdPartyID: d.ExternalTxID,
		Status:       "paid",
		PaidAmount:   "99.5",
		TxID:         "0xabc",
	})
	require.NoError(t, eng.HandleCallback(context.Background(), cb))

	assert.Equal(t, 1, gw.creditCount())
	got, _ := store.GetDeposit(context.Background(), d.ID)
	assert.Equal(t, types.StatusCompleted, got.Status)
	require.NotNil(t, got.ReceivedAmount)
	assert.True(t, got.ReceivedAmount.Equal(decimal.NewFromFloat(99.5)),
		"completion records what was actually paid, not the quote")
	assert.Equal(t, "0xabc", got.TxHash)
}

func TestHandleCallbackReplayCreditsOnce(t *testing.T) {
	store := newFakeStore()
	gw := newFakeGateway()
	eng, _ := newTestEngine(t, store, gw)
	d := pendingDeposit(t, store, 100)

	cb := signedCallback(t, cregis.Callback{
		ThirdPartyID: d.ExternalTxID, Status: "paid", PaidAmount: "100",
	})
	require.NoError(t, eng.HandleCallback(context.Background(), cb))
	require.NoError(t, eng.HandleCallback(context.Background(), cb), "replay is a silent no-op")
	require.NoError(t, eng.HandleCallback(context.Background(), cb))

	assert.Equal(t, 1, gw.creditCount())
}

func TestHandleCallbackFailedStatus(t *testing.T) {
	store := newFakeStore()
	gw := newFakeGateway()
	eng, _ := newTestEngine(t, store, gw)
	d := pendingDeposit(t, store, 100)

	cb := signedCallback(t, cregis.Callback{ThirdPartyID: d.ExternalTxID, Status: "expired"})
	require.NoError(t, eng.HandleCallback(context.Background(), cb))

	got, _ := store.GetDeposit(context.Background(), d.ID)
	assert.Equal(t, types.StatusFailed, got.Status)
	assert.Zero(t, gw.creditCount())

	// A late replay of the failure is still acknowledged.
	require.NoError(t, eng.HandleCallback(context.Background(), cb))
}

func TestHandleCallbackUnmatched(t *testing.T) {
	store := newFakeStore()
	gw := newFakeGateway()
	eng, notifier := newTestEngine(t, store, gw)

	cb := signedCallback(t, cregis.Callback{
		ThirdPartyID: "no-such-ref", OrderNo: "CRG-404", Status: "paid", PaidAmount: "10",
	})
	err := eng.HandleCallback(context.Background(), cb)
	assert.ErrorIs(t, err, ErrCallbackUnmatched)
	assert.Zero(t, gw.creditCount())
	assert.Eventually(t, func() bool { return notifier.alertCount() == 1 },
		time.Second, 10*time.Millisecond)
}

func TestHandleCallbackIgnoresIntermediateStatus(t *testing.T) {
	store := newFakeStore()
	gw := newFakeGateway()
	eng, _ := newTestEngine(t, store, gw)
	d := pendingDeposit(t, store, 100)

	cb := signedCallback(t, cregis.Callback{ThirdPartyID: d.ExternalTxID, Status: "confirming"})
	require.NoError(t, eng.HandleCallback(context.Background(), cb))

	got, _ := store.GetDeposit(context.Background(), d.ID)
	assert.Equal(t, types.StatusPending, got.Status)
	assert.Zero(t, gw.creditCount())
}

func TestHandleCallbackAmountFallsBackToRequested(t *testing.T) {
	store := newFakeStore()
	gw := newFakeGateway()
	eng, _ := newTestEngine(t, store, gw)
	d := pendingDeposit(t, store, 250)

	// No paid_amount, no details, no order_amount in the payload.
	cb := signedCallback(t, cregis.Callback{ThirdPartyID: d.ExternalTxID, Status: "paid"})
	require.NoError(t, eng.HandleCallback(context.Background(), cb))

	got, _ := store.GetDeposit(context.Background(), d.ID)
	require.NotNil(t, got.ReceivedAmount)
	assert.True(t, got.ReceivedAmount.Equal(decimal.NewFromInt(250)))
}

func TestHandleCallbackSumsPaymentDetails(t *testing.T) {
	store := newFakeStore()
	gw := newFakeGateway()
	eng, _ := newTestEngine(t, store, gw)
	d := pendingDeposit(t, store, 300)

	cb := signedCallback(t, cregis.Callback{ThirdPartyID: d.ExternalTxID, Status: "paid"})
	cb.Details = []cregis.PaymentDetail{
		{Amount: "120", TxID: "0xaaa"},
		{Amount: "180", TxID: "0xbbb"},
	}
	require.NoError(t, eng.HandleCallback(context.Background(), cb))

	got, _ := store.GetDeposit(context.Background(), d.ID)
	require.NotNil(t, got.ReceivedAmount)
	assert.True(t, got.ReceivedAmount.Equal(decimal.NewFromInt(300)))
	assert.Equal(t, "0xaaa", got.TxHash)
}

func TestHandleCallbackUnknownCreditOutcomeParks(t *testing.T) {
	store := newFakeStore()
	gw := newFakeGateway()
	gw.creditFn = func(string) (mt5.Result, error) {
		return mt5.Result{}, mt5.ErrUnknownOutcome
	}
	eng, notifier := newTestEngine(t, store, gw)
	d := pendingDeposit(t, store, 100)

	cb := signedCallback(t, cregis.Callback{ThirdPartyID: d.ExternalTxID, Status: "paid", PaidAmount: "100"})
	err := eng.HandleCallback(context.Background(), cb)
	assert.ErrorIs(t, err, ErrUnknownOutcome)

	got, _ := store.GetDeposit(context.Background(), d.ID)
	assert.Equal(t, types.StatusApproved, got.Status, "parked for reconciliation, never failed")
	assert.Eventually(t, func() bool { return notifier.alertCount() == 1 },
		time.Second, 10*time.Millisecond)
}

func TestHandleCallbackGatewayRejectionFailsDeposit(t *testing.T) {
	store := newFakeStore()
	gw := newFakeGateway()
	gw.creditFn = func(string) (mt5.Result, error) {
		return mt5.Result{Success: false, Message: "account archived"}, nil
	}
	eng, notifier := newTestEngine(t, store, gw)
	d := pendingDeposit(t, store, 100)

	cb := signedCallback(t, cregis.Callback{ThirdPartyID: d.ExternalTxID, Status: "paid", PaidAmount: "100"})
	require.NoError(t, eng.HandleCallback(context.Background(), cb), "a classified rejection is still acknowledged")

	got, _ := store.GetDeposit(context.Background(), d.ID)
	assert.Equal(t, types.StatusFailed, got.Status)
	assert.Equal(t, "account archived", got.RejectionReason)
	assert.Eventually(t, func() bool { return notifier.alertCount() == 1 },
		time.Second, 10*time.Millisecond)
}

func TestHandleCallbackNoAutoRetryAfterUnknownOutcome(t *testing.T) {
	store := newFakeStore()
	gw := newFakeGateway()
	gw.creditFn = func(string) (mt5.Result, error) {
		return mt5.Result{}, mt5.ErrUnknownOutcome
	}
	eng, _ := newTestEngine(t, store, gw)
	d := pendingDeposit(t, store, 100)

	cb := signedCallback(t, cregis.Callback{ThirdPartyID: d.ExternalTxID, Status: "paid", PaidAmount: "100"})
	err := eng.HandleCallback(context.Background(), cb)
	require.ErrorIs(t, err, ErrUnknownOutcome)

	// The provider redelivers; the parked row must not trigger a second
	// credit even though the gateway has recovered.
	gw.creditFn = nil
	require.NoError(t, eng.HandleCallback(context.Background(), cb))

	got, _ := store.GetDeposit(context.Background(), d.ID)
	assert.Equal(t, types.StatusApproved, got.Status, "stays parked until an operator intervenes")
	assert.Equal(t, 1, gw.creditCount())
}
