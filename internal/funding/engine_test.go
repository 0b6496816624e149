package funding

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"fx-backoffice/internal/mt5"
	"fx-backoffice/internal/types"
)

func newTestEngine(t *testing.T, store *fakeStore, gw *fakeGateway) (*Engine, *fakeNotifier) {
	t.Helper()
	notifier := &fakeNotifier{}
	eng := NewEngine(EngineConfig{
		Store:       store,
		Gateway:     gw,
		Accounts:    &fakeAccounts{owned: map[string][]string{"u1": {"100001", "100002"}}},
		Notifier:    notifier,
		Payments:    &fakePayments{enabled: true},
		CallbackKey: "test-key",
		TransferMin: decimal.NewFromInt(1),
		TransferMax: decimal.NewFromInt(10000),
	})
	return eng, notifier
}

func pendingDeposit(t *testing.T, store *fakeStore, amount int64) Deposit {
	t.Helper()
	d := Deposit{UserID: "u1", AccountRef: "100001", Amount: decimal.NewFromInt(amount),
		Currency: "USD", Method: types.DepositMethodManual, ExternalTxID: "ext-1"}
	require.NoError(t, store.CreateDeposit(context.Background(), &d))
	return d
}

func TestApproveDepositCompletes(t *testing.T) {
	store := newFakeStore()
	gw := newFakeGateway()
	eng, _ := newTestEngine(t, store, gw)
	d := pendingDeposit(t, store, 500)

	got, err := eng.ApproveDeposit(context.Background(), d.ID, "ops")
	require.NoError(t, err)
	assert.Equal(t, types.StatusCompleted, got.Status)
	assert.Equal(t, 1, gw.creditCount())
	require.NotNil(t, got.ReceivedAmount)
	assert.True(t, got.ReceivedAmount.Equal(decimal.NewFromInt(500)))
}

func TestApproveDepositGatewayRejectionIsData(t *testing.T) {
	store := newFakeStore()
	gw := newFakeGateway()
	gw.creditFn = func(string) (mt5.Result, error) {
		return mt5.Result{Success: false, Message: "account blocked"}, nil
	}
	eng, _ := newTestEngine(t, store, gw)
	d := pendingDeposit(t, store, 500)

	got, err := eng.ApproveDeposit(context.Background(), d.ID, "ops")
	require.NoError(t, err)
	assert.Equal(t, types.StatusFailed, got.Status)
	assert.Equal(t, "account blocked", got.RejectionReason)
}

func TestApproveDepositUnknownOutcomeParksApproved(t *testing.T) {
	store := newFakeStore()
	gw := newFakeGateway()
	gw.creditFn = func(string) (mt5.Result, error) {
		return mt5.Result{}, mt5.ErrUnknownOutcome
	}
	eng, notifier := newTestEngine(t, store, gw)
	d := pendingDeposit(t, store, 500)

	_, err := eng.ApproveDeposit(context.Background(), d.ID, "ops")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrUnknownOutcome)

	parked, gerr := store.GetDeposit(context.Background(), d.ID)
	require.NoError(t, gerr)
	assert.Equal(t, types.StatusApproved, parked.Status, "unknown outcome must never look failed")
	assert.Eventually(t, func() bool { return notifier.alertCount() == 1 },
		time.Second, 10*time.Millisecond)
}

func TestApproveDepositTwiceConflicts(t *testing.T) {
	store := newFakeStore()
	gw := newFakeGateway()
	eng, _ := newTestEngine(t, store, gw)
	d := pendingDeposit(t, store, 100)

	_, err := eng.ApproveDeposit(context.Background(), d.ID, "ops")
	require.NoError(t, err)
	_, err = eng.ApproveDeposit(context.Background(), d.ID, "ops")
	assert.ErrorIs(t, err, ErrInvalidState)
	assert.Equal(t, 1, gw.creditCount())
}

func TestRejectDeposit(t *testing.T) {
	store := newFakeStore()
	gw := newFakeGateway()
	eng, _ := newTestEngine(t, store, gw)
	d := pendingDeposit(t, store, 100)

	got, err := eng.RejectDeposit(context.Background(), d.ID, "ops", "kyc mismatch")
	require.NoError(t, err)
	assert.Equal(t, types.StatusRejected, got.Status)
	assert.Equal(t, "kyc mismatch", got.RejectionReason)
	assert.Zero(t, gw.creditCount())
}

func TestRequestDepositCryptoCreatesOrder(t *testing.T) {
	store := newFakeStore()
	gw := newFakeGateway()
	eng, _ := newTestEngine(t, store, gw)

	d, err := eng.RequestDeposit(context.Background(), "u1", "100001",
		decimal.NewFromInt(250), "usd", types.DepositMethodCrypto)
	require.NoError(t, err)
	assert.Equal(t, "USD", d.Currency)
	assert.NotEmpty(t, d.ExternalTxID)
	assert.NotEmpty(t, d.PaymentURL)
	assert.NotEmpty(t, d.ProviderOrderNo)
}

func TestRequestDepositOrderFailureClosesRecord(t *testing.T) {
	store := newFakeStore()
	gw := newFakeGateway()
	notifier := &fakeNotifier{}
	eng := NewEngine(EngineConfig{
		Store:    store,
		Gateway:  gw,
		Accounts: &fakeAccounts{owned: map[string][]string{"u1": {"100001"}}},
		Notifier: notifier,
		Payments: &fakePayments{enabled: true, fail: true},
	})

	_, err := eng.RequestDeposit(context.Background(), "u1", "100001",
		decimal.NewFromInt(250), "USD", types.DepositMethodCard)
	require.Error(t, err)

	list, lerr := store.ListDepositsByStatus(context.Background(), types.StatusFailed, 0)
	require.NoError(t, lerr)
	require.Len(t, list, 1)
}

func TestRequestDepositUnownedAccount(t *testing.T) {
	store := newFakeStore()
	eng, _ := newTestEngine(t, store, newFakeGateway())

	_, err := eng.RequestDeposit(context.Background(), "u1", "999999",
		decimal.NewFromInt(10), "USD", types.DepositMethodManual)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestRequestWithdrawalWalletPreCheck(t *testing.T) {
	store := newFakeStore()
	store.addWallet("u1", decimal.NewFromInt(50))
	eng, _ := newTestEngine(t, store, newFakeGateway())

	_, err := eng.RequestWithdrawal(context.Background(), "u1", "",
		decimal.NewFromInt(80), "USD", "IBAN123", true)
	assert.ErrorIs(t, err, ErrInsufficientFunds)

	wd, err := eng.RequestWithdrawal(context.Background(), "u1", "",
		decimal.NewFromInt(30), "USD", "IBAN123", true)
	require.NoError(t, err)
	require.NotNil(t, wd.WalletID)
	assert.Equal(t, types.StatusPending, wd.Status)
}

func TestApproveWalletWithdrawalDebitsOnce(t *testing.T) {
	store := newFakeStore()
	store.addWallet("u1", decimal.NewFromInt(100))
	gw := newFakeGateway()
	eng, _ := newTestEngine(t, store, gw)

	wd, err := eng.RequestWithdrawal(context.Background(), "u1", "",
		decimal.NewFromInt(60), "USD", "IBAN123", true)
	require.NoError(t, err)

	got, err := eng.ApproveWithdrawal(context.Background(), wd.ID, "ops")
	require.NoError(t, err)
	assert.Equal(t, types.StatusApproved, got.Status)

	w, _ := store.GetWalletForUser(context.Background(), "u1")
	assert.True(t, w.Balance.Equal(decimal.NewFromInt(40)))
	assert.Zero(t, len(gw.debits), "wallet withdrawals never touch the external ledger")

	_, err = eng.ApproveWithdrawal(context.Background(), wd.ID, "ops")
	assert.ErrorIs(t, err, ErrInvalidState)
	w, _ = store.GetWalletForUser(context.Background(), "u1")
	assert.True(t, w.Balance.Equal(decimal.NewFromInt(40)), "replayed approval must not debit again")
}

func TestApproveWalletWithdrawalBalanceMoved(t *testing.T) {
	store := newFakeStore()
	w := store.addWallet("u1", decimal.NewFromInt(100))
	eng, _ := newTestEngine(t, store, newFakeGateway())

	wd, err := eng.RequestWithdrawal(context.Background(), "u1", "",
		decimal.NewFromInt(80), "USD", "IBAN123", true)
	require.NoError(t, err)

	// Balance drops between request and review.
	store.mu.Lock()
	w.Balance = decimal.NewFromInt(10)
	store.mu.Unlock()

	_, err = eng.ApproveWithdrawal(context.Background(), wd.ID, "ops")
	assert.ErrorIs(t, err, ErrInsufficientFunds)

	got, _ := store.GetWithdrawal(context.Background(), wd.ID)
	assert.Equal(t, types.StatusPending, got.Status, "withdrawal stays pending for the user to amend")
}

func TestApproveAccountWithdrawalDebitsGateway(t *testing.T) {
	store := newFakeStore()
	gw := newFakeGateway()
	eng, _ := newTestEngine(t, store, gw)

	wd, err := eng.RequestWithdrawal(context.Background(), "u1", "100001",
		decimal.NewFromInt(75), "USD", "IBAN123", false)
	require.NoError(t, err)

	got, err := eng.ApproveWithdrawal(context.Background(), wd.ID, "ops")
	require.NoError(t, err)
	assert.Equal(t, types.StatusCompleted, got.Status)
	assert.Equal(t, []string{"100001"}, gw.debits)
}

func TestApproveAccountWithdrawalUnknownOutcome(t *testing.T) {
	store := newFakeStore()
	gw := newFakeGateway()
	gw.debitFn = func(string) (mt5.Result, error) {
		return mt5.Result{}, mt5.ErrUnknownOutcome
	}
	eng, notifier := newTestEngine(t, store, gw)

	wd, err := eng.RequestWithdrawal(context.Background(), "u1", "100001",
		decimal.NewFromInt(75), "USD", "IBAN123", false)
	require.NoError(t, err)

	_, err = eng.ApproveWithdrawal(context.Background(), wd.ID, "ops")
	assert.ErrorIs(t, err, ErrUnknownOutcome)

	got, _ := store.GetWithdrawal(context.Background(), wd.ID)
	assert.Equal(t, types.StatusApproved, got.Status)
	assert.Eventually(t, func() bool { return notifier.alertCount() == 1 },
		time.Second, 10*time.Millisecond)
}

func TestConcurrentWalletWithdrawalsOnlyOneSucceeds(t *testing.T) {
	store := newFakeStore()
	w := store.addWallet("u1", decimal.NewFromInt(100))
	gw := newFakeGateway()
	eng, _ := newTestEngine(t, store, gw)
	ctx := context.Background()

	ids := make([]string, 2)
	for i := range ids {
		wd := Withdrawal{UserID: "u1", WalletID: &w.ID,
			Amount: decimal.NewFromInt(80), Currency: "USD"}
		require.NoError(t, store.CreateWithdrawal(ctx, &wd))
		ids[i] = wd.ID
	}

	errs := make(chan error, len(ids))
	var wg sync.WaitGroup
	for _, id := range ids {
		wg.Add(1)
		go func(id string) {
			defer wg.Done()
			_, err := eng.ApproveWithdrawal(ctx, id, "ops")
			errs <- err
		}(id)
	}
	wg.Wait()
	close(errs)

	succeeded, insufficient := 0, 0
	for err := range errs {
		switch {
		case err == nil:
			succeeded++
		case errors.Is(err, ErrInsufficientFunds):
			insufficient++
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}
	assert.Equal(t, 1, succeeded)
	assert.Equal(t, 1, insufficient)

	got, _ := store.GetWalletForUser(ctx, "u1")
	assert.True(t, got.Balance.Equal(decimal.NewFromInt(20)))
}

func TestRetryDepositCreditCompletesParkedDeposit(t *testing.T) {
	store := newFakeStore()
	gw := newFakeGateway()
	gw.creditFn = func(string) (mt5.Result, error) {
		return mt5.Result{}, mt5.ErrUnknownOutcome
	}
	eng, _ := newTestEngine(t, store, gw)
	d := pendingDeposit(t, store, 500)

	_, err := eng.ApproveDeposit(context.Background(), d.ID, "ops")
	require.ErrorIs(t, err, mt5.ErrUnknownOutcome)

	gw.creditFn = nil
	got, err := eng.RetryDepositCredit(context.Background(), d.ID, "ops")
	require.NoError(t, err)
	assert.Equal(t, types.StatusCompleted, got.Status)
	assert.Equal(t, 2, gw.creditCount())
}

func TestRetryDepositCreditRequiresParkedState(t *testing.T) {
	store := newFakeStore()
	gw := newFakeGateway()
	eng, _ := newTestEngine(t, store, gw)
	d := pendingDeposit(t, store, 500)

	_, err := eng.RetryDepositCredit(context.Background(), d.ID, "ops")
	assert.ErrorIs(t, err, ErrInvalidState, "pending deposits go through approval, not retry")
	assert.Zero(t, gw.creditCount())

	_, err = eng.ApproveDeposit(context.Background(), d.ID, "ops")
	require.NoError(t, err)
	_, err = eng.RetryDepositCredit(context.Background(), d.ID, "ops")
	assert.ErrorIs(t, err, ErrInvalidState, "completed deposits cannot be re-credited")
	assert.Equal(t, 1, gw.creditCount())
}
