package funding

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"fx-backoffice/internal/cregis"
	"fx-backoffice/internal/mt5"
	"fx-backoffice/internal/types"
	"fx-backoffice/internal/wallet"
)

// fakeStore keeps everything in maps guarded by one mutex so concurrency
// tests exercise the same serialization the row locks provide in Postgres.
type fakeStore struct {
	mu          sync.Mutex
	seq         int
	deposits    map[string]*Deposit
	withdrawals map[string]*Withdrawal
	wallets     map[string]*wallet.Wallet
	walletTxs   []WalletTransaction
	accountTxs  []AccountTransaction
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		deposits:    make(map[string]*Deposit),
		withdrawals: make(map[string]*Withdrawal),
		wallets:     make(map[string]*wallet.Wallet),
	}
}

func (s *fakeStore) nextID() string {
	s.seq++
	return fmt.Sprintf("id-%d", s.seq)
}

func (s *fakeStore) addWallet(userID string, balance decimal.Decimal) *wallet.Wallet {
	s.mu.Lock()
	defer s.mu.Unlock()
	w := &wallet.Wallet{ID: s.nextID(), UserID: userID, WalletNumber: "W" + userID, Balance: balance}
	s.wallets[userID] = w
	return w
}

func (s *fakeStore) CreateDeposit(ctx context.Context, d *Deposit) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	d.ID = s.nextID()
	d.Status = types.StatusPending
	d.SubmittedAt = time.Now()
	cp := *d
	s.deposits[d.ID] = &cp
	s.accountTxs = append(s.accountTxs, AccountTransaction{
		ID: s.nextID(), UserID: d.UserID, AccountRef: d.AccountRef,
		Type: types.AccountTxDeposit, Amount: d.Amount, Status: types.StatusPending, DepositID: &cp.ID,
	})
	return nil
}

func (s *fakeStore) GetDeposit(ctx context.Context, id string) (Deposit, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	d, ok := s.deposits[id]
	if !ok {
		return Deposit{}, ErrNotFound
	}
	return *d, nil
}

func (s *fakeStore) ListDeposits(ctx context.Context, userID string, limit int) ([]Deposit, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []Deposit
	for _, d := range s.deposits {
		if d.UserID == userID {
			out = append(out, *d)
		}
	}
	return out, nil
}

func (s *fakeStore) ListDepositsByStatus(ctx context.Context, status types.SettlementStatus, limit int) ([]Deposit, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []Deposit
	for _, d := range s.deposits {
		if d.Status == status {
			out = append(out, *d)
		}
	}
	return out, nil
}

func (s *fakeStore) FindDepositByCorrelation(ctx context.Context, candidates []string) (Deposit, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, key := range candidates {
		if key == "" {
			continue
		}
		for _, d := range s.deposits {
			if d.ExternalTxID == key || d.ProviderOrderNo == key {
				return *d, nil
			}
		}
	}
	return Deposit{}, ErrNotFound
}

func (s *fakeStore) SetDepositPaymentOrder(ctx context.Context, id, providerOrderNo, paymentURL string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	d, ok := s.deposits[id]
	if !ok || d.Status != types.StatusPending {
		return ErrInvalidState
	}
	d.ProviderOrderNo = providerOrderNo
	d.PaymentURL = paymentURL
	return nil
}

func (s *fakeStore) ApproveDeposit(ctx context.Context, id, reviewer string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	d, ok := s.deposits[id]
	if !ok || d.Status != types.StatusPending {
		return ErrInvalidState
	}
	d.Status = types.StatusApproved
	d.ApprovedBy = reviewer
	return nil
}

func (s *fakeStore) GateDepositForCredit(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	d, ok := s.deposits[id]
	if !ok {
		return ErrInvalidState
	}
	if d.Status != types.StatusPending {
		return ErrInvalidState
	}
	d.Status = types.StatusApproved
	return nil
}

func (s *fakeStore) CompleteDeposit(ctx context.Context, id string, received decimal.Decimal, txHash string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	d, ok := s.deposits[id]
	if !ok || d.Status != types.StatusApproved {
		return ErrInvalidState
	}
	d.Status = types.StatusCompleted
	d.ReceivedAmount = &received
	d.TxHash = txHash
	return nil
}

func (s *fakeStore) FailDeposit(ctx context.Context, id, message string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	d, ok := s.deposits[id]
	if !ok {
		return ErrInvalidState
	}
	if d.Status != types.StatusPending && d.Status != types.StatusApproved {
		return ErrInvalidState
	}
	d.Status = types.StatusFailed
	d.RejectionReason = message
	return nil
}

func (s *fakeStore) RejectDeposit(ctx context.Context, id, reviewer, reason string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	d, ok := s.deposits[id]
	if !ok || d.Status != types.StatusPending {
		return ErrInvalidState
	}
	d.Status = types.StatusRejected
	d.ApprovedBy = reviewer
	d.RejectionReason = reason
	return nil
}

func (s *fakeStore) CreateWithdrawal(ctx context.Context, wd *Withdrawal) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	wd.ID = s.nextID()
	wd.Status = types.StatusPending
	wd.SubmittedAt = time.Now()
	cp := *wd
	s.withdrawals[wd.ID] = &cp
	return nil
}

func (s *fakeStore) GetWithdrawal(ctx context.Context, id string) (Withdrawal, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	wd, ok := s.withdrawals[id]
	if !ok {
		return Withdrawal{}, ErrNotFound
	}
	return *wd, nil
}

func (s *fakeStore) ListWithdrawals(ctx context.Context, userID string, limit int) ([]Withdrawal, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []Withdrawal
	for _, wd := range s.withdrawals {
		if wd.UserID == userID {
			out = append(out, *wd)
		}
	}
	return out, nil
}

func (s *fakeStore) ListWithdrawalsByStatus(ctx context.Context, status types.SettlementStatus, limit int) ([]Withdrawal, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []Withdrawal
	for _, wd := range s.withdrawals {
		if wd.Status == status {
			out = append(out, *wd)
		}
	}
	return out, nil
}

func (s *fakeStore) ApproveWalletWithdrawal(ctx context.Context, id, walletID string, amount decimal.Decimal, reviewer string) (decimal.Decimal, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var w *wallet.Wallet
	for _, cand := range s.wallets {
		if cand.ID == walletID {
			w = cand
			break
		}
	}
	if w == nil {
		return decimal.Zero, ErrNotFound
	}
	if w.Balance.LessThan(amount) {
		return decimal.Zero, ErrInsufficientFunds
	}
	wd, ok := s.withdrawals[id]
	if !ok || wd.Status != types.StatusPending {
		return decimal.Zero, ErrInvalidState
	}
	wd.Status = types.StatusApproved
	wd.ApprovedBy = reviewer
	w.Balance = w.Balance.Sub(amount)
	s.walletTxs = append(s.walletTxs, WalletTransaction{
		ID: s.nextID(), WalletID: walletID, UserID: wd.UserID,
		Type: types.WalletTxWalletWithdrawal, Amount: amount, Status: types.StatusCompleted, WithdrawalID: &id,
	})
	return w.Balance, nil
}

func (s *fakeStore) ApproveWithdrawal(ctx context.Context, id, reviewer string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	wd, ok := s.withdrawals[id]
	if !ok || wd.Status != types.StatusPending {
		return ErrInvalidState
	}
	wd.Status = types.StatusApproved
	wd.ApprovedBy = reviewer
	return nil
}

func (s *fakeStore) CompleteWithdrawal(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	wd, ok := s.withdrawals[id]
	if !ok || wd.Status != types.StatusApproved {
		return ErrInvalidState
	}
	wd.Status = types.StatusCompleted
	return nil
}

func (s *fakeStore) FailWithdrawal(ctx context.Context, id, message string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	wd, ok := s.withdrawals[id]
	if !ok {
		return ErrInvalidState
	}
	if wd.Status != types.StatusPending && wd.Status != types.StatusApproved {
		return ErrInvalidState
	}
	wd.Status = types.StatusFailed
	wd.RejectionReason = message
	return nil
}

func (s *fakeStore) RejectWithdrawal(ctx context.Context, id, reviewer, reason string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	wd, ok := s.withdrawals[id]
	if !ok || wd.Status != types.StatusPending {
		return ErrInvalidState
	}
	wd.Status = types.StatusRejected
	wd.ApprovedBy = reviewer
	wd.RejectionReason = reason
	return nil
}

func (s *fakeStore) RecordTransferPair(ctx context.Context, userID, transferID, fromRef, toRef string, amount decimal.Decimal) (Transfer, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := AccountTransaction{
		ID: s.nextID(), UserID: userID, AccountRef: fromRef,
		Type: types.AccountTxTransferOut, Amount: amount, Status: types.StatusCompleted, TransferID: transferID,
	}
	in := AccountTransaction{
		ID: s.nextID(), UserID: userID, AccountRef: toRef,
		Type: types.AccountTxTransferIn, Amount: amount, Status: types.StatusCompleted, TransferID: transferID,
		PairID: &out.ID,
	}
	out.PairID = &in.ID
	s.accountTxs = append(s.accountTxs, out, in)
	return Transfer{TransferID: transferID, FromRef: fromRef, ToRef: toRef, Amount: amount,
		OutTxID: out.ID, InTxID: in.ID, CreatedAt: time.Now()}, nil
}

func (s *fakeStore) GetWalletForUser(ctx context.Context, userID string) (wallet.Wallet, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	w, ok := s.wallets[userID]
	if !ok {
		return wallet.Wallet{}, ErrNotFound
	}
	return *w, nil
}

func (s *fakeStore) CreditWalletFromAccount(ctx context.Context, userID, accountRef string, amount decimal.Decimal) (WalletTransaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	w, ok := s.wallets[userID]
	if !ok {
		w = &wallet.Wallet{ID: s.nextID(), UserID: userID, WalletNumber: "W" + userID}
		s.wallets[userID] = w
	}
	w.Balance = w.Balance.Add(amount)
	wt := WalletTransaction{ID: s.nextID(), WalletID: w.ID, UserID: userID,
		Type: types.WalletTxMT5ToWallet, Amount: amount, Status: types.StatusCompleted, Reference: accountRef}
	s.walletTxs = append(s.walletTxs, wt)
	return wt, nil
}

func (s *fakeStore) DebitWalletForAccount(ctx context.Context, userID, accountRef string, amount decimal.Decimal) (WalletTransaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	w, ok := s.wallets[userID]
	if !ok || w.Balance.LessThan(amount) {
		return WalletTransaction{}, ErrInsufficientFunds
	}
	w.Balance = w.Balance.Sub(amount)
	wt := WalletTransaction{ID: s.nextID(), WalletID: w.ID, UserID: userID,
		Type: types.WalletTxWalletToMT5, Amount: amount, Status: types.StatusCompleted, Reference: accountRef}
	s.walletTxs = append(s.walletTxs, wt)
	return wt, nil
}

func (s *fakeStore) ListWalletTransactions(ctx context.Context, userID string, limit int) ([]WalletTransaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []WalletTransaction
	for _, wt := range s.walletTxs {
		if wt.UserID == userID {
			out = append(out, wt)
		}
	}
	return out, nil
}

func (s *fakeStore) transferRowCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, tx := range s.accountTxs {
		if tx.TransferID != "" {
			n++
		}
	}
	return n
}

// fakeGateway replays scripted responses per account and op, and counts the
// calls so tests can assert exactly-once behavior.
type fakeGateway struct {
	mu       sync.Mutex
	balances map[string]decimal.Decimal
	creditFn func(accountRef string) (mt5.Result, error)
	debitFn  func(accountRef string) (mt5.Result, error)
	credits  []string
	debits   []string
}

func newFakeGateway() *fakeGateway {
	return &fakeGateway{balances: make(map[string]decimal.Decimal)}
}

func (g *fakeGateway) Credit(ctx context.Context, accountRef string, amount decimal.Decimal, memo string) (mt5.Result, error) {
	g.mu.Lock()
	g.credits = append(g.credits, accountRef)
	fn := g.creditFn
	g.mu.Unlock()
	if fn != nil {
		return fn(accountRef)
	}
	return mt5.Result{Success: true}, nil
}

func (g *fakeGateway) Debit(ctx context.Context, accountRef string, amount decimal.Decimal, memo string) (mt5.Result, error) {
	g.mu.Lock()
	g.debits = append(g.debits, accountRef)
	fn := g.debitFn
	g.mu.Unlock()
	if fn != nil {
		return fn(accountRef)
	}
	return mt5.Result{Success: true}, nil
}

func (g *fakeGateway) Balance(ctx context.Context, accountRef string) (decimal.Decimal, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if b, ok := g.balances[accountRef]; ok {
		return b, nil
	}
	return decimal.NewFromInt(1_000_000), nil
}

func (g *fakeGateway) creditCount() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.credits)
}

type fakeAccounts struct {
	owned map[string][]string
}

func (a *fakeAccounts) ResolveOwned(ctx context.Context, userID, accountRef string) (string, error) {
	for _, ref := range a.owned[userID] {
		if ref == accountRef {
			return ref, nil
		}
	}
	return "", ErrNotFound
}

type fakeNotifier struct {
	mu     sync.Mutex
	users  []string
	alerts []string
}

func (n *fakeNotifier) NotifyUser(ctx context.Context, userID, title, message string) {
	n.mu.Lock()
	n.users = append(n.users, userID+": "+title)
	n.mu.Unlock()
}

func (n *fakeNotifier) Alert(ctx context.Context, message string) {
	n.mu.Lock()
	n.alerts = append(n.alerts, message)
	n.mu.Unlock()
}

func (n *fakeNotifier) alertCount() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.alerts)
}

type fakePayments struct {
	enabled bool
	fail    bool
	orders  int
}

func (p *fakePayments) Enabled() bool { return p.enabled }

func (p *fakePayments) CreateOrder(ctx context.Context, amount decimal.Decimal, currency, orderRef string) (cregis.Order, error) {
	if p.fail {
		return cregis.Order{}, fmt.Errorf("provider unavailable")
	}
	p.orders++
	return cregis.Order{OrderID: "ord-" + orderRef, PaymentURL: "https://pay.example/" + orderRef}, nil
}
