package funding

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"fx-backoffice/internal/types"
	"fx-backoffice/internal/wallet"
)

// Store is the durable ledger of settlement intents. Every status change is a
// conditional single-row update ("move to X only if currently Y"); a
// transition that matches no row surfaces as ErrInvalidState, which is what
// makes replayed approvals and duplicated callbacks no-ops.
type Store interface {
	CreateDeposit(ctx context.Context, d *Deposit) error
	GetDeposit(ctx context.Context, id string) (Deposit, error)
	ListDeposits(ctx context.Context, userID string, limit int) ([]Deposit, error)
	ListDepositsByStatus(ctx context.Context, status types.SettlementStatus, limit int) ([]Deposit, error)
	FindDepositByCorrelation(ctx context.Context, candidates []string) (Deposit, error)
	SetDepositPaymentOrder(ctx context.Context, id, providerOrderNo, paymentURL string) error

	ApproveDeposit(ctx context.Context, id, reviewer string) error
	GateDepositForCredit(ctx context.Context, id string) error
	CompleteDeposit(ctx context.Context, id string, received decimal.Decimal, txHash string) error
	FailDeposit(ctx context.Context, id, message string) error
	RejectDeposit(ctx context.Context, id, reviewer, reason string) error

	CreateWithdrawal(ctx context.Context, wd *Withdrawal) error
	GetWithdrawal(ctx context.Context, id string) (Withdrawal, error)
	ListWithdrawals(ctx context.Context, userID string, limit int) ([]Withdrawal, error)
	ListWithdrawalsByStatus(ctx context.Context, status types.SettlementStatus, limit int) ([]Withdrawal, error)
	ApproveWalletWithdrawal(ctx context.Context, id, walletID string, amount decimal.Decimal, reviewer string) (decimal.Decimal, error)
	ApproveWithdrawal(ctx context.Context, id, reviewer string) error
	CompleteWithdrawal(ctx context.Context, id string) error
	FailWithdrawal(ctx context.Context, id, message string) error
	RejectWithdrawal(ctx context.Context, id, reviewer, reason string) error

	RecordTransferPair(ctx context.Context, userID, transferID, fromRef, toRef string, amount decimal.Decimal) (Transfer, error)

	GetWalletForUser(ctx context.Context, userID string) (wallet.Wallet, error)
	CreditWalletFromAccount(ctx context.Context, userID, accountRef string, amount decimal.Decimal) (WalletTransaction, error)
	DebitWalletForAccount(ctx context.Context, userID, accountRef string, amount decimal.Decimal) (WalletTransaction, error)
	ListWalletTransactions(ctx context.Context, userID string, limit int) ([]WalletTransaction, error)
}

type PGStore struct {
	pool    *pgxpool.Pool
	wallets *wallet.Service
}

func NewPGStore(pool *pgxpool.Pool, wallets *wallet.Service) *PGStore {
	return &PGStore{pool: pool, wallets: wallets}
}

const depositColumns = `id, user_id, account_ref, amount, received_amount, currency, method,
	COALESCE(external_tx_id, ''), COALESCE(provider_order_no, ''), COALESCE(payment_url, ''), COALESCE(tx_hash, ''),
	status, COALESCE(rejection_reason, ''), COALESCE(approved_by, ''),
	submitted_at, approved_at, rejected_at, processed_at`

func scanDeposit(row pgx.Row) (Deposit, error) {
	var d Deposit
	err := row.Scan(&d.ID, &d.UserID, &d.AccountRef, &d.Amount, &d.ReceivedAmount, &d.Currency, &d.Method,
		&d.ExternalTxID, &d.ProviderOrderNo, &d.PaymentURL, &d.TxHash,
		&d.Status, &d.RejectionReason, &d.ApprovedBy,
		&d.SubmittedAt, &d.ApprovedAt, &d.RejectedAt, &d.ProcessedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return Deposit{}, ErrNotFound
	}
	return d, err
}

func (s *PGStore) CreateDeposit(ctx context.Context, d *Deposit) error {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	err = tx.QueryRow(ctx, `
		INSERT INTO deposits (user_id, account_ref, amount, currency, method, external_tx_id, status)
		VALUES ($1, $2, $3, $4, $5, NULLIF($6, ''), $7)
		RETURNING id, submitted_at
	`, d.UserID, d.AccountRef, d.Amount, d.Currency, d.Method, d.ExternalTxID, types.StatusPending).
		Scan(&d.ID, &d.SubmittedAt)
	if err != nil {
		return err
	}
	d.Status = types.StatusPending

	// Linked trading-ledger trail row, refreshed to a terminal status when
	// the deposit settles.
	_, err = tx.Exec(ctx, `
		INSERT INTO account_transactions (user_id, account_ref, type, amount, status, deposit_id)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, d.UserID, d.AccountRef, types.AccountTxDeposit, d.Amount, types.StatusPending, d.ID)
	if err != nil {
		return err
	}
	return tx.Commit(ctx)
}

func (s *PGStore) GetDeposit(ctx context.Context, id string) (Deposit, error) {
	return scanDeposit(s.pool.QueryRow(ctx, `SELECT `+depositColumns+` FROM deposits WHERE id = $1`, id))
}

func (s *PGStore) ListDeposits(ctx context.Context, userID string, limit int) ([]Deposit, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	rows, err := s.pool.Query(ctx, `
		SELECT `+depositColumns+`
		FROM deposits
		WHERE user_id = $1
		ORDER BY submitted_at DESC
		LIMIT $2
	`, userID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Deposit
	for rows.Next() {
		d, err := scanDeposit(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

func (s *PGStore) ListDepositsByStatus(ctx context.Context, status types.SettlementStatus, limit int) ([]Deposit, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	rows, err := s.pool.Query(ctx, `
		SELECT `+depositColumns+`
		FROM deposits
		WHERE status = $1
		ORDER BY submitted_at ASC
		LIMIT $2
	`, status, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Deposit
	for rows.Next() {
		d, err := scanDeposit(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

// FindDepositByCorrelation tries each candidate key in order, matching both
// our own reference and the provider's order number, before giving up.
func (s *PGStore) FindDepositByCorrelation(ctx context.Context, candidates []string) (Deposit, error) {
	for _, key := range candidates {
		if key == "" {
			continue
		}
		d, err := scanDeposit(s.pool.QueryRow(ctx, `
			SELECT `+depositColumns+`
			FROM deposits
			WHERE external_tx_id = $1 OR provider_order_no = $1
		`, key))
		if err == nil {
			return d, nil
		}
		if !errors.Is(err, ErrNotFound) {
			return Deposit{}, err
		}
	}
	return Deposit{}, ErrNotFound
}

func (s *PGStore) SetDepositPaymentOrder(ctx context.Context, id, providerOrderNo, paymentURL string) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE deposits
		SET provider_order_no = NULLIF($2, ''), payment_url = $3
		WHERE id = $1 AND status = $4
	`, id, providerOrderNo, paymentURL, types.StatusPending)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrInvalidState
	}
	return nil
}

func (s *PGStore) ApproveDeposit(ctx context.Context, id, reviewer string) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE deposits
		SET status = $2, approved_by = $3, approved_at = now()
		WHERE id = $1 AND status = $4
	`, id, types.StatusApproved, reviewer, types.StatusPending)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrInvalidState
	}
	return nil
}

// GateDepositForCredit is the callback-path gate: the credit call is only
// made by whoever wins the pending→approved transition, so concurrent or
// replayed deliveries of the same callback never credit twice. A row parked
// in approved after an unconfirmed credit matches nothing either; those are
// retried only through the explicit operator path.
func (s *PGStore) GateDepositForCredit(ctx context.Context, id string) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE deposits
		SET status = $2, approved_at = now()
		WHERE id = $1 AND status = $3
	`, id, types.StatusApproved, types.StatusPending)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrInvalidState
	}
	return nil
}

func (s *PGStore) CompleteDeposit(ctx context.Context, id string, received decimal.Decimal, txHash string) error {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	tag, err := tx.Exec(ctx, `
		UPDATE deposits
		SET status = $2, received_amount = $3, tx_hash = NULLIF($4, ''), processed_at = now()
		WHERE id = $1 AND status = $5
	`, id, types.StatusCompleted, received, txHash, types.StatusApproved)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrInvalidState
	}
	_, err = tx.Exec(ctx, `
		UPDATE account_transactions
		SET status = $2, amount = $3
		WHERE deposit_id = $1 AND status = $4
	`, id, types.StatusCompleted, received, types.StatusPending)
	if err != nil {
		return err
	}
	return tx.Commit(ctx)
}

func (s *PGStore) FailDeposit(ctx context.Context, id, message string) error {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	tag, err := tx.Exec(ctx, `
		UPDATE deposits
		SET status = $2, rejection_reason = $3, processed_at = now()
		WHERE id = $1 AND status IN ($4, $5)
	`, id, types.StatusFailed, message, types.StatusPending, types.StatusApproved)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrInvalidState
	}
	_, err = tx.Exec(ctx, `
		UPDATE account_transactions
		SET status = $2
		WHERE deposit_id = $1 AND status = $3
	`, id, types.StatusFailed, types.StatusPending)
	if err != nil {
		return err
	}
	return tx.Commit(ctx)
}

func (s *PGStore) RejectDeposit(ctx context.Context, id, reviewer, reason string) error {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	tag, err := tx.Exec(ctx, `
		UPDATE deposits
		SET status = $2, approved_by = $3, rejection_reason = $4, rejected_at = now()
		WHERE id = $1 AND status = $5
	`, id, types.StatusRejected, reviewer, reason, types.StatusPending)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrInvalidState
	}
	_, err = tx.Exec(ctx, `
		UPDATE account_transactions
		SET status = $2
		WHERE deposit_id = $1 AND status = $3
	`, id, types.StatusFailed, types.StatusPending)
	if err != nil {
		return err
	}
	return tx.Commit(ctx)
}

const withdrawalColumns = `id, user_id, COALESCE(account_ref, ''), wallet_id, amount, currency,
	COALESCE(payout_details, ''), status, COALESCE(rejection_reason, ''), COALESCE(approved_by, ''),
	submitted_at, approved_at, rejected_at, processed_at`

func scanWithdrawal(row pgx.Row) (Withdrawal, error) {
	var wd Withdrawal
	err := row.Scan(&wd.ID, &wd.UserID, &wd.AccountRef, &wd.WalletID, &wd.Amount, &wd.Currency,
		&wd.PayoutDetails, &wd.Status, &wd.RejectionReason, &wd.ApprovedBy,
		&wd.SubmittedAt, &wd.ApprovedAt, &wd.RejectedAt, &wd.ProcessedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return Withdrawal{}, ErrNotFound
	}
	return wd, err
}

func (s *PGStore) CreateWithdrawal(ctx context.Context, wd *Withdrawal) error {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	err = tx.QueryRow(ctx, `
		INSERT INTO withdrawals (user_id, account_ref, wallet_id, amount, currency, payout_details, status)
		VALUES ($1, NULLIF($2, ''), $3, $4, $5, NULLIF($6, ''), $7)
		RETURNING id, submitted_at
	`, wd.UserID, wd.AccountRef, wd.WalletID, wd.Amount, wd.Currency, wd.PayoutDetails, types.StatusPending).
		Scan(&wd.ID, &wd.SubmittedAt)
	if err != nil {
		return err
	}
	wd.Status = types.StatusPending

	if wd.WalletID != nil {
		_, err = tx.Exec(ctx, `
			INSERT INTO wallet_transactions (wallet_id, user_id, type, amount, status, withdrawal_id)
			VALUES ($1, $2, $3, $4, $5, $6)
		`, *wd.WalletID, wd.UserID, types.WalletTxWalletWithdrawal, wd.Amount, types.StatusPending, wd.ID)
	} else {
		_, err = tx.Exec(ctx, `
			INSERT INTO account_transactions (user_id, account_ref, type, amount, status, withdrawal_id)
			VALUES ($1, $2, $3, $4, $5, $6)
		`, wd.UserID, wd.AccountRef, types.AccountTxWithdrawal, wd.Amount, types.StatusPending, wd.ID)
	}
	if err != nil {
		return err
	}
	return tx.Commit(ctx)
}

func (s *PGStore) GetWithdrawal(ctx context.Context, id string) (Withdrawal, error) {
	return scanWithdrawal(s.pool.QueryRow(ctx, `SELECT `+withdrawalColumns+` FROM withdrawals WHERE id = $1`, id))
}

func (s *PGStore) ListWithdrawals(ctx context.Context, userID string, limit int) ([]Withdrawal, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	rows, err := s.pool.Query(ctx, `
		SELECT `+withdrawalColumns+`
		FROM withdrawals
		WHERE user_id = $1
		ORDER BY submitted_at DESC
		LIMIT $2
	`, userID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Withdrawal
	for rows.Next() {
		wd, err := scanWithdrawal(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, wd)
	}
	return out, rows.Err()
}

func (s *PGStore) ListWithdrawalsByStatus(ctx context.Context, status types.SettlementStatus, limit int) ([]Withdrawal, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	rows, err := s.pool.Query(ctx, `
		SELECT `+withdrawalColumns+`
		FROM withdrawals
		WHERE status = $1
		ORDER BY submitted_at ASC
		LIMIT $2
	`, status, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Withdrawal
	for rows.Next() {
		wd, err := scanWithdrawal(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, wd)
	}
	return out, rows.Err()
}

// ApproveWalletWithdrawal runs the whole wallet-backed approval as one local
// transaction: lock the wallet row, debit with the zero floor, flip the
// withdrawal to approved and cascade its pending wallet transaction to
// completed. No external ledger involvement on this path.
func (s *PGStore) ApproveWalletWithdrawal(ctx context.Context, id, walletID string, amount decimal.Decimal, reviewer string) (decimal.Decimal, error) {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return decimal.Zero, err
	}
	defer tx.Rollback(ctx)

	w, err := s.wallets.LockTx(ctx, tx, walletID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return decimal.Zero, ErrNotFound
		}
		return decimal.Zero, err
	}
	if w.Balance.LessThan(amount) {
		return decimal.Zero, fmt.Errorf("%w: wallet %s has %s, need %s",
			wallet.ErrInsufficientFunds, walletID, w.Balance.String(), amount.String())
	}

	tag, err := tx.Exec(ctx, `
		UPDATE withdrawals
		SET status = $2, approved_by = $3, approved_at = now(), processed_at = now()
		WHERE id = $1 AND status = $4
	`, id, types.StatusApproved, reviewer, types.StatusPending)
	if err != nil {
		return decimal.Zero, err
	}
	if tag.RowsAffected() == 0 {
		return decimal.Zero, ErrInvalidState
	}

	balance, err := s.wallets.DebitTx(ctx, tx, walletID, amount)
	if err != nil {
		return decimal.Zero, err
	}

	_, err = tx.Exec(ctx, `
		UPDATE wallet_transactions
		SET status = $2
		WHERE withdrawal_id = $1 AND status = $3
	`, id, types.StatusCompleted, types.StatusPending)
	if err != nil {
		return decimal.Zero, err
	}
	if err := tx.Commit(ctx); err != nil {
		return decimal.Zero, err
	}
	return balance, nil
}

func (s *PGStore) ApproveWithdrawal(ctx context.Context, id, reviewer string) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE withdrawals
		SET status = $2, approved_by = $3, approved_at = now()
		WHERE id = $1 AND status = $4
	`, id, types.StatusApproved, reviewer, types.StatusPending)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrInvalidState
	}
	return nil
}

func (s *PGStore) CompleteWithdrawal(ctx context.Context, id string) error {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	tag, err := tx.Exec(ctx, `
		UPDATE withdrawals
		SET status = $2, processed_at = now()
		WHERE id = $1 AND status = $3
	`, id, types.StatusCompleted, types.StatusApproved)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrInvalidState
	}
	_, err = tx.Exec(ctx, `
		UPDATE account_transactions
		SET status = $2
		WHERE withdrawal_id = $1 AND status = $3
	`, id, types.StatusCompleted, types.StatusPending)
	if err != nil {
		return err
	}
	return tx.Commit(ctx)
}

func (s *PGStore) FailWithdrawal(ctx context.Context, id, message string) error {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	tag, err := tx.Exec(ctx, `
		UPDATE withdrawals
		SET status = $2, rejection_reason = $3, processed_at = now()
		WHERE id = $1 AND status IN ($4, $5)
	`, id, types.StatusFailed, message, types.StatusPending, types.StatusApproved)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrInvalidState
	}
	_, err = tx.Exec(ctx, `
		UPDATE account_transactions
		SET status = $2
		WHERE withdrawal_id = $1 AND status = $3
	`, id, types.StatusFailed, types.StatusPending)
	if err != nil {
		return err
	}
	return tx.Commit(ctx)
}

func (s *PGStore) RejectWithdrawal(ctx context.Context, id, reviewer, reason string) error {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	tag, err := tx.Exec(ctx, `
		UPDATE withdrawals
		SET status = $2, approved_by = $3, rejection_reason = $4, rejected_at = now()
		WHERE id = $1 AND status = $5
	`, id, types.StatusRejected, reviewer, reason, types.StatusPending)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrInvalidState
	}
	// Funds never moved: the pending wallet/account rows just close out failed.
	_, err = tx.Exec(ctx, `
		UPDATE wallet_transactions
		SET status = $2
		WHERE withdrawal_id = $1 AND status = $3
	`, id, types.StatusFailed, types.StatusPending)
	if err != nil {
		return err
	}
	_, err = tx.Exec(ctx, `
		UPDATE account_transactions
		SET status = $2
		WHERE withdrawal_id = $1 AND status = $3
	`, id, types.StatusFailed, types.StatusPending)
	if err != nil {
		return err
	}
	return tx.Commit(ctx)
}

// RecordTransferPair writes the Internal Transfer Out/In pair atomically,
// only ever called after both external legs reported definite success.
func (s *PGStore) RecordTransferPair(ctx context.Context, userID, transferID, fromRef, toRef string, amount decimal.Decimal) (Transfer, error) {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return Transfer{}, err
	}
	defer tx.Rollback(ctx)

	t := Transfer{TransferID: transferID, FromRef: fromRef, ToRef: toRef, Amount: amount}
	err = tx.QueryRow(ctx, `
		INSERT INTO account_transactions (user_id, account_ref, type, amount, status, transfer_id, memo)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING id, created_at
	`, userID, fromRef, types.AccountTxTransferOut, amount, types.StatusCompleted, transferID,
		fmt.Sprintf("to %s", toRef)).Scan(&t.OutTxID, &t.CreatedAt)
	if err != nil {
		return Transfer{}, err
	}
	err = tx.QueryRow(ctx, `
		INSERT INTO account_transactions (user_id, account_ref, type, amount, status, transfer_id, pair_id, memo)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING id
	`, userID, toRef, types.AccountTxTransferIn, amount, types.StatusCompleted, transferID, t.OutTxID,
		fmt.Sprintf("from %s", fromRef)).Scan(&t.InTxID)
	if err != nil {
		return Transfer{}, err
	}
	_, err = tx.Exec(ctx, `UPDATE account_transactions SET pair_id = $2 WHERE id = $1`, t.OutTxID, t.InTxID)
	if err != nil {
		return Transfer{}, err
	}
	if err := tx.Commit(ctx); err != nil {
		return Transfer{}, err
	}
	return t, nil
}

func (s *PGStore) GetWalletForUser(ctx context.Context, userID string) (wallet.Wallet, error) {
	w, err := s.wallets.GetByUser(ctx, userID)
	if errors.Is(err, pgx.ErrNoRows) {
		return wallet.Wallet{}, ErrNotFound
	}
	return w, err
}

// CreditWalletFromAccount is the local leg of an MT5→Wallet transfer, run
// only after the external debit reported definite success.
func (s *PGStore) CreditWalletFromAccount(ctx context.Context, userID, accountRef string, amount decimal.Decimal) (WalletTransaction, error) {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return WalletTransaction{}, err
	}
	defer tx.Rollback(ctx)

	w, err := s.wallets.EnsureTx(ctx, tx, userID)
	if err != nil {
		return WalletTransaction{}, err
	}
	if _, err := s.wallets.CreditTx(ctx, tx, w.ID, amount); err != nil {
		return WalletTransaction{}, err
	}
	wt := WalletTransaction{WalletID: w.ID, UserID: userID, Type: types.WalletTxMT5ToWallet,
		Amount: amount, Status: types.StatusCompleted, Reference: accountRef}
	err = tx.QueryRow(ctx, `
		INSERT INTO wallet_transactions (wallet_id, user_id, type, amount, status, reference)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id, created_at
	`, w.ID, userID, wt.Type, amount, wt.Status, accountRef).Scan(&wt.ID, &wt.CreatedAt)
	if err != nil {
		return WalletTransaction{}, err
	}
	if err := tx.Commit(ctx); err != nil {
		return WalletTransaction{}, err
	}
	return wt, nil
}

// DebitWalletForAccount is the local leg of a Wallet→MT5 transfer, run only
// after the external credit reported definite success. The floor check under
// the row lock is the authoritative sufficiency check.
func (s *PGStore) DebitWalletForAccount(ctx context.Context, userID, accountRef string, amount decimal.Decimal) (WalletTransaction, error) {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return WalletTransaction{}, err
	}
	defer tx.Rollback(ctx)

	w, err := s.wallets.GetByUser(ctx, userID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return WalletTransaction{}, fmt.Errorf("%w: user %s has no wallet", wallet.ErrInsufficientFunds, userID)
		}
		return WalletTransaction{}, err
	}
	if _, err := s.wallets.LockTx(ctx, tx, w.ID); err != nil {
		return WalletTransaction{}, err
	}
	if _, err := s.wallets.DebitTx(ctx, tx, w.ID, amount); err != nil {
		return WalletTransaction{}, err
	}
	wt := WalletTransaction{WalletID: w.ID, UserID: userID, Type: types.WalletTxWalletToMT5,
		Amount: amount, Status: types.StatusCompleted, Reference: accountRef}
	err = tx.QueryRow(ctx, `
		INSERT INTO wallet_transactions (wallet_id, user_id, type, amount, status, reference)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id, created_at
	`, w.ID, userID, wt.Type, amount, wt.Status, accountRef).Scan(&wt.ID, &wt.CreatedAt)
	if err != nil {
		return WalletTransaction{}, err
	}
	if err := tx.Commit(ctx); err != nil {
		return WalletTransaction{}, err
	}
	return wt, nil
}

func (s *PGStore) ListWalletTransactions(ctx context.Context, userID string, limit int) ([]WalletTransaction, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	rows, err := s.pool.Query(ctx, `
		SELECT id, wallet_id, user_id, type, amount, status, deposit_id, withdrawal_id, COALESCE(reference, ''), created_at
		FROM wallet_transactions
		WHERE user_id = $1
		ORDER BY created_at DESC
		LIMIT $2
	`, userID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []WalletTransaction
	for rows.Next() {
		var wt WalletTransaction
		if err := rows.Scan(&wt.ID, &wt.WalletID, &wt.UserID, &wt.Type, &wt.Amount, &wt.Status,
			&wt.DepositID, &wt.WithdrawalID, &wt.Reference, &wt.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, wt)
	}
	return out, rows.Err()
}
