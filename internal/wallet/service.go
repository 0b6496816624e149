package wallet

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
)

// ErrInsufficientFunds is returned by DebitTx when the decrement would take
// the balance below zero. The check runs under the row lock, so it is the
// authoritative one regardless of what any earlier pre-check saw.
var ErrInsufficientFunds = errors.New("wallet: insufficient funds")

type Wallet struct {
	ID           string          `json:"id"`
	UserID       string          `json:"user_id"`
	WalletNumber string          `json:"wallet_number"`
	Balance      decimal.Decimal `json:"balance"`
	CreatedAt    time.Time       `json:"created_at"`
	UpdatedAt    time.Time       `json:"updated_at"`
}

type Service struct {
	pool *pgxpool.Pool
}

func NewService(pool *pgxpool.Pool) *Service {
	return &Service{pool: pool}
}

func newWalletNumber() string {
	return "W" + strings.ToUpper(strings.ReplaceAll(uuid.NewString(), "-", "")[:12])
}

// Ensure returns the user's wallet, creating it on first use.
func (s *Service) Ensure(ctx context.Context, userID string) (Wallet, error) {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return Wallet{}, err
	}
	defer tx.Rollback(ctx)
	w, err := s.EnsureTx(ctx, tx, userID)
	if err != nil {
		return Wallet{}, err
	}
	if err := tx.Commit(ctx); err != nil {
		return Wallet{}, err
	}
	return w, nil
}

func (s *Service) EnsureTx(ctx context.Context, tx pgx.Tx, userID string) (Wallet, error) {
	if userID == "" {
		return Wallet{}, errors.New("wallet: user_id is required")
	}
	var w Wallet
	err := tx.QueryRow(ctx, `
		SELECT id, user_id, wallet_number, balance, created_at, updated_at
		FROM wallets
		WHERE user_id = $1
	`, userID).Scan(&w.ID, &w.UserID, &w.WalletNumber, &w.Balance, &w.CreatedAt, &w.UpdatedAt)
	if err == nil {
		return w, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return Wallet{}, err
	}
	err = tx.QueryRow(ctx, `
		INSERT INTO wallets (user_id, wallet_number, balance)
		VALUES ($1, $2, 0)
		RETURNING id, user_id, wallet_number, balance, created_at, updated_at
	`, userID, newWalletNumber()).Scan(&w.ID, &w.UserID, &w.WalletNumber, &w.Balance, &w.CreatedAt, &w.UpdatedAt)
	if err != nil {
		return Wallet{}, err
	}
	return w, nil
}

func (s *Service) GetByUser(ctx context.Context, userID string) (Wallet, error) {
	var w Wallet
	err := s.pool.QueryRow(ctx, `
		SELECT id, user_id, wallet_number, balance, created_at, updated_at
		FROM wallets
		WHERE user_id = $1
	`, userID).Scan(&w.ID, &w.UserID, &w.WalletNumber, &w.Balance, &w.CreatedAt, &w.UpdatedAt)
	return w, err
}

func (s *Service) GetByID(ctx context.Context, walletID string) (Wallet, error) {
	var w Wallet
	err := s.pool.QueryRow(ctx, `
		SELECT id, user_id, wallet_number, balance, created_at, updated_at
		FROM wallets
		WHERE id = $1
	`, walletID).Scan(&w.ID, &w.UserID, &w.WalletNumber, &w.Balance, &w.CreatedAt, &w.UpdatedAt)
	return w, err
}

// LockTx reads the wallet row under FOR UPDATE, serializing every concurrent
// mutation of this wallet until the surrounding transaction ends.
func (s *Service) LockTx(ctx context.Context, tx pgx.Tx, walletID string) (Wallet, error) {
	var w Wallet
	err := tx.QueryRow(ctx, `
		SELECT id, user_id, wallet_number, balance, created_at, updated_at
		FROM wallets
		WHERE id = $1
		FOR UPDATE
	`, walletID).Scan(&w.ID, &w.UserID, &w.WalletNumber, &w.Balance, &w.CreatedAt, &w.UpdatedAt)
	return w, err
}

// CreditTx increments the balance. The caller must write the matching
// wallet-transaction row inside the same tx.
func (s *Service) CreditTx(ctx context.Context, tx pgx.Tx, walletID string, amount decimal.Decimal) (decimal.Decimal, error) {
	if !amount.GreaterThan(decimal.Zero) {
		return decimal.Zero, errors.New("wallet: credit amount must be positive")
	}
	var balance decimal.Decimal
	err := tx.QueryRow(ctx, `
		UPDATE wallets
		SET balance = balance + $2, updated_at = now()
		WHERE id = $1
		RETURNING balance
	`, walletID, amount).Scan(&balance)
	if err != nil {
		return decimal.Zero, err
	}
	return balance, nil
}

// DebitTx decrements the balance with a zero floor enforced in the UPDATE
// predicate itself: a concurrent spend that got there first makes this a
// no-match, reported as ErrInsufficientFunds, never a negative balance.
func (s *Service) DebitTx(ctx context.Context, tx pgx.Tx, walletID string, amount decimal.Decimal) (decimal.Decimal, error) {
	if !amount.GreaterThan(decimal.Zero) {
		return decimal.Zero, errors.New("wallet: debit amount must be positive")
	}
	var balance decimal.Decimal
	err := tx.QueryRow(ctx, `
		UPDATE wallets
		SET balance = balance - $2, updated_at = now()
		WHERE id = $1 AND balance >= $2
		RETURNING balance
	`, walletID, amount).Scan(&balance)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return decimal.Zero, fmt.Errorf("%w: wallet %s debit %s", ErrInsufficientFunds, walletID, amount.String())
		}
		return decimal.Zero, err
	}
	return balance, nil
}
