package accounts

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"fx-backoffice/internal/mt5"
)

var ErrNotFound = errors.New("account not found")

// TradingAccount links a local user to an account on the external trading
// server. Balances live on the server; the local row only records the link.
type TradingAccount struct {
	ID         string          `json:"id"`
	UserID     string          `json:"user_id"`
	AccountRef string          `json:"account_ref"`
	Name       string          `json:"name"`
	Currency   string          `json:"currency"`
	Balance    decimal.Decimal `json:"balance"`
	CreatedAt  time.Time       `json:"created_at"`
	UpdatedAt  time.Time       `json:"updated_at"`
}

type Service struct {
	pool    *pgxpool.Pool
	gateway mt5.Gateway
	logger  *zap.Logger
}

func NewService(pool *pgxpool.Pool, gateway mt5.Gateway, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{pool: pool, gateway: gateway, logger: logger}
}

// List returns the user's linked accounts with a best-effort live balance.
// A gateway hiccup leaves the balance at zero rather than failing the list.
func (s *Service) List(ctx context.Context, userID string) ([]TradingAccount, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, user_id, account_ref, name, currency, created_at, updated_at
		FROM trading_accounts
		WHERE user_id = $1
		ORDER BY created_at ASC
	`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]TradingAccount, 0, 4)
	for rows.Next() {
		var a TradingAccount
		if err := rows.Scan(&a.ID, &a.UserID, &a.AccountRef, &a.Name, &a.Currency, &a.CreatedAt, &a.UpdatedAt); err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	for i := range out {
		bal, err := s.gateway.Balance(ctx, out[i].AccountRef)
		if err != nil {
			s.logger.Warn("balance fetch failed",
				zap.String("account_ref", out[i].AccountRef), zap.Error(err))
			continue
		}
		out[i].Balance = bal
	}
	return out, nil
}

// Link attaches an existing trading-server account to the user. The ref is
// verified against the server before the row is written so typos never enter
// the directory.
func (s *Service) Link(ctx context.Context, userID, accountRef, name, currency string) (TradingAccount, error) {
	accountRef = strings.TrimSpace(accountRef)
	if accountRef == "" {
		return TradingAccount{}, errors.New("account_ref is required")
	}
	if strings.TrimSpace(name) == "" {
		name = "Account " + accountRef
	}
	currency = strings.ToUpper(strings.TrimSpace(currency))
	if currency == "" {
		currency = "USD"
	}

	bal, err := s.gateway.Balance(ctx, accountRef)
	if err != nil {
		return TradingAccount{}, fmt.Errorf("verify account on trading server: %w", err)
	}

	var a TradingAccount
	err = s.pool.QueryRow(ctx, `
		INSERT INTO trading_accounts (user_id, account_ref, name, currency)
		VALUES ($1, $2, $3, $4)
		RETURNING id, user_id, account_ref, name, currency, created_at, updated_at
	`, userID, accountRef, name, currency).
		Scan(&a.ID, &a.UserID, &a.AccountRef, &a.Name, &a.Currency, &a.CreatedAt, &a.UpdatedAt)
	if err != nil {
		return TradingAccount{}, err
	}
	a.Balance = bal
	return a, nil
}

// ResolveOwned returns accountRef iff it is linked to userID.
func (s *Service) ResolveOwned(ctx context.Context, userID, accountRef string) (string, error) {
	accountRef = strings.TrimSpace(accountRef)
	if accountRef == "" {
		return "", ErrNotFound
	}
	var ref string
	err := s.pool.QueryRow(ctx, `
		SELECT account_ref FROM trading_accounts
		WHERE user_id = $1 AND account_ref = $2
	`, userID, accountRef).Scan(&ref)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", ErrNotFound
	}
	if err != nil {
		return "", err
	}
	return ref, nil
}

// Rename updates the local display name; nothing is sent to the server.
func (s *Service) Rename(ctx context.Context, userID, accountID, name string) (TradingAccount, error) {
	trimmed := strings.TrimSpace(name)
	if trimmed == "" {
		return TradingAccount{}, errors.New("account name is required")
	}
	if len([]rune(trimmed)) > 64 {
		return TradingAccount{}, errors.New("account name is too long (max 64 chars)")
	}
	var a TradingAccount
	err := s.pool.QueryRow(ctx, `
		UPDATE trading_accounts
		SET name = $3, updated_at = NOW()
		WHERE id = $1 AND user_id = $2
		RETURNING id, user_id, account_ref, name, currency, created_at, updated_at
	`, accountID, userID, trimmed).
		Scan(&a.ID, &a.UserID, &a.AccountRef, &a.Name, &a.Currency, &a.CreatedAt, &a.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return TradingAccount{}, ErrNotFound
	}
	if err != nil {
		return TradingAccount{}, err
	}
	return a, nil
}
