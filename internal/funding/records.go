package funding

import (
	"time"

	"github.com/shopspring/decimal"

	"fx-backoffice/internal/types"
)

// Deposit tracks money entering a trading account from an external source.
// Never deleted; status is written only by the settlement engine.
type Deposit struct {
	ID              string                 `json:"id"`
	UserID          string                 `json:"user_id"`
	AccountRef      string                 `json:"account_ref"`
	Amount          decimal.Decimal        `json:"amount"`
	ReceivedAmount  *decimal.Decimal       `json:"received_amount,omitempty"`
	Currency        string                 `json:"currency"`
	Method          types.DepositMethod    `json:"method"`
	ExternalTxID    string                 `json:"external_transaction_id,omitempty"`
	ProviderOrderNo string                 `json:"provider_order_no,omitempty"`
	PaymentURL      string                 `json:"payment_url,omitempty"`
	TxHash          string                 `json:"tx_hash,omitempty"`
	Status          types.SettlementStatus `json:"status"`
	RejectionReason string                 `json:"rejection_reason,omitempty"`
	ApprovedBy      string                 `json:"approved_by,omitempty"`
	SubmittedAt     time.Time              `json:"submitted_at"`
	ApprovedAt      *time.Time             `json:"approved_at,omitempty"`
	RejectedAt      *time.Time             `json:"rejected_at,omitempty"`
	ProcessedAt     *time.Time             `json:"processed_at,omitempty"`
}

// Withdrawal mirrors Deposit for money leaving the system. A non-nil
// WalletID means the withdrawal debits the custodial wallet; otherwise it
// debits the trading account through the gateway.
type Withdrawal struct {
	ID              string                 `json:"id"`
	UserID          string                 `json:"user_id"`
	AccountRef      string                 `json:"account_ref,omitempty"`
	WalletID        *string                `json:"wallet_id,omitempty"`
	Amount          decimal.Decimal        `json:"amount"`
	Currency        string                 `json:"currency"`
	PayoutDetails   string                 `json:"payout_details,omitempty"`
	Status          types.SettlementStatus `json:"status"`
	RejectionReason string                 `json:"rejection_reason,omitempty"`
	ApprovedBy      string                 `json:"approved_by,omitempty"`
	SubmittedAt     time.Time              `json:"submitted_at"`
	ApprovedAt      *time.Time             `json:"approved_at,omitempty"`
	RejectedAt      *time.Time             `json:"rejected_at,omitempty"`
	ProcessedAt     *time.Time             `json:"processed_at,omitempty"`
}

// WalletTransaction is an append-only row recording one wallet balance
// mutation. Rows are never rewritten except the pending→completed/failed
// status transition.
type WalletTransaction struct {
	ID           string                 `json:"id"`
	WalletID     string                 `json:"wallet_id"`
	UserID       string                 `json:"user_id"`
	Type         types.WalletTxType     `json:"type"`
	Amount       decimal.Decimal        `json:"amount"`
	Status       types.SettlementStatus `json:"status"`
	DepositID    *string                `json:"deposit_id,omitempty"`
	WithdrawalID *string                `json:"withdrawal_id,omitempty"`
	Reference    string                 `json:"reference,omitempty"`
	CreatedAt    time.Time              `json:"created_at"`
}

// AccountTransaction is the trading-ledger trail row. Internal transfers are
// a linked pair of these sharing TransferID, each pointing at the other via
// PairID.
type AccountTransaction struct {
	ID           string                 `json:"id"`
	UserID       string                 `json:"user_id"`
	AccountRef   string                 `json:"account_ref"`
	Type         types.AccountTxType    `json:"type"`
	Amount       decimal.Decimal        `json:"amount"`
	Status       types.SettlementStatus `json:"status"`
	DepositID    *string                `json:"deposit_id,omitempty"`
	WithdrawalID *string                `json:"withdrawal_id,omitempty"`
	TransferID   string                 `json:"transfer_id,omitempty"`
	PairID       *string                `json:"pair_id,omitempty"`
	Memo         string                 `json:"memo,omitempty"`
	CreatedAt    time.Time              `json:"created_at"`
}

// Transfer is the result of a committed account-to-account transfer.
type Transfer struct {
	TransferID string          `json:"transfer_id"`
	FromRef    string          `json:"from_account"`
	ToRef      string          `json:"to_account"`
	Amount     decimal.Decimal `json:"amount"`
	OutTxID    string          `json:"out_tx_id"`
	InTxID     string          `json:"in_tx_id"`
	CreatedAt  time.Time       `json:"created_at"`
}
