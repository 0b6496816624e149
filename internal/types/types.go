package types

type SettlementStatus string

type DepositMethod string

type WalletTxType string

type AccountTxType string

const (
	StatusPending   SettlementStatus = "pending"
	StatusApproved  SettlementStatus = "approved"
	StatusCompleted SettlementStatus = "completed"
	StatusFailed    SettlementStatus = "failed"
	StatusRejected  SettlementStatus = "rejected"
)

// IsTerminal reports whether no further transition is allowed from s.
// Approved is not terminal: it marks a record whose external outcome is
// still unconfirmed and awaiting reconciliation.
func (s SettlementStatus) IsTerminal() bool {
	return s == StatusCompleted || s == StatusFailed || s == StatusRejected
}

const (
	DepositMethodManual DepositMethod = "manual"
	DepositMethodCard   DepositMethod = "card"
	DepositMethodCrypto DepositMethod = "crypto"
)

const (
	WalletTxMT5ToWallet      WalletTxType = "MT5_TO_WALLET"
	WalletTxWalletToMT5      WalletTxType = "WALLET_TO_MT5"
	WalletTxWalletDeposit    WalletTxType = "WALLET_DEPOSIT"
	WalletTxWalletWithdrawal WalletTxType = "WALLET_WITHDRAWAL"
)

const (
	AccountTxDeposit     AccountTxType = "Deposit"
	AccountTxWithdrawal  AccountTxType = "Withdrawal"
	AccountTxTransferOut AccountTxType = "Internal Transfer Out"
	AccountTxTransferIn  AccountTxType = "Internal Transfer In"
)
