package entities

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Wallet is a user's custodial account. Balance is the owed total; Frozen is
// reserved for in-flight withdrawals.
type Wallet struct {
	UserID         int64           `json:"userId"`
	DepositAddress string          `json:"depositAddress"`
	KeyCipher      string          `json:"-"`
	Balance        decimal.Decimal `json:"balance"`
	Frozen         decimal.Decimal `json:"frozen"`
	TxPasswordHash string          `json:"-"`
	CreatedAt      time.Time       `json:"createdAt"`
	UpdatedAt      time.Time       `json:"updatedAt"`
}

// Available returns balance minus frozen
func (w *Wallet) Available() decimal.Decimal {
	return w.Balance.Sub(w.Frozen)
}

// HasTxPassword reports whether a transaction PIN is configured
func (w *Wallet) HasTxPassword() bool {
	return w.TxPasswordHash != ""
}

// ChangeType classifies a ledger entry
type ChangeType string

const (
	ChangeDeposit    ChangeType = "deposit"
	ChangeWithdraw   ChangeType = "withdraw"
	ChangePoolSend   ChangeType = "pool_send"
	ChangePoolClaim  ChangeType = "pool_claim"
	ChangeRefund     ChangeType = "refund"
	ChangeAdjustment ChangeType = "adjustment"
)

// LedgerEntry is an append-only balance change. (UserID, OrderNo) is unique.
type LedgerEntry struct {
	ID            uuid.UUID       `json:"id"`
	UserID        int64           `json:"userId"`
	ChangeType    ChangeType      `json:"changeType"`
	Amount        decimal.Decimal `json:"amount"`
	BalanceBefore decimal.Decimal `json:"balanceBefore"`
	BalanceAfter  decimal.Decimal `json:"balanceAfter"`
	RefTable      string          `json:"refTable,omitempty"`
	RefID         string          `json:"refId,omitempty"`
	OrderNo       string          `json:"orderNo"`
	Remark        string          `json:"remark,omitempty"`
	CreatedAt     time.Time       `json:"createdAt"`
}

// CreditInput describes one ledger mutation. Negative amounts are debits.
type CreditInput struct {
	UserID   int64
	OrderNo  string
	Type     ChangeType
	Amount   decimal.Decimal
	RefTable string
	RefID    string
	Remark   string
}
