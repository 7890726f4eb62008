package entities

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// RentalStatus of an energy rental record
type RentalStatus string

const (
	RentalStatusActive RentalStatus = "active"
	RentalStatusUsed   RentalStatus = "used"
)

// ResourceRentalLog records an energy rental made for an address
type ResourceRentalLog struct {
	ID        uuid.UUID    `json:"id"`
	Address   string       `json:"address"`
	OrderID   string       `json:"orderId,omitempty"`
	OrderNo   string       `json:"orderNo,omitempty"`
	Provider  string       `json:"provider"`
	RentalRef string       `json:"rentalRef"`
	Units     int64        `json:"units"`
	RentedAt  time.Time    `json:"rentedAt"`
	ExpireAt  time.Time    `json:"expireAt"`
	Status    RentalStatus `json:"status"`
}

// AccountResources is a snapshot of an account's bandwidth and energy
type AccountResources struct {
	FreeNetLimit int64
	FreeNetUsed  int64
	NetLimit     int64
	NetUsed      int64
	EnergyLimit  int64
	EnergyUsed   int64
}

// AvailableEnergy returns unused energy
func (r AccountResources) AvailableEnergy() int64 {
	return nonNegative(r.EnergyLimit - r.EnergyUsed)
}

// FreeBandwidth returns the unused free daily allowance
func (r AccountResources) FreeBandwidth() int64 {
	return nonNegative(r.FreeNetLimit - r.FreeNetUsed)
}

// StakedBandwidth returns unused bandwidth obtained by staking
func (r AccountResources) StakedBandwidth() int64 {
	return nonNegative(r.NetLimit - r.NetUsed)
}

func nonNegative(v int64) int64 {
	if v < 0 {
		return 0
	}
	return v
}

// ReceiptResult is the contract execution result reported by the network
type ReceiptResult string

const (
	ReceiptSuccess     ReceiptResult = "SUCCESS"
	ReceiptRevert      ReceiptResult = "REVERT"
	ReceiptOutOfEnergy ReceiptResult = "OUT_OF_ENERGY"
	ReceiptOutOfTime   ReceiptResult = "OUT_OF_TIME"
)

// TxReceipt is the final verdict of a transaction
type TxReceipt struct {
	TxID        string
	BlockNumber int64
	Result      ReceiptResult
	EnergyUsed  int64
	NetUsed     int64
	Message     string
}

// Confirmed reports an explicit SUCCESS result
func (r *TxReceipt) Confirmed() bool {
	return r != nil && r.Result == ReceiptSuccess
}

// ResourceShortage reports a failure caused by missing energy or bandwidth
func (r *TxReceipt) ResourceShortage() bool {
	return r != nil && (r.Result == ReceiptOutOfEnergy || r.Result == ReceiptOutOfTime)
}

// WithdrawalStatus of an outgoing transfer
type WithdrawalStatus string

const (
	WithdrawalPending   WithdrawalStatus = "pending"
	WithdrawalBroadcast WithdrawalStatus = "broadcast"
	WithdrawalSuccess   WithdrawalStatus = "success"
	WithdrawalFailed    WithdrawalStatus = "failed"
)

// Withdrawal is a user's request to send funds out of custody
type Withdrawal struct {
	ID            uuid.UUID        `json:"id"`
	OrderNo       string           `json:"orderNo"`
	UserID        int64            `json:"userId"`
	ToAddress     string           `json:"toAddress"`
	Amount        decimal.Decimal  `json:"amount"`
	Fee           decimal.Decimal  `json:"fee"`
	Status        WithdrawalStatus `json:"status"`
	TxID          string           `json:"txId,omitempty"`
	FailureReason string           `json:"failureReason,omitempty"`
	CreatedAt     time.Time        `json:"createdAt"`
	UpdatedAt     time.Time        `json:"updatedAt"`
}

// Total returns amount plus fee, the sum reserved for the withdrawal
func (w *Withdrawal) Total() decimal.Decimal {
	return w.Amount.Add(w.Fee)
}

// WithdrawInput is the request to withdraw
type WithdrawInput struct {
	UserID     int64           `json:"-"`
	ToAddress  string          `json:"toAddress" binding:"required"`
	Amount     decimal.Decimal `json:"amount" binding:"required"`
	TxPassword string          `json:"txPassword,omitempty"`
}

// Feature flag keys
const (
	FlagLockWithdrawals = "lock-withdrawals"
	FlagLockPoolSend    = "lock-pool-send"
)

// SystemFlag is a key/value switch shared by all replicas
type SystemFlag struct {
	Key       string    `json:"key"`
	Value     string    `json:"value"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// Locked reports whether the flag value means locked
func (f *SystemFlag) Locked() bool {
	return f != nil && (f.Value == "1" || f.Value == "true")
}

// ReconciliationStatus of a solvency check
type ReconciliationStatus string

const (
	ReconciliationOK          ReconciliationStatus = "OK"
	ReconciliationDiscrepancy ReconciliationStatus = "DISCREPANCY"
)

// ReconciliationRecord is the outcome of one solvency check
type ReconciliationRecord struct {
	ID               uuid.UUID            `json:"id"`
	AggregateAddress string               `json:"aggregateAddress"`
	OnchainBalance   decimal.Decimal      `json:"onchainBalance"`
	UserBalanceSum   decimal.Decimal      `json:"userBalanceSum"`
	Difference       decimal.Decimal      `json:"difference"`
	Status           ReconciliationStatus `json:"status"`
	Locked           bool                 `json:"locked"`
	CheckedAt        time.Time            `json:"checkedAt"`
}
