package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type Wallet struct {
	UserID         int64           `gorm:"primaryKey;autoIncrement:false"`
	DepositAddress string          `gorm:"type:varchar(64);not null;default:'';index"`
	KeyCipher      string          `gorm:"type:text;not null;default:''"`
	Balance        decimal.Decimal `gorm:"type:decimal(36,18);not null;default:0"`
	Frozen         decimal.Decimal `gorm:"type:decimal(36,18);not null;default:0"`
	TxPasswordHash string          `gorm:"type:varchar(255);not null;default:''"`
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

type LedgerEntry struct {
	ID            uuid.UUID       `gorm:"type:uuid;primaryKey"`
	UserID        int64           `gorm:"not null;uniqueIndex:uq_ledger_user_order,priority:1"`
	ChangeType    string          `gorm:"type:varchar(20);not null;index"`
	Amount        decimal.Decimal `gorm:"type:decimal(36,18);not null"`
	BalanceBefore decimal.Decimal `gorm:"type:decimal(36,18);not null"`
	BalanceAfter  decimal.Decimal `gorm:"type:decimal(36,18);not null"`
	RefTable      string          `gorm:"type:varchar(50)"`
	RefID         string          `gorm:"type:varchar(64)"`
	OrderNo       string          `gorm:"type:varchar(128);not null;uniqueIndex:uq_ledger_user_order,priority:2"`
	Remark        string          `gorm:"type:varchar(255)"`
	CreatedAt     time.Time       `gorm:"index"`
}
