package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type DepositOrder struct {
	ID             uuid.UUID       `gorm:"type:uuid;primaryKey"`
	OrderNo        string          `gorm:"type:varchar(64);not null;uniqueIndex"`
	UserID         int64           `gorm:"not null;index"`
	Address        string          `gorm:"type:varchar(64);not null;index"`
	ExpectedAmount decimal.Decimal `gorm:"type:decimal(36,18);not null;default:0"`
	ObservedAmount decimal.Decimal `gorm:"type:decimal(36,18);not null;default:0"`
	SettledAmount  decimal.Decimal `gorm:"type:decimal(36,18);not null;default:0"`
	Status         string          `gorm:"type:varchar(20);not null;index:idx_deposit_status_created,priority:1"`
	SettlementTxID string          `gorm:"column:settlement_tx_id;type:varchar(128)"`
	ExpireAt       time.Time       `gorm:"not null;index"`
	CreatedAt      time.Time       `gorm:"index:idx_deposit_status_created,priority:2"`
	UpdatedAt      time.Time
}
