package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type ResourceRentalLog struct {
	ID        uuid.UUID `gorm:"type:uuid;primaryKey"`
	Address   string    `gorm:"type:varchar(64);not null;index:idx_rental_address_status,priority:1"`
	OrderID   string    `gorm:"type:varchar(64)"`
	OrderNo   string    `gorm:"type:varchar(64)"`
	Provider  string    `gorm:"type:varchar(32);not null"`
	RentalRef string    `gorm:"type:varchar(128)"`
	Units     int64     `gorm:"not null"`
	RentedAt  time.Time `gorm:"not null"`
	ExpireAt  time.Time `gorm:"not null"`
	Status    string    `gorm:"type:varchar(20);not null;index:idx_rental_address_status,priority:2"`
}

type SystemFlag struct {
	Key       string `gorm:"type:varchar(64);primaryKey"`
	Value     string `gorm:"type:varchar(255);not null"`
	UpdatedAt time.Time
}

type Withdrawal struct {
	ID            uuid.UUID       `gorm:"type:uuid;primaryKey"`
	OrderNo       string          `gorm:"type:varchar(64);not null;uniqueIndex"`
	UserID        int64           `gorm:"not null;index"`
	ToAddress     string          `gorm:"type:varchar(64);not null"`
	Amount        decimal.Decimal `gorm:"type:decimal(36,18);not null"`
	Fee           decimal.Decimal `gorm:"type:decimal(36,18);not null"`
	Status        string          `gorm:"type:varchar(20);not null;index"`
	TxID          string          `gorm:"column:tx_id;type:varchar(128)"`
	FailureReason string          `gorm:"type:varchar(255)"`
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

type ReconciliationRecord struct {
	ID               uuid.UUID       `gorm:"type:uuid;primaryKey"`
	AggregateAddress string          `gorm:"type:varchar(64);not null"`
	OnchainBalance   decimal.Decimal `gorm:"type:decimal(36,18);not null"`
	UserBalanceSum   decimal.Decimal `gorm:"type:decimal(36,18);not null"`
	Difference       decimal.Decimal `gorm:"type:decimal(36,18);not null"`
	Status           string          `gorm:"type:varchar(20);not null"`
	Locked           bool            `gorm:"not null"`
	CheckedAt        time.Time       `gorm:"not null;index"`
}
