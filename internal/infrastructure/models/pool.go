package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/volatiletech/null/v8"
)

type Pool struct {
	ID          uuid.UUID       `gorm:"type:uuid;primaryKey"`
	PoolNo      string          `gorm:"type:varchar(64);not null;uniqueIndex"`
	OwnerID     int64           `gorm:"not null;index"`
	Policy      string          `gorm:"type:varchar(20);not null"`
	RecipientID null.Int64      `gorm:"type:bigint"`
	TotalAmount decimal.Decimal `gorm:"type:decimal(36,18);not null"`
	ShareCount  int             `gorm:"not null"`
	CoverText   string          `gorm:"type:varchar(255)"`
	Status      string          `gorm:"type:varchar(20);not null;index"`
	ExpiresAt   time.Time       `gorm:"not null;index"`
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

type PoolShare struct {
	ID        uuid.UUID       `gorm:"type:uuid;primaryKey"`
	PoolID    uuid.UUID       `gorm:"type:uuid;not null;uniqueIndex:uq_pool_share_seq,priority:1"`
	Seq       int             `gorm:"not null;uniqueIndex:uq_pool_share_seq,priority:2"`
	Amount    decimal.Decimal `gorm:"type:decimal(36,18);not null"`
	ClaimedBy null.Int64      `gorm:"type:bigint;index"`
	ClaimedAt null.Time
	Refunded  bool `gorm:"not null;default:false"`
}
