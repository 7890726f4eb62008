package entities

import (
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/volatiletech/null/v8"
)

// PoolPolicy selects how a pool total is split into shares
type PoolPolicy string

const (
	PoolPolicyRandom    PoolPolicy = "random"
	PoolPolicyAverage   PoolPolicy = "average"
	PoolPolicyExclusive PoolPolicy = "exclusive"
)

// Valid reports whether p is a known policy
func (p PoolPolicy) Valid() bool {
	switch p {
	case PoolPolicyRandom, PoolPolicyAverage, PoolPolicyExclusive:
		return true
	}
	return false
}

// PoolStatus is the lifecycle of a pool
type PoolStatus string

const (
	PoolStatusCreated     PoolStatus = "created"
	PoolStatusPaid        PoolStatus = "paid"
	PoolStatusDistributed PoolStatus = "distributed"
	PoolStatusFinished    PoolStatus = "finished"
)

// ParsePoolStatus maps stored values, including the legacy "sent", to a PoolStatus.
func ParsePoolStatus(raw string) PoolStatus {
	s := strings.ToLower(strings.TrimSpace(raw))
	if s == "sent" {
		return PoolStatusDistributed
	}
	return PoolStatus(s)
}

// Claimable reports whether shares may be taken in this status
func (s PoolStatus) Claimable() bool {
	return s == PoolStatusPaid || s == PoolStatusDistributed
}

// Pool is a gift amount pre-split into claimable shares
type Pool struct {
	ID          uuid.UUID       `json:"id"`
	PoolNo      string          `json:"poolNo"`
	OwnerID     int64           `json:"ownerId"`
	Policy      PoolPolicy      `json:"policy"`
	RecipientID null.Int64      `json:"recipientId"`
	TotalAmount decimal.Decimal `json:"totalAmount"`
	ShareCount  int             `json:"shareCount"`
	CoverText   string          `json:"coverText,omitempty"`
	Status      PoolStatus      `json:"status"`
	ExpiresAt   time.Time       `json:"expiresAt"`
	CreatedAt   time.Time       `json:"createdAt"`
	UpdatedAt   time.Time       `json:"updatedAt"`

	Shares []*PoolShare `json:"shares,omitempty"`
}

// PoolShare is one pre-materialized slice of a pool
type PoolShare struct {
	ID        uuid.UUID       `json:"id"`
	PoolID    uuid.UUID       `json:"poolId"`
	Seq       int             `json:"seq"`
	Amount    decimal.Decimal `json:"amount"`
	ClaimedBy null.Int64      `json:"claimedBy"`
	ClaimedAt null.Time       `json:"claimedAt"`
	Refunded  bool            `json:"refunded"`
}

// CreatePoolInput is the request to create a pool
type CreatePoolInput struct {
	OwnerID     int64           `json:"-"`
	Policy      PoolPolicy      `json:"policy" binding:"required"`
	TotalAmount decimal.Decimal `json:"totalAmount" binding:"required"`
	ShareCount  int             `json:"shareCount" binding:"required"`
	RecipientID *int64          `json:"recipientId,omitempty"`
	CoverText   string          `json:"coverText,omitempty"`
}

// ClaimResult reports the share a claimant won
type ClaimResult struct {
	PoolID    uuid.UUID       `json:"poolId"`
	ShareID   uuid.UUID       `json:"shareId"`
	Seq       int             `json:"seq"`
	Amount    decimal.Decimal `json:"amount"`
	Remaining int64           `json:"remaining"`
}

// RefundResult reports what was returned to the owner
type RefundResult struct {
	PoolID       uuid.UUID       `json:"poolId"`
	SharesReturn int             `json:"sharesReturned"`
	Amount       decimal.Decimal `json:"amount"`
}
