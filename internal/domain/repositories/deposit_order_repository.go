package repositories

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"custody.backend/internal/domain/entities"
)

// DepositOrderUpdate lists the columns a conditional update may touch. Nil
// fields are left unchanged.
type DepositOrderUpdate struct {
	Status         *entities.DepositStatus
	ObservedAmount *decimal.Decimal
	// AddSettled is added to settled_amount in the same statement.
	AddSettled     *decimal.Decimal
	SettlementTxID *string
}

// DepositOrderRepository persists deposit orders
type DepositOrderRepository interface {
	Create(ctx context.Context, order *entities.DepositOrder) error
	GetByID(ctx context.Context, id uuid.UUID) (*entities.DepositOrder, error)
	// FindOpen returns the user's newest unexpired waiting order or any order
	// still collecting or verifying.
	FindOpen(ctx context.Context, userID int64, now time.Time) (*entities.DepositOrder, error)
	// HasSweepInFlight reports whether an order on address is collecting or verifying.
	HasSweepInFlight(ctx context.Context, address string) (bool, error)
	// ListWaiting returns waiting orders that have not expired at now.
	ListWaiting(ctx context.Context, now time.Time, limit int) ([]*entities.DepositOrder, error)
	ListExpiredWaiting(ctx context.Context, now time.Time, limit int) ([]*entities.DepositOrder, error)
	ListByStatus(ctx context.Context, status entities.DepositStatus, limit int) ([]*entities.DepositOrder, error)
	// CompareAndUpdate applies upd only while the order is still in status from.
	CompareAndUpdate(ctx context.Context, id uuid.UUID, from entities.DepositStatus, upd DepositOrderUpdate) (bool, error)
}
