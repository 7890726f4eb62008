package repositories

import (
	"context"
	"time"

	"github.com/google/uuid"

	"custody.backend/internal/domain/entities"
)

// RentalLogRepository records energy rentals
type RentalLogRepository interface {
	Create(ctx context.Context, log *entities.ResourceRentalLog) error
	// FindActive returns an active, unexpired rental for address rented after since.
	FindActive(ctx context.Context, address string, since, now time.Time) (*entities.ResourceRentalLog, error)
	MarkUsed(ctx context.Context, address string) (int64, error)
}

// SystemFlagRepository stores feature flags
type SystemFlagRepository interface {
	Get(ctx context.Context, key string) (*entities.SystemFlag, error)
	Set(ctx context.Context, key, value string) error
	List(ctx context.Context) ([]*entities.SystemFlag, error)
}

// WithdrawalRepository persists withdrawals
type WithdrawalRepository interface {
	Create(ctx context.Context, w *entities.Withdrawal) error
	GetByID(ctx context.Context, id uuid.UUID) (*entities.Withdrawal, error)
	ListByStatus(ctx context.Context, status entities.WithdrawalStatus, limit int) ([]*entities.Withdrawal, error)
	// Transition moves the withdrawal to "to" only from one of the from states.
	Transition(ctx context.Context, id uuid.UUID, from []entities.WithdrawalStatus, to entities.WithdrawalStatus, txID, reason string) (bool, error)
}

// ReconciliationRepository stores solvency check results
type ReconciliationRepository interface {
	Create(ctx context.Context, rec *entities.ReconciliationRecord) error
	Latest(ctx context.Context) (*entities.ReconciliationRecord, error)
}
