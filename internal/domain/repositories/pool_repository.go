package repositories

import (
	"context"
	"time"

	"github.com/google/uuid"

	"custody.backend/internal/domain/entities"
)

// PoolRepository persists pools and their shares
type PoolRepository interface {
	Create(ctx context.Context, pool *entities.Pool) error
	GetByID(ctx context.Context, id uuid.UUID) (*entities.Pool, error)
	UpdateStatus(ctx context.Context, id uuid.UUID, from []entities.PoolStatus, to entities.PoolStatus) (bool, error)
	ListExpired(ctx context.Context, now time.Time, limit int) ([]*entities.Pool, error)

	CreateShares(ctx context.Context, shares []*entities.PoolShare) error
	ListShares(ctx context.Context, poolID uuid.UUID) ([]*entities.PoolShare, error)
	// NextUnclaimedShare returns the lowest-seq open share or ErrNotFound.
	NextUnclaimedShare(ctx context.Context, poolID uuid.UUID) (*entities.PoolShare, error)
	ListUnclaimedShares(ctx context.Context, poolID uuid.UUID) ([]*entities.PoolShare, error)
	// ClaimShare sets claimed_by only while the share is still open.
	ClaimShare(ctx context.Context, shareID uuid.UUID, claimant int64, at time.Time) (bool, error)
	MarkRefunded(ctx context.Context, shareID uuid.UUID, ownerID int64, at time.Time) (bool, error)
	HasClaimed(ctx context.Context, poolID uuid.UUID, claimant int64) (bool, error)
	CountUnclaimed(ctx context.Context, poolID uuid.UUID) (int64, error)
}
