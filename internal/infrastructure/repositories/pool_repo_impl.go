package repositories

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"custody.backend/internal/domain/entities"
	domainerrors "custody.backend/internal/domain/errors"
	"custody.backend/internal/infrastructure/models"
	"custody.backend/pkg/utils"
)

// PoolRepositoryImpl implements PoolRepository
type PoolRepositoryImpl struct {
	db *gorm.DB
}

func NewPoolRepository(db *gorm.DB) *PoolRepositoryImpl {
	return &PoolRepositoryImpl{db: db}
}

func (r *PoolRepositoryImpl) Create(ctx context.Context, p *entities.Pool) error {
	now := time.Now().UTC()
	if p.ID == uuid.Nil {
		p.ID = utils.GenerateUUIDv7()
	}
	p.CreatedAt = now
	p.UpdatedAt = now

	m := &models.Pool{
		ID:          p.ID,
		PoolNo:      p.PoolNo,
		OwnerID:     p.OwnerID,
		Policy:      string(p.Policy),
		RecipientID: p.RecipientID,
		TotalAmount: p.TotalAmount,
		ShareCount:  p.ShareCount,
		CoverText:   p.CoverText,
		Status:      string(p.Status),
		ExpiresAt:   p.ExpiresAt.UTC(),
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	return conn(ctx, r.db).Create(m).Error
}

func (r *PoolRepositoryImpl) GetByID(ctx context.Context, id uuid.UUID) (*entities.Pool, error) {
	var m models.Pool
	if err := lockable(ctx, conn(ctx, r.db)).Where("id = ?", id).First(&m).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, domainerrors.ErrNotFound
		}
		return nil, err
	}
	return toPoolEntity(&m), nil
}

func (r *PoolRepositoryImpl) UpdateStatus(ctx context.Context, id uuid.UUID, from []entities.PoolStatus, to entities.PoolStatus) (bool, error) {
	fromValues := make([]string, 0, len(from)+1)
	for _, s := range from {
		fromValues = append(fromValues, string(s))
		if s == entities.PoolStatusDistributed {
			fromValues = append(fromValues, "sent")
		}
	}
	res := conn(ctx, r.db).Model(&models.Pool{}).
		Where("id = ? AND status IN ?", id, fromValues).
		Updates(map[string]interface{}{
			"status":     string(to),
			"updated_at": time.Now().UTC(),
		})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

func (r *PoolRepositoryImpl) ListExpired(ctx context.Context, now time.Time, limit int) ([]*entities.Pool, error) {
	var ms []models.Pool
	q := conn(ctx, r.db).
		Where("status IN ? AND expires_at <= ?",
			[]string{string(entities.PoolStatusPaid), string(entities.PoolStatusDistributed), "sent"}, now.UTC()).
		Order("expires_at ASC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	if err := q.Find(&ms).Error; err != nil {
		return nil, err
	}
	pools := make([]*entities.Pool, 0, len(ms))
	for i := range ms {
		pools = append(pools, toPoolEntity(&ms[i]))
	}
	return pools, nil
}

func (r *PoolRepositoryImpl) CreateShares(ctx context.Context, shares []*entities.PoolShare) error {
	if len(shares) == 0 {
		return nil
	}
	ms := make([]models.PoolShare, 0, len(shares))
	for _, s := range shares {
		if s.ID == uuid.Nil {
			s.ID = utils.GenerateUUIDv7()
		}
		ms = append(ms, models.PoolShare{
			ID:     s.ID,
			PoolID: s.PoolID,
			Seq:    s.Seq,
			Amount: s.Amount,
		})
	}
	return conn(ctx, r.db).Create(&ms).Error
}

func (r *PoolRepositoryImpl) ListShares(ctx context.Context, poolID uuid.UUID) ([]*entities.PoolShare, error) {
	return r.findShares(conn(ctx, r.db).Where("pool_id = ?", poolID))
}

func (r *PoolRepositoryImpl) NextUnclaimedShare(ctx context.Context, poolID uuid.UUID) (*entities.PoolShare, error) {
	var m models.PoolShare
	err := lockable(ctx, conn(ctx, r.db)).
		Where("pool_id = ? AND claimed_by IS NULL AND refunded = ?", poolID, false).
		Order("seq ASC").
		Limit(1).
		Find(&m).Error
	if err != nil {
		return nil, err
	}
	if m.ID == uuid.Nil {
		return nil, domainerrors.ErrNotFound
	}
	return toShareEntity(&m), nil
}

func (r *PoolRepositoryImpl) ListUnclaimedShares(ctx context.Context, poolID uuid.UUID) ([]*entities.PoolShare, error) {
	return r.findShares(lockable(ctx, conn(ctx, r.db)).
		Where("pool_id = ? AND claimed_by IS NULL AND refunded = ?", poolID, false))
}

func (r *PoolRepositoryImpl) findShares(q *gorm.DB) ([]*entities.PoolShare, error) {
	var ms []models.PoolShare
	if err := q.Order("seq ASC").Find(&ms).Error; err != nil {
		return nil, err
	}
	shares := make([]*entities.PoolShare, 0, len(ms))
	for i := range ms {
		shares = append(shares, toShareEntity(&ms[i]))
	}
	return shares, nil
}

func (r *PoolRepositoryImpl) ClaimShare(ctx context.Context, shareID uuid.UUID, claimant int64, at time.Time) (bool, error) {
	return r.takeShare(ctx, shareID, claimant, at, false)
}

func (r *PoolRepositoryImpl) MarkRefunded(ctx context.Context, shareID uuid.UUID, ownerID int64, at time.Time) (bool, error) {
	return r.takeShare(ctx, shareID, ownerID, at, true)
}

func (r *PoolRepositoryImpl) takeShare(ctx context.Context, shareID uuid.UUID, by int64, at time.Time, refund bool) (bool, error) {
	res := conn(ctx, r.db).Model(&models.PoolShare{}).
		Where("id = ? AND claimed_by IS NULL AND refunded = ?", shareID, false).
		Updates(map[string]interface{}{
			"claimed_by": by,
			"claimed_at": at.UTC(),
			"refunded":   refund,
		})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

func (r *PoolRepositoryImpl) HasClaimed(ctx context.Context, poolID uuid.UUID, claimant int64) (bool, error) {
	var count int64
	if err := conn(ctx, r.db).Model(&models.PoolShare{}).
		Where("pool_id = ? AND claimed_by = ? AND refunded = ?", poolID, claimant, false).
		Count(&count).Error; err != nil {
		return false, err
	}
	return count > 0, nil
}

func (r *PoolRepositoryImpl) CountUnclaimed(ctx context.Context, poolID uuid.UUID) (int64, error) {
	var count int64
	if err := conn(ctx, r.db).Model(&models.PoolShare{}).
		Where("pool_id = ? AND claimed_by IS NULL AND refunded = ?", poolID, false).
		Count(&count).Error; err != nil {
		return 0, err
	}
	return count, nil
}

func toPoolEntity(m *models.Pool) *entities.Pool {
	return &entities.Pool{
		ID:          m.ID,
		PoolNo:      m.PoolNo,
		OwnerID:     m.OwnerID,
		Policy:      entities.PoolPolicy(m.Policy),
		RecipientID: m.RecipientID,
		TotalAmount: m.TotalAmount,
		ShareCount:  m.ShareCount,
		CoverText:   m.CoverText,
		Status:      entities.ParsePoolStatus(m.Status),
		ExpiresAt:   m.ExpiresAt,
		CreatedAt:   m.CreatedAt,
		UpdatedAt:   m.UpdatedAt,
	}
}

func toShareEntity(m *models.PoolShare) *entities.PoolShare {
	return &entities.PoolShare{
		ID:        m.ID,
		PoolID:    m.PoolID,
		Seq:       m.Seq,
		Amount:    m.Amount,
		ClaimedBy: m.ClaimedBy,
		ClaimedAt: m.ClaimedAt,
		Refunded:  m.Refunded,
	}
}
