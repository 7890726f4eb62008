package repositories

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"custody.backend/internal/domain/entities"
	domainerrors "custody.backend/internal/domain/errors"
	domainRepos "custody.backend/internal/domain/repositories"
	"custody.backend/internal/infrastructure/models"
	"custody.backend/pkg/utils"
)

// DepositOrderRepositoryImpl implements DepositOrderRepository
type DepositOrderRepositoryImpl struct {
	db *gorm.DB
}

func NewDepositOrderRepository(db *gorm.DB) *DepositOrderRepositoryImpl {
	return &DepositOrderRepositoryImpl{db: db}
}

func (r *DepositOrderRepositoryImpl) Create(ctx context.Context, o *entities.DepositOrder) error {
	now := time.Now().UTC()
	if o.ID == uuid.Nil {
		o.ID = utils.GenerateUUIDv7()
	}
	if o.CreatedAt.IsZero() {
		o.CreatedAt = now
	}
	o.UpdatedAt = now

	m := &models.DepositOrder{
		ID:             o.ID,
		OrderNo:        o.OrderNo,
		UserID:         o.UserID,
		Address:        o.Address,
		ExpectedAmount: o.ExpectedAmount,
		ObservedAmount: o.ObservedAmount,
		SettledAmount:  o.SettledAmount,
		Status:         string(o.Status),
		SettlementTxID: o.SettlementTxID,
		ExpireAt:       o.ExpireAt.UTC(),
		CreatedAt:      o.CreatedAt.UTC(),
		UpdatedAt:      o.UpdatedAt,
	}
	return conn(ctx, r.db).Create(m).Error
}

func (r *DepositOrderRepositoryImpl) GetByID(ctx context.Context, id uuid.UUID) (*entities.DepositOrder, error) {
	var m models.DepositOrder
	if err := lockable(ctx, conn(ctx, r.db)).Where("id = ?", id).First(&m).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, domainerrors.ErrNotFound
		}
		return nil, err
	}
	return r.toEntity(&m), nil
}

func (r *DepositOrderRepositoryImpl) FindOpen(ctx context.Context, userID int64, now time.Time) (*entities.DepositOrder, error) {
	var m models.DepositOrder
	err := conn(ctx, r.db).
		Where("user_id = ? AND ((status = ? AND expire_at > ?) OR status IN ?)",
			userID, string(entities.DepositStatusWaiting), now.UTC(), inFlightStatuses()).
		Order("created_at DESC").
		First(&m).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, domainerrors.ErrNotFound
		}
		return nil, err
	}
	return r.toEntity(&m), nil
}

func (r *DepositOrderRepositoryImpl) HasSweepInFlight(ctx context.Context, address string) (bool, error) {
	var n int64
	err := conn(ctx, r.db).Model(&models.DepositOrder{}).
		Where("address = ? AND status IN ?", address, inFlightStatuses()).
		Count(&n).Error
	return n > 0, err
}

func inFlightStatuses() []string {
	return []string{string(entities.DepositStatusCollecting), string(entities.DepositStatusVerifying)}
}

func (r *DepositOrderRepositoryImpl) ListWaiting(ctx context.Context, now time.Time, limit int) ([]*entities.DepositOrder, error) {
	return r.list(ctx, limit, "status = ? AND expire_at > ?", string(entities.DepositStatusWaiting), now.UTC())
}

func (r *DepositOrderRepositoryImpl) ListExpiredWaiting(ctx context.Context, now time.Time, limit int) ([]*entities.DepositOrder, error) {
	return r.list(ctx, limit, "status = ? AND expire_at <= ?", string(entities.DepositStatusWaiting), now.UTC())
}

func (r *DepositOrderRepositoryImpl) ListByStatus(ctx context.Context, status entities.DepositStatus, limit int) ([]*entities.DepositOrder, error) {
	return r.list(ctx, limit, "status = ?", string(status))
}

func (r *DepositOrderRepositoryImpl) list(ctx context.Context, limit int, query string, args ...interface{}) ([]*entities.DepositOrder, error) {
	var ms []models.DepositOrder
	q := conn(ctx, r.db).Where(query, args...).Order("created_at ASC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	if err := q.Find(&ms).Error; err != nil {
		return nil, err
	}

	orders := make([]*entities.DepositOrder, 0, len(ms))
	for i := range ms {
		orders = append(orders, r.toEntity(&ms[i]))
	}
	return orders, nil
}

func (r *DepositOrderRepositoryImpl) CompareAndUpdate(ctx context.Context, id uuid.UUID, from entities.DepositStatus, upd domainRepos.DepositOrderUpdate) (bool, error) {
	updates := map[string]interface{}{
		"updated_at": time.Now().UTC(),
	}
	if upd.Status != nil {
		updates["status"] = string(*upd.Status)
	}
	if upd.ObservedAmount != nil {
		updates["observed_amount"] = *upd.ObservedAmount
	}
	if upd.AddSettled != nil {
		updates["settled_amount"] = gorm.Expr("settled_amount + ?", *upd.AddSettled)
	}
	if upd.SettlementTxID != nil {
		updates["settlement_tx_id"] = *upd.SettlementTxID
	}

	res := conn(ctx, r.db).Model(&models.DepositOrder{}).
		Where("id = ? AND status = ?", id, string(from)).
		Updates(updates)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

func (r *DepositOrderRepositoryImpl) toEntity(m *models.DepositOrder) *entities.DepositOrder {
	status, err := entities.ParseDepositStatus(m.Status)
	if err != nil {
		status = entities.DepositStatus(m.Status)
	}
	return &entities.DepositOrder{
		ID:             m.ID,
		OrderNo:        m.OrderNo,
		UserID:         m.UserID,
		Address:        m.Address,
		ExpectedAmount: m.ExpectedAmount,
		ObservedAmount: m.ObservedAmount,
		SettledAmount:  m.SettledAmount,
		Status:         status,
		SettlementTxID: m.SettlementTxID,
		ExpireAt:       m.ExpireAt,
		CreatedAt:      m.CreatedAt,
		UpdatedAt:      m.UpdatedAt,
	}
}
