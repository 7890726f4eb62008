package repositories

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"custody.backend/internal/domain/entities"
	domainerrors "custody.backend/internal/domain/errors"
	"custody.backend/internal/infrastructure/models"
	"custody.backend/pkg/utils"
)

// RentalLogRepositoryImpl implements RentalLogRepository
type RentalLogRepositoryImpl struct {
	db *gorm.DB
}

func NewRentalLogRepository(db *gorm.DB) *RentalLogRepositoryImpl {
	return &RentalLogRepositoryImpl{db: db}
}

func (r *RentalLogRepositoryImpl) Create(ctx context.Context, l *entities.ResourceRentalLog) error {
	if l.ID == uuid.Nil {
		l.ID = utils.GenerateUUIDv7()
	}
	m := &models.ResourceRentalLog{
		ID:        l.ID,
		Address:   l.Address,
		OrderID:   l.OrderID,
		OrderNo:   l.OrderNo,
		Provider:  l.Provider,
		RentalRef: l.RentalRef,
		Units:     l.Units,
		RentedAt:  l.RentedAt.UTC(),
		ExpireAt:  l.ExpireAt.UTC(),
		Status:    string(l.Status),
	}
	return conn(ctx, r.db).Create(m).Error
}

func (r *RentalLogRepositoryImpl) FindActive(ctx context.Context, address string, since, now time.Time) (*entities.ResourceRentalLog, error) {
	var m models.ResourceRentalLog
	err := conn(ctx, r.db).
		Where("address = ? AND status = ? AND expire_at > ? AND rented_at >= ?",
			address, string(entities.RentalStatusActive), now.UTC(), since.UTC()).
		Order("rented_at DESC").
		First(&m).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, domainerrors.ErrNotFound
		}
		return nil, err
	}
	return &entities.ResourceRentalLog{
		ID:        m.ID,
		Address:   m.Address,
		OrderID:   m.OrderID,
		OrderNo:   m.OrderNo,
		Provider:  m.Provider,
		RentalRef: m.RentalRef,
		Units:     m.Units,
		RentedAt:  m.RentedAt,
		ExpireAt:  m.ExpireAt,
		Status:    entities.RentalStatus(m.Status),
	}, nil
}

func (r *RentalLogRepositoryImpl) MarkUsed(ctx context.Context, address string) (int64, error) {
	res := conn(ctx, r.db).Model(&models.ResourceRentalLog{}).
		Where("address = ? AND status = ?", address, string(entities.RentalStatusActive)).
		Update("status", string(entities.RentalStatusUsed))
	return res.RowsAffected, res.Error
}

// SystemFlagRepositoryImpl implements SystemFlagRepository
type SystemFlagRepositoryImpl struct {
	db *gorm.DB
}

func NewSystemFlagRepository(db *gorm.DB) *SystemFlagRepositoryImpl {
	return &SystemFlagRepositoryImpl{db: db}
}

func (r *SystemFlagRepositoryImpl) Get(ctx context.Context, key string) (*entities.SystemFlag, error) {
	var m models.SystemFlag
	err := conn(ctx, r.db).
		Where(clause.Eq{Column: clause.Column{Name: "key"}, Value: key}).
		First(&m).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, domainerrors.ErrNotFound
		}
		return nil, err
	}
	return &entities.SystemFlag{Key: m.Key, Value: m.Value, UpdatedAt: m.UpdatedAt}, nil
}

func (r *SystemFlagRepositoryImpl) Set(ctx context.Context, key, value string) error {
	m := &models.SystemFlag{Key: key, Value: value, UpdatedAt: time.Now().UTC()}
	return conn(ctx, r.db).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "key"}},
		DoUpdates: clause.AssignmentColumns([]string{"value", "updated_at"}),
	}).Create(m).Error
}

func (r *SystemFlagRepositoryImpl) List(ctx context.Context) ([]*entities.SystemFlag, error) {
	var ms []models.SystemFlag
	if err := conn(ctx, r.db).Order("key ASC").Find(&ms).Error; err != nil {
		return nil, err
	}
	flags := make([]*entities.SystemFlag, 0, len(ms))
	for _, m := range ms {
		flags = append(flags, &entities.SystemFlag{Key: m.Key, Value: m.Value, UpdatedAt: m.UpdatedAt})
	}
	return flags, nil
}

// WithdrawalRepositoryImpl implements WithdrawalRepository
type WithdrawalRepositoryImpl struct {
	db *gorm.DB
}

func NewWithdrawalRepository(db *gorm.DB) *WithdrawalRepositoryImpl {
	return &WithdrawalRepositoryImpl{db: db}
}

func (r *WithdrawalRepositoryImpl) Create(ctx context.Context, w *entities.Withdrawal) error {
	now := time.Now().UTC()
	if w.ID == uuid.Nil {
		w.ID = utils.GenerateUUIDv7()
	}
	w.CreatedAt = now
	w.UpdatedAt = now
	m := &models.Withdrawal{
		ID:        w.ID,
		OrderNo:   w.OrderNo,
		UserID:    w.UserID,
		ToAddress: w.ToAddress,
		Amount:    w.Amount,
		Fee:       w.Fee,
		Status:    string(w.Status),
		TxID:      w.TxID,
		CreatedAt: now,
		UpdatedAt: now,
	}
	return conn(ctx, r.db).Create(m).Error
}

func (r *WithdrawalRepositoryImpl) GetByID(ctx context.Context, id uuid.UUID) (*entities.Withdrawal, error) {
	var m models.Withdrawal
	if err := conn(ctx, r.db).Where("id = ?", id).First(&m).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, domainerrors.ErrNotFound
		}
		return nil, err
	}
	return toWithdrawalEntity(&m), nil
}

func (r *WithdrawalRepositoryImpl) ListByStatus(ctx context.Context, status entities.WithdrawalStatus, limit int) ([]*entities.Withdrawal, error) {
	var ms []models.Withdrawal
	q := conn(ctx, r.db).Where("status = ?", string(status)).Order("created_at ASC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	if err := q.Find(&ms).Error; err != nil {
		return nil, err
	}
	out := make([]*entities.Withdrawal, 0, len(ms))
	for i := range ms {
		out = append(out, toWithdrawalEntity(&ms[i]))
	}
	return out, nil
}

func (r *WithdrawalRepositoryImpl) Transition(ctx context.Context, id uuid.UUID, from []entities.WithdrawalStatus, to entities.WithdrawalStatus, txID, reason string) (bool, error) {
	fromValues := make([]string, 0, len(from))
	for _, s := range from {
		fromValues = append(fromValues, string(s))
	}
	updates := map[string]interface{}{
		"status":     string(to),
		"updated_at": time.Now().UTC(),
	}
	if txID != "" {
		updates["tx_id"] = txID
	}
	if reason != "" {
		updates["failure_reason"] = reason
	}
	res := conn(ctx, r.db).Model(&models.Withdrawal{}).
		Where("id = ? AND status IN ?", id, fromValues).
		Updates(updates)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

func toWithdrawalEntity(m *models.Withdrawal) *entities.Withdrawal {
	return &entities.Withdrawal{
		ID:            m.ID,
		OrderNo:       m.OrderNo,
		UserID:        m.UserID,
		ToAddress:     m.ToAddress,
		Amount:        m.Amount,
		Fee:           m.Fee,
		Status:        entities.WithdrawalStatus(m.Status),
		TxID:          m.TxID,
		FailureReason: m.FailureReason,
		CreatedAt:     m.CreatedAt,
		UpdatedAt:     m.UpdatedAt,
	}
}

// ReconciliationRepositoryImpl implements ReconciliationRepository
type ReconciliationRepositoryImpl struct {
	db *gorm.DB
}

func NewReconciliationRepository(db *gorm.DB) *ReconciliationRepositoryImpl {
	return &ReconciliationRepositoryImpl{db: db}
}

func (r *ReconciliationRepositoryImpl) Create(ctx context.Context, rec *entities.ReconciliationRecord) error {
	if rec.ID == uuid.Nil {
		rec.ID = utils.GenerateUUIDv7()
	}
	m := &models.ReconciliationRecord{
		ID:               rec.ID,
		AggregateAddress: rec.AggregateAddress,
		OnchainBalance:   rec.OnchainBalance,
		UserBalanceSum:   rec.UserBalanceSum,
		Difference:       rec.Difference,
		Status:           string(rec.Status),
		Locked:           rec.Locked,
		CheckedAt:        rec.CheckedAt.UTC(),
	}
	return conn(ctx, r.db).Create(m).Error
}

func (r *ReconciliationRepositoryImpl) Latest(ctx context.Context) (*entities.ReconciliationRecord, error) {
	var m models.ReconciliationRecord
	if err := conn(ctx, r.db).Order("checked_at DESC").First(&m).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, domainerrors.ErrNotFound
		}
		return nil, err
	}
	return &entities.ReconciliationRecord{
		ID:               m.ID,
		AggregateAddress: m.AggregateAddress,
		OnchainBalance:   m.OnchainBalance,
		UserBalanceSum:   m.UserBalanceSum,
		Difference:       m.Difference,
		Status:           entities.ReconciliationStatus(m.Status),
		Locked:           m.Locked,
		CheckedAt:        m.CheckedAt,
	}, nil
}
