package repositories

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"custody.backend/internal/domain/entities"
	"custody.backend/internal/infrastructure/models"
	"custody.backend/pkg/utils"
)

// LedgerRepositoryImpl implements LedgerRepository
type LedgerRepositoryImpl struct {
	db *gorm.DB
}

func NewLedgerRepository(db *gorm.DB) *LedgerRepositoryImpl {
	return &LedgerRepositoryImpl{db: db}
}

// InsertIfAbsent relies on ON CONFLICT DO NOTHING so a duplicate does not
// abort the surrounding transaction.
func (r *LedgerRepositoryImpl) InsertIfAbsent(ctx context.Context, e *entities.LedgerEntry) (bool, error) {
	if e.ID == uuid.Nil {
		e.ID = utils.GenerateUUIDv7()
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now().UTC()
	}
	m := &models.LedgerEntry{
		ID:            e.ID,
		UserID:        e.UserID,
		ChangeType:    string(e.ChangeType),
		Amount:        e.Amount,
		BalanceBefore: e.BalanceBefore,
		BalanceAfter:  e.BalanceAfter,
		RefTable:      e.RefTable,
		RefID:         e.RefID,
		OrderNo:       e.OrderNo,
		Remark:        e.Remark,
		CreatedAt:     e.CreatedAt.UTC(),
	}
	res := conn(ctx, r.db).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "user_id"}, {Name: "order_no"}},
		DoNothing: true,
	}).Create(m)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

func (r *LedgerRepositoryImpl) Exists(ctx context.Context, userID int64, orderNo string) (bool, error) {
	var count int64
	if err := conn(ctx, r.db).Model(&models.LedgerEntry{}).
		Where("user_id = ? AND order_no = ?", userID, orderNo).
		Count(&count).Error; err != nil {
		return false, err
	}
	return count > 0, nil
}

func (r *LedgerRepositoryImpl) ListByUser(ctx context.Context, userID int64, limit, offset int) ([]*entities.LedgerEntry, int64, error) {
	var total int64
	if err := conn(ctx, r.db).Model(&models.LedgerEntry{}).
		Where("user_id = ?", userID).
		Count(&total).Error; err != nil {
		return nil, 0, err
	}

	var ms []models.LedgerEntry
	q := conn(ctx, r.db).Where("user_id = ?", userID).Order("created_at DESC").Order("id DESC")
	if limit > 0 {
		q = q.Limit(limit).Offset(offset)
	}
	if err := q.Find(&ms).Error; err != nil {
		return nil, 0, err
	}

	entries := make([]*entities.LedgerEntry, 0, len(ms))
	for i := range ms {
		m := &ms[i]
		entries = append(entries, &entities.LedgerEntry{
			ID:            m.ID,
			UserID:        m.UserID,
			ChangeType:    entities.ChangeType(m.ChangeType),
			Amount:        m.Amount,
			BalanceBefore: m.BalanceBefore,
			BalanceAfter:  m.BalanceAfter,
			RefTable:      m.RefTable,
			RefID:         m.RefID,
			OrderNo:       m.OrderNo,
			Remark:        m.Remark,
			CreatedAt:     m.CreatedAt,
		})
	}
	return entries, total, nil
}

func (r *LedgerRepositoryImpl) SumByUser(ctx context.Context, userID int64) (decimal.Decimal, error) {
	var total decimal.NullDecimal
	if err := conn(ctx, r.db).Model(&models.LedgerEntry{}).
		Select("SUM(amount)").
		Where("user_id = ?", userID).
		Row().Scan(&total); err != nil {
		return decimal.Zero, err
	}
	if !total.Valid {
		return decimal.Zero, nil
	}
	return total.Decimal, nil
}
