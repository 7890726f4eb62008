package repositories

import (
	"context"
	"errors"
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"custody.backend/internal/domain/entities"
	domainerrors "custody.backend/internal/domain/errors"
	"custody.backend/internal/infrastructure/models"
)

// WalletRepositoryImpl implements WalletRepository
type WalletRepositoryImpl struct {
	db *gorm.DB
}

func NewWalletRepository(db *gorm.DB) *WalletRepositoryImpl {
	return &WalletRepositoryImpl{db: db}
}

func (r *WalletRepositoryImpl) EnsureRow(ctx context.Context, userID int64) error {
	now := time.Now().UTC()
	m := &models.Wallet{
		UserID:    userID,
		Balance:   decimal.Zero,
		Frozen:    decimal.Zero,
		CreatedAt: now,
		UpdatedAt: now,
	}
	return conn(ctx, r.db).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "user_id"}},
		DoNothing: true,
	}).Create(m).Error
}

func (r *WalletRepositoryImpl) GetByUserID(ctx context.Context, userID int64) (*entities.Wallet, error) {
	var m models.Wallet
	if err := lockable(ctx, conn(ctx, r.db)).Where("user_id = ?", userID).First(&m).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, domainerrors.ErrNotFound
		}
		return nil, err
	}
	return toWalletEntity(&m), nil
}

func (r *WalletRepositoryImpl) AssignAddress(ctx context.Context, userID int64, address, keyCipher string) (bool, error) {
	res := conn(ctx, r.db).Model(&models.Wallet{}).
		Where("user_id = ? AND deposit_address = ?", userID, "").
		Updates(map[string]interface{}{
			"deposit_address": address,
			"key_cipher":      keyCipher,
			"updated_at":      time.Now().UTC(),
		})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

func (r *WalletRepositoryImpl) UpdateBalances(ctx context.Context, userID int64, balance, frozen decimal.Decimal) error {
	res := conn(ctx, r.db).Model(&models.Wallet{}).
		Where("user_id = ?", userID).
		Updates(map[string]interface{}{
			"balance":    balance,
			"frozen":     frozen,
			"updated_at": time.Now().UTC(),
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return domainerrors.ErrNotFound
	}
	return nil
}

func (r *WalletRepositoryImpl) SetTxPasswordHash(ctx context.Context, userID int64, hash string) error {
	res := conn(ctx, r.db).Model(&models.Wallet{}).
		Where("user_id = ?", userID).
		Updates(map[string]interface{}{
			"tx_password_hash": hash,
			"updated_at":       time.Now().UTC(),
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return domainerrors.ErrNotFound
	}
	return nil
}

func (r *WalletRepositoryImpl) SumBalances(ctx context.Context) (decimal.Decimal, error) {
	var total decimal.NullDecimal
	if err := conn(ctx, r.db).Model(&models.Wallet{}).
		Select("SUM(balance)").
		Row().Scan(&total); err != nil {
		return decimal.Zero, err
	}
	if !total.Valid {
		return decimal.Zero, nil
	}
	return total.Decimal, nil
}

func toWalletEntity(m *models.Wallet) *entities.Wallet {
	return &entities.Wallet{
		UserID:         m.UserID,
		DepositAddress: m.DepositAddress,
		KeyCipher:      m.KeyCipher,
		Balance:        m.Balance,
		Frozen:         m.Frozen,
		TxPasswordHash: m.TxPasswordHash,
		CreatedAt:      m.CreatedAt,
		UpdatedAt:      m.UpdatedAt,
	}
}
