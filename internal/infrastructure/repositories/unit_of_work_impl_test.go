package repositories

import (
	"context"
	"errors"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"custody.backend/internal/infrastructure/models"
)

func countWallets(t *testing.T, db *gorm.DB) int64 {
	t.Helper()
	var count int64
	require.NoError(t, db.Model(&models.Wallet{}).Count(&count).Error)
	return count
}

func TestUnitOfWork_DoCommitAndRollback(t *testing.T) {
	db := OpenTestDB(t)
	u := &UnitOfWorkImpl{db: db}
	wallets := NewWalletRepository(db)

	err := u.Do(context.Background(), func(ctx context.Context) error {
		return wallets.EnsureRow(ctx, 1)
	})
	require.NoError(t, err)
	require.Equal(t, int64(1), countWallets(t, db))

	err = u.Do(context.Background(), func(ctx context.Context) error {
		if err := wallets.EnsureRow(ctx, 2); err != nil {
			return err
		}
		return errors.New("force rollback")
	})
	require.Error(t, err)
	require.Equal(t, int64(1), countWallets(t, db), "second insert must be rolled back")
}

func TestUnitOfWork_NestedDoJoinsOuterTransaction(t *testing.T) {
	db := OpenTestDB(t)
	u := &UnitOfWorkImpl{db: db}
	wallets := NewWalletRepository(db)

	err := u.Do(context.Background(), func(ctx context.Context) error {
		if err := u.Do(ctx, func(inner context.Context) error {
			require.Same(t, GetDB(ctx, db), GetDB(inner, db))
			return wallets.EnsureRow(inner, 10)
		}); err != nil {
			return err
		}
		return errors.New("outer fails")
	})
	require.Error(t, err)
	require.Equal(t, int64(0), countWallets(t, db), "inner work rolls back with the outer transaction")
}

func TestUnitOfWork_WithLockAndGetDB(t *testing.T) {
	db := OpenTestDB(t)
	u := &UnitOfWorkImpl{db: db}

	ctx := u.WithLock(context.Background())
	require.True(t, isLocked(ctx))
	require.False(t, isLocked(context.Background()))
	require.NotNil(t, GetDB(ctx, db))

	plainDB := u.GetDB(context.Background())
	require.Equal(t, db, plainDB)

	tx := db.Begin()
	txCtx := context.WithValue(context.Background(), txKey, tx)
	require.Equal(t, tx, u.GetDB(txCtx))
	tx.Rollback()

	// locked reads still work on sqlite, which drops FOR UPDATE
	wallets := NewWalletRepository(db)
	require.NoError(t, wallets.EnsureRow(context.Background(), 3))
	w, err := wallets.GetByUserID(ctx, 3)
	require.NoError(t, err)
	require.True(t, w.Balance.Equal(decimal.Zero))
}

func TestUnitOfWork_DoBeginFailure(t *testing.T) {
	db := OpenTestDB(t)
	u := &UnitOfWorkImpl{db: db}

	sqlDB, err := db.DB()
	require.NoError(t, err)
	require.NoError(t, sqlDB.Close())

	err = u.Do(context.Background(), func(ctx context.Context) error {
		return nil
	})
	require.Error(t, err)
	require.Contains(t, err.Error(), "failed to begin transaction")
}

func TestUnitOfWork_DoCommitFailure_WithHook(t *testing.T) {
	db := OpenTestDB(t)
	u := &UnitOfWorkImpl{db: db}

	origCommit := commitTx
	t.Cleanup(func() { commitTx = origCommit })
	commitTx = func(tx *gorm.DB) error {
		return errors.New("forced commit fail")
	}

	err := u.Do(context.Background(), func(ctx context.Context) error {
		return NewWalletRepository(db).EnsureRow(ctx, 1)
	})
	require.Error(t, err)
	require.Contains(t, err.Error(), "failed to commit transaction")
}
