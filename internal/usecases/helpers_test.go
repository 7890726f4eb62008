package usecases_test

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"custody.backend/internal/domain/entities"
	domainRepos "custody.backend/internal/domain/repositories"
	"custody.backend/internal/infrastructure/repositories"
	"custody.backend/internal/infrastructure/repositories/sqlitetest"
	"custody.backend/internal/usecases"
	"custody.backend/pkg/crypto"
)

const testVaultKey = "000102030405060708090a0b0c0d0e0f101112131415161718191a1b1c1d1e1f"

// store bundles the sqlite-backed repositories a usecase test needs.
type store struct {
	db          *gorm.DB
	uow         domainRepos.UnitOfWork
	orders      *repositories.DepositOrderRepositoryImpl
	wallets     *repositories.WalletRepositoryImpl
	ledgerRepo  *repositories.LedgerRepositoryImpl
	pools       *repositories.PoolRepositoryImpl
	withdrawals *repositories.WithdrawalRepositoryImpl
	flags       *repositories.SystemFlagRepositoryImpl
	records     *repositories.ReconciliationRepositoryImpl
	ledger      *usecases.LedgerService
}

func newStore(t *testing.T) *store {
	t.Helper()
	db := sqlitetest.Open(t)
	uow := repositories.NewUnitOfWork(db)
	wallets := repositories.NewWalletRepository(db)
	ledgerRepo := repositories.NewLedgerRepository(db)
	return &store{
		db:          db,
		uow:         uow,
		orders:      repositories.NewDepositOrderRepository(db),
		wallets:     wallets,
		ledgerRepo:  ledgerRepo,
		pools:       repositories.NewPoolRepository(db),
		withdrawals: repositories.NewWithdrawalRepository(db),
		flags:       repositories.NewSystemFlagRepository(db),
		records:     repositories.NewReconciliationRepository(db),
		ledger:      usecases.NewLedgerService(uow, wallets, ledgerRepo),
	}
}

func (s *store) fund(t *testing.T, userID int64, amount string) {
	t.Helper()
	_, err := s.ledger.Credit(context.Background(), entities.CreditInput{
		UserID:  userID,
		OrderNo: "seed_" + uuid.NewString(),
		Type:    entities.ChangeAdjustment,
		Amount:  decimal.RequireFromString(amount),
	})
	require.NoError(t, err)
}

func (s *store) wallet(t *testing.T, userID int64) *entities.Wallet {
	t.Helper()
	w, err := s.wallets.GetByUserID(context.Background(), userID)
	require.NoError(t, err)
	return w
}

func newVault(t *testing.T) *crypto.KeyVault {
	t.Helper()
	v, err := crypto.NewKeyVault(testVaultKey)
	require.NoError(t, err)
	return v
}

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func requireDecimal(t *testing.T, want string, got decimal.Decimal) {
	t.Helper()
	require.True(t, dec(want).Equal(got), "want %s, got %s", want, got)
}
