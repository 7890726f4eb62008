package usecases_test

import (
	"context"
	"errors"
	"testing"

	"github.com/alicebob/miniredis/v2"
	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"custody.backend/internal/domain/entities"
	domainerrors "custody.backend/internal/domain/errors"
	"custody.backend/internal/usecases"
)

func TestReconciliationUsecase_DeficitLocksAndRecoveryClears(t *testing.T) {
	s := newStore(t)
	mr := miniredis.RunT(t)
	flags := usecases.NewFlagService(s.flags, goredis.NewClient(&goredis.Options{Addr: mr.Addr()}))
	chain := new(MockChain)
	uc := usecases.NewReconciliationUsecase(chain, s.wallets, s.records, flags, aggregateAddr, dec("0.000001"))
	ctx := context.Background()

	s.fund(t, 1, "60")
	s.fund(t, 2, "40.5")

	chain.On("TokenBalance", mock.Anything, aggregateAddr).Return(dec("100"), nil).Once()
	rec, err := uc.Run(ctx)
	require.NoError(t, err)
	assert.True(t, rec.Locked)
	assert.Equal(t, entities.ReconciliationDiscrepancy, rec.Status)
	requireDecimal(t, "-0.5", rec.Difference)
	for _, key := range usecases.LockFlags {
		assert.ErrorIs(t, flags.Guard(ctx, key), domainerrors.ErrFeatureLocked, key)
	}

	chain.On("TokenBalance", mock.Anything, aggregateAddr).Return(dec("100.5"), nil).Once()
	rec, err = uc.Run(ctx)
	require.NoError(t, err)
	assert.False(t, rec.Locked)
	assert.Equal(t, entities.ReconciliationOK, rec.Status)
	for _, key := range usecases.LockFlags {
		assert.NoError(t, flags.Guard(ctx, key), key)
	}

	latest, err := s.records.Latest(ctx)
	require.NoError(t, err)
	assert.Equal(t, entities.ReconciliationOK, latest.Status)
}

func TestReconciliationUsecase_WithinEpsilonStaysOpen(t *testing.T) {
	s := newStore(t)
	flags := usecases.NewFlagService(s.flags, nil)
	chain := new(MockChain)
	uc := usecases.NewReconciliationUsecase(chain, s.wallets, s.records, flags, aggregateAddr, dec("0.000001"))
	s.fund(t, 1, "10.0000005")

	chain.On("TokenBalance", mock.Anything, aggregateAddr).Return(dec("10"), nil).Once()
	rec, err := uc.Run(context.Background())
	require.NoError(t, err)
	assert.False(t, rec.Locked)
}

func TestReconciliationUsecase_ChainErrorLeavesFlagsAlone(t *testing.T) {
	s := newStore(t)
	flags := usecases.NewFlagService(s.flags, nil)
	ctx := context.Background()
	require.NoError(t, flags.SetLocked(ctx, entities.FlagLockWithdrawals, true))

	chain := new(MockChain)
	chain.On("TokenBalance", mock.Anything, aggregateAddr).Return(dec("0"), errors.New("node down")).Once()
	uc := usecases.NewReconciliationUsecase(chain, s.wallets, s.records, flags, aggregateAddr, dec("0.000001"))

	_, err := uc.Run(ctx)
	require.Error(t, err)
	assert.ErrorIs(t, flags.Guard(ctx, entities.FlagLockWithdrawals), domainerrors.ErrFeatureLocked)
}
