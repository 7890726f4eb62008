package usecases_test

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	domainerrors "custody.backend/internal/domain/errors"
	"custody.backend/internal/infrastructure/blockchain"
	"custody.backend/internal/usecases"
)

func TestWalletUsecase_EnsureWalletIsStable(t *testing.T) {
	s := newStore(t)
	vault := newVault(t)
	uc := usecases.NewWalletUsecase(s.wallets, vault)
	ctx := context.Background()

	w, err := uc.EnsureWallet(ctx, 1)
	require.NoError(t, err)
	require.NoError(t, blockchain.ValidateAddress(w.DepositAddress))

	raw, err := vault.Open(w.KeyCipher)
	require.NoError(t, err)
	key, err := blockchain.ParseKey(raw)
	require.NoError(t, err)
	assert.Equal(t, w.DepositAddress, key.Address())

	again, err := uc.EnsureWallet(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, w.DepositAddress, again.DepositAddress)

	_, err = uc.EnsureWallet(ctx, 0)
	assert.ErrorIs(t, err, domainerrors.ErrInvalidInput)
}

func TestWalletUsecase_ConcurrentEnsureWalletAgrees(t *testing.T) {
	s := newStore(t)
	uc := usecases.NewWalletUsecase(s.wallets, newVault(t))

	var wg sync.WaitGroup
	addrs := make([]string, 8)
	for i := range addrs {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			w, err := uc.EnsureWallet(context.Background(), 42)
			if assert.NoError(t, err) {
				addrs[i] = w.DepositAddress
			}
		}(i)
	}
	wg.Wait()
	for _, a := range addrs {
		assert.Equal(t, addrs[0], a)
	}
}

func TestWalletUsecase_TxPassword(t *testing.T) {
	s := newStore(t)
	uc := usecases.NewWalletUsecase(s.wallets, newVault(t))
	ctx := context.Background()

	// nothing configured yet
	require.NoError(t, uc.VerifyTxPassword(ctx, 5, ""))

	for _, bad := range []string{"123", "1234567", "12a4", ""} {
		assert.ErrorIs(t, uc.SetTxPassword(ctx, 5, bad), domainerrors.ErrInvalidInput, bad)
	}
	require.NoError(t, uc.SetTxPassword(ctx, 5, "2468"))

	assert.NoError(t, uc.VerifyTxPassword(ctx, 5, "2468"))
	assert.ErrorIs(t, uc.VerifyTxPassword(ctx, 5, "1357"), domainerrors.ErrInvalidTxPassword)
	assert.ErrorIs(t, uc.VerifyTxPassword(ctx, 5, ""), domainerrors.ErrInvalidTxPassword)
}
