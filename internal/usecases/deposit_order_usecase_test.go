package usecases_test

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"custody.backend/internal/domain/entities"
	domainerrors "custody.backend/internal/domain/errors"
	"custody.backend/internal/usecases"
)

const aggregateAddr = "TR7NHqjeKQxGTCi8q8ZY4pL8otSzgjLj6t"

type depositEnv struct {
	uc       *usecases.DepositOrderUsecase
	store    *store
	wallets  *usecases.WalletUsecase
	chain    *MockChain
	prov     *MockProvisioner
	settler  *MockSettler
	notifier *MockNotifier
}

func newDepositEnv(t *testing.T) *depositEnv {
	t.Helper()
	s := newStore(t)
	env := &depositEnv{
		store:    s,
		wallets:  usecases.NewWalletUsecase(s.wallets, newVault(t)),
		chain:    new(MockChain),
		prov:     new(MockProvisioner),
		settler:  new(MockSettler),
		notifier: new(MockNotifier),
	}
	env.uc = usecases.NewDepositOrderUsecase(
		s.uow, s.orders, s.wallets, s.ledgerRepo, s.ledger, env.wallets,
		env.chain, env.prov, env.settler, env.notifier,
		usecases.DepositConfig{
			MinDeposit:       dec("10"),
			Epsilon:          dec("0.000001"),
			OrderExpiry:      15 * time.Minute,
			BatchLimit:       50,
			SweepEnergy:      65000,
			BandwidthRequire: 345,
			AggregateAddr:    aggregateAddr,
		},
	)
	return env
}

// seedOrder stores an order for a provisioned wallet of userID.
func (e *depositEnv) seedOrder(t *testing.T, userID int64, status entities.DepositStatus, mutate func(o *entities.DepositOrder)) *entities.DepositOrder {
	t.Helper()
	w, err := e.wallets.EnsureWallet(context.Background(), userID)
	require.NoError(t, err)
	o := &entities.DepositOrder{
		OrderNo:  fmt.Sprintf("charge_%d_%s", userID, uuid.NewString()[:8]),
		UserID:   userID,
		Address:  w.DepositAddress,
		Status:   status,
		ExpireAt: time.Now().Add(10 * time.Minute),
	}
	if mutate != nil {
		mutate(o)
	}
	require.NoError(t, e.store.orders.Create(context.Background(), o))
	return o
}

func (e *depositEnv) reload(t *testing.T, id uuid.UUID) *entities.DepositOrder {
	t.Helper()
	o, err := e.store.orders.GetByID(context.Background(), id)
	require.NoError(t, err)
	return o
}

func (e *depositEnv) resourcesReady(address string) {
	e.prov.On("EnsureEnergy", mock.Anything, mock.MatchedBy(func(r usecases.EnergyRequest) bool {
		return r.Address == address && r.Required == 65000
	})).Return(true, nil)
	e.prov.On("EnsureBandwidth", mock.Anything, address, int64(345)).Return(true, nil)
	e.prov.On("ReleaseRentals", mock.Anything, address).Return(nil)
}

func confirmed(txID string) *entities.TxReceipt {
	return &entities.TxReceipt{TxID: txID, BlockNumber: 100, Result: entities.ReceiptSuccess}
}

func TestDepositOrderUsecase_CreateOrderReusesOpenOrder(t *testing.T) {
	env := newDepositEnv(t)
	ctx := context.Background()

	first, err := env.uc.CreateOrder(ctx, 11, nil)
	require.NoError(t, err)
	assert.Equal(t, entities.DepositStatusWaiting, first.Status)
	assert.Regexp(t, `^charge_\d{12}[a-z]{4}$`, first.OrderNo)
	assert.NotEmpty(t, first.Address)

	second, err := env.uc.CreateOrder(ctx, 11, nil)
	require.NoError(t, err)
	assert.Equal(t, first.ID, second.ID)

	got, err := env.uc.GetOrder(ctx, 11, first.ID)
	require.NoError(t, err)
	assert.Equal(t, first.Address, got.Address)

	_, err = env.uc.GetOrder(ctx, 12, first.ID)
	assert.ErrorIs(t, err, domainerrors.ErrNotFound)

	neg := dec("-1")
	_, err = env.uc.CreateOrder(ctx, 11, &neg)
	assert.ErrorIs(t, err, domainerrors.ErrInvalidInput)
}

func TestDepositOrderUsecase_WaitingThreshold(t *testing.T) {
	tests := []struct {
		name    string
		balance string
		want    entities.DepositStatus
	}{
		{"dust just under minimum", "9.999999", entities.DepositStatusWaiting},
		{"nothing arrived", "0", entities.DepositStatusWaiting},
		{"exact minimum", "10", entities.DepositStatusCollecting},
		{"above minimum", "10.50", entities.DepositStatusCollecting},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newDepositEnv(t)
			o := env.seedOrder(t, 21, entities.DepositStatusWaiting, nil)
			env.chain.On("TokenBalance", mock.Anything, o.Address).Return(dec(tt.balance), nil).Once()

			got, err := env.uc.AdvanceWaiting(context.Background(), o)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)

			stored := env.reload(t, o.ID)
			assert.Equal(t, tt.want, stored.Status)
			if tt.want == entities.DepositStatusCollecting {
				requireDecimal(t, tt.balance, stored.ObservedAmount)
			}
		})
	}
}

func TestDepositOrderUsecase_ExpiredOrderIsNeverCollected(t *testing.T) {
	env := newDepositEnv(t)
	o := env.seedOrder(t, 31, entities.DepositStatusWaiting, func(o *entities.DepositOrder) {
		o.ExpireAt = time.Now().Add(-time.Minute)
	})
	env.chain.On("TokenBalance", mock.Anything, o.Address).Return(dec("50"), nil).Maybe()

	stats, err := env.uc.ProcessPass(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Expired)
	assert.Equal(t, entities.DepositStatusExpired, env.reload(t, o.ID).Status)
	env.chain.AssertNotCalled(t, "TokenBalance", mock.Anything, o.Address)

	// a stale copy still in waiting is expired rather than advanced
	got, err := env.uc.AdvanceWaiting(context.Background(), o)
	require.NoError(t, err)
	assert.Equal(t, entities.DepositStatusExpired, got)
	env.chain.AssertNotCalled(t, "TokenBalance", mock.Anything, o.Address)
}

func TestDepositOrderUsecase_PassCreditsAmountSeenBeforeSweep(t *testing.T) {
	env := newDepositEnv(t)
	ctx := context.Background()
	order, err := env.uc.CreateOrder(ctx, 41, nil)
	require.NoError(t, err)
	addr := order.Address

	env.chain.On("TokenBalance", mock.Anything, addr).Return(dec("10.50"), nil).Twice()
	env.chain.On("TokenBalance", mock.Anything, addr).Return(dec("0"), nil).Once()
	env.resourcesReady(addr)
	env.settler.On("Sweep", mock.Anything, mock.MatchedBy(func(r usecases.SweepRequest) bool {
		return r.Address == addr && r.Destination == aggregateAddr && r.Amount.Equal(dec("10.50")) && r.KeyCipher != ""
	})).Return("tx-sweep-1", nil).Once()
	env.settler.On("AwaitConfirmation", mock.Anything, "tx-sweep-1").Return(confirmed("tx-sweep-1"), nil).Once()
	env.notifier.On("Notify", mock.Anything, int64(41), mock.AnythingOfType("string")).Return(nil).Once()

	stats, err := env.uc.ProcessPass(ctx)
	require.NoError(t, err)
	assert.Equal(t, usecases.PassStats{Advanced: 3, Credited: 1}, stats)

	stored := env.reload(t, order.ID)
	assert.Equal(t, entities.DepositStatusSuccess, stored.Status)
	assert.Equal(t, "tx-sweep-1", stored.SettlementTxID)
	requireDecimal(t, "10.50", stored.SettledAmount)
	requireDecimal(t, "10.50", env.store.wallet(t, 41).Balance)

	env.settler.AssertExpectations(t)
	env.notifier.AssertExpectations(t)
}

func TestDepositOrderUsecase_VerifyTwiceCreditsOnce(t *testing.T) {
	env := newDepositEnv(t)
	ctx := context.Background()
	o := env.seedOrder(t, 51, entities.DepositStatusVerifying, func(o *entities.DepositOrder) {
		o.SettledAmount = dec("25")
		o.SettlementTxID = "tx-51"
	})
	env.chain.On("TokenBalance", mock.Anything, o.Address).Return(dec("0"), nil).Once()
	env.notifier.On("Notify", mock.Anything, int64(51), mock.Anything).Return(nil).Once()

	stale := *o
	got, err := env.uc.AdvanceVerifying(ctx, o)
	require.NoError(t, err)
	assert.Equal(t, entities.DepositStatusSuccess, got)

	// replay with the pre-credit snapshot
	got, err = env.uc.AdvanceVerifying(ctx, &stale)
	require.NoError(t, err)
	assert.Equal(t, entities.DepositStatusVerifying, got)

	_, err = env.uc.AdvanceVerifying(ctx, env.reload(t, o.ID))
	assert.ErrorIs(t, err, domainerrors.ErrInvalidTransition)

	requireDecimal(t, "25", env.store.wallet(t, 51).Balance)
	env.chain.AssertNumberOfCalls(t, "TokenBalance", 1)
	env.notifier.AssertExpectations(t)
}

func TestDepositOrderUsecase_ResidualSendsOrderBackToCollecting(t *testing.T) {
	env := newDepositEnv(t)
	o := env.seedOrder(t, 61, entities.DepositStatusVerifying, func(o *entities.DepositOrder) {
		o.SettledAmount = dec("10")
		o.SettlementTxID = "tx-61"
	})
	env.chain.On("TokenBalance", mock.Anything, o.Address).Return(dec("12"), nil).Once()

	got, err := env.uc.AdvanceVerifying(context.Background(), o)
	require.NoError(t, err)
	assert.Equal(t, entities.DepositStatusCollecting, got)

	stored := env.reload(t, o.ID)
	assert.Equal(t, entities.DepositStatusCollecting, stored.Status)
	assert.Empty(t, stored.SettlementTxID)
	requireDecimal(t, "12", stored.ObservedAmount)
	requireDecimal(t, "10", stored.SettledAmount)

	exists, err := env.store.ledgerRepo.Exists(context.Background(), 61, o.OrderNo)
	require.NoError(t, err)
	assert.False(t, exists)
}

func TestDepositOrderUsecase_DustResidualIsNotCredited(t *testing.T) {
	env := newDepositEnv(t)
	o := env.seedOrder(t, 62, entities.DepositStatusVerifying, func(o *entities.DepositOrder) {
		o.SettledAmount = dec("10")
	})
	env.chain.On("TokenBalance", mock.Anything, o.Address).Return(dec("0.3"), nil).Once()
	env.notifier.On("Notify", mock.Anything, int64(62), mock.Anything).Return(nil)

	got, err := env.uc.AdvanceVerifying(context.Background(), o)
	require.NoError(t, err)
	assert.Equal(t, entities.DepositStatusSuccess, got)
	requireDecimal(t, "10", env.store.wallet(t, 62).Balance)
}

func TestDepositOrderUsecase_PendingConfirmationKeepsTxID(t *testing.T) {
	env := newDepositEnv(t)
	ctx := context.Background()
	o := env.seedOrder(t, 71, entities.DepositStatusCollecting, func(o *entities.DepositOrder) {
		o.ObservedAmount = dec("30")
	})
	env.chain.On("TokenBalance", mock.Anything, o.Address).Return(dec("30"), nil).Once()
	env.resourcesReady(o.Address)
	env.settler.On("Sweep", mock.Anything, mock.Anything).Return("tx-71", nil).Once()
	env.settler.On("AwaitConfirmation", mock.Anything, "tx-71").
		Return(nil, fmt.Errorf("%w: tx-71", domainerrors.ErrConfirmationPending)).Once()

	got, err := env.uc.AdvanceCollecting(ctx, o)
	require.NoError(t, err)
	assert.Equal(t, entities.DepositStatusCollecting, got)
	stored := env.reload(t, o.ID)
	assert.Equal(t, "tx-71", stored.SettlementTxID)

	// the next pass only re-checks the stored tx
	env.settler.On("AwaitConfirmation", mock.Anything, "tx-71").Return(confirmed("tx-71"), nil).Once()
	got, err = env.uc.AdvanceCollecting(ctx, stored)
	require.NoError(t, err)
	assert.Equal(t, entities.DepositStatusVerifying, got)
	requireDecimal(t, "30", env.reload(t, o.ID).SettledAmount)
	env.settler.AssertNumberOfCalls(t, "Sweep", 1)
}

func TestDepositOrderUsecase_FailedSweepClearsTxID(t *testing.T) {
	env := newDepositEnv(t)
	o := env.seedOrder(t, 81, entities.DepositStatusCollecting, func(o *entities.DepositOrder) {
		o.ObservedAmount = dec("15")
		o.SettlementTxID = "tx-81"
	})
	receipt := &entities.TxReceipt{TxID: "tx-81", Result: entities.ReceiptRevert}
	env.settler.On("AwaitConfirmation", mock.Anything, "tx-81").
		Return(receipt, fmt.Errorf("%w: reverted", domainerrors.ErrTransferFailed)).Once()

	got, err := env.uc.AdvanceCollecting(context.Background(), o)
	require.ErrorIs(t, err, domainerrors.ErrTransferFailed)
	assert.Equal(t, entities.DepositStatusCollecting, got)
	assert.Empty(t, env.reload(t, o.ID).SettlementTxID)
}

func TestDepositOrderUsecase_DrainedAddressWithoutTxIDIsNotCredited(t *testing.T) {
	env := newDepositEnv(t)
	o := env.seedOrder(t, 91, entities.DepositStatusCollecting, func(o *entities.DepositOrder) {
		o.ObservedAmount = dec("15")
	})
	env.chain.On("TokenBalance", mock.Anything, o.Address).Return(dec("0"), nil).Once()

	got, err := env.uc.AdvanceCollecting(context.Background(), o)
	require.NoError(t, err)
	assert.Equal(t, entities.DepositStatusCollecting, got)
	stored := env.reload(t, o.ID)
	assert.Equal(t, entities.DepositStatusCollecting, stored.Status)
	assert.True(t, stored.SettledAmount.IsZero())
	env.settler.AssertNotCalled(t, "Sweep", mock.Anything, mock.Anything)
	env.prov.AssertNotCalled(t, "ReleaseRentals", mock.Anything, mock.Anything)
}

func TestDepositOrderUsecase_SecondOrderOnSweptAddressIsNotCredited(t *testing.T) {
	env := newDepositEnv(t)
	ctx := context.Background()
	first := env.seedOrder(t, 121, entities.DepositStatusCollecting, func(o *entities.DepositOrder) {
		o.ObservedAmount = dec("20")
	})

	again, err := env.uc.CreateOrder(ctx, 121, nil)
	require.NoError(t, err)
	assert.Equal(t, first.ID, again.ID)

	// an older waiting order on the same address must not claim the funds
	second := env.seedOrder(t, 121, entities.DepositStatusWaiting, nil)
	require.Equal(t, first.Address, second.Address)

	addr := first.Address
	env.chain.On("TokenBalance", mock.Anything, addr).Return(dec("20"), nil).Once()
	env.chain.On("TokenBalance", mock.Anything, addr).Return(dec("0"), nil).Once()
	env.resourcesReady(addr)
	env.settler.On("Sweep", mock.Anything, mock.Anything).Return("tx-121", nil).Once()
	env.settler.On("AwaitConfirmation", mock.Anything, "tx-121").Return(confirmed("tx-121"), nil).Once()
	env.notifier.On("Notify", mock.Anything, int64(121), mock.Anything).Return(nil).Once()

	stats, err := env.uc.ProcessPass(ctx)
	require.NoError(t, err)
	assert.Equal(t, usecases.PassStats{Advanced: 2, Credited: 1}, stats)

	assert.Equal(t, entities.DepositStatusSuccess, env.reload(t, first.ID).Status)
	assert.Equal(t, entities.DepositStatusWaiting, env.reload(t, second.ID).Status)
	requireDecimal(t, "20", env.store.wallet(t, 121).Balance)
	env.chain.AssertNumberOfCalls(t, "TokenBalance", 2)
}

func TestDepositOrderUsecase_TxIDStoredBeforeBroadcast(t *testing.T) {
	env := newDepositEnv(t)
	o := env.seedOrder(t, 122, entities.DepositStatusCollecting, func(o *entities.DepositOrder) {
		o.ObservedAmount = dec("20")
	})
	env.chain.On("TokenBalance", mock.Anything, o.Address).Return(dec("20"), nil).Once()
	env.resourcesReady(o.Address)

	var storedAtSign string
	env.settler.On("Sweep", mock.Anything, mock.Anything).Run(func(args mock.Arguments) {
		req := args.Get(1).(usecases.SweepRequest)
		require.NoError(t, req.OnSigned("tx-122"))
		storedAtSign = env.reload(t, o.ID).SettlementTxID
	}).Return("", fmt.Errorf("%w: deadline exceeded", domainerrors.ErrBroadcastUnknown)).Once()

	got, err := env.uc.AdvanceCollecting(context.Background(), o)
	require.NoError(t, err)
	assert.Equal(t, entities.DepositStatusCollecting, got)
	assert.Equal(t, "tx-122", storedAtSign)
	assert.Equal(t, "tx-122", env.reload(t, o.ID).SettlementTxID)
	env.settler.AssertNotCalled(t, "AwaitConfirmation", mock.Anything, mock.Anything)
}

func TestDepositOrderUsecase_RefusedSweepForgetsSignedTx(t *testing.T) {
	env := newDepositEnv(t)
	o := env.seedOrder(t, 123, entities.DepositStatusCollecting, func(o *entities.DepositOrder) {
		o.ObservedAmount = dec("20")
	})
	env.chain.On("TokenBalance", mock.Anything, o.Address).Return(dec("20"), nil).Once()
	env.resourcesReady(o.Address)
	env.settler.On("Sweep", mock.Anything, mock.Anything).Run(func(args mock.Arguments) {
		require.NoError(t, args.Get(1).(usecases.SweepRequest).OnSigned("tx-123"))
	}).Return("", fmt.Errorf("%w: sig error", domainerrors.ErrTransferFailed)).Once()

	_, err := env.uc.AdvanceCollecting(context.Background(), o)
	require.ErrorIs(t, err, domainerrors.ErrTransferFailed)
	assert.Empty(t, env.reload(t, o.ID).SettlementTxID)
}

func TestDepositOrderUsecase_StaleSweepWithoutReceipt(t *testing.T) {
	tests := []struct {
		name    string
		age     time.Duration
		balance string
		wantTx  string
	}{
		{"recent tx is kept", time.Minute, "15", "tx-131"},
		{"stale tx with funds still there is dropped", 20 * time.Minute, "15", ""},
		{"stale tx with funds gone is kept", 20 * time.Minute, "0", "tx-131"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newDepositEnv(t)
			o := env.seedOrder(t, 131, entities.DepositStatusCollecting, func(o *entities.DepositOrder) {
				o.ObservedAmount = dec("15")
				o.SettlementTxID = "tx-131"
			})
			require.NoError(t, env.store.db.Exec("UPDATE deposit_orders SET updated_at = ? WHERE id = ?",
				time.Now().UTC().Add(-tt.age), o.ID).Error)
			o = env.reload(t, o.ID)

			env.settler.On("AwaitConfirmation", mock.Anything, "tx-131").
				Return(nil, fmt.Errorf("%w: tx-131", domainerrors.ErrConfirmationPending)).Once()
			env.chain.On("TokenBalance", mock.Anything, o.Address).Return(dec(tt.balance), nil).Maybe()

			got, err := env.uc.AdvanceCollecting(context.Background(), o)
			require.NoError(t, err)
			assert.Equal(t, entities.DepositStatusCollecting, got)
			assert.Equal(t, tt.wantTx, env.reload(t, o.ID).SettlementTxID)
			env.settler.AssertNotCalled(t, "Sweep", mock.Anything, mock.Anything)
		})
	}
}

func TestDepositOrderUsecase_EnergyNotReadyWaitsForNextPass(t *testing.T) {
	env := newDepositEnv(t)
	o := env.seedOrder(t, 101, entities.DepositStatusCollecting, func(o *entities.DepositOrder) {
		o.ObservedAmount = dec("20")
	})
	env.chain.On("TokenBalance", mock.Anything, o.Address).Return(dec("20"), nil).Once()
	env.prov.On("EnsureEnergy", mock.Anything, mock.Anything).Return(false, nil).Once()

	got, err := env.uc.AdvanceCollecting(context.Background(), o)
	require.NoError(t, err)
	assert.Equal(t, entities.DepositStatusCollecting, got)
	env.settler.AssertNotCalled(t, "Sweep", mock.Anything, mock.Anything)
	env.prov.AssertNotCalled(t, "EnsureBandwidth", mock.Anything, mock.Anything, mock.Anything)
}

func TestDepositOrderUsecase_MissingKeyIsIsolated(t *testing.T) {
	env := newDepositEnv(t)
	ctx := context.Background()
	require.NoError(t, env.store.wallets.EnsureRow(ctx, 111))
	broken := &entities.DepositOrder{
		OrderNo:        "charge_broken",
		UserID:         111,
		Address:        "TBrokenAddressWithoutKey",
		Status:         entities.DepositStatusCollecting,
		ObservedAmount: dec("40"),
		ExpireAt:       time.Now().Add(time.Minute),
	}
	require.NoError(t, env.store.orders.Create(ctx, broken))
	healthy := env.seedOrder(t, 112, entities.DepositStatusWaiting, nil)

	env.chain.On("TokenBalance", mock.Anything, broken.Address).Return(dec("40"), nil).Once()
	env.chain.On("TokenBalance", mock.Anything, healthy.Address).Return(dec("1"), nil).Once()

	stats, err := env.uc.ProcessPass(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Failed)
	assert.Equal(t, entities.DepositStatusCollecting, env.reload(t, broken.ID).Status)
	env.chain.AssertExpectations(t)
}
