package usecases

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"custody.backend/internal/domain/entities"
	domainerrors "custody.backend/internal/domain/errors"
	"custody.backend/internal/domain/repositories"
	"custody.backend/pkg/logger"
	"custody.backend/pkg/metrics"
	"custody.backend/pkg/utils"
)

// DepositConfig holds deposit thresholds and batch sizes.
type DepositConfig struct {
	MinDeposit       decimal.Decimal
	Epsilon          decimal.Decimal
	OrderExpiry      time.Duration
	BatchLimit       int
	SweepEnergy      int64
	BandwidthRequire int64
	AggregateAddr    string
	// StaleSweepAfter bounds how long a signed sweep may go without a receipt
	// before it is presumed dropped.
	StaleSweepAfter time.Duration
}

// WalletProvider returns a wallet that has a deposit address.
type WalletProvider interface {
	EnsureWallet(ctx context.Context, userID int64) (*entities.Wallet, error)
}

// PassStats summarizes one settlement pass.
type PassStats struct {
	Expired  int
	Advanced int
	Credited int
	Failed   int
}

// DepositOrderUsecase drives deposit orders from waiting to success: it
// detects funds, sweeps them to the aggregate account and credits the user
// exactly once.
type DepositOrderUsecase struct {
	uow         repositories.UnitOfWork
	orders      repositories.DepositOrderRepository
	wallets     repositories.WalletRepository
	ledgerRepo  repositories.LedgerRepository
	ledger      *LedgerService
	walletProv  WalletProvider
	chain       ChainGateway
	provisioner Provisioner
	settler     Settler
	notifier    Notifier
	cfg         DepositConfig
	now         func() time.Time
}

func NewDepositOrderUsecase(
	uow repositories.UnitOfWork,
	orders repositories.DepositOrderRepository,
	wallets repositories.WalletRepository,
	ledgerRepo repositories.LedgerRepository,
	ledger *LedgerService,
	walletProv WalletProvider,
	chain ChainGateway,
	provisioner Provisioner,
	settler Settler,
	notifier Notifier,
	cfg DepositConfig,
) *DepositOrderUsecase {
	if cfg.BatchLimit <= 0 {
		cfg.BatchLimit = 100
	}
	if cfg.OrderExpiry <= 0 {
		cfg.OrderExpiry = 15 * time.Minute
	}
	if cfg.StaleSweepAfter <= 0 {
		cfg.StaleSweepAfter = 10 * time.Minute
	}
	return &DepositOrderUsecase{
		uow:         uow,
		orders:      orders,
		wallets:     wallets,
		ledgerRepo:  ledgerRepo,
		ledger:      ledger,
		walletProv:  walletProv,
		chain:       chain,
		provisioner: provisioner,
		settler:     settler,
		notifier:    notifier,
		cfg:         cfg,
		now:         time.Now,
	}
}

// CreateOrder returns the user's open order or opens a new one. An order
// still collecting or verifying counts as open: the address it watches is
// shared by all of the user's orders.
func (u *DepositOrderUsecase) CreateOrder(ctx context.Context, userID int64, expected *decimal.Decimal) (*entities.DepositOrder, error) {
	if expected != nil && expected.IsNegative() {
		return nil, domainerrors.BadRequest("expected amount must not be negative")
	}
	wallet, err := u.walletProv.EnsureWallet(ctx, userID)
	if err != nil {
		return nil, err
	}

	now := u.now().UTC()
	open, err := u.orders.FindOpen(ctx, userID, now)
	if err == nil {
		return open, nil
	}
	if !errors.Is(err, domainerrors.ErrNotFound) {
		return nil, err
	}

	order := &entities.DepositOrder{
		OrderNo:        utils.NewOrderNo(utils.PrefixCharge, now),
		UserID:         userID,
		Address:        wallet.DepositAddress,
		ExpectedAmount: decimal.Zero,
		Status:         entities.DepositStatusWaiting,
		ExpireAt:       now.Add(u.cfg.OrderExpiry),
	}
	if expected != nil {
		order.ExpectedAmount = *expected
	}
	if err := u.orders.Create(ctx, order); err != nil {
		return nil, err
	}

	logger.Info(ctx, "Deposit order created",
		zap.String("order_no", order.OrderNo),
		zap.Int64("user_id", userID),
		zap.String("address", order.Address),
	)
	return order, nil
}

// GetOrder returns an order owned by userID.
func (u *DepositOrderUsecase) GetOrder(ctx context.Context, userID int64, id uuid.UUID) (*entities.DepositOrder, error) {
	order, err := u.orders.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if order.UserID != userID {
		return nil, domainerrors.ErrNotFound
	}
	return order, nil
}

// ProcessPass runs one settlement cycle over every open order. Failures are
// logged per order and never stop the pass.
func (u *DepositOrderUsecase) ProcessPass(ctx context.Context) (PassStats, error) {
	var stats PassStats
	now := u.now().UTC()

	expired, err := u.orders.ListExpiredWaiting(ctx, now, u.cfg.BatchLimit)
	if err != nil {
		return stats, fmt.Errorf("list expired orders: %w", err)
	}
	for _, o := range expired {
		if ok, err := u.expire(ctx, o); err != nil {
			stats.Failed++
			u.logFailure(ctx, o, err)
		} else if ok {
			stats.Expired++
		}
	}

	buckets := []struct {
		status  entities.DepositStatus
		advance func(context.Context, *entities.DepositOrder) (entities.DepositStatus, error)
	}{
		{entities.DepositStatusWaiting, u.AdvanceWaiting},
		{entities.DepositStatusCollecting, u.AdvanceCollecting},
		{entities.DepositStatusVerifying, u.AdvanceVerifying},
	}
	for _, b := range buckets {
		var orders []*entities.DepositOrder
		if b.status == entities.DepositStatusWaiting {
			orders, err = u.orders.ListWaiting(ctx, now, u.cfg.BatchLimit)
		} else {
			orders, err = u.orders.ListByStatus(ctx, b.status, u.cfg.BatchLimit)
		}
		if err != nil {
			return stats, fmt.Errorf("list %s orders: %w", b.status, err)
		}

		for _, o := range orders {
			from := o.Status
			next, err := b.advance(ctx, o)
			if err != nil {
				stats.Failed++
				u.logFailure(ctx, o, err)
				continue
			}
			if next != from {
				stats.Advanced++
			}
			if next == entities.DepositStatusSuccess {
				stats.Credited++
			}
		}
	}
	return stats, nil
}

func (u *DepositOrderUsecase) logFailure(ctx context.Context, o *entities.DepositOrder, err error) {
	fields := []zap.Field{
		zap.String("order_no", o.OrderNo),
		zap.String("status", string(o.Status)),
		zap.String("address", o.Address),
		zap.Error(err),
	}
	if errors.Is(err, domainerrors.ErrMissingKeyMaterial) {
		logger.Error(ctx, "Deposit order skipped: key material unavailable", fields...)
		return
	}
	logger.Warn(ctx, "Deposit order step failed", fields...)
}

// AdvanceWaiting moves a funded order to collecting, or an overdue one to
// expired. An expired order is never collected even if funds arrive, and an
// address whose funds another order is already sweeping is left alone.
func (u *DepositOrderUsecase) AdvanceWaiting(ctx context.Context, o *entities.DepositOrder) (entities.DepositStatus, error) {
	if o.IsExpired(u.now()) {
		if _, err := u.expire(ctx, o); err != nil {
			return o.Status, err
		}
		return entities.DepositStatusExpired, nil
	}

	busy, err := u.orders.HasSweepInFlight(ctx, o.Address)
	if err != nil {
		return o.Status, err
	}
	if busy {
		logger.Debug(ctx, "Address already being swept, waiting", zap.String("order_no", o.OrderNo), zap.String("address", o.Address))
		return o.Status, nil
	}

	balance, err := u.chain.TokenBalance(ctx, o.Address)
	if err != nil {
		return o.Status, err
	}
	if !u.meetsMinimum(balance) {
		return o.Status, nil
	}

	next, err := entities.NextDepositStatus(o.Status, entities.EventFundsObserved)
	if err != nil {
		return o.Status, err
	}
	return u.transition(ctx, o, next, repositories.DepositOrderUpdate{ObservedAmount: &balance})
}

// AdvanceCollecting sweeps the address and moves the order to verifying once
// the sweep is confirmed. The tx id is stored before broadcast, so an order
// without one never sent anything and only its receipt can confirm a sweep.
func (u *DepositOrderUsecase) AdvanceCollecting(ctx context.Context, o *entities.DepositOrder) (entities.DepositStatus, error) {
	if o.SettlementTxID != "" {
		status, err := u.awaitSweep(ctx, o, o.SettlementTxID, o.ObservedAmount)
		if err == nil && status == o.Status && o.SettlementTxID != "" {
			return status, u.dropStaleSweep(ctx, o)
		}
		return status, err
	}

	balance, err := u.chain.TokenBalance(ctx, o.Address)
	if err != nil {
		return o.Status, err
	}
	if !u.meetsMinimum(balance) {
		if o.ObservedAmount.IsPositive() {
			logger.Warn(ctx, "Collecting order without tx id found its address drained",
				zap.String("order_no", o.OrderNo),
				zap.String("observed", o.ObservedAmount.String()),
				zap.String("balance", balance.String()),
			)
		}
		return o.Status, nil
	}

	wallet, err := u.wallets.GetByUserID(ctx, o.UserID)
	if err != nil {
		return o.Status, err
	}
	if wallet.KeyCipher == "" {
		return o.Status, fmt.Errorf("%w: wallet of user %d", domainerrors.ErrMissingKeyMaterial, o.UserID)
	}

	ready, err := u.provisioner.EnsureEnergy(ctx, EnergyRequest{
		Address:  o.Address,
		Required: u.cfg.SweepEnergy,
		OrderID:  o.ID.String(),
		OrderNo:  o.OrderNo,
		Note:     o.OrderNo,
	})
	if err != nil || !ready {
		return o.Status, err
	}
	ready, err = u.provisioner.EnsureBandwidth(ctx, o.Address, u.cfg.BandwidthRequire)
	if err != nil || !ready {
		return o.Status, err
	}

	// The credited amount is what is swept now, not what was seen earlier.
	ok, err := u.orders.CompareAndUpdate(ctx, o.ID, o.Status, repositories.DepositOrderUpdate{ObservedAmount: &balance})
	if err != nil || !ok {
		return o.Status, err
	}
	o.ObservedAmount = balance

	txID, err := u.settler.Sweep(ctx, SweepRequest{
		Address:     o.Address,
		KeyCipher:   wallet.KeyCipher,
		Amount:      balance,
		Destination: u.cfg.AggregateAddr,
		OrderID:     o.ID.String(),
		OrderNo:     o.OrderNo,
		OnSigned:    func(txID string) error { return u.recordSweepTx(ctx, o, txID) },
	})
	if errors.Is(err, domainerrors.ErrBroadcastUnknown) {
		logger.Warn(ctx, "Sweep broadcast outcome unknown, receipt decides next pass",
			zap.String("order_no", o.OrderNo), zap.String("tx_id", o.SettlementTxID), zap.Error(err))
		return o.Status, nil
	}
	if err != nil {
		// The node refused the signed tx, so nothing is in flight.
		if o.SettlementTxID != "" {
			empty := ""
			if _, cerr := u.orders.CompareAndUpdate(context.WithoutCancel(ctx), o.ID, o.Status, repositories.DepositOrderUpdate{SettlementTxID: &empty}); cerr != nil {
				return o.Status, cerr
			}
			o.SettlementTxID = ""
		}
		return o.Status, err
	}

	logger.Info(ctx, "Sweep broadcast",
		zap.String("order_no", o.OrderNo),
		zap.String("tx_id", txID),
		zap.String("amount", balance.String()),
	)
	return u.awaitSweep(ctx, o, txID, balance)
}

// recordSweepTx stores txID before it is broadcast.
func (u *DepositOrderUsecase) recordSweepTx(ctx context.Context, o *entities.DepositOrder, txID string) error {
	ok, err := u.orders.CompareAndUpdate(context.WithoutCancel(ctx), o.ID, o.Status, repositories.DepositOrderUpdate{SettlementTxID: &txID})
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("%w: order %s changed while sweeping", domainerrors.ErrInvalidTransition, o.OrderNo)
	}
	o.SettlementTxID = txID
	o.UpdatedAt = u.now()
	return nil
}

// dropStaleSweep forgets a tx that has had no receipt for StaleSweepAfter
// while the swept funds are still on the address. A TRON tx expires about a
// minute after it is built, so such a tx can no longer land.
func (u *DepositOrderUsecase) dropStaleSweep(ctx context.Context, o *entities.DepositOrder) error {
	if u.now().Sub(o.UpdatedAt) < u.cfg.StaleSweepAfter {
		return nil
	}
	balance, err := u.chain.TokenBalance(ctx, o.Address)
	if err != nil {
		return err
	}
	if !u.meetsMinimum(balance) || balance.LessThan(o.ObservedAmount) {
		return nil
	}

	empty := ""
	ok, err := u.orders.CompareAndUpdate(ctx, o.ID, o.Status, repositories.DepositOrderUpdate{SettlementTxID: &empty})
	if err != nil || !ok {
		return err
	}
	logger.Warn(ctx, "Sweep never landed, will broadcast again",
		zap.String("order_no", o.OrderNo),
		zap.String("tx_id", o.SettlementTxID),
		zap.String("balance", balance.String()),
	)
	o.SettlementTxID = ""
	return nil
}

func (u *DepositOrderUsecase) awaitSweep(ctx context.Context, o *entities.DepositOrder, txID string, amount decimal.Decimal) (entities.DepositStatus, error) {
	_, err := u.settler.AwaitConfirmation(ctx, txID)
	switch {
	case err == nil:
		return u.confirmSweep(ctx, o, amount)
	case errors.Is(err, domainerrors.ErrConfirmationPending):
		logger.Info(ctx, "Sweep not yet confirmed", zap.String("order_no", o.OrderNo), zap.String("tx_id", txID))
		return o.Status, nil
	case errors.Is(err, domainerrors.ErrTransferFailed), errors.Is(err, domainerrors.ErrResourceShortage):
		// Forget the failed tx so the next pass provisions and broadcasts again.
		empty := ""
		if _, cerr := u.orders.CompareAndUpdate(ctx, o.ID, o.Status, repositories.DepositOrderUpdate{SettlementTxID: &empty}); cerr != nil {
			return o.Status, cerr
		}
		return o.Status, err
	default:
		return o.Status, err
	}
}

func (u *DepositOrderUsecase) confirmSweep(ctx context.Context, o *entities.DepositOrder, amount decimal.Decimal) (entities.DepositStatus, error) {
	next, err := entities.NextDepositStatus(o.Status, entities.EventSweepConfirmed)
	if err != nil {
		return o.Status, err
	}
	status, err := u.transition(ctx, o, next, repositories.DepositOrderUpdate{AddSettled: &amount})
	if err != nil || status != next {
		return status, err
	}
	if err := u.provisioner.ReleaseRentals(ctx, o.Address); err != nil {
		logger.Warn(ctx, "Failed to release rentals", zap.String("address", o.Address), zap.Error(err))
	}
	return status, nil
}

// AdvanceVerifying finalizes a swept order. An existing ledger entry wins;
// otherwise a residual at or above the minimum sends the order back to
// collecting, and anything else credits the settled amount.
func (u *DepositOrderUsecase) AdvanceVerifying(ctx context.Context, o *entities.DepositOrder) (entities.DepositStatus, error) {
	next, err := entities.NextDepositStatus(o.Status, entities.EventSettled)
	if err != nil {
		return o.Status, err
	}

	credited, err := u.ledgerRepo.Exists(ctx, o.UserID, o.OrderNo)
	if err != nil {
		return o.Status, err
	}
	if credited {
		return u.transition(ctx, o, next, repositories.DepositOrderUpdate{})
	}

	residual, err := u.chain.TokenBalance(ctx, o.Address)
	if err != nil {
		return o.Status, err
	}
	if u.meetsMinimum(residual) {
		back, err := entities.NextDepositStatus(o.Status, entities.EventResidualFound)
		if err != nil {
			return o.Status, err
		}
		empty := ""
		return u.transition(ctx, o, back, repositories.DepositOrderUpdate{ObservedAmount: &residual, SettlementTxID: &empty})
	}

	applied := false
	err = u.uow.Do(ctx, func(ctx context.Context) error {
		if o.SettledAmount.IsPositive() {
			applied, err = u.ledger.Credit(ctx, entities.CreditInput{
				UserID:   o.UserID,
				OrderNo:  o.OrderNo,
				Type:     entities.ChangeDeposit,
				Amount:   o.SettledAmount,
				RefTable: "deposit_orders",
				RefID:    o.ID.String(),
				Remark:   "USDT-TRC20 deposit",
			})
			if err != nil {
				return err
			}
		}
		ok, err := u.orders.CompareAndUpdate(ctx, o.ID, o.Status, repositories.DepositOrderUpdate{Status: &next})
		if err != nil {
			return err
		}
		if !ok {
			return fmt.Errorf("%w: order %s left verifying concurrently", domainerrors.ErrInvalidTransition, o.OrderNo)
		}
		return nil
	})
	if err != nil {
		return o.Status, err
	}

	metrics.OrderTransitionsTotal.WithLabelValues(string(o.Status), string(next)).Inc()
	if applied {
		metrics.DepositCreditedTotal.Inc()
		logger.Info(ctx, "Deposit credited",
			zap.String("order_no", o.OrderNo),
			zap.Int64("user_id", o.UserID),
			zap.String("amount", o.SettledAmount.String()),
		)
		u.notify(ctx, o.UserID, fmt.Sprintf("Deposit %s credited: %s USDT", o.OrderNo, o.SettledAmount.StringFixed(2)))
	}
	o.Status = next
	return next, nil
}

func (u *DepositOrderUsecase) expire(ctx context.Context, o *entities.DepositOrder) (bool, error) {
	next, err := entities.NextDepositStatus(o.Status, entities.EventExpired)
	if err != nil {
		return false, err
	}
	status, err := u.transition(ctx, o, next, repositories.DepositOrderUpdate{})
	return status == next, err
}

// transition applies upd together with the status change while the order is
// still in o.Status. Losing the race is not an error.
func (u *DepositOrderUsecase) transition(ctx context.Context, o *entities.DepositOrder, next entities.DepositStatus, upd repositories.DepositOrderUpdate) (entities.DepositStatus, error) {
	upd.Status = &next
	ok, err := u.orders.CompareAndUpdate(ctx, o.ID, o.Status, upd)
	if err != nil {
		return o.Status, err
	}
	if !ok {
		logger.Info(ctx, "Order moved concurrently, skipping", zap.String("order_no", o.OrderNo))
		return o.Status, nil
	}

	metrics.OrderTransitionsTotal.WithLabelValues(string(o.Status), string(next)).Inc()
	logger.Info(ctx, "Order transition",
		zap.String("order_no", o.OrderNo),
		zap.String("from", string(o.Status)),
		zap.String("to", string(next)),
	)
	o.Status = next
	if upd.AddSettled != nil {
		o.SettledAmount = o.SettledAmount.Add(*upd.AddSettled)
	}
	if upd.ObservedAmount != nil {
		o.ObservedAmount = *upd.ObservedAmount
	}
	if upd.SettlementTxID != nil {
		o.SettlementTxID = *upd.SettlementTxID
	}
	return next, nil
}

// meetsMinimum reports balance > min - epsilon. A balance just epsilon short
// of the minimum is dust and does not count.
func (u *DepositOrderUsecase) meetsMinimum(balance decimal.Decimal) bool {
	return balance.GreaterThan(u.cfg.MinDeposit.Sub(u.cfg.Epsilon))
}

func (u *DepositOrderUsecase) notify(ctx context.Context, userID int64, msg string) {
	if u.notifier == nil {
		return
	}
	if err := u.notifier.Notify(ctx, userID, msg); err != nil {
		logger.Warn(ctx, "Notification failed", zap.Int64("user_id", userID), zap.Error(err))
	}
}
