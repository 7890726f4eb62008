package usecases

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"custody.backend/internal/domain/entities"
	domainerrors "custody.backend/internal/domain/errors"
	"custody.backend/internal/domain/repositories"
	"custody.backend/internal/infrastructure/blockchain"
	"custody.backend/pkg/logger"
	"custody.backend/pkg/utils"
)

type WithdrawalConfig struct {
	MinWithdraw      decimal.Decimal
	Fee              decimal.Decimal
	WithdrawEnergy   int64
	BandwidthRequire int64
	AggregateAddr    string
	AggregateKeyEnc  string
	BatchLimit       int
}

// WithdrawalUsecase sends funds from the aggregate account to user-chosen
// addresses. Funds stay frozen until the transfer has a verdict.
type WithdrawalUsecase struct {
	uow         repositories.UnitOfWork
	withdrawals repositories.WithdrawalRepository
	ledger      *LedgerService
	wallets     *WalletUsecase
	guard       FeatureGuard
	provisioner Provisioner
	settler     Settler
	notifier    Notifier
	cfg         WithdrawalConfig
	now         func() time.Time
}

func NewWithdrawalUsecase(
	uow repositories.UnitOfWork,
	withdrawals repositories.WithdrawalRepository,
	ledger *LedgerService,
	wallets *WalletUsecase,
	guard FeatureGuard,
	provisioner Provisioner,
	settler Settler,
	notifier Notifier,
	cfg WithdrawalConfig,
) *WithdrawalUsecase {
	if cfg.BatchLimit <= 0 {
		cfg.BatchLimit = 100
	}
	return &WithdrawalUsecase{
		uow:         uow,
		withdrawals: withdrawals,
		ledger:      ledger,
		wallets:     wallets,
		guard:       guard,
		provisioner: provisioner,
		settler:     settler,
		notifier:    notifier,
		cfg:         cfg,
		now:         time.Now,
	}
}

// Withdraw validates, freezes amount+fee and sends the transfer. A transfer
// without a verdict yet returns the withdrawal in broadcast status with
// ErrConfirmationPending.
func (u *WithdrawalUsecase) Withdraw(ctx context.Context, in entities.WithdrawInput) (*entities.Withdrawal, error) {
	if err := u.guard.Guard(ctx, entities.FlagLockWithdrawals); err != nil {
		return nil, err
	}
	if err := blockchain.ValidateAddress(in.ToAddress); err != nil {
		return nil, domainerrors.BadRequest("invalid TRON address")
	}
	if in.Amount.LessThan(u.cfg.MinWithdraw) {
		return nil, domainerrors.BadRequest(fmt.Sprintf("minimum withdrawal is %s", u.cfg.MinWithdraw))
	}
	if err := u.wallets.VerifyTxPassword(ctx, in.UserID, in.TxPassword); err != nil {
		return nil, err
	}

	w := &entities.Withdrawal{
		OrderNo:   utils.NewOrderNo(utils.PrefixWithdraw, u.now().UTC()),
		UserID:    in.UserID,
		ToAddress: in.ToAddress,
		Amount:    in.Amount,
		Fee:       u.cfg.Fee,
		Status:    entities.WithdrawalPending,
	}
	err := u.uow.Do(ctx, func(ctx context.Context) error {
		if err := u.withdrawals.Create(ctx, w); err != nil {
			return err
		}
		return u.ledger.Freeze(ctx, in.UserID, w.Total())
	})
	if err != nil {
		return nil, err
	}
	logger.Info(ctx, "Withdrawal accepted",
		zap.String("order_no", w.OrderNo),
		zap.Int64("user_id", w.UserID),
		zap.String("amount", w.Amount.String()),
	)

	txID, err := u.send(ctx, w)
	if errors.Is(err, domainerrors.ErrBroadcastUnknown) {
		// The tx may be on the network; only its receipt can release the funds.
		return w, u.settle(ctx, w, txID, nil, fmt.Errorf("%w: %w", domainerrors.ErrConfirmationPending, err))
	}
	if err != nil {
		return w, u.fail(ctx, w, err)
	}

	receipt, err := u.settler.AwaitConfirmation(ctx, txID)
	return w, u.settle(ctx, w, txID, receipt, err)
}

func (u *WithdrawalUsecase) send(ctx context.Context, w *entities.Withdrawal) (string, error) {
	ready, err := u.provisioner.EnsureEnergy(ctx, EnergyRequest{
		Address:  u.cfg.AggregateAddr,
		Required: u.cfg.WithdrawEnergy,
		OrderID:  w.ID.String(),
		OrderNo:  w.OrderNo,
		Note:     w.OrderNo,
	})
	if err != nil {
		return "", err
	}
	if !ready {
		return "", domainerrors.ErrResourceShortage
	}
	ready, err = u.provisioner.EnsureBandwidth(ctx, u.cfg.AggregateAddr, u.cfg.BandwidthRequire)
	if err != nil {
		return "", err
	}
	if !ready {
		return "", domainerrors.ErrResourceShortage
	}

	return u.settler.Transfer(ctx, TransferRequest{
		From:      u.cfg.AggregateAddr,
		KeyCipher: u.cfg.AggregateKeyEnc,
		To:        w.ToAddress,
		Amount:    w.Amount,
		OrderNo:   w.OrderNo,
		OnSigned:  func(txID string) error { return u.markBroadcast(ctx, w, txID) },
	})
}

// markBroadcast records txID before it leaves the process, so a crash after
// broadcast leaves the withdrawal for ResolveBroadcast with funds frozen.
func (u *WithdrawalUsecase) markBroadcast(ctx context.Context, w *entities.Withdrawal, txID string) error {
	ok, err := u.withdrawals.Transition(context.WithoutCancel(ctx), w.ID,
		[]entities.WithdrawalStatus{entities.WithdrawalPending, entities.WithdrawalBroadcast},
		entities.WithdrawalBroadcast, txID, "")
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("%w: withdrawal %s is no longer pending", domainerrors.ErrInvalidTransition, w.OrderNo)
	}
	w.Status = entities.WithdrawalBroadcast
	w.TxID = txID
	return nil
}

// settle applies the confirmation verdict of a broadcast transfer.
func (u *WithdrawalUsecase) settle(ctx context.Context, w *entities.Withdrawal, txID string, receipt *entities.TxReceipt, verdict error) error {
	ctx = context.WithoutCancel(ctx)
	switch {
	case verdict == nil:
		return u.succeed(ctx, w, txID)
	case errors.Is(verdict, domainerrors.ErrConfirmationPending):
		if _, err := u.withdrawals.Transition(ctx, w.ID,
			[]entities.WithdrawalStatus{entities.WithdrawalPending, entities.WithdrawalBroadcast},
			entities.WithdrawalBroadcast, txID, ""); err != nil {
			return err
		}
		w.Status = entities.WithdrawalBroadcast
		w.TxID = txID
		logger.Info(ctx, "Withdrawal awaiting confirmation", zap.String("order_no", w.OrderNo), zap.String("tx_id", txID))
		return verdict
	case receipt != nil:
		w.TxID = txID
		return u.fail(ctx, w, verdict)
	default:
		// No receipt means the verdict could not be read; keep the funds
		// frozen and let ResolveBroadcast retry.
		if _, err := u.withdrawals.Transition(ctx, w.ID,
			[]entities.WithdrawalStatus{entities.WithdrawalPending, entities.WithdrawalBroadcast},
			entities.WithdrawalBroadcast, txID, ""); err != nil {
			return err
		}
		w.Status = entities.WithdrawalBroadcast
		w.TxID = txID
		return verdict
	}
}

func (u *WithdrawalUsecase) succeed(ctx context.Context, w *entities.Withdrawal, txID string) error {
	err := u.uow.Do(ctx, func(ctx context.Context) error {
		ok, err := u.withdrawals.Transition(ctx, w.ID,
			[]entities.WithdrawalStatus{entities.WithdrawalPending, entities.WithdrawalBroadcast},
			entities.WithdrawalSuccess, txID, "")
		if err != nil || !ok {
			return err
		}
		_, err = u.ledger.DebitAndUnfreeze(ctx, entities.CreditInput{
			UserID:   w.UserID,
			OrderNo:  w.OrderNo,
			Type:     entities.ChangeWithdraw,
			Amount:   w.Total(),
			RefTable: "withdrawals",
			RefID:    w.ID.String(),
			Remark:   "withdraw to " + w.ToAddress,
		})
		return err
	})
	if err != nil {
		return err
	}
	w.Status = entities.WithdrawalSuccess
	w.TxID = txID
	logger.Info(ctx, "Withdrawal confirmed", zap.String("order_no", w.OrderNo), zap.String("tx_id", txID))
	u.notify(ctx, w.UserID, fmt.Sprintf("Withdrawal %s sent: %s USDT", w.OrderNo, w.Amount.StringFixed(2)))
	return nil
}

// fail releases the reservation and records cause. cause is returned so the
// caller sees why the withdrawal failed.
func (u *WithdrawalUsecase) fail(ctx context.Context, w *entities.Withdrawal, cause error) error {
	ctx = context.WithoutCancel(ctx)
	err := u.uow.Do(ctx, func(ctx context.Context) error {
		ok, err := u.withdrawals.Transition(ctx, w.ID,
			[]entities.WithdrawalStatus{entities.WithdrawalPending, entities.WithdrawalBroadcast},
			entities.WithdrawalFailed, w.TxID, cause.Error())
		if err != nil || !ok {
			return err
		}
		return u.ledger.Unfreeze(ctx, w.UserID, w.Total())
	})
	if err != nil {
		return err
	}
	w.Status = entities.WithdrawalFailed
	w.FailureReason = cause.Error()

	fields := []zap.Field{zap.String("order_no", w.OrderNo), zap.Error(cause)}
	if errors.Is(cause, domainerrors.ErrMissingKeyMaterial) {
		logger.Error(ctx, "Withdrawal failed: aggregate key unavailable", fields...)
	} else {
		logger.Warn(ctx, "Withdrawal failed, funds released", fields...)
	}
	return cause
}

// ResolveBroadcast finalizes withdrawals whose confirmation timed out earlier.
func (u *WithdrawalUsecase) ResolveBroadcast(ctx context.Context) (int, error) {
	pending, err := u.withdrawals.ListByStatus(ctx, entities.WithdrawalBroadcast, u.cfg.BatchLimit)
	if err != nil {
		return 0, err
	}
	resolved := 0
	for _, w := range pending {
		receipt, verdict := u.settler.AwaitConfirmation(ctx, w.TxID)
		err := u.settle(ctx, w, w.TxID, receipt, verdict)
		if w.Status != entities.WithdrawalBroadcast {
			resolved++
			continue
		}
		if err != nil && !errors.Is(err, domainerrors.ErrConfirmationPending) {
			logger.Warn(ctx, "Broadcast withdrawal still unresolved", zap.String("order_no", w.OrderNo), zap.Error(err))
		}
	}
	return resolved, nil
}

func (u *WithdrawalUsecase) notify(ctx context.Context, userID int64, msg string) {
	if u.notifier == nil {
		return
	}
	if err := u.notifier.Notify(ctx, userID, msg); err != nil {
		logger.Warn(ctx, "Notification failed", zap.Int64("user_id", userID), zap.Error(err))
	}
}
