package usecases

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"custody.backend/internal/domain/entities"
	domainerrors "custody.backend/internal/domain/errors"
	"custody.backend/internal/domain/repositories"
	"custody.backend/pkg/logger"
	"custody.backend/pkg/utils"
)

// LedgerService is the only writer of wallet balances. Every mutation locks the
// wallet row, appends one ledger entry keyed by (user_id, order_no) and updates
// the balance in the same transaction, so replays are harmless.
type LedgerService struct {
	uow     repositories.UnitOfWork
	wallets repositories.WalletRepository
	ledger  repositories.LedgerRepository
}

func NewLedgerService(uow repositories.UnitOfWork, wallets repositories.WalletRepository, ledger repositories.LedgerRepository) *LedgerService {
	return &LedgerService{uow: uow, wallets: wallets, ledger: ledger}
}

type balanceRule int

const (
	ruleNone balanceRule = iota
	// ruleAvailable requires balance - frozen to cover the debit.
	ruleAvailable
	// ruleFrozen spends frozen funds, so only the balance must cover it.
	ruleFrozen
)

// Credit applies a signed amount. A repeated (user, order_no) returns
// applied=false with no error.
func (s *LedgerService) Credit(ctx context.Context, in entities.CreditInput) (bool, error) {
	if in.Amount.IsNegative() {
		return s.apply(ctx, in, ruleAvailable)
	}
	return s.apply(ctx, in, ruleNone)
}

// Debit spends |in.Amount| from available funds.
func (s *LedgerService) Debit(ctx context.Context, in entities.CreditInput) (bool, error) {
	in.Amount = in.Amount.Abs().Neg()
	return s.apply(ctx, in, ruleAvailable)
}

// DebitAndUnfreeze spends |in.Amount| that was frozen earlier.
func (s *LedgerService) DebitAndUnfreeze(ctx context.Context, in entities.CreditInput) (bool, error) {
	in.Amount = in.Amount.Abs().Neg()
	return s.apply(ctx, in, ruleFrozen)
}

func (s *LedgerService) apply(ctx context.Context, in entities.CreditInput, rule balanceRule) (bool, error) {
	if in.UserID <= 0 || in.OrderNo == "" || in.Amount.IsZero() {
		return false, fmt.Errorf("%w: ledger entry needs user, order_no and a non-zero amount", domainerrors.ErrInvalidInput)
	}
	if in.Type == "" {
		in.Type = entities.ChangeAdjustment
	}

	applied := false
	err := s.uow.Do(ctx, func(ctx context.Context) error {
		if err := s.wallets.EnsureRow(ctx, in.UserID); err != nil {
			return err
		}
		w, err := s.wallets.GetByUserID(s.uow.WithLock(ctx), in.UserID)
		if err != nil {
			return err
		}

		balance := w.Balance.Add(in.Amount)
		frozen := w.Frozen
		inserted, err := s.ledger.InsertIfAbsent(ctx, &entities.LedgerEntry{
			UserID:        in.UserID,
			ChangeType:    in.Type,
			Amount:        in.Amount,
			BalanceBefore: w.Balance,
			BalanceAfter:  balance,
			RefTable:      in.RefTable,
			RefID:         in.RefID,
			OrderNo:       in.OrderNo,
			Remark:        in.Remark,
		})
		if err != nil {
			return err
		}
		if !inserted {
			return nil
		}

		spend := in.Amount.Neg()
		switch rule {
		case ruleAvailable:
			if w.Available().LessThan(spend) {
				return domainerrors.ErrInsufficientFunds
			}
		case ruleFrozen:
			if w.Balance.LessThan(spend) {
				return domainerrors.ErrInsufficientFunds
			}
			frozen = clampZero(frozen.Sub(spend))
		}

		if err := s.wallets.UpdateBalances(ctx, in.UserID, balance, frozen); err != nil {
			return err
		}
		applied = true
		return nil
	})
	if err != nil {
		return false, err
	}

	if !applied {
		logger.Info(ctx, "Ledger entry already applied",
			zap.Int64("user_id", in.UserID),
			zap.String("order_no", in.OrderNo),
		)
	}
	return applied, nil
}

// Freeze reserves amount of the available balance.
func (s *LedgerService) Freeze(ctx context.Context, userID int64, amount decimal.Decimal) error {
	if !amount.IsPositive() {
		return fmt.Errorf("%w: freeze amount must be positive", domainerrors.ErrInvalidInput)
	}
	return s.uow.Do(ctx, func(ctx context.Context) error {
		w, err := s.lockWallet(ctx, userID)
		if err != nil {
			return err
		}
		if w.Available().LessThan(amount) {
			return domainerrors.ErrInsufficientFunds
		}
		return s.wallets.UpdateBalances(ctx, userID, w.Balance, w.Frozen.Add(amount))
	})
}

// Unfreeze releases a reservation. Frozen never drops below zero.
func (s *LedgerService) Unfreeze(ctx context.Context, userID int64, amount decimal.Decimal) error {
	return s.uow.Do(ctx, func(ctx context.Context) error {
		w, err := s.lockWallet(ctx, userID)
		if err != nil {
			return err
		}
		return s.wallets.UpdateBalances(ctx, userID, w.Balance, clampZero(w.Frozen.Sub(amount.Abs())))
	})
}

func (s *LedgerService) lockWallet(ctx context.Context, userID int64) (*entities.Wallet, error) {
	if err := s.wallets.EnsureRow(ctx, userID); err != nil {
		return nil, err
	}
	return s.wallets.GetByUserID(s.uow.WithLock(ctx), userID)
}

// GetWallet returns the user's wallet, creating an empty one on first use.
func (s *LedgerService) GetWallet(ctx context.Context, userID int64) (*entities.Wallet, error) {
	if err := s.wallets.EnsureRow(ctx, userID); err != nil {
		return nil, err
	}
	return s.wallets.GetByUserID(ctx, userID)
}

func (s *LedgerService) ListEntries(ctx context.Context, userID int64, p utils.PaginationParams) ([]*entities.LedgerEntry, int64, error) {
	return s.ledger.ListByUser(ctx, userID, p.Limit, p.CalculateOffset())
}

func (s *LedgerService) SumBalances(ctx context.Context) (decimal.Decimal, error) {
	return s.wallets.SumBalances(ctx)
}

func clampZero(d decimal.Decimal) decimal.Decimal {
	if d.IsNegative() {
		return decimal.Zero
	}
	return d
}
