package usecases

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"custody.backend/internal/domain/entities"
	"custody.backend/internal/domain/repositories"
	"custody.backend/pkg/logger"
	"custody.backend/pkg/metrics"
)

// ReconciliationUsecase compares what users are owed with what the aggregate
// account holds, and locks outgoing money flows on a deficit.
type ReconciliationUsecase struct {
	chain     ChainGateway
	wallets   repositories.WalletRepository
	records   repositories.ReconciliationRepository
	flags     *FlagService
	aggregate string
	epsilon   decimal.Decimal
	now       func() time.Time
}

func NewReconciliationUsecase(
	chain ChainGateway,
	wallets repositories.WalletRepository,
	records repositories.ReconciliationRepository,
	flags *FlagService,
	aggregate string,
	epsilon decimal.Decimal,
) *ReconciliationUsecase {
	return &ReconciliationUsecase{
		chain:     chain,
		wallets:   wallets,
		records:   records,
		flags:     flags,
		aggregate: aggregate,
		epsilon:   epsilon,
		now:       time.Now,
	}
}

// Run performs one solvency check.
func (u *ReconciliationUsecase) Run(ctx context.Context) (*entities.ReconciliationRecord, error) {
	var onchain, owed decimal.Decimal
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		onchain, err = u.chain.TokenBalance(gctx, u.aggregate)
		if err != nil {
			return fmt.Errorf("aggregate balance: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		var err error
		owed, err = u.wallets.SumBalances(gctx)
		if err != nil {
			return fmt.Errorf("sum balances: %w", err)
		}
		return nil
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	diff := onchain.Sub(owed)
	locked := owed.GreaterThan(onchain.Add(u.epsilon))
	for _, key := range LockFlags {
		if err := u.flags.SetLocked(ctx, key, locked); err != nil {
			return nil, err
		}
	}

	rec := &entities.ReconciliationRecord{
		AggregateAddress: u.aggregate,
		OnchainBalance:   onchain,
		UserBalanceSum:   owed,
		Difference:       diff,
		Status:           entities.ReconciliationOK,
		Locked:           locked,
		CheckedAt:        u.now().UTC(),
	}
	if locked {
		rec.Status = entities.ReconciliationDiscrepancy
	}
	if err := u.records.Create(ctx, rec); err != nil {
		return nil, err
	}

	metrics.ReconciliationDifference.Set(diff.InexactFloat64())
	fields := []zap.Field{
		zap.String("onchain", onchain.String()),
		zap.String("owed", owed.String()),
		zap.String("difference", diff.String()),
	}
	if locked {
		logger.Error(ctx, "Solvency deficit, money flows locked", fields...)
	} else {
		logger.Info(ctx, "Reconciliation ok", fields...)
	}
	return rec, nil
}
