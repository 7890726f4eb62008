package usecases

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/volatiletech/null/v8"
	"go.uber.org/zap"

	"custody.backend/internal/domain/entities"
	domainerrors "custody.backend/internal/domain/errors"
	"custody.backend/internal/domain/repositories"
	"custody.backend/pkg/logger"
	"custody.backend/pkg/metrics"
	"custody.backend/pkg/utils"
)

type PoolConfig struct {
	TTL       time.Duration
	MaxShares int
}

// PoolUsecase funds pools from the owner's balance and hands out
// pre-split shares to claimants.
type PoolUsecase struct {
	uow    repositories.UnitOfWork
	pools  repositories.PoolRepository
	ledger *LedgerService
	guard  FeatureGuard
	cfg    PoolConfig
	rng    Rand
	now    func() time.Time
}

func NewPoolUsecase(uow repositories.UnitOfWork, pools repositories.PoolRepository, ledger *LedgerService, guard FeatureGuard, cfg PoolConfig) *PoolUsecase {
	if cfg.TTL <= 0 {
		cfg.TTL = 24 * time.Hour
	}
	if cfg.MaxShares <= 0 {
		cfg.MaxShares = 100
	}
	return &PoolUsecase{
		uow:    uow,
		pools:  pools,
		ledger: ledger,
		guard:  guard,
		cfg:    cfg,
		rng:    rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64())),
		now:    time.Now,
	}
}

// CreatePool validates the request and stores an unfunded pool.
func (u *PoolUsecase) CreatePool(ctx context.Context, in entities.CreatePoolInput) (*entities.Pool, error) {
	if !in.Policy.Valid() {
		return nil, domainerrors.BadRequest("unknown pool policy")
	}
	if !in.TotalAmount.IsPositive() {
		return nil, domainerrors.BadRequest("total amount must be positive")
	}
	if in.ShareCount < 1 || in.ShareCount > u.cfg.MaxShares {
		return nil, domainerrors.BadRequest(fmt.Sprintf("share count must be between 1 and %d", u.cfg.MaxShares))
	}
	if in.TotalAmount.LessThan(ShareQuantum.Mul(decimal.NewFromInt(int64(in.ShareCount)))) {
		return nil, domainerrors.BadRequest("each share needs at least 0.01")
	}
	if !in.TotalAmount.Equal(in.TotalAmount.Truncate(2)) {
		return nil, domainerrors.BadRequest("amount supports at most two decimals")
	}

	recipient := null.Int64{}
	if in.Policy == entities.PoolPolicyExclusive {
		if in.RecipientID == nil || *in.RecipientID <= 0 {
			return nil, domainerrors.BadRequest("exclusive pools need a recipient")
		}
		if *in.RecipientID == in.OwnerID {
			return nil, domainerrors.BadRequest("recipient must differ from owner")
		}
		recipient = null.Int64From(*in.RecipientID)
	}

	now := u.now().UTC()
	pool := &entities.Pool{
		PoolNo:      utils.NewOrderNo(utils.PrefixPool, now),
		OwnerID:     in.OwnerID,
		Policy:      in.Policy,
		RecipientID: recipient,
		TotalAmount: in.TotalAmount,
		ShareCount:  in.ShareCount,
		CoverText:   strings.TrimSpace(in.CoverText),
		Status:      entities.PoolStatusCreated,
		ExpiresAt:   now.Add(u.cfg.TTL),
	}
	if err := u.pools.Create(ctx, pool); err != nil {
		return nil, err
	}
	logger.Info(ctx, "Pool created", zap.String("pool_id", pool.ID.String()), zap.String("pool_no", pool.PoolNo))
	return pool, nil
}

// Fund debits the owner, materializes the shares and marks the pool paid.
// Replays of a funded pool return it unchanged.
func (u *PoolUsecase) Fund(ctx context.Context, ownerID int64, poolID uuid.UUID) (*entities.Pool, error) {
	if err := u.guard.Guard(ctx, entities.FlagLockPoolSend); err != nil {
		return nil, err
	}

	var pool *entities.Pool
	err := u.uow.Do(ctx, func(ctx context.Context) error {
		var err error
		pool, err = u.ownedPool(u.uow.WithLock(ctx), ownerID, poolID)
		if err != nil {
			return err
		}
		if pool.Status != entities.PoolStatusCreated {
			return nil
		}

		if _, err := u.ledger.Debit(ctx, entities.CreditInput{
			UserID:   ownerID,
			OrderNo:  "red_send_" + pool.PoolNo,
			Type:     entities.ChangePoolSend,
			Amount:   pool.TotalAmount,
			RefTable: "pools",
			RefID:    pool.ID.String(),
			Remark:   "pool funding",
		}); err != nil {
			return err
		}

		amounts, err := u.split(pool)
		if err != nil {
			return err
		}
		shares := make([]*entities.PoolShare, len(amounts))
		for i, a := range amounts {
			shares[i] = &entities.PoolShare{PoolID: pool.ID, Seq: i + 1, Amount: a}
		}
		if err := u.pools.CreateShares(ctx, shares); err != nil {
			return err
		}

		ok, err := u.pools.UpdateStatus(ctx, pool.ID, []entities.PoolStatus{entities.PoolStatusCreated}, entities.PoolStatusPaid)
		if err != nil {
			return err
		}
		if !ok {
			return fmt.Errorf("%w: pool %s is no longer unfunded", domainerrors.ErrInvalidTransition, pool.PoolNo)
		}
		pool.Status = entities.PoolStatusPaid
		pool.Shares = shares
		return nil
	})
	if err != nil {
		return nil, err
	}

	logger.Info(ctx, "Pool funded",
		zap.String("pool_id", pool.ID.String()),
		zap.String("amount", pool.TotalAmount.String()),
		zap.Int("shares", pool.ShareCount),
	)
	return pool, nil
}

func (u *PoolUsecase) split(p *entities.Pool) ([]decimal.Decimal, error) {
	if p.Policy == entities.PoolPolicyRandom {
		return SplitRandom(p.TotalAmount, p.ShareCount, u.rng)
	}
	return SplitAverage(p.TotalAmount, p.ShareCount)
}

// MarkDistributed records that the owner shared the pool.
func (u *PoolUsecase) MarkDistributed(ctx context.Context, ownerID int64, poolID uuid.UUID) (*entities.Pool, error) {
	pool, err := u.ownedPool(ctx, ownerID, poolID)
	if err != nil {
		return nil, err
	}
	if pool.Status == entities.PoolStatusDistributed {
		return pool, nil
	}
	ok, err := u.pools.UpdateStatus(ctx, poolID, []entities.PoolStatus{entities.PoolStatusPaid}, entities.PoolStatusDistributed)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("%w: pool %s is %s", domainerrors.ErrInvalidTransition, pool.PoolNo, pool.Status)
	}
	pool.Status = entities.PoolStatusDistributed
	return pool, nil
}

// Claim gives the claimant the lowest unclaimed share. The share row is
// locked and taken with a conditional update, so concurrent claimants never
// win the same share.
func (u *PoolUsecase) Claim(ctx context.Context, poolID uuid.UUID, claimantID int64) (*entities.ClaimResult, error) {
	var result *entities.ClaimResult
	err := u.uow.Do(ctx, func(ctx context.Context) error {
		// The pool row lock serializes claimants of one pool.
		pool, err := u.pools.GetByID(u.uow.WithLock(ctx), poolID)
		if err != nil {
			return err
		}
		if pool.Status == entities.PoolStatusFinished {
			return u.finishedClaimError(ctx, pool, claimantID)
		}
		if !pool.Status.Claimable() || !pool.ExpiresAt.After(u.now()) {
			return domainerrors.ErrPoolNotClaimable
		}
		if pool.Policy == entities.PoolPolicyExclusive && pool.RecipientID.Int64 != claimantID {
			return domainerrors.ErrNotRecipient
		}

		claimed, err := u.pools.HasClaimed(ctx, poolID, claimantID)
		if err != nil {
			return err
		}
		if claimed {
			return domainerrors.ErrAlreadyClaimed
		}

		share, err := u.pools.NextUnclaimedShare(u.uow.WithLock(ctx), poolID)
		if errors.Is(err, domainerrors.ErrNotFound) {
			return domainerrors.ErrNoSharesLeft
		}
		if err != nil {
			return err
		}
		ok, err := u.pools.ClaimShare(ctx, share.ID, claimantID, u.now())
		if err != nil {
			return err
		}
		if !ok {
			return domainerrors.ErrAlreadyClaimed
		}

		if _, err := u.ledger.Credit(ctx, entities.CreditInput{
			UserID:   claimantID,
			OrderNo:  fmt.Sprintf("red_claim_%s_%s", pool.PoolNo, share.ID),
			Type:     entities.ChangePoolClaim,
			Amount:   share.Amount,
			RefTable: "pools",
			RefID:    pool.ID.String(),
			Remark:   "pool claim",
		}); err != nil {
			return err
		}

		left, err := u.pools.CountUnclaimed(ctx, poolID)
		if err != nil {
			return err
		}
		if left == 0 {
			if _, err := u.pools.UpdateStatus(ctx, poolID,
				[]entities.PoolStatus{entities.PoolStatusPaid, entities.PoolStatusDistributed},
				entities.PoolStatusFinished); err != nil {
				return err
			}
		}

		result = &entities.ClaimResult{
			PoolID:    poolID,
			ShareID:   share.ID,
			Seq:       share.Seq,
			Amount:    share.Amount,
			Remaining: left,
		}
		return nil
	})
	metrics.PoolClaimsTotal.WithLabelValues(claimOutcome(err)).Inc()
	if err != nil {
		return nil, err
	}

	logger.Info(ctx, "Pool share claimed",
		zap.String("pool_id", poolID.String()),
		zap.Int64("claimant", claimantID),
		zap.String("amount", result.Amount.String()),
	)
	return result, nil
}

// finishedClaimError tells a late claimant whether the pool ran out of shares
// or was closed by a refund.
func (u *PoolUsecase) finishedClaimError(ctx context.Context, pool *entities.Pool, claimantID int64) error {
	claimed, err := u.pools.HasClaimed(ctx, pool.ID, claimantID)
	if err != nil {
		return err
	}
	if claimed {
		return domainerrors.ErrAlreadyClaimed
	}
	shares, err := u.pools.ListShares(ctx, pool.ID)
	if err != nil {
		return err
	}
	for _, sh := range shares {
		if sh.Refunded {
			return domainerrors.ErrPoolNotClaimable
		}
	}
	return domainerrors.ErrNoSharesLeft
}

func claimOutcome(err error) string {
	switch {
	case err == nil:
		return "success"
	case errors.Is(err, domainerrors.ErrNoSharesLeft):
		return "empty"
	case errors.Is(err, domainerrors.ErrAlreadyClaimed):
		return "duplicate"
	case errors.Is(err, domainerrors.ErrNotRecipient), errors.Is(err, domainerrors.ErrPoolNotClaimable):
		return "rejected"
	default:
		return "error"
	}
}

// Refund returns every unclaimed share to the owner and finishes the pool.
func (u *PoolUsecase) Refund(ctx context.Context, ownerID int64, poolID uuid.UUID) (*entities.RefundResult, error) {
	pool, err := u.ownedPool(ctx, ownerID, poolID)
	if err != nil {
		return nil, err
	}
	return u.refund(ctx, pool)
}

func (u *PoolUsecase) refund(ctx context.Context, pool *entities.Pool) (*entities.RefundResult, error) {
	result := &entities.RefundResult{PoolID: pool.ID, Amount: decimal.Zero}
	err := u.uow.Do(ctx, func(ctx context.Context) error {
		current, err := u.pools.GetByID(u.uow.WithLock(ctx), pool.ID)
		if err != nil {
			return err
		}
		if !current.Status.Claimable() {
			return fmt.Errorf("%w: pool %s is %s", domainerrors.ErrPoolNotClaimable, current.PoolNo, current.Status)
		}

		open, err := u.pools.ListUnclaimedShares(u.uow.WithLock(ctx), pool.ID)
		if err != nil {
			return err
		}
		now := u.now()
		for _, s := range open {
			ok, err := u.pools.MarkRefunded(ctx, s.ID, current.OwnerID, now)
			if err != nil {
				return err
			}
			if ok {
				result.SharesReturn++
				result.Amount = result.Amount.Add(s.Amount)
			}
		}

		if result.Amount.IsPositive() {
			if _, err := u.ledger.Credit(ctx, entities.CreditInput{
				UserID:   current.OwnerID,
				OrderNo:  "red_refund_" + current.PoolNo,
				Type:     entities.ChangeRefund,
				Amount:   result.Amount,
				RefTable: "pools",
				RefID:    current.ID.String(),
				Remark:   "pool refund",
			}); err != nil {
				return err
			}
		}

		_, err = u.pools.UpdateStatus(ctx, pool.ID,
			[]entities.PoolStatus{entities.PoolStatusPaid, entities.PoolStatusDistributed},
			entities.PoolStatusFinished)
		return err
	})
	if err != nil {
		return nil, err
	}

	logger.Info(ctx, "Pool refunded",
		zap.String("pool_id", pool.ID.String()),
		zap.Int("shares", result.SharesReturn),
		zap.String("amount", result.Amount.String()),
	)
	return result, nil
}

// ExpireDue refunds up to limit pools whose expiry has passed.
func (u *PoolUsecase) ExpireDue(ctx context.Context, limit int) (int, error) {
	pools, err := u.pools.ListExpired(ctx, u.now(), limit)
	if err != nil {
		return 0, err
	}
	done := 0
	for _, p := range pools {
		if _, err := u.refund(ctx, p); err != nil {
			logger.Warn(ctx, "Failed to refund expired pool", zap.String("pool_id", p.ID.String()), zap.Error(err))
			continue
		}
		done++
	}
	return done, nil
}

// GetPool returns a pool with its shares.
func (u *PoolUsecase) GetPool(ctx context.Context, poolID uuid.UUID) (*entities.Pool, error) {
	pool, err := u.pools.GetByID(ctx, poolID)
	if err != nil {
		return nil, err
	}
	pool.Shares, err = u.pools.ListShares(ctx, poolID)
	if err != nil {
		return nil, err
	}
	return pool, nil
}

func (u *PoolUsecase) ownedPool(ctx context.Context, ownerID int64, poolID uuid.UUID) (*entities.Pool, error) {
	pool, err := u.pools.GetByID(ctx, poolID)
	if err != nil {
		return nil, err
	}
	if pool.OwnerID != ownerID {
		return nil, domainerrors.ErrNotFound
	}
	return pool, nil
}
