package jobs

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"custody.backend/internal/domain/entities"
	"custody.backend/internal/usecases"
	"custody.backend/pkg/logger"
	"custody.backend/pkg/metrics"
)

type depositProcessor interface {
	ProcessPass(ctx context.Context) (usecases.PassStats, error)
}

type withdrawalResolver interface {
	ResolveBroadcast(ctx context.Context) (int, error)
}

type reconciler interface {
	Run(ctx context.Context) (*entities.ReconciliationRecord, error)
}

// leaser is the cross-replica lock guarding a pass.
type leaser interface {
	TryAcquire(ctx context.Context) (bool, error)
	Release(ctx context.Context) error
	TTL() time.Duration
}

// SettlementJob drives deposit orders, pending withdrawals and the solvency
// check on a fixed interval. Only the replica holding the lease runs a pass.
type SettlementJob struct {
	deposits    depositProcessor
	withdrawals withdrawalResolver
	reconciler  reconciler
	lease       leaser
	interval    time.Duration
	stop        chan struct{}
}

func NewSettlementJob(deposits depositProcessor, withdrawals withdrawalResolver, rec reconciler, lease leaser, interval time.Duration) *SettlementJob {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	return &SettlementJob{
		deposits:    deposits,
		withdrawals: withdrawals,
		reconciler:  rec,
		lease:       lease,
		interval:    interval,
		stop:        make(chan struct{}),
	}
}

func (j *SettlementJob) Start(ctx context.Context) {
	logger.Info(ctx, "Starting settlement job", zap.Duration("interval", j.interval))

	ticker := time.NewTicker(j.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			logger.Info(ctx, "Settlement job stopped (context cancelled)")
			return
		case <-j.stop:
			logger.Info(ctx, "Settlement job stopped")
			return
		case <-ticker.C:
			j.RunOnce(ctx)
		}
	}
}

func (j *SettlementJob) Stop() {
	close(j.stop)
}

// RunOnce executes a single pass if the lease can be taken. It reports
// whether the pass ran.
func (j *SettlementJob) RunOnce(ctx context.Context) bool {
	ctx = logger.WithJob(ctx, "settlement-"+uuid.NewString()[:8])

	if j.lease != nil {
		ok, err := j.lease.TryAcquire(ctx)
		if err != nil {
			logger.Warn(ctx, "Settlement lease unavailable, skipping pass", zap.Error(err))
			return false
		}
		if !ok {
			logger.Debug(ctx, "Another replica holds the settlement lease")
			return false
		}
		defer func() {
			if err := j.lease.Release(context.WithoutCancel(ctx)); err != nil {
				logger.Warn(ctx, "Failed to release settlement lease", zap.Error(err))
			}
		}()

		var cancel context.CancelFunc
		ctx, cancel = context.WithCancel(ctx)
		done := make(chan struct{})
		go j.keepLease(ctx, cancel, done)
		defer func() {
			close(done)
			cancel()
		}()
	}

	timer := prometheus.NewTimer(metrics.SettlementPassDuration)
	defer timer.ObserveDuration()

	stats, err := j.deposits.ProcessPass(ctx)
	if err != nil {
		logger.Error(ctx, "Deposit pass failed", zap.Error(err))
	} else if stats != (usecases.PassStats{}) {
		logger.Info(ctx, "Deposit pass finished",
			zap.Int("expired", stats.Expired),
			zap.Int("advanced", stats.Advanced),
			zap.Int("credited", stats.Credited),
			zap.Int("failed", stats.Failed),
		)
	}

	if j.withdrawals != nil {
		if n, err := j.withdrawals.ResolveBroadcast(ctx); err != nil {
			logger.Error(ctx, "Withdrawal resolution failed", zap.Error(err))
		} else if n > 0 {
			logger.Info(ctx, "Broadcast withdrawals resolved", zap.Int("count", n))
		}
	}

	if j.reconciler != nil {
		if _, err := j.reconciler.Run(ctx); err != nil {
			logger.Error(ctx, "Reconciliation failed", zap.Error(err))
		}
	}
	return true
}

// keepLease renews the lease every third of its TTL until done closes. The
// pass is cancelled once the lease is taken by another holder or cannot be
// renewed before it would expire.
func (j *SettlementJob) keepLease(ctx context.Context, cancel context.CancelFunc, done <-chan struct{}) {
	ttl := j.lease.TTL()
	if ttl <= 0 {
		return
	}
	ticker := time.NewTicker(ttl / 3)
	defer ticker.Stop()

	renewed := time.Now()
	for {
		select {
		case <-done:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			ok, err := j.lease.TryAcquire(ctx)
			switch {
			case err == nil && ok:
				renewed = time.Now()
			case err == nil:
				logger.Error(ctx, "Settlement lease taken by another replica, aborting pass")
				cancel()
				return
			case time.Since(renewed) >= ttl:
				logger.Error(ctx, "Settlement lease expired, aborting pass", zap.Error(err))
				cancel()
				return
			default:
				logger.Warn(ctx, "Settlement lease renewal failed", zap.Error(err))
			}
		}
	}
}
