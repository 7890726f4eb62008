package jobs

import (
	"context"
	"time"

	"go.uber.org/zap"

	"custody.backend/pkg/logger"
)

type poolExpirer interface {
	ExpireDue(ctx context.Context, limit int) (int, error)
}

// PoolExpiryJob refunds pools whose claim window has closed
type PoolExpiryJob struct {
	pools    poolExpirer
	interval time.Duration
	limit    int
	stop     chan struct{}
}

func NewPoolExpiryJob(pools poolExpirer, interval time.Duration) *PoolExpiryJob {
	if interval <= 0 {
		interval = time.Minute
	}
	return &PoolExpiryJob{
		pools:    pools,
		interval: interval,
		limit:    200,
		stop:     make(chan struct{}),
	}
}

func (j *PoolExpiryJob) Start(ctx context.Context) {
	logger.Info(ctx, "Starting pool expiry job", zap.Duration("interval", j.interval))

	ticker := time.NewTicker(j.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			logger.Info(ctx, "Pool expiry job stopped (context cancelled)")
			return
		case <-j.stop:
			logger.Info(ctx, "Pool expiry job stopped")
			return
		case <-ticker.C:
			j.processExpiredPools(ctx)
		}
	}
}

func (j *PoolExpiryJob) Stop() {
	close(j.stop)
}

func (j *PoolExpiryJob) processExpiredPools(ctx context.Context) {
	ctx = logger.WithJob(ctx, "pool-expiry")
	n, err := j.pools.ExpireDue(ctx, j.limit)
	if err != nil {
		logger.Error(ctx, "Error refunding expired pools", zap.Error(err))
		return
	}
	if n > 0 {
		logger.Info(ctx, "Refunded expired pools", zap.Int("count", n))
	}
}
