package usecases

import (
	"context"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"custody.backend/internal/domain/entities"
	domainerrors "custody.backend/internal/domain/errors"
	"custody.backend/internal/domain/repositories"
	"custody.backend/pkg/logger"
	"custody.backend/pkg/metrics"
)

const (
	flagCachePrefix = "custody:flag:"
	flagCacheTTL    = 15 * time.Second
)

// LockFlags are the feature locks driven by reconciliation.
var LockFlags = []string{entities.FlagLockWithdrawals, entities.FlagLockPoolSend}

// FlagService stores feature flags in the database and mirrors them in redis
// so every replica sees the same lock state.
type FlagService struct {
	flags repositories.SystemFlagRepository
	rdb   *redis.Client
	ttl   time.Duration
}

// NewFlagService creates a flag service. rdb may be nil, in which case every
// read goes to the database.
func NewFlagService(flags repositories.SystemFlagRepository, rdb *redis.Client) *FlagService {
	return &FlagService{flags: flags, rdb: rdb, ttl: flagCacheTTL}
}

// Guard returns ErrFeatureLocked while key is locked.
func (s *FlagService) Guard(ctx context.Context, key string) error {
	value, err := s.value(ctx, key)
	if err != nil {
		return err
	}
	if (&entities.SystemFlag{Value: value}).Locked() {
		return domainerrors.ErrFeatureLocked
	}
	return nil
}

// Set writes key=value and refreshes the mirror.
func (s *FlagService) Set(ctx context.Context, key, value string) error {
	if err := s.flags.Set(ctx, key, value); err != nil {
		return err
	}
	s.cache(ctx, key, value)
	locked := 0.0
	if (&entities.SystemFlag{Value: value}).Locked() {
		locked = 1
	}
	metrics.FeatureLocked.WithLabelValues(key).Set(locked)
	return nil
}

// SetLocked is Set with the canonical lock values.
func (s *FlagService) SetLocked(ctx context.Context, key string, locked bool) error {
	if locked {
		return s.Set(ctx, key, "1")
	}
	return s.Set(ctx, key, "0")
}

// Snapshot returns every stored flag plus the lock flags that were never set.
func (s *FlagService) Snapshot(ctx context.Context) ([]*entities.SystemFlag, error) {
	stored, err := s.flags.List(ctx)
	if err != nil {
		return nil, err
	}
	seen := make(map[string]bool, len(stored))
	for _, f := range stored {
		seen[f.Key] = true
	}
	for _, key := range LockFlags {
		if !seen[key] {
			stored = append(stored, &entities.SystemFlag{Key: key, Value: "0"})
		}
	}
	return stored, nil
}

func (s *FlagService) value(ctx context.Context, key string) (string, error) {
	if s.rdb != nil {
		v, err := s.rdb.Get(ctx, flagCachePrefix+key).Result()
		if err == nil {
			return v, nil
		}
		if !errors.Is(err, redis.Nil) {
			logger.Warn(ctx, "Flag cache read failed, using database", zap.String("flag", key), zap.Error(err))
		}
	}

	flag, err := s.flags.Get(ctx, key)
	if errors.Is(err, domainerrors.ErrNotFound) {
		s.cache(ctx, key, "0")
		return "0", nil
	}
	if err != nil {
		return "", err
	}
	s.cache(ctx, key, flag.Value)
	return flag.Value, nil
}

func (s *FlagService) cache(ctx context.Context, key, value string) {
	if s.rdb == nil {
		return
	}
	if err := s.rdb.Set(ctx, flagCachePrefix+key, value, s.ttl).Err(); err != nil {
		logger.Warn(ctx, "Flag cache write failed", zap.String("flag", key), zap.Error(err))
	}
}
