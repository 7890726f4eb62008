package ratelimit

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/sony/gobreaker/v2"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"custody.backend/pkg/logger"
)

// BreakerRule configures the circuit breaker of one call type.
type BreakerRule struct {
	MaxRequests             uint32
	Interval                time.Duration
	Timeout                 time.Duration
	TripConsecutiveFailures uint32
}

// DefaultBreakerRule trips after 5 consecutive failures and lets a trial call through after 30s.
func DefaultBreakerRule() BreakerRule {
	return BreakerRule{
		MaxRequests:             1,
		Interval:                time.Minute,
		Timeout:                 30 * time.Second,
		TripConsecutiveFailures: 5,
	}
}

// Guard runs external calls through a per-call-type circuit breaker, a shared
// minimum-interval limiter and the call type's retry policy.
type Guard struct {
	mu       sync.RWMutex
	breakers map[string]*gobreaker.CircuitBreaker[struct{}]
	rule     BreakerRule
	limiter  *rate.Limiter
	policies Policies
}

// NewGuard builds a guard. qps <= 0 disables the limiter.
func NewGuard(qps int, policies Policies, rule BreakerRule) *Guard {
	var limiter *rate.Limiter
	if qps > 0 {
		limiter = rate.NewLimiter(rate.Every(time.Second/time.Duration(qps)), 1)
	}
	if policies == nil {
		policies = DefaultPolicies(0)
	}
	if rule.TripConsecutiveFailures == 0 {
		rule = DefaultBreakerRule()
	}
	return &Guard{
		breakers: make(map[string]*gobreaker.CircuitBreaker[struct{}], 8),
		rule:     rule,
		limiter:  limiter,
		policies: policies,
	}
}

func (g *Guard) breaker(call string) *gobreaker.CircuitBreaker[struct{}] {
	g.mu.RLock()
	cb := g.breakers[call]
	g.mu.RUnlock()
	if cb != nil {
		return cb
	}

	g.mu.Lock()
	defer g.mu.Unlock()
	if cb = g.breakers[call]; cb != nil {
		return cb
	}

	rule := g.rule
	cb = gobreaker.NewCircuitBreaker[struct{}](gobreaker.Settings{
		Name:        call,
		MaxRequests: rule.MaxRequests,
		Interval:    rule.Interval,
		Timeout:     rule.Timeout,
		ReadyToTrip: func(c gobreaker.Counts) bool {
			return c.ConsecutiveFailures >= rule.TripConsecutiveFailures
		},
		IsSuccessful: func(err error) bool {
			return err == nil || IsPermanent(err) || errors.Is(err, context.Canceled)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn(context.Background(), "circuit breaker state changed",
				zap.String("call", name),
				zap.String("from", from.String()),
				zap.String("to", to.String()),
			)
		},
	})
	g.breakers[call] = cb
	return cb
}

// State reports the breaker state of a call type.
func (g *Guard) State(call string) gobreaker.State {
	return g.breaker(call).State()
}

// Do executes op under the guard for the given call type.
func Do[T any](ctx context.Context, g *Guard, call string, op func(ctx context.Context) (T, error)) (T, error) {
	policy := g.policies.Get(call)
	cb := g.breaker(call)

	attempt := func() (T, error) {
		var zero T
		if g.limiter != nil {
			if err := g.limiter.Wait(ctx); err != nil {
				return zero, backoff.Permanent(err)
			}
		}

		var result T
		_, err := cb.Execute(func() (struct{}, error) {
			callCtx := ctx
			if policy.Timeout > 0 {
				var cancel context.CancelFunc
				callCtx, cancel = context.WithTimeout(ctx, policy.Timeout)
				defer cancel()
			}
			var opErr error
			result, opErr = op(callCtx)
			return struct{}{}, opErr
		})
		if err == nil {
			return result, nil
		}

		var p *permanentError
		if errors.As(err, &p) {
			return zero, backoff.Permanent(p.err)
		}
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return zero, backoff.Permanent(err)
		}
		return zero, err
	}

	return backoff.Retry(ctx, attempt,
		backoff.WithBackOff(policy.newBackOff()),
		backoff.WithMaxTries(policy.tries()),
		backoff.WithNotify(func(err error, next time.Duration) {
			logger.Debug(ctx, "retrying external call",
				zap.String("call", call),
				zap.Duration("next", next),
				zap.Error(err),
			)
		}),
	)
}
