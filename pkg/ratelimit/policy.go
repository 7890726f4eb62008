package ratelimit

import (
	"errors"
	"time"

	"github.com/cenkalti/backoff/v5"
)

// External call types. Each has its own retry policy and circuit breaker.
const (
	CallChainRead      = "chain.read"
	CallChainBroadcast = "chain.broadcast"
	CallChainReceipt   = "chain.receipt"
	CallRentalRequest  = "rental.request"
	CallBandwidthTopUp = "bandwidth.topup"
)

type BackoffKind int

const (
	BackoffConstant BackoffKind = iota
	BackoffExponential
)

// Policy describes how one external call type is retried.
type Policy struct {
	MaxTries uint
	Backoff  BackoffKind
	Initial  time.Duration
	Max      time.Duration
	Jitter   float64
	// Timeout bounds every single attempt.
	Timeout time.Duration
}

// Policies maps a call type to its retry policy.
type Policies map[string]Policy

// DefaultPolicies returns the retry table used in production. Broadcasts are
// never retried blindly: a lost response may still have reached the network.
func DefaultPolicies(callTimeout time.Duration) Policies {
	if callTimeout <= 0 {
		callTimeout = 10 * time.Second
	}
	return Policies{
		CallChainRead: {
			MaxTries: 3, Backoff: BackoffExponential,
			Initial: 500 * time.Millisecond, Max: 4 * time.Second, Jitter: 0.2,
			Timeout: callTimeout,
		},
		CallChainBroadcast: {
			MaxTries: 1, Backoff: BackoffConstant, Timeout: callTimeout,
		},
		CallChainReceipt: {
			MaxTries: 2, Backoff: BackoffConstant, Initial: time.Second,
			Timeout: callTimeout,
		},
		CallRentalRequest: {
			MaxTries: 3, Backoff: BackoffExponential,
			Initial: time.Second, Max: 5 * time.Second, Jitter: 0.2,
			Timeout: 15 * time.Second,
		},
		CallBandwidthTopUp: {
			MaxTries: 2, Backoff: BackoffConstant, Initial: 2 * time.Second,
			Timeout: callTimeout,
		},
	}
}

// Get returns the policy for call, or a single-attempt policy for unknown types.
func (p Policies) Get(call string) Policy {
	if pol, ok := p[call]; ok {
		return pol
	}
	return Policy{MaxTries: 1, Timeout: 10 * time.Second}
}

func (p Policy) newBackOff() backoff.BackOff {
	if p.Backoff == BackoffExponential {
		b := backoff.NewExponentialBackOff()
		if p.Initial > 0 {
			b.InitialInterval = p.Initial
		}
		if p.Max > 0 {
			b.MaxInterval = p.Max
		}
		b.RandomizationFactor = p.Jitter
		return b
	}
	return backoff.NewConstantBackOff(p.Initial)
}

func (p Policy) tries() uint {
	if p.MaxTries == 0 {
		return 1
	}
	return p.MaxTries
}

type permanentError struct {
	err error
}

func (e *permanentError) Error() string { return e.err.Error() }
func (e *permanentError) Unwrap() error { return e.err }

// Permanent marks err as not worth retrying. Permanent errors also count as
// successes for the circuit breaker since they reflect the request, not the
// health of the remote side.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

// IsPermanent reports whether err was marked with Permanent.
func IsPermanent(err error) bool {
	var p *permanentError
	return errors.As(err, &p)
}
