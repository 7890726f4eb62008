package entities

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	domainerrors "custody.backend/internal/domain/errors"
)

// DepositStatus is the closed set of deposit order states
type DepositStatus string

const (
	DepositStatusWaiting    DepositStatus = "waiting"
	DepositStatusCollecting DepositStatus = "collecting"
	DepositStatusVerifying  DepositStatus = "verifying"
	DepositStatusSuccess    DepositStatus = "success"
	DepositStatusExpired    DepositStatus = "expired"
)

// DepositEvent drives a deposit order from one status to the next
type DepositEvent string

const (
	EventFundsObserved  DepositEvent = "funds_observed"
	EventSweepConfirmed DepositEvent = "sweep_confirmed"
	EventSettled        DepositEvent = "settled"
	EventResidualFound  DepositEvent = "residual_found"
	EventExpired        DepositEvent = "expired"
)

var depositTransitions = map[DepositStatus]map[DepositEvent]DepositStatus{
	DepositStatusWaiting: {
		EventFundsObserved: DepositStatusCollecting,
		EventExpired:       DepositStatusExpired,
	},
	DepositStatusCollecting: {
		EventSweepConfirmed: DepositStatusVerifying,
	},
	DepositStatusVerifying: {
		EventSettled:       DepositStatusSuccess,
		EventResidualFound: DepositStatusCollecting,
	},
}

// NextDepositStatus is the single transition function of the order state machine.
func NextDepositStatus(from DepositStatus, ev DepositEvent) (DepositStatus, error) {
	if next, ok := depositTransitions[from][ev]; ok {
		return next, nil
	}
	return from, fmt.Errorf("deposit order: %s on %s: %w", ev, from, domainerrors.ErrInvalidTransition)
}

// legacyDepositStatus maps values written by older deployments.
var legacyDepositStatus = map[string]DepositStatus{
	"pending":   DepositStatusWaiting,
	"sweeping":  DepositStatusCollecting,
	"collected": DepositStatusVerifying,
	"completed": DepositStatusSuccess,
	"done":      DepositStatusSuccess,
	"timeout":   DepositStatusExpired,
}

// ParseDepositStatus converts a stored value into a DepositStatus.
func ParseDepositStatus(raw string) (DepositStatus, error) {
	s := strings.ToLower(strings.TrimSpace(raw))
	switch DepositStatus(s) {
	case DepositStatusWaiting, DepositStatusCollecting, DepositStatusVerifying, DepositStatusSuccess, DepositStatusExpired:
		return DepositStatus(s), nil
	}
	if st, ok := legacyDepositStatus[s]; ok {
		return st, nil
	}
	return "", fmt.Errorf("unknown deposit status %q", raw)
}

// IsTerminal reports whether no further transition is possible
func (s DepositStatus) IsTerminal() bool {
	return s == DepositStatusSuccess || s == DepositStatusExpired
}

// DepositOrder is a request to receive funds on a user's deposit address
type DepositOrder struct {
	ID             uuid.UUID       `json:"id"`
	OrderNo        string          `json:"orderNo"`
	UserID         int64           `json:"userId"`
	Address        string          `json:"address"`
	ExpectedAmount decimal.Decimal `json:"expectedAmount"`
	// ObservedAmount is the balance read right before the current sweep attempt.
	ObservedAmount decimal.Decimal `json:"observedAmount"`
	// SettledAmount accumulates confirmed sweeps and is what gets credited.
	SettledAmount  decimal.Decimal `json:"settledAmount"`
	Status         DepositStatus   `json:"status"`
	SettlementTxID string          `json:"settlementTxId,omitempty"`
	ExpireAt       time.Time       `json:"expireAt"`
	CreatedAt      time.Time       `json:"createdAt"`
	UpdatedAt      time.Time       `json:"updatedAt"`
}

// IsExpired reports whether a waiting order passed its deadline
func (o *DepositOrder) IsExpired(now time.Time) bool {
	return !o.ExpireAt.After(now)
}
