package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	DepositCreditedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "custody_deposit_credited_total",
		Help: "Number of deposit orders credited to user ledgers",
	})

	OrderTransitionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "custody_order_transitions_total",
		Help: "Deposit order status transitions",
	}, []string{"from", "to"})

	PoolClaimsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "custody_pool_claims_total",
		Help: "Pool claim attempts by result",
	}, []string{"result"})

	EnergyRentalsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "custody_energy_rentals_total",
		Help: "Energy rental requests by result",
	}, []string{"result"})

	ReconciliationDifference = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "custody_reconciliation_difference",
		Help: "On-chain aggregate balance minus the sum of user balances",
	})

	FeatureLocked = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "custody_feature_locked",
		Help: "1 when the feature flag is locked",
	}, []string{"flag"})

	SettlementPassDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "custody_settlement_pass_duration_seconds",
		Help:    "Duration of one settlement pass",
		Buckets: prometheus.DefBuckets,
	})
)

// BoolGauge renders a flag state as a gauge value.
func BoolGauge(b bool) float64 {
	if b {
		return 1
	}
	return 0
}
