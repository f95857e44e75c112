package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// AllocationDuration tracks the latency of the allocation transaction,
	// retries included
	AllocationDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name: "promo_allocation_duration_seconds",
			Help: "Duration of promo code allocations in seconds",
			Buckets: []float64{
				0.001, // 1ms
				0.005, // 5ms
				0.01,  // 10ms
				0.025, // 25ms
				0.05,  // 50ms
				0.1,   // 100ms
				0.25,  // 250ms
				0.5,   // 500ms
				1.0,   // 1s
				2.5,   // 2.5s
				5.0,   // 5s
				10.0,  // 10s
			},
		},
		[]string{"result"}, // allocated, exhausted, duplicate, max_uses, error
	)

	// AllocationRetries counts allocation attempts lost to a concurrent transaction
	AllocationRetries = promauto.NewCounter(prometheus.CounterOpts{
		Name: "promo_allocation_retries_total",
		Help: "Allocation attempts retried after a transaction conflict",
	})

	// UnsealableCodes counts codes taken out of selection because they could
	// not be decrypted
	UnsealableCodes = promauto.NewCounter(prometheus.CounterOpts{
		Name: "promo_unsealable_codes_total",
		Help: "Promo codes deactivated after failing to decrypt",
	})

	// AllocationsTotal counts handed-out codes per campaign
	AllocationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "promo_allocations_total",
			Help: "Promo codes allocated",
		},
		[]string{"campaign"},
	)

	// VerificationsTotal counts on-chain burn verifications by outcome
	VerificationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "promo_burn_verifications_total",
			Help: "On-chain burn verifications by outcome",
		},
		[]string{"outcome"},
	)

	// RateLimitDecisions counts rate-limit checks per scope and decision
	RateLimitDecisions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "promo_rate_limit_decisions_total",
			Help: "Rate limit decisions by scope",
		},
		[]string{"scope", "decision"}, // decision: allowed or denied
	)

	// ClaimRejections counts rejected pre-claim and claim requests by kind
	ClaimRejections = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "promo_claim_rejections_total",
			Help: "Rejected redemption requests by rejection kind",
		},
		[]string{"stage", "kind"},
	)
)

// RecordAllocationDuration records the duration of one allocation
func RecordAllocationDuration(result string, duration float64) {
	AllocationDuration.WithLabelValues(result).Observe(duration)
}

// RecordAllocation counts one handed-out code
func RecordAllocation(campaign string) {
	if campaign == "" {
		campaign = "none"
	}
	AllocationsTotal.WithLabelValues(campaign).Inc()
}

// RecordVerification counts one verification outcome
func RecordVerification(outcome string) {
	VerificationsTotal.WithLabelValues(outcome).Inc()
}

// RecordRateLimit counts one rate-limit decision
func RecordRateLimit(scope string, allowed bool) {
	decision := "allowed"
	if !allowed {
		decision = "denied"
	}
	RateLimitDecisions.WithLabelValues(scope, decision).Inc()
}

// RecordRejection counts one rejected request at a stage (preclaim or claim)
func RecordRejection(stage, kind string) {
	ClaimRejections.WithLabelValues(stage, kind).Inc()
}
