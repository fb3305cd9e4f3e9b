// internal/common/metrics/metrics.go
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	WorkerJobsCompleted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "worker_jobs_completed_total",
			Help: "Total number of jobs completed by worker",
		},
		[]string{"task_type"},
	)

	WorkerJobsFailed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "worker_jobs_failed_total",
			Help: "Total number of jobs failed by worker",
		},
		[]string{"task_type", "error_code"},
	)

	WorkerJobDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name: "worker_job_duration_seconds",
			Help: "Duration of job processing in seconds",
		},
		[]string{"task_type"},
	)

	OffersCreated = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "dispatch_offers_created_total",
			Help: "Total number of PENDING assignments created",
		},
	)

	MatchOutcomes = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dispatch_match_outcomes_total",
			Help: "Match attempts by outcome (matched, no_candidates, failed)",
		},
		[]string{"outcome"},
	)

	ClaimOutcomes = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dispatch_claims_total",
			Help: "Claim attempts by outcome (won, conflict, expired, not_found, error)",
		},
		[]string{"outcome"},
	)

	OffersExpired = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "dispatch_offers_expired_total",
			Help: "PENDING assignments flipped to EXPIRED",
		},
	)

	PayoutGroups = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "settlement_payout_groups_total",
			Help: "Contractor payout groups by result (paid, skipped, failed)",
		},
		[]string{"result"},
	)

	PayoutAmountCents = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "settlement_paid_amount_cents_total",
			Help: "Sum of successfully transferred payout amounts in cents",
		},
	)

	BatchDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "settlement_batch_duration_seconds",
			Help:    "Duration of payout batch runs",
			Buckets: prometheus.ExponentialBuckets(0.1, 2, 12),
		},
	)
)
