package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	BuildInfo = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "feerouter_build_info",
			Help: "Build information of the fee router",
		},
		[]string{"version", "commit"},
	)

	StepsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "feerouter_steps_total",
			Help: "Total number of distribution steps by outcome",
		},
		[]string{"outcome"},
	)

	StepDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "feerouter_step_duration_seconds",
			Help:    "Duration of distribution steps",
			Buckets: prometheus.ExponentialBuckets(0.0005, 2, 14), // 0.5ms to ~4s
		},
	)

	EpochsStartedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "feerouter_epochs_started_total",
			Help: "Total number of epochs started",
		},
	)

	EpochsClosedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "feerouter_epochs_closed_total",
			Help: "Total number of epochs closed",
		},
	)

	FeesClaimedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "feerouter_fees_claimed_total",
			Help: "Total quote amount claimed at epoch start",
		},
	)

	AmountPaidTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "feerouter_amount_paid_total",
			Help: "Total quote amount paid out by recipient type",
		},
		[]string{"recipient"},
	)

	DustWithheldTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "feerouter_dust_withheld_total",
			Help: "Total quote amount withheld as dust",
		},
	)

	CapWithheldTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "feerouter_cap_withheld_total",
			Help: "Total quote amount held back by daily caps",
		},
	)

	CrankRunsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "feerouter_crank_runs_total",
			Help: "Total number of crank epoch runs by outcome",
		},
		[]string{"outcome"},
	)

	TransfersTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "feerouter_transfers_total",
			Help: "Total number of payout transfers handed to the executor",
		},
		[]string{"status"},
	)
)
