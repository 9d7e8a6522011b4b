package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	DepositsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "vaultgate_deposits_total",
		Help: "The total number of deposit calls processed",
	}, []string{"status"})

	WithdrawalsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "vaultgate_withdrawals_total",
		Help: "The total number of withdrawal calls processed",
	}, []string{"stage", "status"})

	RolloversTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "vaultgate_rollovers_total",
		Help: "Round rollovers attempted",
	}, []string{"status"})

	SwapsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "vaultgate_swaps_total",
		Help: "Bridge swaps booked",
	}, []string{"status"})

	SettlementsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "vaultgate_settlements_total",
		Help: "Bridge settlement sweeps",
	}, []string{"status"})

	PricePerShare = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "vaultgate_price_per_share",
		Help: "Finalized price per share of the latest closed round (asset units, float)",
	})

	LockedAmount = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "vaultgate_locked_amount",
		Help: "Amount currently deployed to the strategy (asset units, float)",
	})

	PendingAmount = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "vaultgate_pending_amount",
		Help: "Deposits awaiting deployment (asset units, float)",
	})

	LatencyBucket = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "vaultgate_latency_bucket",
		Help:    "Request latency in seconds",
		Buckets: prometheus.DefBuckets,
	}, []string{"endpoint"})
)
