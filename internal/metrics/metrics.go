package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Commitment metrics
	CommitsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "eventstamp_commits_total",
			Help: "Total number of events committed to the ledger",
		},
	)

	CommitFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "eventstamp_commit_failures_total",
			Help: "Total number of failed commitments, by error kind",
		},
		[]string{"kind"},
	)

	CommitDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "eventstamp_commit_duration_seconds",
			Help:    "Duration of the full commit pipeline in seconds",
			Buckets: prometheus.DefBuckets,
		},
	)

	CommitFees = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "eventstamp_commit_fee_satoshis",
			Help:    "Fee paid per commitment transaction",
			Buckets: prometheus.ExponentialBuckets(100, 2, 10),
		},
	)

	// Retrieval metrics
	RetrievalsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "eventstamp_retrievals_total",
			Help: "Total number of log retrievals",
		},
		[]string{"status"},
	)

	// Wallet metrics
	ReservationsReleased = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "eventstamp_wallet_reservations_released_total",
			Help: "Total number of expired output reservations released by the sweeper",
		},
	)

	WalletBalance = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "eventstamp_wallet_balance_satoshis",
			Help: "Spendable wallet balance at the last sweep",
		},
	)
)
