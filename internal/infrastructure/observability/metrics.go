package observability

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	// Счётчик вызовов методов репозитория
	RepositoryCalls = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "repository_calls_total",
			Help: "Total number of repository method calls",
		},
		[]string{"method", "status"},
	)

	// Гистограмма времени выполнения запросов
	RepositoryDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "repository_duration_seconds",
			Help:    "Duration of repository method calls in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method"},
	)

	BillingOutcomes = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "billing_transactions_total",
			Help: "Billing transactions by terminal outcome and reason",
		},
		[]string{"service", "outcome", "reason"},
	)

	UpstreamDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "upstream_request_duration_seconds",
			Help:    "Duration of upstream provider calls in seconds",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		},
		[]string{"service", "result"},
	)

	ReconciledTransactions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "reconciled_transactions_total",
			Help: "Pending transactions resolved by the reconciliation sweep",
		},
		[]string{"outcome"},
	)

	CatalogCacheLookups = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "catalog_cache_lookups_total",
			Help: "Service catalog cache lookups by result",
		},
		[]string{"result"},
	)
)

func InitMetrics() {
	prometheus.MustRegister(
		RepositoryCalls,
		RepositoryDuration,
		BillingOutcomes,
		UpstreamDuration,
		ReconciledTransactions,
		CatalogCacheLookups,
	)
}
