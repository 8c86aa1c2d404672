package telemetry

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	recommendationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pricing_recommendations_total",
			Help: "Price recommendations produced, by pricing tier",
		},
		[]string{"tier"},
	)

	storageOperationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "storage_operations_total",
			Help: "Storage operations, by operation and the backend that served them",
		},
		[]string{"operation", "source"},
	)

	exchangeRateLookupsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "exchange_rate_lookups_total",
			Help: "Exchange rate lookups, by where the rates came from",
		},
		[]string{"source"},
	)

	authVerificationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "auth_verifications_total",
			Help: "Bearer token verifications, by result",
		},
		[]string{"result"},
	)
)

func RecordRecommendation(tier string) {
	recommendationsTotal.WithLabelValues(tier).Inc()
}

func RecordStorage(operation, source string) {
	storageOperationsTotal.WithLabelValues(operation, source).Inc()
}

func RecordExchangeRateLookup(source string) {
	exchangeRateLookupsTotal.WithLabelValues(source).Inc()
}

func RecordAuth(result string) {
	authVerificationsTotal.WithLabelValues(result).Inc()
}
