package observability

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// MarketMetrics records RPC and settlement activity for the marketplace.
type MarketMetrics struct {
	requests    *prometheus.CounterVec
	errors      *prometheus.CounterVec
	latency     *prometheus.HistogramVec
	settlements prometheus.Counter
	feeUnits    *prometheus.CounterVec
}

var (
	marketMetricsOnce sync.Once
	marketRegistry    *MarketMetrics
)

// Metrics returns the lazily-initialised marketplace metrics registry.
func Metrics() *MarketMetrics {
	marketMetricsOnce.Do(func() {
		marketRegistry = &MarketMetrics{
			requests: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "deedmarket",
				Subsystem: "rpc",
				Name:      "requests_total",
				Help:      "Total JSON-RPC requests segmented by method and outcome.",
			}, []string{"method", "outcome"}),
			errors: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "deedmarket",
				Subsystem: "rpc",
				Name:      "errors_total",
				Help:      "Total JSON-RPC errors segmented by method and code.",
			}, []string{"method", "code"}),
			latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
				Namespace: "deedmarket",
				Subsystem: "rpc",
				Name:      "request_duration_seconds",
				Help:      "Latency distribution for JSON-RPC handlers.",
				Buckets:   prometheus.DefBuckets,
			}, []string{"method"}),
			settlements: prometheus.NewCounter(prometheus.CounterOpts{
				Namespace: "deedmarket",
				Subsystem: "market",
				Name:      "settlements_total",
				Help:      "Total accepted bids settled.",
			}),
			feeUnits: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "deedmarket",
				Subsystem: "market",
				Name:      "fee_units_total",
				Help:      "Platform fee units accrued per instrument.",
			}, []string{"instrument"}),
		}
		prometheus.MustRegister(
			marketRegistry.requests,
			marketRegistry.errors,
			marketRegistry.latency,
			marketRegistry.settlements,
			marketRegistry.feeUnits,
		)
	})
	return marketRegistry
}

// ObserveRequest records a completed JSON-RPC call.
func (m *MarketMetrics) ObserveRequest(method, outcome string, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.requests.WithLabelValues(method, outcome).Inc()
	m.latency.WithLabelValues(method).Observe(elapsed.Seconds())
}

// ObserveError records a failed JSON-RPC call by error code.
func (m *MarketMetrics) ObserveError(method, code string) {
	if m == nil {
		return
	}
	m.errors.WithLabelValues(method, code).Inc()
}

// ObserveSettlement records an accepted bid and the fee units it accrued.
func (m *MarketMetrics) ObserveSettlement(instrument string, feeUnits float64) {
	if m == nil {
		return
	}
	m.settlements.Inc()
	m.feeUnits.WithLabelValues(instrument).Add(feeUnits)
}
