package observability

import (
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

type moduleMetrics struct {
	requests  *prometheus.CounterVec
	errors    *prometheus.CounterVec
	latency   *prometheus.HistogramVec
	throttles *prometheus.CounterVec
}

var (
	moduleMetricsOnce sync.Once
	moduleRegistry    *moduleMetrics

	rammOnce sync.Once
	rammReg  *RAMMMetrics
)

// ModuleMetrics returns the lazily-initialised registry recording HTTP API
// activity per route.
func ModuleMetrics() *moduleMetrics {
	moduleMetricsOnce.Do(func() {
		moduleRegistry = &moduleMetrics{
			requests: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "ramm",
				Subsystem: "api",
				Name:      "requests_total",
				Help:      "Total API requests segmented by module, route, and outcome.",
			}, []string{"module", "method", "outcome"}),
			errors: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "ramm",
				Subsystem: "api",
				Name:      "errors_total",
				Help:      "Total API errors segmented by module, route, and status code.",
			}, []string{"module", "method", "status"}),
			latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
				Namespace: "ramm",
				Subsystem: "api",
				Name:      "request_duration_seconds",
				Help:      "Latency distribution for API handlers.",
				Buckets:   prometheus.DefBuckets,
			}, []string{"module", "method"}),
			throttles: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "ramm",
				Subsystem: "api",
				Name:      "throttles_total",
				Help:      "Count of API requests rejected due to throttling policies.",
			}, []string{"module", "reason"}),
		}
		prometheus.MustRegister(
			moduleRegistry.requests,
			moduleRegistry.errors,
			moduleRegistry.latency,
			moduleRegistry.throttles,
		)
	})
	return moduleRegistry
}

// Observe records the outcome of an API request. The status code should be
// the HTTP status that was ultimately written to the response writer.
func (m *moduleMetrics) Observe(module, method string, status int, duration time.Duration) {
	if m == nil {
		return
	}
	if module == "" {
		module = "unknown"
	}
	if method == "" {
		method = "unknown"
	}
	outcome := "success"
	if status >= 400 {
		outcome = "error"
	}
	m.requests.WithLabelValues(module, method, outcome).Inc()
	if status >= 400 {
		m.errors.WithLabelValues(module, method, fmt.Sprintf("%d", status)).Inc()
	}
	m.latency.WithLabelValues(module, method).Observe(duration.Seconds())
}

// RecordThrottle increments the throttle counter for the supplied module and
// reason. Reasons should be stable strings such as "rate_limit".
func (m *moduleMetrics) RecordThrottle(module, reason string) {
	if m == nil {
		return
	}
	if module == "" {
		module = "unknown"
	}
	if reason == "" {
		reason = "unspecified"
	}
	m.throttles.WithLabelValues(module, reason).Inc()
}

// RAMMMetrics captures engine operations and the pricing state of every
// asset.
type RAMMMetrics struct {
	requests          *prometheus.CounterVec
	latency           *prometheus.HistogramVec
	errors            *prometheus.CounterVec
	bookValue         *prometheus.GaugeVec
	virtualIssuance   *prometheus.GaugeVec
	virtualRedemption *prometheus.GaugeVec
	vaultBalance      *prometheus.GaugeVec
	supply            *prometheus.GaugeVec
	paused            prometheus.Gauge
}

// RAMM returns the singleton metrics registry for the issuance engine.
func RAMM() *RAMMMetrics {
	rammOnce.Do(func() {
		rammReg = &RAMMMetrics{
			requests: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "ramm",
				Subsystem: "engine",
				Name:      "operations_total",
				Help:      "Count of engine operations segmented by operation, asset, and outcome.",
			}, []string{"operation", "mint", "outcome"}),
			latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
				Namespace: "ramm",
				Subsystem: "engine",
				Name:      "operation_duration_seconds",
				Help:      "Latency distribution for engine operations.",
				Buckets:   prometheus.DefBuckets,
			}, []string{"operation"}),
			errors: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "ramm",
				Subsystem: "engine",
				Name:      "errors_total",
				Help:      "Count of engine failures segmented by operation and reason.",
			}, []string{"operation", "reason"}),
			bookValue: prometheus.NewGaugeVec(prometheus.GaugeOpts{
				Namespace: "ramm",
				Subsystem: "engine",
				Name:      "book_value",
				Help:      "Realized book value per claim unit, scaled by 1e9.",
			}, []string{"mint"}),
			virtualIssuance: prometheus.NewGaugeVec(prometheus.GaugeOpts{
				Namespace: "ramm",
				Subsystem: "engine",
				Name:      "virtual_issuance",
				Help:      "Virtual issuance counter, scaled by 1e9.",
			}, []string{"mint"}),
			virtualRedemption: prometheus.NewGaugeVec(prometheus.GaugeOpts{
				Namespace: "ramm",
				Subsystem: "engine",
				Name:      "virtual_redemption",
				Help:      "Virtual redemption counter, scaled by 1e9.",
			}, []string{"mint"}),
			vaultBalance: prometheus.NewGaugeVec(prometheus.GaugeOpts{
				Namespace: "ramm",
				Subsystem: "engine",
				Name:      "vault_balance",
				Help:      "Settlement held in each vault.",
			}, []string{"mint", "vault"}),
			supply: prometheus.NewGaugeVec(prometheus.GaugeOpts{
				Namespace: "ramm",
				Subsystem: "engine",
				Name:      "claim_supply",
				Help:      "Outstanding claim tokens per asset.",
			}, []string{"mint"}),
			paused: prometheus.NewGauge(prometheus.GaugeOpts{
				Namespace: "ramm",
				Subsystem: "engine",
				Name:      "pause_engaged",
				Help:      "Indicates whether issue and redeem are paused (1) or not (0).",
			}),
		}
		prometheus.MustRegister(
			rammReg.requests,
			rammReg.latency,
			rammReg.errors,
			rammReg.bookValue,
			rammReg.virtualIssuance,
			rammReg.virtualRedemption,
			rammReg.vaultBalance,
			rammReg.supply,
			rammReg.paused,
		)
	})
	return rammReg
}

// Observe records the execution metrics for an engine operation.
func (m *RAMMMetrics) Observe(operation, mint string, duration time.Duration, err error) {
	if m == nil {
		return
	}
	op := strings.TrimSpace(operation)
	if op == "" {
		op = "unknown"
	}
	outcome := "success"
	if err != nil {
		outcome = "error"
		m.errors.WithLabelValues(op, errorReason(err)).Inc()
	}
	m.requests.WithLabelValues(op, labelAsset(mint), outcome).Inc()
	m.latency.WithLabelValues(op).Observe(duration.Seconds())
}

// RecordAsset publishes the pricing snapshot of an asset.
func (m *RAMMMetrics) RecordAsset(mint string, bookValue, issuanceVault, redemptionVault, supply uint64, virtualIssuance, virtualRedemption float64) {
	if m == nil {
		return
	}
	label := labelAsset(mint)
	m.bookValue.WithLabelValues(label).Set(float64(bookValue))
	m.vaultBalance.WithLabelValues(label, "issuance").Set(float64(issuanceVault))
	m.vaultBalance.WithLabelValues(label, "redemption").Set(float64(redemptionVault))
	m.supply.WithLabelValues(label).Set(float64(supply))
	m.virtualIssuance.WithLabelValues(label).Set(virtualIssuance)
	m.virtualRedemption.WithLabelValues(label).Set(virtualRedemption)
}

// SetPause toggles the pause gauge.
func (m *RAMMMetrics) SetPause(engaged bool) {
	if m == nil {
		return
	}
	if engaged {
		m.paused.Set(1)
		return
	}
	m.paused.Set(0)
}

func labelAsset(asset string) string {
	normalized := strings.ToUpper(strings.TrimSpace(asset))
	if normalized == "" {
		return "UNKNOWN"
	}
	return normalized
}

// errorReason reduces err to its innermost message so wrapped errors share a
// label with the sentinel they wrap.
func errorReason(err error) string {
	for {
		next := errors.Unwrap(err)
		if next == nil {
			break
		}
		err = next
	}
	reason := strings.TrimSpace(err.Error())
	if reason == "" {
		return "unknown"
	}
	return reason
}
