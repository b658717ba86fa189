package metrics

import (
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

type KeeperMetrics struct {
	ticks      prometheus.Counter
	applied    *prometheus.CounterVec
	failures   *prometheus.CounterVec
	lastRun    *prometheus.GaugeVec
	tickLength prometheus.Histogram
}

var (
	keeperOnce     sync.Once
	keeperRegistry *KeeperMetrics
)

func Keeper() *KeeperMetrics {
	keeperOnce.Do(func() {
		keeperRegistry = &KeeperMetrics{
			ticks: prometheus.NewCounter(prometheus.CounterOpts{
				Name: "ramm_keeper_ticks_total",
				Help: "Count of ratchet keeper passes.",
			}),
			applied: prometheus.NewCounterVec(prometheus.CounterOpts{
				Name: "ramm_keeper_ratchets_applied_total",
				Help: "Count of ratchets that advanced the virtual counters by asset.",
			}, []string{"mint"}),
			failures: prometheus.NewCounterVec(prometheus.CounterOpts{
				Name: "ramm_keeper_failures_total",
				Help: "Number of failed ratchet attempts by asset.",
			}, []string{"mint"}),
			lastRun: prometheus.NewGaugeVec(prometheus.GaugeOpts{
				Name: "ramm_keeper_last_ratchet_timestamp",
				Help: "Unix time of the last successful ratchet by asset.",
			}, []string{"mint"}),
			tickLength: prometheus.NewHistogram(prometheus.HistogramOpts{
				Name:    "ramm_keeper_tick_duration_seconds",
				Help:    "Duration of a full keeper pass over every asset.",
				Buckets: prometheus.DefBuckets,
			}),
		}
		prometheus.MustRegister(
			keeperRegistry.ticks,
			keeperRegistry.applied,
			keeperRegistry.failures,
			keeperRegistry.lastRun,
			keeperRegistry.tickLength,
		)
	})
	return keeperRegistry
}

func mintLabel(mint string) string {
	normalized := strings.ToUpper(strings.TrimSpace(mint))
	if normalized == "" {
		return "UNKNOWN"
	}
	return normalized
}

func (m *KeeperMetrics) ObserveTick(d time.Duration) {
	if m == nil {
		return
	}
	m.ticks.Inc()
	m.tickLength.Observe(d.Seconds())
}

func (m *KeeperMetrics) ObserveRatchet(mint string, applied bool, at time.Time) {
	if m == nil {
		return
	}
	label := mintLabel(mint)
	if applied {
		m.applied.WithLabelValues(label).Inc()
	}
	m.lastRun.WithLabelValues(label).Set(float64(at.Unix()))
}

func (m *KeeperMetrics) IncFailure(mint string) {
	if m == nil {
		return
	}
	m.failures.WithLabelValues(mintLabel(mint)).Inc()
}
