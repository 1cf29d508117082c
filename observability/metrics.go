package observability

import (
	"math"
	"math/big"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	spendMetricsOnce sync.Once
	spendRegistry    *SpendMetrics
)

// SpendMetrics wraps collectors tracking the spend executor's health.
type SpendMetrics struct {
	executions *prometheus.CounterVec
	rejections *prometheus.CounterVec
	latency    *prometheus.HistogramVec
	paused     prometheus.Gauge
	recovered  prometheus.Counter
}

// Spend returns the lazily initialised spend metrics registry.
func Spend() *SpendMetrics {
	spendMetricsOnce.Do(func() {
		spendRegistry = &SpendMetrics{
			executions: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "spendgate",
				Subsystem: "executor",
				Name:      "executions_total",
				Help:      "Completed and failed delegated spend executions segmented by kind and outcome.",
			}, []string{"kind", "outcome"}),
			rejections: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "spendgate",
				Subsystem: "executor",
				Name:      "rejections_total",
				Help:      "Rejected executions segmented by reason.",
			}, []string{"reason"}),
			latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
				Namespace: "spendgate",
				Subsystem: "executor",
				Name:      "execute_duration_seconds",
				Help:      "Latency distribution for the execute pipeline.",
				Buckets:   prometheus.DefBuckets,
			}, []string{"kind"}),
			paused: prometheus.NewGauge(prometheus.GaugeOpts{
				Namespace: "spendgate",
				Subsystem: "executor",
				Name:      "paused",
				Help:      "1 when the executor is rejecting new executions.",
			}),
			recovered: prometheus.NewCounter(prometheus.CounterOpts{
				Namespace: "spendgate",
				Subsystem: "executor",
				Name:      "recovered_units_total",
				Help:      "Approximate base units swept off the executor by emergency recovery.",
			}),
		}
		prometheus.MustRegister(
			spendRegistry.executions,
			spendRegistry.rejections,
			spendRegistry.latency,
			spendRegistry.paused,
			spendRegistry.recovered,
		)
	})
	return spendRegistry
}

// RecordExecution notes the outcome of one execute call.
func (m *SpendMetrics) RecordExecution(kind, outcome string) {
	if m == nil {
		return
	}
	if kind == "" {
		kind = "unknown"
	}
	if outcome == "" {
		outcome = "unknown"
	}
	m.executions.WithLabelValues(kind, outcome).Inc()
}

// RecordRejection increments the rejection counter. Reasons should be stable
// strings such as "daily_cap_exceeded" or "invalid_signature" so dashboards
// and alerts stay consistent.
func (m *SpendMetrics) RecordRejection(reason string) {
	if m == nil {
		return
	}
	if reason == "" {
		reason = "unspecified"
	}
	m.rejections.WithLabelValues(reason).Inc()
}

// ObserveLatency records the duration of one execute call.
func (m *SpendMetrics) ObserveLatency(kind string, d time.Duration) {
	if m == nil {
		return
	}
	if kind == "" {
		kind = "unknown"
	}
	m.latency.WithLabelValues(kind).Observe(d.Seconds())
}

// SetPause reflects the executor pause flag.
func (m *SpendMetrics) SetPause(engaged bool) {
	if m == nil {
		return
	}
	if engaged {
		m.paused.Set(1)
		return
	}
	m.paused.Set(0)
}

// RecordRecovery adds a swept amount to the recovery counter.
func (m *SpendMetrics) RecordRecovery(amount *big.Int) {
	if m == nil {
		return
	}
	m.recovered.Add(ApproximateAmount(amount))
}

// ApproximateAmount converts a big integer into a float for gauge-style
// dashboards; precision loss is acceptable for observability.
func ApproximateAmount(v *big.Int) float64 {
	if v == nil {
		return 0
	}
	f, _ := new(big.Float).SetInt(v).Float64()
	if math.IsInf(f, 0) || math.IsNaN(f) {
		return 0
	}
	return f
}
