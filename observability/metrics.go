package observability

import (
	"fmt"
	"math"
	"math/big"
	"strings"
	"sync"
	"time"

	"github.com/holiman/uint256"
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

	lendingMetricsOnce sync.Once
	lendingRegistry    *LendingMetrics
)

// ModuleMetrics returns the lazily-initialised module metrics registry used to
// record API activity of the daemons.
func ModuleMetrics() *moduleMetrics {
	moduleMetricsOnce.Do(func() {
		moduleRegistry = &moduleMetrics{
			requests: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "nhb",
				Subsystem: "module",
				Name:      "requests_total",
				Help:      "Total API requests segmented by module and method.",
			}, []string{"module", "method", "outcome"}),
			errors: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "nhb",
				Subsystem: "module",
				Name:      "errors_total",
				Help:      "Total API errors segmented by module, method, and status code.",
			}, []string{"module", "method", "status"}),
			latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
				Namespace: "nhb",
				Subsystem: "module",
				Name:      "request_duration_seconds",
				Help:      "Latency distribution for API handlers.",
				Buckets:   prometheus.DefBuckets,
			}, []string{"module", "method"}),
			throttles: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "nhb",
				Subsystem: "module",
				Name:      "throttles_total",
				Help:      "Count of module requests rejected due to throttling policies.",
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

// Observe records the outcome of a module request. The status code should be
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
// reason. Reasons should be stable strings such as "rate_limit" so dashboards
// and alerts remain consistent.
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

// LendingMetrics tracks the actions and reserve state of the lending core.
type LendingMetrics struct {
	actions      *prometheus.CounterVec
	latency      *prometheus.HistogramVec
	liquidations *prometheus.CounterVec
	deficits     *prometheus.CounterVec
	utilization  *prometheus.GaugeVec
	indexes      *prometheus.GaugeVec
	rates        *prometheus.GaugeVec
}

// Lending returns the singleton metrics registry of the lending core.
func Lending() *LendingMetrics {
	lendingMetricsOnce.Do(func() {
		lendingRegistry = &LendingMetrics{
			actions: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "nhb",
				Subsystem: "lending",
				Name:      "actions_total",
				Help:      "Count of lending actions segmented by action and outcome.",
			}, []string{"action", "outcome"}),
			latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
				Namespace: "nhb",
				Subsystem: "lending",
				Name:      "action_duration_seconds",
				Help:      "Latency distribution for lending actions.",
				Buckets:   prometheus.DefBuckets,
			}, []string{"action"}),
			liquidations: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "nhb",
				Subsystem: "lending",
				Name:      "liquidations_total",
				Help:      "Count of liquidations segmented by collateral and debt asset.",
			}, []string{"collateral", "debt"}),
			deficits: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "nhb",
				Subsystem: "lending",
				Name:      "deficit_events_total",
				Help:      "Count of bad debt write-offs segmented by debt asset.",
			}, []string{"asset"}),
			utilization: prometheus.NewGaugeVec(prometheus.GaugeOpts{
				Namespace: "nhb",
				Subsystem: "lending",
				Name:      "reserve_utilization_ratio",
				Help:      "Borrowed share of the reserve liquidity.",
			}, []string{"asset"}),
			indexes: prometheus.NewGaugeVec(prometheus.GaugeOpts{
				Namespace: "nhb",
				Subsystem: "lending",
				Name:      "reserve_index",
				Help:      "Cumulative liquidity and variable borrow indexes.",
			}, []string{"asset", "index"}),
			rates: prometheus.NewGaugeVec(prometheus.GaugeOpts{
				Namespace: "nhb",
				Subsystem: "lending",
				Name:      "reserve_rate",
				Help:      "Current liquidity and variable borrow rates as annual fractions.",
			}, []string{"asset", "rate"}),
		}
		prometheus.MustRegister(
			lendingRegistry.actions,
			lendingRegistry.latency,
			lendingRegistry.liquidations,
			lendingRegistry.deficits,
			lendingRegistry.utilization,
			lendingRegistry.indexes,
			lendingRegistry.rates,
		)
	})
	return lendingRegistry
}

// ObserveAction records the outcome and latency of one action.
func (m *LendingMetrics) ObserveAction(action string, duration time.Duration, err error) {
	if m == nil {
		return
	}
	action = labelValue(action)
	outcome := "success"
	if err != nil {
		outcome = "error"
	}
	m.actions.WithLabelValues(action, outcome).Inc()
	m.latency.WithLabelValues(action).Observe(duration.Seconds())
}

// RecordLiquidation increments the liquidation counter.
func (m *LendingMetrics) RecordLiquidation(collateral, debt string) {
	if m == nil {
		return
	}
	m.liquidations.WithLabelValues(labelValue(collateral), labelValue(debt)).Inc()
}

// RecordDeficit increments the bad debt counter of asset.
func (m *LendingMetrics) RecordDeficit(asset string) {
	if m == nil {
		return
	}
	m.deficits.WithLabelValues(labelValue(asset)).Inc()
}

// ReserveSnapshot is the reserve state exported as gauges. Indexes and rates
// are ray values.
type ReserveSnapshot struct {
	Asset               string
	AvailableLiquidity  *uint256.Int
	TotalDebt           *uint256.Int
	LiquidityIndex      *uint256.Int
	VariableBorrowIndex *uint256.Int
	LiquidityRate       *uint256.Int
	VariableBorrowRate  *uint256.Int
}

// RecordReserve updates the reserve gauges.
func (m *LendingMetrics) RecordReserve(s ReserveSnapshot) {
	if m == nil {
		return
	}
	asset := labelValue(s.Asset)
	debt := uintToFloat(s.TotalDebt, 0)
	total := debt + uintToFloat(s.AvailableLiquidity, 0)
	utilization := 0.0
	if total > 0 {
		utilization = debt / total
	}
	m.utilization.WithLabelValues(asset).Set(utilization)
	m.indexes.WithLabelValues(asset, "liquidity").Set(uintToFloat(s.LiquidityIndex, 27))
	m.indexes.WithLabelValues(asset, "variable_borrow").Set(uintToFloat(s.VariableBorrowIndex, 27))
	m.rates.WithLabelValues(asset, "liquidity").Set(uintToFloat(s.LiquidityRate, 27))
	m.rates.WithLabelValues(asset, "variable_borrow").Set(uintToFloat(s.VariableBorrowRate, 27))
}

func labelValue(value string) string {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return "unknown"
	}
	return trimmed
}

// uintToFloat converts value to a float divided by 10^decimals.
func uintToFloat(value *uint256.Int, decimals int64) float64 {
	if value == nil {
		return 0
	}
	f := new(big.Float).SetInt(value.ToBig())
	if decimals > 0 {
		scale := new(big.Float).SetInt(new(big.Int).Exp(big.NewInt(10), big.NewInt(decimals), nil))
		f.Quo(f, scale)
	}
	out, acc := f.Float64()
	if acc != big.Exact {
		// Guard against NaN/Inf when conversion fails.
		if math.IsNaN(out) || math.IsInf(out, 0) {
			return 0
		}
	}
	return out
}
