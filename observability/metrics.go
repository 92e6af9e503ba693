package observability

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

type apiMetrics struct {
	requests  *prometheus.CounterVec
	latency   *prometheus.HistogramVec
	throttles *prometheus.CounterVec
}

var (
	apiMetricsOnce sync.Once
	apiRegistry    *apiMetrics

	settlementMetricsOnce sync.Once
	settlementRegistry    *SettlementMetrics
)

// API returns the lazily-initialised registry recording read API activity.
func API() *apiMetrics {
	apiMetricsOnce.Do(func() {
		apiRegistry = &apiMetrics{
			requests: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "settlementd",
				Subsystem: "api",
				Name:      "requests_total",
				Help:      "Total read API requests segmented by route and status code.",
			}, []string{"route", "status"}),
			latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
				Namespace: "settlementd",
				Subsystem: "api",
				Name:      "request_duration_seconds",
				Help:      "Latency distribution for read API handlers.",
				Buckets:   prometheus.DefBuckets,
			}, []string{"route"}),
			throttles: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "settlementd",
				Subsystem: "api",
				Name:      "throttles_total",
				Help:      "Count of read API requests rejected by the rate limiter.",
			}, []string{"route"}),
		}
		prometheus.MustRegister(
			apiRegistry.requests,
			apiRegistry.latency,
			apiRegistry.throttles,
		)
	})
	return apiRegistry
}

// Observe records the outcome of an API request. The status code should be
// the HTTP status that was ultimately written to the response writer.
func (m *apiMetrics) Observe(route string, status int, duration time.Duration) {
	if m == nil {
		return
	}
	if route == "" {
		route = "unknown"
	}
	m.requests.WithLabelValues(route, fmt.Sprintf("%d", status)).Inc()
	m.latency.WithLabelValues(route).Observe(duration.Seconds())
}

// RecordThrottle increments the throttle counter for the supplied route.
func (m *apiMetrics) RecordThrottle(route string) {
	if m == nil {
		return
	}
	if route == "" {
		route = "unknown"
	}
	m.throttles.WithLabelValues(route).Inc()
}

// SettlementMetrics wraps collectors tracking block settlement health.
type SettlementMetrics struct {
	ticks        *prometheus.CounterVec
	duration     prometheus.Histogram
	distributed  prometheus.Counter
	bonus        prometheus.Counter
	remainder    prometheus.Counter
	excluded     prometheus.Counter
	lastBlock    prometheus.Gauge
	participants prometheus.Gauge
}

// Settlement exposes the metrics registry for the settlement engine.
func Settlement() *SettlementMetrics {
	settlementMetricsOnce.Do(func() {
		settlementRegistry = &SettlementMetrics{
			ticks: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "settlementd",
				Name:      "ticks_total",
				Help:      "Scheduler ticks segmented by outcome (settled, already_settled, skipped, failed).",
			}, []string{"outcome"}),
			duration: prometheus.NewHistogram(prometheus.HistogramOpts{
				Namespace: "settlementd",
				Name:      "settle_duration_seconds",
				Help:      "Wall time spent inside the settlement transaction.",
				Buckets:   prometheus.DefBuckets,
			}),
			distributed: prometheus.NewCounter(prometheus.CounterOpts{
				Namespace: "settlementd",
				Name:      "reward_distributed_total",
				Help:      "Total reward credited to participant balances.",
			}),
			bonus: prometheus.NewCounter(prometheus.CounterOpts{
				Namespace: "settlementd",
				Name:      "reward_bonus_total",
				Help:      "Portion of credited reward minted by multipliers above the base pool.",
			}),
			remainder: prometheus.NewCounter(prometheus.CounterOpts{
				Namespace: "settlementd",
				Name:      "reward_remainder_total",
				Help:      "Truncation remainder left undistributed across all blocks.",
			}),
			excluded: prometheus.NewCounter(prometheus.CounterOpts{
				Namespace: "settlementd",
				Name:      "participants_excluded_total",
				Help:      "Participants excluded from a block because their bonus inputs were malformed.",
			}),
			lastBlock: prometheus.NewGauge(prometheus.GaugeOpts{
				Namespace: "settlementd",
				Name:      "last_block_number",
				Help:      "Number of the most recently settled block.",
			}),
			participants: prometheus.NewGauge(prometheus.GaugeOpts{
				Namespace: "settlementd",
				Name:      "block_participants",
				Help:      "Participants rewarded in the most recently settled block.",
			}),
		}
		prometheus.MustRegister(
			settlementRegistry.ticks,
			settlementRegistry.duration,
			settlementRegistry.distributed,
			settlementRegistry.bonus,
			settlementRegistry.remainder,
			settlementRegistry.excluded,
			settlementRegistry.lastBlock,
			settlementRegistry.participants,
		)
	})
	return settlementRegistry
}

// RecordTick counts a scheduler tick by outcome.
func (m *SettlementMetrics) RecordTick(outcome string) {
	if m == nil {
		return
	}
	outcome = strings.TrimSpace(outcome)
	if outcome == "" {
		outcome = "unknown"
	}
	m.ticks.WithLabelValues(outcome).Inc()
}

// ObserveBlock records the totals of a freshly committed block.
func (m *SettlementMetrics) ObserveBlock(number uint64, participants int, distributed, bonus, remainder int64, excluded int, took time.Duration) {
	if m == nil {
		return
	}
	m.duration.Observe(took.Seconds())
	if distributed > 0 {
		m.distributed.Add(float64(distributed))
	}
	if bonus > 0 {
		m.bonus.Add(float64(bonus))
	}
	if remainder > 0 {
		m.remainder.Add(float64(remainder))
	}
	if excluded > 0 {
		m.excluded.Add(float64(excluded))
	}
	m.lastBlock.Set(float64(number))
	m.participants.Set(float64(participants))
}
