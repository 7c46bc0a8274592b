package obs

import (
	"fmt"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	domainOnce sync.Once

	// PriceResolutionsTotal counts tier resolutions by the rule that produced the price.
	PriceResolutionsTotal *prometheus.CounterVec
	// CartMutationsTotal counts cart line mutations by operation and outcome.
	CartMutationsTotal *prometheus.CounterVec
	// CartSyncPassesTotal counts reconciliation passes by outcome.
	CartSyncPassesTotal *prometheus.CounterVec
	// CartSyncLineUpdatesTotal counts lines re-priced by reconciliation.
	CartSyncLineUpdatesTotal prometheus.Counter
	// CartSyncLineFailuresTotal counts lines skipped during reconciliation.
	CartSyncLineFailuresTotal *prometheus.CounterVec
	// CartSyncPassLatency records reconciliation pass latency in milliseconds.
	CartSyncPassLatency prometheus.Histogram
	// CartSyncActiveSessions tracks running cart synchronizers.
	CartSyncActiveSessions prometheus.Gauge
)

// MustRegisterDomainMetrics initialises and registers domain-specific Prometheus collectors.
func MustRegisterDomainMetrics(namespace string, reg prometheus.Registerer) {
	domainOnce.Do(func() {
		if reg == nil {
			reg = prometheus.DefaultRegisterer
		}
		PriceResolutionsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "pricing_resolutions_total",
			Help:      "Count of unit price resolutions by source rule.",
		}, []string{"source"})
		CartMutationsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cart_mutations_total",
			Help:      "Count of cart line mutations by operation and result.",
		}, []string{"op", "result"})
		CartSyncPassesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cart_sync_passes_total",
			Help:      "Count of cart reconciliation passes by result.",
		}, []string{"result"})
		CartSyncLineUpdatesTotal = prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cart_sync_line_updates_total",
			Help:      "Number of cart lines re-priced during reconciliation.",
		})
		CartSyncLineFailuresTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cart_sync_line_failures_total",
			Help:      "Number of cart lines skipped during reconciliation by reason.",
		}, []string{"reason"})
		CartSyncPassLatency = prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "cart_sync_pass_duration_ms",
			Help:      "Latency for cart reconciliation passes in milliseconds.",
			Buckets:   []float64{1, 5, 10, 25, 50, 100, 250, 500, 1000},
		})
		CartSyncActiveSessions = prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "cart_sync_active_sessions",
			Help:      "Current number of cart sessions with a running synchronizer.",
		})

		mustRegisterCollector(reg, PriceResolutionsTotal, func(existing prometheus.Collector) {
			if v, ok := existing.(*prometheus.CounterVec); ok {
				PriceResolutionsTotal = v
			}
		})
		mustRegisterCollector(reg, CartMutationsTotal, func(existing prometheus.Collector) {
			if v, ok := existing.(*prometheus.CounterVec); ok {
				CartMutationsTotal = v
			}
		})
		mustRegisterCollector(reg, CartSyncPassesTotal, func(existing prometheus.Collector) {
			if v, ok := existing.(*prometheus.CounterVec); ok {
				CartSyncPassesTotal = v
			}
		})
		mustRegisterCollector(reg, CartSyncLineUpdatesTotal, func(existing prometheus.Collector) {
			if v, ok := existing.(prometheus.Counter); ok {
				CartSyncLineUpdatesTotal = v
			}
		})
		mustRegisterCollector(reg, CartSyncLineFailuresTotal, func(existing prometheus.Collector) {
			if v, ok := existing.(*prometheus.CounterVec); ok {
				CartSyncLineFailuresTotal = v
			}
		})
		mustRegisterCollector(reg, CartSyncPassLatency, func(existing prometheus.Collector) {
			if v, ok := existing.(prometheus.Histogram); ok {
				CartSyncPassLatency = v
			}
		})
		mustRegisterCollector(reg, CartSyncActiveSessions, func(existing prometheus.Collector) {
			if v, ok := existing.(prometheus.Gauge); ok {
				CartSyncActiveSessions = v
			}
		})
	})
}

// ObservePriceResolution records the rule that produced a unit price.
func ObservePriceResolution(source string) {
	if PriceResolutionsTotal == nil {
		return
	}
	PriceResolutionsTotal.WithLabelValues(source).Inc()
}

// ObserveCartMutation records a cart line mutation outcome.
func ObserveCartMutation(op, result string) {
	if CartMutationsTotal == nil {
		return
	}
	CartMutationsTotal.WithLabelValues(op, result).Inc()
}

// ObserveSyncPass records a reconciliation pass outcome and, for completed
// passes, its latency.
func ObserveSyncPass(result string, elapsed time.Duration) {
	if CartSyncPassesTotal != nil {
		CartSyncPassesTotal.WithLabelValues(result).Inc()
	}
	if CartSyncPassLatency != nil && elapsed > 0 {
		CartSyncPassLatency.Observe(float64(elapsed) / float64(time.Millisecond))
	}
}

// AddSyncLineUpdates adds n re-priced lines.
func AddSyncLineUpdates(n int) {
	if CartSyncLineUpdatesTotal == nil || n <= 0 {
		return
	}
	CartSyncLineUpdatesTotal.Add(float64(n))
}

// IncSyncLineFailure records a line skipped during reconciliation.
func IncSyncLineFailure(reason string) {
	if CartSyncLineFailuresTotal == nil {
		return
	}
	CartSyncLineFailuresTotal.WithLabelValues(reason).Inc()
}

// AddActiveSyncSessions adjusts the running synchronizer gauge.
func AddActiveSyncSessions(delta int) {
	if CartSyncActiveSessions == nil {
		return
	}
	CartSyncActiveSessions.Add(float64(delta))
}

func mustRegisterCollector(reg prometheus.Registerer, collector prometheus.Collector, reuse func(prometheus.Collector)) {
	if err := reg.Register(collector); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if reuse != nil {
				reuse(are.ExistingCollector)
			}
			return
		}
		panic(fmt.Errorf("register domain metric: %w", err))
	}
}
