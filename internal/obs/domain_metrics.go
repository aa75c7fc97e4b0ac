package obs

import (
	"fmt"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	domainOnce sync.Once

	// RecalcPassTotal counts recalculation passes by gate reason and outcome.
	RecalcPassTotal *prometheus.CounterVec
	// RecalcSkipTotal counts triggers the gate declined.
	RecalcSkipTotal prometheus.Counter
	// RecalcPassDuration records pass latency in milliseconds by outcome.
	RecalcPassDuration *prometheus.HistogramVec
	// RecalcWarningsTotal counts non-fatal pass warnings such as base clamps.
	RecalcWarningsTotal prometheus.Counter
	// RefreshDeliveriesTotal tracks display refresh webhook outcomes.
	RefreshDeliveriesTotal *prometheus.CounterVec
	// RefreshAttemptLatency records refresh delivery attempt latency in milliseconds.
	RefreshAttemptLatency *prometheus.HistogramVec
)

// MustRegisterDomainMetrics initialises and registers domain-specific Prometheus collectors.
func MustRegisterDomainMetrics(namespace string, reg prometheus.Registerer) {
	domainOnce.Do(func() {
		if reg == nil {
			reg = prometheus.DefaultRegisterer
		}
		RecalcPassTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "recalc_pass_total",
			Help:      "Count of fee recalculation passes by gate reason and outcome.",
		}, []string{"reason", "result"})
		RecalcSkipTotal = prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "recalc_skip_total",
			Help:      "Count of recalculation triggers the gate declined.",
		})
		RecalcPassDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "recalc_pass_duration_ms",
			Help:      "Latency of fee recalculation passes in milliseconds.",
			Buckets:   []float64{1, 2, 5, 10, 25, 50, 100, 250, 500},
		}, []string{"result"})
		RecalcWarningsTotal = prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "recalc_warnings_total",
			Help:      "Count of non-fatal warnings surfaced by recalculation passes.",
		})
		RefreshDeliveriesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "refresh_deliveries_total",
			Help:      "Count of display refresh webhook delivery outcomes.",
		}, []string{"result"})
		RefreshAttemptLatency = prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "refresh_attempt_duration_ms",
			Help:      "Latency for refresh webhook delivery attempts in milliseconds.",
			Buckets:   []float64{10, 25, 50, 100, 250, 500, 1000, 2500, 5000},
		}, []string{"result"})

		mustRegisterCollector(reg, RecalcPassTotal, func(existing prometheus.Collector) {
			if v, ok := existing.(*prometheus.CounterVec); ok {
				RecalcPassTotal = v
			}
		})
		mustRegisterCollector(reg, RecalcSkipTotal, func(existing prometheus.Collector) {
			if v, ok := existing.(prometheus.Counter); ok {
				RecalcSkipTotal = v
			}
		})
		mustRegisterCollector(reg, RecalcPassDuration, func(existing prometheus.Collector) {
			if v, ok := existing.(*prometheus.HistogramVec); ok {
				RecalcPassDuration = v
			}
		})
		mustRegisterCollector(reg, RecalcWarningsTotal, func(existing prometheus.Collector) {
			if v, ok := existing.(prometheus.Counter); ok {
				RecalcWarningsTotal = v
			}
		})
		mustRegisterCollector(reg, RefreshDeliveriesTotal, func(existing prometheus.Collector) {
			if v, ok := existing.(*prometheus.CounterVec); ok {
				RefreshDeliveriesTotal = v
			}
		})
		mustRegisterCollector(reg, RefreshAttemptLatency, func(existing prometheus.Collector) {
			if v, ok := existing.(*prometheus.HistogramVec); ok {
				RefreshAttemptLatency = v
			}
		})
	})
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
