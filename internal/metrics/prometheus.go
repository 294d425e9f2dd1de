// Package metrics exposes prometheus instrumentation for the enforcement
// engine: tick outcomes, verdict counts, firewall sync operations and the
// usage counters themselves.
package metrics

import (
	"net/http"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	once     sync.Once
	registry *Registry
)

// Registry holds all enforcement metrics.
type Registry struct {
	// Reconciliation metrics
	TicksTotal      *prometheus.CounterVec
	TickDuration    prometheus.Histogram
	TicksSkipped    prometheus.Counter
	LastTickSuccess prometheus.Gauge

	// Verdict metrics
	Verdicts       *prometheus.CounterVec
	DevicesOnline  prometheus.Gauge
	DevicesBlocked prometheus.Gauge

	// Usage metrics
	ProfileUsageToday *prometheus.GaugeVec
	UsageResets       *prometheus.CounterVec

	// Firewall sync metrics
	SyncOps    *prometheus.CounterVec
	SyncErrors *prometheus.CounterVec

	// Identity metrics
	IdentityRefreshes *prometheus.CounterVec
	AddressesResolved prometheus.Gauge

	// Override metrics
	OverridesActive  prometheus.Gauge
	OverridesGranted *prometheus.CounterVec
}

// Get returns the global metrics registry, creating it if necessary.
func Get() *Registry {
	once.Do(func() {
		registry = newRegistry()
	})
	return registry
}

func newRegistry() *Registry {
	r := &Registry{}

	r.TicksTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "curfew_ticks_total",
		Help: "Reconciliation ticks by outcome",
	}, []string{"outcome"})

	r.TickDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "curfew_tick_duration_seconds",
		Help:    "Duration of reconciliation ticks",
		Buckets: prometheus.DefBuckets,
	})

	r.TicksSkipped = promauto.NewCounter(prometheus.CounterOpts{
		Name: "curfew_ticks_skipped_total",
		Help: "Ticks skipped because the previous tick was still running",
	})

	r.LastTickSuccess = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "curfew_last_tick_success_timestamp_seconds",
		Help: "Unix time of the last fully successful tick",
	})

	r.Verdicts = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "curfew_verdicts_total",
		Help: "Policy verdicts by kind",
	}, []string{"verdict"})

	r.DevicesOnline = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "curfew_devices_online",
		Help: "Enabled devices with a resolved address and recent activity",
	})

	r.DevicesBlocked = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "curfew_devices_blocked",
		Help: "Devices currently in the block set",
	})

	r.ProfileUsageToday = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "curfew_profile_usage_today_minutes",
		Help: "Aggregate usage per profile since the last daily reset",
	}, []string{"profile"})

	r.UsageResets = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "curfew_usage_resets_total",
		Help: "Usage counter resets by scope",
	}, []string{"scope"})

	r.SyncOps = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "curfew_sync_operations_total",
		Help: "Firewall table element operations by set and kind",
	}, []string{"set", "op"})

	r.SyncErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "curfew_sync_errors_total",
		Help: "Failed firewall table operations by set",
	}, []string{"set"})

	r.IdentityRefreshes = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "curfew_identity_refreshes_total",
		Help: "Address cache refreshes by outcome",
	}, []string{"outcome"})

	r.AddressesResolved = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "curfew_addresses_resolved",
		Help: "MAC addresses with a current IP mapping",
	})

	r.OverridesActive = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "curfew_overrides_active",
		Help: "Unexpired override grants",
	})

	r.OverridesGranted = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "curfew_overrides_granted_total",
		Help: "Override grants by source",
	}, []string{"source"})

	return r
}

// Handler returns the HTTP handler for the /metrics endpoint.
func Handler() http.Handler {
	Get() // ensure collectors are registered
	return promhttp.Handler()
}
