// Package metrics exposes Prometheus collectors for the check loop.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"livewatch/internal/stream"
)

const namespace = "livewatch"

// Metrics owns a private registry. A nil *Metrics is valid and records nothing.
type Metrics struct {
	registry *prometheus.Registry

	cycles        *prometheus.CounterVec
	cycleDuration prometheus.Histogram
	checks        *prometheus.CounterVec
	checkDuration *prometheus.HistogramVec
	anyLive       prometheus.Gauge
	liveAccounts  prometheus.Gauge
	storeErrors   prometheus.Counter
	notifications *prometheus.CounterVec
}

// New constructs and registers every collector.
func New() (*Metrics, error) {
	registry := prometheus.NewRegistry()

	m := &Metrics{
		registry: registry,
		cycles: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "scheduler",
			Name:      "cycles_total",
			Help:      "Check cycles run, by trigger.",
		}, []string{"trigger"}),
		cycleDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "scheduler",
			Name:      "cycle_duration_seconds",
			Help:      "Wall time of one check cycle.",
			Buckets:   []float64{.1, .25, .5, 1, 2.5, 5, 10, 30, 60, 120},
		}),
		checks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "checker",
			Name:      "checks_total",
			Help:      "Status checks by platform, mode and outcome kind.",
		}, []string{"platform", "mode", "result"}),
		checkDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "checker",
			Name:      "check_duration_seconds",
			Help:      "Latency of a single status check.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"platform", "mode"}),
		anyLive: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "any_live",
			Help:      "1 when at least one enabled account is live.",
		}),
		liveAccounts: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "live_accounts",
			Help:      "Enabled accounts whose last status is live.",
		}),
		storeErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "store",
			Name:      "update_errors_total",
			Help:      "Failed account updates.",
		}),
		notifications: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "notify",
			Name:      "deliveries_total",
			Help:      "Notification deliveries by sender and result.",
		}, []string{"sender", "result"}),
	}

	for _, c := range []prometheus.Collector{
		m.cycles, m.cycleDuration, m.checks, m.checkDuration,
		m.anyLive, m.liveAccounts, m.storeErrors, m.notifications,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	} {
		if err := registry.Register(c); err != nil {
			return nil, err
		}
	}
	return m, nil
}

// Handler returns an HTTP handler for exposing Prometheus metrics.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Registry is exposed for tests.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

func (m *Metrics) ObserveCycle(trigger string, d time.Duration) {
	if m == nil {
		return
	}
	m.cycles.WithLabelValues(trigger).Inc()
	m.cycleDuration.Observe(d.Seconds())
}

func (m *Metrics) ObserveCheck(platform stream.Platform, mode stream.Mode, kind stream.ErrKind, d time.Duration) {
	if m == nil {
		return
	}
	result := string(kind)
	if kind == stream.KindNone {
		result = "ok"
	}
	m.checks.WithLabelValues(string(platform), string(mode), result).Inc()
	m.checkDuration.WithLabelValues(string(platform), string(mode)).Observe(d.Seconds())
}

func (m *Metrics) SetAnyLive(v bool) {
	if m == nil {
		return
	}
	if v {
		m.anyLive.Set(1)
	} else {
		m.anyLive.Set(0)
	}
}

func (m *Metrics) SetLiveAccounts(n int) {
	if m == nil {
		return
	}
	m.liveAccounts.Set(float64(n))
}

func (m *Metrics) StoreError() {
	if m == nil {
		return
	}
	m.storeErrors.Inc()
}

func (m *Metrics) ObserveDelivery(sender string, ok bool) {
	if m == nil {
		return
	}
	result := "ok"
	if !ok {
		result = "failed"
	}
	m.notifications.WithLabelValues(sender, result).Inc()
}
