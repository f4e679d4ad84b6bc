package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the collectors shared by the provider client and the keep-alive poller.
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	providerRequests *prometheus.CounterVec
	providerDuration *prometheus.HistogramVec
	probes           *prometheus.CounterVec
	cycles           prometheus.Counter
	cycleDuration    prometheus.Histogram
}

// New creates the collectors and registers them with reg.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		providerRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "botfleet_provider_requests_total",
			Help: "Koyeb API requests by operation and HTTP status code",
		}, []string{"op", "code"}),
		providerDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "botfleet_provider_request_duration_seconds",
			Help:    "Koyeb API request latency by operation",
			Buckets: prometheus.DefBuckets,
		}, []string{"op"}),
		probes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "botfleet_keepalive_probes_total",
			Help: "Keep-alive probes by result",
		}, []string{"result"}),
		cycles: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "botfleet_keepalive_cycles_total",
			Help: "Completed keep-alive cycles",
		}),
		cycleDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "botfleet_keepalive_cycle_duration_seconds",
			Help:    "Duration of keep-alive cycles",
			Buckets: []float64{0.1, 0.5, 1, 2.5, 5, 10, 30, 60},
		}),
	}
	reg.MustRegister(m.providerRequests, m.providerDuration, m.probes, m.cycles, m.cycleDuration)
	return m
}

// ObserveProviderRequest records one Koyeb API call. code is 0 for transport errors.
func (m *Metrics) ObserveProviderRequest(op string, code int, d time.Duration) {
	if m == nil {
		return
	}
	label := "error"
	if code > 0 {
		label = strconv.Itoa(code)
	}
	m.providerRequests.WithLabelValues(op, label).Inc()
	m.providerDuration.WithLabelValues(op).Observe(d.Seconds())
}

// ObserveCycle records the outcome of one keep-alive cycle.
func (m *Metrics) ObserveCycle(success, failed int, d time.Duration) {
	if m == nil {
		return
	}
	m.probes.WithLabelValues("success").Add(float64(success))
	m.probes.WithLabelValues("failed").Add(float64(failed))
	m.cycles.Inc()
	m.cycleDuration.Observe(d.Seconds())
}
