package calltrace

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics exports reporting-cycle aggregates as Prometheus counters.
type Metrics struct {
	Calls   *prometheus.CounterVec
	Seconds *prometheus.CounterVec
	Sites   prometheus.Gauge
	Flushes prometheus.Counter
}

// NewMetrics creates the collectors and registers them with reg when it is
// not nil.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		Calls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "calltrace",
			Name:      "calls_total",
			Help:      "Intercepted calls per call site.",
		}, []string{"kind", "method"}),
		Seconds: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "calltrace",
			Name:      "call_seconds_total",
			Help:      "Cumulative time spent in intercepted calls per call site.",
		}, []string{"kind", "method"}),
		Sites: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "calltrace",
			Name:      "sites_last_frame",
			Help:      "Call sites seen in the last reporting cycle.",
		}),
		Flushes: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "calltrace",
			Name:      "flushes_total",
			Help:      "Completed reporting cycles with at least one call.",
		}),
	}
	if reg != nil {
		reg.MustRegister(m.Calls, m.Seconds, m.Sites, m.Flushes)
	}
	return m
}

// Observe adds one cycle's aggregates. It has the FlushHandler shape.
func (m *Metrics) Observe(aggs []Aggregate) {
	m.Flushes.Inc()
	m.Sites.Set(float64(len(aggs)))
	for _, a := range aggs {
		m.Calls.WithLabelValues(a.Kind, a.Method).Add(float64(a.Tally))
		m.Seconds.WithLabelValues(a.Kind, a.Method).Add(a.Cumulative.Seconds())
	}
}

// AttachMetrics feeds every flush into m and returns the handler ID.
func (t *Tracer) AttachMetrics(m *Metrics) uint64 {
	return t.OnFlush(m.Observe)
}
