package metrics

import (
	"errors"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var providerLatencyBuckets = []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10}

type instrumentation struct {
	cacheLookups    *prometheus.CounterVec
	cacheWrites     *prometheus.CounterVec
	providerLatency *prometheus.HistogramVec
	ingestLookups   *prometheus.CounterVec
}

func newInstrumentation(reg prometheus.Registerer) *instrumentation {
	m := &instrumentation{
		cacheLookups: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "streamhealth",
			Subsystem: "session_metrics",
			Name:      "cache_lookups_total",
			Help:      "Metrics cache lookups by outcome",
		}, []string{"result"}),
		cacheWrites: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "streamhealth",
			Subsystem: "session_metrics",
			Name:      "cache_writes_total",
			Help:      "Metrics cache write attempts by outcome",
		}, []string{"result"}),
		providerLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "streamhealth",
			Subsystem: "session_metrics",
			Name:      "provider_query_duration_seconds",
			Help:      "Latency of metrics provider queries",
			Buckets:   providerLatencyBuckets,
		}, []string{"status"}),
		ingestLookups: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "streamhealth",
			Subsystem: "session_metrics",
			Name:      "ingest_configuration_lookups_total",
			Help:      "Ingest configuration resolutions by outcome",
		}, []string{"result"}),
	}
	if reg == nil {
		return m
	}
	m.cacheLookups = registerCounterVec(reg, m.cacheLookups)
	m.cacheWrites = registerCounterVec(reg, m.cacheWrites)
	m.ingestLookups = registerCounterVec(reg, m.ingestLookups)
	if err := reg.Register(m.providerLatency); err != nil {
		var are prometheus.AlreadyRegisteredError
		if errors.As(err, &are) {
			if existing, ok := are.ExistingCollector.(*prometheus.HistogramVec); ok {
				m.providerLatency = existing
			}
		}
	}
	return m
}

func registerCounterVec(reg prometheus.Registerer, collector *prometheus.CounterVec) *prometheus.CounterVec {
	if err := reg.Register(collector); err != nil {
		var are prometheus.AlreadyRegisteredError
		if errors.As(err, &are) {
			if existing, ok := are.ExistingCollector.(*prometheus.CounterVec); ok {
				return existing
			}
		}
	}
	return collector
}

func (m *instrumentation) cacheLookup(result string) {
	m.cacheLookups.WithLabelValues(result).Inc()
}

func (m *instrumentation) cacheWrite(result string) {
	m.cacheWrites.WithLabelValues(result).Inc()
}

func (m *instrumentation) providerQuery(status string, duration time.Duration) {
	m.providerLatency.WithLabelValues(status).Observe(duration.Seconds())
}

func (m *instrumentation) ingestLookup(result string) {
	m.ingestLookups.WithLabelValues(result).Inc()
}
