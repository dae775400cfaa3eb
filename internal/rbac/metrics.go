package rbac

import "github.com/prometheus/client_golang/prometheus"

// Metrics exposes Prometheus collectors for the permission cache.
type Metrics struct {
	hits        prometheus.Counter
	misses      prometheus.Counter
	storeErrors prometheus.Counter
	evictions   prometheus.Counter
	entries     prometheus.Gauge
}

// NewMetrics registers the cache collectors. A nil registerer falls back to the
// default Prometheus registerer.
func NewMetrics(registerer prometheus.Registerer) *Metrics {
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}
	m := &Metrics{
		hits: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "giip_rbac_cache_hits_total",
			Help: "Permission lookups served from the in-process cache.",
		}),
		misses: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "giip_rbac_cache_misses_total",
			Help: "Permission lookups that required a store read.",
		}),
		storeErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "giip_rbac_store_errors_total",
			Help: "Store reads that failed during a cache miss.",
		}),
		evictions: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "giip_rbac_cache_evictions_total",
			Help: "Expired entries removed by the background sweeper.",
		}),
		entries: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "giip_rbac_cache_entries",
			Help: "Roles currently held in the permission cache.",
		}),
	}
	registerer.MustRegister(m.hits, m.misses, m.storeErrors, m.evictions, m.entries)
	return m
}

func (m *Metrics) hit() {
	if m != nil {
		m.hits.Inc()
	}
}

func (m *Metrics) miss() {
	if m != nil {
		m.misses.Inc()
	}
}

func (m *Metrics) storeError() {
	if m != nil {
		m.storeErrors.Inc()
	}
}

func (m *Metrics) evicted(n int) {
	if m != nil && n > 0 {
		m.evictions.Add(float64(n))
	}
}

func (m *Metrics) size(n int) {
	if m != nil {
		m.entries.Set(float64(n))
	}
}
