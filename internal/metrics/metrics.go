package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics groups the dashboard's Prometheus collectors.
type Metrics struct {
	cycles        *prometheus.CounterVec
	cycleDuration *prometheus.HistogramVec
	filteredRows  *prometheus.HistogramVec
	cacheLookups  *prometheus.CounterVec
	loads         *prometheus.CounterVec
	tableRows     prometheus.Gauge
	sessions      prometheus.Gauge
}

// New creates the collectors and registers them with reg.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		cycles: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "cyberdash",
			Name:      "recompute_cycles_total",
			Help:      "Filter and aggregate cycles by view.",
		}, []string{"view"}),
		cycleDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "cyberdash",
			Name:      "recompute_duration_seconds",
			Help:      "Time to filter the table and derive every summary.",
			Buckets:   prometheus.ExponentialBuckets(0.0001, 4, 8),
		}, []string{"view"}),
		filteredRows: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "cyberdash",
			Name:      "filtered_rows",
			Help:      "Rows left after filtering.",
			Buckets:   []float64{0, 1, 10, 100, 500, 1000, 2000, 5000},
		}, []string{"view"}),
		cacheLookups: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "cyberdash",
			Name:      "filter_cache_lookups_total",
			Help:      "Filter memo lookups by result.",
		}, []string{"result"}),
		loads: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "cyberdash",
			Name:      "table_loads_total",
			Help:      "Dataset load attempts by outcome.",
		}, []string{"outcome"}),
		tableRows: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "cyberdash",
			Name:      "table_rows",
			Help:      "Rows in the loaded dataset.",
		}),
		sessions: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "cyberdash",
			Name:      "live_sessions",
			Help:      "Open interactive sessions.",
		}),
	}
	reg.MustRegister(m.cycles, m.cycleDuration, m.filteredRows, m.cacheLookups, m.loads, m.tableRows, m.sessions)
	return m
}

// ObserveCycle records one recompute cycle.
func (m *Metrics) ObserveCycle(view string, rows int, took time.Duration) {
	m.cycles.WithLabelValues(view).Inc()
	m.cycleDuration.WithLabelValues(view).Observe(took.Seconds())
	m.filteredRows.WithLabelValues(view).Observe(float64(rows))
}

// ObserveCacheLookup records a filter memo hit or miss.
func (m *Metrics) ObserveCacheLookup(hit bool) {
	result := "miss"
	if hit {
		result = "hit"
	}
	m.cacheLookups.WithLabelValues(result).Inc()
}

// ObserveLoad records a load attempt and, on success, the table size.
func (m *Metrics) ObserveLoad(rows int, err error) {
	if err != nil {
		m.loads.WithLabelValues("error").Inc()
		return
	}
	m.loads.WithLabelValues("ok").Inc()
	m.tableRows.Set(float64(rows))
}

func (m *Metrics) SessionOpened() { m.sessions.Inc() }
func (m *Metrics) SessionClosed() { m.sessions.Dec() }
