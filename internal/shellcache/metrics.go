package shellcache

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Fetch sources recorded by Metrics.
const (
	SourceCache        = "cache"
	SourceNetwork      = "network"
	SourceWriteThrough = "write_through"
	SourcePassthrough  = "passthrough"
)

// Metrics records shell cache activity. A nil *Metrics records nothing.
type Metrics struct {
	installs     *prometheus.CounterVec
	activations  prometheus.Counter
	cachesPurged prometheus.Counter
	fetches      *prometheus.CounterVec
}

// NewMetrics registers shell cache metrics with reg. The storage is sampled
// on every scrape for per-cache entry counts.
func NewMetrics(reg prometheus.Registerer, storage Storage) *Metrics {
	factory := promauto.With(reg)

	m := &Metrics{
		installs: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "stationboard_shell_installs_total",
			Help: "Total number of shell cache installs by result",
		}, []string{"result"}),

		activations: factory.NewCounter(prometheus.CounterOpts{
			Name: "stationboard_shell_activations_total",
			Help: "Total number of shell cache activations",
		}),

		cachesPurged: factory.NewCounter(prometheus.CounterOpts{
			Name: "stationboard_shell_caches_purged_total",
			Help: "Total number of stale caches deleted on activation",
		}),

		fetches: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "stationboard_shell_fetches_total",
			Help: "Total number of intercepted fetches by source",
		}, []string{"source"}),
	}

	if storage != nil {
		reg.MustRegister(&entriesCollector{
			storage: storage,
			desc: prometheus.NewDesc(
				"stationboard_shell_cache_entries",
				"Number of entries per named cache",
				[]string{"cache"}, nil,
			),
		})
	}

	return m
}

func (m *Metrics) recordInstall(err error) {
	if m == nil {
		return
	}
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.installs.WithLabelValues(result).Inc()
}

func (m *Metrics) recordActivation(purged int) {
	if m == nil {
		return
	}
	m.activations.Inc()
	m.cachesPurged.Add(float64(purged))
}

func (m *Metrics) recordFetch(source string) {
	if m == nil {
		return
	}
	m.fetches.WithLabelValues(source).Inc()
}

// entriesCollector reports the entry count of every named cache.
type entriesCollector struct {
	storage Storage
	desc    *prometheus.Desc
}

func (c *entriesCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.desc
}

func (c *entriesCollector) Collect(ch chan<- prometheus.Metric) {
	names, err := c.storage.Keys()
	if err != nil {
		return
	}
	for _, name := range names {
		cache, err := c.storage.Open(name)
		if err != nil {
			continue
		}
		keys, err := cache.Keys()
		if err != nil {
			continue
		}
		ch <- prometheus.MustNewConstMetric(c.desc, prometheus.GaugeValue, float64(len(keys)), name)
	}
}
