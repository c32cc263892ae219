package metric

import (
	"github.com/prometheus/client_golang/prometheus"
)

// StoreStats is a point-in-time view of an artifact store.
type StoreStats struct {
	Artifacts int
	Bytes     int64
}

// StatsFunc reads current store statistics.
type StatsFunc func() (StoreStats, error)

// Collector reports artifact store occupancy at scrape time.
type Collector struct {
	stats StatsFunc

	artifacts *prometheus.Desc
	bytes     *prometheus.Desc
	up        *prometheus.Desc
}

// NewCollector creates a collector for the named store backend.
func NewCollector(backend string, stats StatsFunc) *Collector {
	labels := prometheus.Labels{"backend": backend}
	return &Collector{
		stats: stats,
		artifacts: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "store", "artifacts"),
			"Artifacts currently held by the store",
			nil, labels),
		bytes: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "store", "size_bytes"),
			"Total artifact bytes held by the store",
			nil, labels),
		up: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "store", "up"),
			"Whether the last stats read succeeded",
			nil, labels),
	}
}

// Describe implements prometheus.Collector.
func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.artifacts
	ch <- c.bytes
	ch <- c.up
}

// Collect implements prometheus.Collector.
func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	s, err := c.stats()
	if err != nil {
		ch <- prometheus.MustNewConstMetric(c.up, prometheus.GaugeValue, 0)
		return
	}
	ch <- prometheus.MustNewConstMetric(c.up, prometheus.GaugeValue, 1)
	ch <- prometheus.MustNewConstMetric(c.artifacts, prometheus.GaugeValue, float64(s.Artifacts))
	ch <- prometheus.MustNewConstMetric(c.bytes, prometheus.GaugeValue, float64(s.Bytes))
}
