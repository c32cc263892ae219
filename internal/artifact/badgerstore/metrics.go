package badgerstore

import (
	"github.com/prometheus/client_golang/prometheus"
)

// RegisterMetrics exposes Badger's on-disk footprint and GC activity. The
// gauges are read at scrape time.
func (s *Store) RegisterMetrics(reg prometheus.Registerer) {
	size := func(lsm bool) func() float64 {
		return func() float64 {
			if s.closed.Load() {
				return 0
			}
			l, v := s.db.Size()
			if lsm {
				return float64(l)
			}
			return float64(v)
		}
	}
	reg.MustRegister(
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: "memsnap",
			Subsystem: "badger",
			Name:      "lsm_size_bytes",
			Help:      "Badger LSM tree size in bytes",
		}, size(true)),
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: "memsnap",
			Subsystem: "badger",
			Name:      "value_log_size_bytes",
			Help:      "Badger value log size in bytes",
		}, size(false)),
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: "memsnap",
			Subsystem: "badger",
			Name:      "last_gc_timestamp_seconds",
			Help:      "Unix time of the last value log GC run",
		}, func() float64 { return float64(s.lastGC.Load()) / 1000 }),
		prometheus.NewCounterFunc(prometheus.CounterOpts{
			Namespace: "memsnap",
			Subsystem: "badger",
			Name:      "gc_rewrites_total",
			Help:      "Value log files rewritten by GC",
		}, func() float64 { return float64(s.gcRewrites.Load()) }),
	)
}
