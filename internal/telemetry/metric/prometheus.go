package metric

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "memsnap"

// Registry holds all application metrics.
type Registry struct {
	reg *prometheus.Registry

	// Snapshot lifecycle
	Classified      *prometheus.CounterVec
	RestoreDuration prometheus.Histogram
	RestoredBytes   prometheus.Counter
	CapturedBytes   prometheus.Gauge
	Uploads         *prometheus.CounterVec
	WarmupImports   *prometheus.CounterVec

	// Library preload
	PreloadedLibraries prometheus.Counter
	PreloadDuration    prometheus.Histogram

	// Artifact stores
	StoreOps *prometheus.CounterVec

	// HTTP service
	RequestsTotal   *prometheus.CounterVec
	RequestDuration *prometheus.HistogramVec
}

// NewRegistry creates a registry with Go runtime and process collectors
// plus every memsnap metric.
func NewRegistry() *Registry {
	r := &Registry{
		reg: prometheus.NewRegistry(),
		Classified: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "snapshot",
			Name:      "classified_total",
			Help:      "Instance starts by artifact classification",
		}, []string{"state"}),
		RestoreDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "snapshot",
			Name:      "restore_duration_seconds",
			Help:      "Time spent copying a snapshot heap into linear memory",
			Buckets:   prometheus.ExponentialBuckets(0.001, 2, 12),
		}),
		RestoredBytes: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "snapshot",
			Name:      "restored_bytes_total",
			Help:      "Heap bytes restored from snapshots",
		}),
		CapturedBytes: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "snapshot",
			Name:      "last_capture_bytes",
			Help:      "Size of the most recently captured artifact",
		}),
		Uploads: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "snapshot",
			Name:      "uploads_total",
			Help:      "Deferred artifact uploads by result",
		}, []string{"result"}),
		WarmupImports: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "snapshot",
			Name:      "warmup_imports_total",
			Help:      "Dedicated snapshot import warm-up attempts by result",
		}, []string{"result"}),
		PreloadedLibraries: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "dynlib",
			Name:      "preloaded_total",
			Help:      "Libraries registered by the preload pass",
		}),
		PreloadDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "dynlib",
			Name:      "preload_duration_seconds",
			Help:      "Time spent in the preload pass",
			Buckets:   prometheus.DefBuckets,
		}),
		StoreOps: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "store",
			Name:      "operations_total",
			Help:      "Artifact store operations by backend, operation and result",
		}, []string{"backend", "op", "result"}),
		RequestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "HTTP requests by method, route and status code",
		}, []string{"method", "route", "code"}),
		RequestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "HTTP request latency",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "route"}),
	}

	r.reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		r.Classified,
		r.RestoreDuration,
		r.RestoredBytes,
		r.CapturedBytes,
		r.Uploads,
		r.WarmupImports,
		r.PreloadedLibraries,
		r.PreloadDuration,
		r.StoreOps,
		r.RequestsTotal,
		r.RequestDuration,
	)
	return r
}

// Prometheus returns the underlying registry.
func (r *Registry) Prometheus() *prometheus.Registry {
	return r.reg
}

// MustRegister registers additional collectors.
func (r *Registry) MustRegister(cs ...prometheus.Collector) {
	r.reg.MustRegister(cs...)
}

// Handler serves the registry in Prometheus exposition format.
func (r *Registry) Handler() http.Handler {
	return promhttp.HandlerFor(r.reg, promhttp.HandlerOpts{Registry: r.reg})
}

// ObserveClassified counts an instance start in the given state.
func (r *Registry) ObserveClassified(state string) {
	if r == nil {
		return
	}
	r.Classified.WithLabelValues(state).Inc()
}

// ObserveRestore records a completed heap restore.
func (r *Registry) ObserveRestore(d time.Duration, bytes int64) {
	if r == nil {
		return
	}
	r.RestoreDuration.Observe(d.Seconds())
	r.RestoredBytes.Add(float64(bytes))
}

// ObserveCapture records the size of a captured artifact.
func (r *Registry) ObserveCapture(bytes int) {
	if r == nil {
		return
	}
	r.CapturedBytes.Set(float64(bytes))
}

// ObserveUpload counts an upload attempt. result is ok, rejected or error.
func (r *Registry) ObserveUpload(result string) {
	if r == nil {
		return
	}
	r.Uploads.WithLabelValues(result).Inc()
}

// ObserveWarmup counts warm-up import outcomes.
func (r *Registry) ObserveWarmup(ok, failed int) {
	if r == nil {
		return
	}
	r.WarmupImports.WithLabelValues("ok").Add(float64(ok))
	r.WarmupImports.WithLabelValues("failed").Add(float64(failed))
}

// ObservePreload records a finished preload pass.
func (r *Registry) ObservePreload(d time.Duration, libraries int) {
	if r == nil {
		return
	}
	r.PreloadDuration.Observe(d.Seconds())
	r.PreloadedLibraries.Add(float64(libraries))
}

// ObserveStoreOp counts a store operation.
func (r *Registry) ObserveStoreOp(backend, op string, err error) {
	if r == nil {
		return
	}
	result := "ok"
	if err != nil {
		result = "error"
	}
	r.StoreOps.WithLabelValues(backend, op, result).Inc()
}

// ObserveRequest records a served HTTP request.
func (r *Registry) ObserveRequest(method, route, code string, d time.Duration) {
	if r == nil {
		return
	}
	r.RequestsTotal.WithLabelValues(method, route, code).Inc()
	r.RequestDuration.WithLabelValues(method, route).Observe(d.Seconds())
}
