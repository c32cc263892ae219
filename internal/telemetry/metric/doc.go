// Package metric provides Prometheus metrics for memsnap.
//
//   - prometheus.go: the Registry of snapshot, store and HTTP metrics
//   - collector.go: a collector reporting artifact store occupancy
//
// Every recording method on *Registry accepts a nil receiver, so
// components can be built without metrics in tests.
package metric
