// Package metrics exposes Prometheus collectors for sync jobs, provider requests and the library cache.
//
// Collectors register with the default registry on import; the worker serves them on /metrics.
package metrics
