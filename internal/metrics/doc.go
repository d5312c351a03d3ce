// Package metrics exposes job counters and gauges in Prometheus format.
//
// Every job owns a private registry so repeated runs in one process never
// collide on collector registration. When metrics.listen is set the registry
// is served at /metrics for the lifetime of the job.
package metrics
