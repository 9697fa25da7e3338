// Package prometheus exposes engine metrics through client_golang.
//
// [NewCollector] returns a [Collector] that can be registered on any
// registry; [Collector.Handler] mounts it on a private registry for callers
// that only want an http.Handler. Counter names are prefixed lockguard_*_total
// and the single histogram is lockguard_authenticate_latency_seconds.
//
// # What this package must NOT do
//
//   - Register metrics in the global Prometheus registry.
//   - Mutate engine state.
package prometheus
