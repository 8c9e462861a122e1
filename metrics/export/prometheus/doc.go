// Package prometheus exposes questauth client metrics as a Prometheus collector.
//
// [Exporter] implements prometheus.Collector and reads the client snapshot on
// every scrape. Counters are named questauth_*_total; refresh latency is the
// histogram questauth_refresh_latency_seconds.
//
// Register the Exporter in your own registry, or mount [Exporter.Handler],
// which uses a private one.
package prometheus
