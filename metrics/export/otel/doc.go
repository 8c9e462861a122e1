// Package otel publishes questauth client metrics through an OpenTelemetry Meter.
//
// [NewExporter] registers one Int64ObservableCounter per counter and one
// Int64ObservableGauge per refresh latency bucket. A single callback reads the
// client snapshot on each collection cycle. The caller owns the MeterProvider.
package otel
