// Package otel bridges the engine's counters and histograms to
// OpenTelemetry. NewExporter registers observable instruments and a
// single callback that reads a metrics snapshot per collection cycle;
// callers own the MeterProvider.
package otel
