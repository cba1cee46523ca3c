// Package prometheus renders the engine's metrics in Prometheus text
// exposition format. Counter names are prefixed authcore_*_total; the
// single histogram is authcore_validate_latency_seconds. Nothing is
// registered globally; callers mount the Handler themselves.
package prometheus
