// Package prometheus renders session engine metrics in the Prometheus text
// exposition format.
//
// [NewPrometheusExporter] wraps an Engine and exposes an [http.Handler].
// Plain counters are named sessions_*_total. sessions_rotations_total is split
// by outcome and sessions_revocations_total by reason, so a spike in
// reuse_detected stands out from routine logouts. Rotation latency is the
// sessions_rotate_latency_seconds histogram. Nothing is registered globally;
// callers mount the handler themselves.
package prometheus
