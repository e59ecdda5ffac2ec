// Package otel binds session engine metrics to OpenTelemetry.
//
// [NewOTelExporter] registers one Int64ObservableCounter per exported engine
// metric. Labeled metrics such as rotation outcome or revocation reason are
// single instruments whose series differ by attribute. Rotation latency
// is a bucket gauge keyed by the "le" attribute plus a count gauge. One
// callback reads [tokenauth.Engine.MetricsSnapshot] per collection cycle. The
// caller owns the MeterProvider.
package otel
