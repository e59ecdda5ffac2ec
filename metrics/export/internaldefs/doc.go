// Package internaldefs holds the metric names, help strings and histogram
// bounds shared by the Prometheus and OpenTelemetry exporters, so both
// expose identical series.
//
// It performs no I/O and imports no exporter package.
package internaldefs
