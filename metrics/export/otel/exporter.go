package otel

import (
	"context"
	"errors"
	"fmt"

	tokenauth "github.com/abrahamahn/abe-stack-sub006"
	"github.com/abrahamahn/abe-stack-sub006/metrics/export/internaldefs"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

var (
	ErrNilMeter  = errors.New("nil meter")
	ErrNilSource = errors.New("nil metrics source")
)

type metricsSource interface {
	MetricsSnapshot() tokenauth.MetricsSnapshot
	AuditStats() tokenauth.AuditStats
}

// labeledSeries is one counter observed under a fixed attribute set.
type labeledSeries struct {
	id    tokenauth.MetricID
	attrs metric.MeasurementOption
}

type observedCounter struct {
	instrument metric.Int64ObservableCounter
	series     []labeledSeries
}

type observedHistogram struct {
	id      tokenauth.MetricID
	buckets metric.Int64ObservableGauge
	bounds  []metric.MeasurementOption
	count   metric.Int64ObservableGauge
}

// OTelExporter publishes engine metrics as observable instruments on a
// caller-owned Meter. Labeled metrics carry their label as an attribute.
type OTelExporter struct {
	source       metricsSource
	registration metric.Registration
	counters     []observedCounter
	histograms   []observedHistogram

	auditEvents   metric.Int64ObservableCounter
	auditResults  map[string]metric.MeasurementOption
	criticalWaits metric.Int64ObservableCounter
}

// NewOTelExporter registers instruments reading from engine.
func NewOTelExporter(meter metric.Meter, engine *tokenauth.Engine) (*OTelExporter, error) {
	return NewOTelExporterFromSource(meter, engine)
}

func NewOTelExporterFromSource(meter metric.Meter, source metricsSource) (*OTelExporter, error) {
	if meter == nil {
		return nil, ErrNilMeter
	}
	if source == nil {
		return nil, ErrNilSource
	}

	exporter := &OTelExporter{source: source}
	var observables []metric.Observable

	for _, def := range internaldefs.CounterDefs {
		ins, err := meter.Int64ObservableCounter(def.Name, metric.WithDescription(def.Help))
		if err != nil {
			return nil, fmt.Errorf("create observable counter %s: %w", def.Name, err)
		}
		exporter.counters = append(exporter.counters, observedCounter{
			instrument: ins,
			series:     []labeledSeries{{id: def.ID, attrs: metric.WithAttributes()}},
		})
		observables = append(observables, ins)
	}

	for _, def := range internaldefs.LabeledDefs {
		ins, err := meter.Int64ObservableCounter(def.Name, metric.WithDescription(def.Help))
		if err != nil {
			return nil, fmt.Errorf("create observable counter %s: %w", def.Name, err)
		}
		c := observedCounter{instrument: ins}
		for _, s := range def.Series {
			c.series = append(c.series, labeledSeries{
				id:    s.ID,
				attrs: metric.WithAttributes(attribute.String(def.Label, s.Value)),
			})
		}
		exporter.counters = append(exporter.counters, c)
		observables = append(observables, ins)
	}

	for _, def := range internaldefs.HistogramDefs {
		h := observedHistogram{id: def.ID}
		bucketName := def.Name + "_bucket"
		ins, err := meter.Int64ObservableGauge(bucketName, metric.WithDescription("Cumulative bucket count; le is the upper bound in seconds."))
		if err != nil {
			return nil, fmt.Errorf("create histogram bucket gauge %s: %w", bucketName, err)
		}
		h.buckets = ins
		for _, le := range internaldefs.HistogramBounds {
			h.bounds = append(h.bounds, metric.WithAttributes(attribute.String("le", le)))
		}
		countName := def.Name + "_count"
		countIns, err := meter.Int64ObservableGauge(countName, metric.WithDescription(def.Help))
		if err != nil {
			return nil, fmt.Errorf("create histogram count gauge %s: %w", countName, err)
		}
		h.count = countIns
		observables = append(observables, ins, countIns)
		exporter.histograms = append(exporter.histograms, h)
	}

	auditEvents, err := meter.Int64ObservableCounter(internaldefs.AuditEventsName, metric.WithDescription(internaldefs.AuditEventsHelp))
	if err != nil {
		return nil, fmt.Errorf("create audit events counter: %w", err)
	}
	criticalWaits, err := meter.Int64ObservableCounter(internaldefs.AuditCriticalWaitsName, metric.WithDescription(internaldefs.AuditCriticalWaitsHelp))
	if err != nil {
		return nil, fmt.Errorf("create audit critical waits counter: %w", err)
	}
	exporter.auditEvents = auditEvents
	exporter.criticalWaits = criticalWaits
	exporter.auditResults = make(map[string]metric.MeasurementOption)
	for _, r := range internaldefs.AuditResults(tokenauth.AuditStats{}) {
		exporter.auditResults[r.Value] = metric.WithAttributes(attribute.String(internaldefs.AuditResultLabel, r.Value))
	}
	observables = append(observables, auditEvents, criticalWaits)

	registration, err := meter.RegisterCallback(exporter.observe, observables...)
	if err != nil {
		return nil, fmt.Errorf("register callback: %w", err)
	}

	exporter.registration = registration
	return exporter, nil
}

// observe reads one snapshot per collection cycle so every series in a cycle
// comes from the same instant.
func (e *OTelExporter) observe(_ context.Context, observer metric.Observer) error {
	snapshot := e.source.MetricsSnapshot()
	for _, c := range e.counters {
		for _, s := range c.series {
			observer.ObserveInt64(c.instrument, int64(snapshot.Counters[s.id]), s.attrs)
		}
	}

	for _, h := range e.histograms {
		raw, ok := snapshot.Histograms[h.id]
		if !ok {
			continue
		}
		cumulative := internaldefs.CumulativeBuckets(internaldefs.NormalizeBuckets(raw))
		for i, attrs := range h.bounds {
			observer.ObserveInt64(h.buckets, int64(cumulative[i]), attrs)
		}
		observer.ObserveInt64(h.count, int64(cumulative[len(cumulative)-1]))
	}

	stats := e.source.AuditStats()
	for _, r := range internaldefs.AuditResults(stats) {
		observer.ObserveInt64(e.auditEvents, int64(r.Count), e.auditResults[r.Value])
	}
	observer.ObserveInt64(e.criticalWaits, int64(stats.CriticalWaits))
	return nil
}

// Close unregisters the collection callback.
func (e *OTelExporter) Close() error {
	if e == nil || e.registration == nil {
		return nil
	}
	return e.registration.Unregister()
}
