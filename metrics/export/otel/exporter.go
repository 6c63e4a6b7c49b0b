package otel

import (
	"context"
	"errors"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

var (
	ErrNilMeter    = errors.New("nil meter")
	ErrNilGatherer = errors.New("nil gatherer")
)

// Counters are the counter families mirrored by the exporter.
var Counters = []string{
	"orgauth_permission_checks_total",
	"orgauth_policy_denials_total",
	"orgauth_signin_total",
	"orgauth_sessions_total",
	"orgauth_cache_requests_total",
	"orgauth_http_requests_total",
	"orgauth_audit_dropped_total",
}

// Histograms are mirrored as <name>_count and <name>_sum counters.
var Histograms = []string{
	"orgauth_validate_latency_seconds",
	"orgauth_http_request_duration_seconds",
}

type histogramInstruments struct {
	count metric.Int64ObservableCounter
	sum   metric.Float64ObservableCounter
}

// Exporter feeds OpenTelemetry observable instruments from a Prometheus gatherer.
type Exporter struct {
	gatherer     prometheus.Gatherer
	registration metric.Registration
	counters     map[string]metric.Int64ObservableCounter
	histograms   map[string]histogramInstruments
}

// NewExporter creates the instruments on meter and registers the collection
// callback. gatherer is usually the registry handed to metrics.New.
func NewExporter(meter metric.Meter, gatherer prometheus.Gatherer) (*Exporter, error) {
	if meter == nil {
		return nil, ErrNilMeter
	}
	if gatherer == nil {
		return nil, ErrNilGatherer
	}

	e := &Exporter{
		gatherer:   gatherer,
		counters:   make(map[string]metric.Int64ObservableCounter, len(Counters)),
		histograms: make(map[string]histogramInstruments, len(Histograms)),
	}
	observables := make([]metric.Observable, 0, len(Counters)+2*len(Histograms))

	for _, name := range Counters {
		ins, err := meter.Int64ObservableCounter(name)
		if err != nil {
			return nil, fmt.Errorf("create observable counter %s: %w", name, err)
		}
		e.counters[name] = ins
		observables = append(observables, ins)
	}

	for _, name := range Histograms {
		count, err := meter.Int64ObservableCounter(name+"_count", metric.WithDescription("Histogram sample count."))
		if err != nil {
			return nil, fmt.Errorf("create histogram count %s: %w", name, err)
		}
		sum, err := meter.Float64ObservableCounter(name+"_sum", metric.WithDescription("Histogram sample sum."), metric.WithUnit("s"))
		if err != nil {
			return nil, fmt.Errorf("create histogram sum %s: %w", name, err)
		}
		e.histograms[name] = histogramInstruments{count: count, sum: sum}
		observables = append(observables, count, sum)
	}

	registration, err := meter.RegisterCallback(e.observe, observables...)
	if err != nil {
		return nil, fmt.Errorf("register callback: %w", err)
	}
	e.registration = registration
	return e, nil
}

func (e *Exporter) observe(_ context.Context, o metric.Observer) error {
	families, err := e.gatherer.Gather()
	if err != nil && len(families) == 0 {
		return fmt.Errorf("gather: %w", err)
	}

	for _, fam := range families {
		if ins, ok := e.counters[fam.GetName()]; ok {
			for _, m := range fam.GetMetric() {
				o.ObserveInt64(ins, int64(m.GetCounter().GetValue()), metric.WithAttributes(attributes(m)...))
			}
			continue
		}
		if h, ok := e.histograms[fam.GetName()]; ok {
			for _, m := range fam.GetMetric() {
				attrs := metric.WithAttributes(attributes(m)...)
				o.ObserveInt64(h.count, int64(m.GetHistogram().GetSampleCount()), attrs)
				o.ObserveFloat64(h.sum, m.GetHistogram().GetSampleSum(), attrs)
			}
		}
	}
	return nil
}

func attributes(m *dto.Metric) []attribute.KeyValue {
	out := make([]attribute.KeyValue, 0, len(m.GetLabel()))
	for _, lp := range m.GetLabel() {
		out = append(out, attribute.String(lp.GetName(), lp.GetValue()))
	}
	return out
}

// Close unregisters the callback.
func (e *Exporter) Close() error {
	if e == nil || e.registration == nil {
		return nil
	}
	return e.registration.Unregister()
}
