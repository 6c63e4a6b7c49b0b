package otel

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"

	"github.com/MrEthical07/orgauth/metrics"
)

func newPipeline(t *testing.T) (*metrics.Recorder, *sdkmetric.ManualReader, *Exporter) {
	t.Helper()
	reg := prometheus.NewRegistry()
	rec, err := metrics.New(reg)
	require.NoError(t, err)
	require.NoError(t, rec.WatchAuditDrops(func() uint64 { return 4 }))

	reader := sdkmetric.NewManualReader()
	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	exp, err := NewExporter(provider.Meter("orgauth-test"), reg)
	require.NoError(t, err)
	t.Cleanup(func() { assert.NoError(t, exp.Close()) })
	return rec, reader, exp
}

func collect(t *testing.T, reader *sdkmetric.ManualReader) map[string]metricdata.Aggregation {
	t.Helper()
	var rm metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(context.Background(), &rm))
	out := map[string]metricdata.Aggregation{}
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			out[m.Name] = m.Data
		}
	}
	return out
}

func int64Point(t *testing.T, data metricdata.Aggregation, key, value string) int64 {
	t.Helper()
	sum, ok := data.(metricdata.Sum[int64])
	require.True(t, ok, "want an int64 sum, got %T", data)
	for _, dp := range sum.DataPoints {
		if key == "" {
			return dp.Value
		}
		if v, ok := dp.Attributes.Value(attribute.Key(key)); ok && v.AsString() == value {
			return dp.Value
		}
	}
	t.Fatalf("no data point with %s=%s", key, value)
	return 0
}

func TestExporterMirrorsCounters(t *testing.T) {
	rec, reader, _ := newPipeline(t)
	rec.ObserveSignIn("success")
	rec.ObserveSignIn("success")
	rec.ObserveSignIn("invalid_credentials")
	rec.ObservePermissionCheck(false, "missing_permission")

	got := collect(t, reader)
	assert.Equal(t, int64(2), int64Point(t, got["orgauth_signin_total"], "outcome", "success"))
	assert.Equal(t, int64(1), int64Point(t, got["orgauth_signin_total"], "outcome", "invalid_credentials"))
	assert.Equal(t, int64(1), int64Point(t, got["orgauth_permission_checks_total"], "reason", "missing_permission"))
	assert.Equal(t, int64(4), int64Point(t, got["orgauth_audit_dropped_total"], "", ""))
}

func TestExporterMirrorsHistogramCountAndSum(t *testing.T) {
	rec, reader, _ := newPipeline(t)
	rec.ObserveValidate(2 * time.Millisecond)
	rec.ObserveValidate(4 * time.Millisecond)

	got := collect(t, reader)
	assert.Equal(t, int64(2), int64Point(t, got["orgauth_validate_latency_seconds_count"], "", ""))

	sum, ok := got["orgauth_validate_latency_seconds_sum"].(metricdata.Sum[float64])
	require.True(t, ok)
	require.Len(t, sum.DataPoints, 1)
	assert.InDelta(t, 0.006, sum.DataPoints[0].Value, 1e-9)
}

func TestExporterRejectsNilInputs(t *testing.T) {
	provider := sdkmetric.NewMeterProvider()
	_, err := NewExporter(nil, prometheus.NewRegistry())
	assert.ErrorIs(t, err, ErrNilMeter)
	_, err = NewExporter(provider.Meter("x"), nil)
	assert.ErrorIs(t, err, ErrNilGatherer)

	var nilExporter *Exporter
	assert.NoError(t, nilExporter.Close())
}

func TestExporterConcurrentCollect(t *testing.T) {
	rec, reader, _ := newPipeline(t)
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				rec.ObserveCache("membership", j%2 == 0)
				var rm metricdata.ResourceMetrics
				assert.NoError(t, reader.Collect(context.Background(), &rm))
			}
		}()
	}
	wg.Wait()
}
