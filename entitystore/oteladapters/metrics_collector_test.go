package oteladapters_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"

	"github.com/corvid-labs/entitystore-go/entitystore/oteladapters"
)

func newCapturingMetricsCollector() (*oteladapters.MetricsCollector, *sdkmetric.ManualReader) {
	reader := sdkmetric.NewManualReader()
	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))

	return oteladapters.NewMetricsCollector(provider.Meter("test")), reader
}

func collectMetrics(t *testing.T, reader *sdkmetric.ManualReader) metricdata.ResourceMetrics {
	t.Helper()

	var resourceMetrics metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(context.Background(), &resourceMetrics))

	return resourceMetrics
}

func findMetric(t *testing.T, resourceMetrics metricdata.ResourceMetrics, name string) metricdata.Metrics {
	t.Helper()

	for _, scopeMetrics := range resourceMetrics.ScopeMetrics {
		for _, m := range scopeMetrics.Metrics {
			if m.Name == name {
				return m
			}
		}
	}

	t.Fatalf("metric %q not found", name)

	return metricdata.Metrics{}
}

func Test_MetricsCollector_RecordDuration(t *testing.T) {
	collector, reader := newCapturingMetricsCollector()

	collector.RecordDuration("entitystore_operation_duration_seconds", 150*time.Millisecond, map[string]string{
		"operation": "save",
		"status":    "success",
	})

	m := findMetric(t, collectMetrics(t, reader), "entitystore_operation_duration_seconds")

	histogram, ok := m.Data.(metricdata.Histogram[float64])
	require.True(t, ok, "duration metrics are histograms")
	require.Len(t, histogram.DataPoints, 1)

	dataPoint := histogram.DataPoints[0]
	assert.Equal(t, uint64(1), dataPoint.Count)
	assert.InDelta(t, 0.15, dataPoint.Sum, 0.001, "durations are recorded in seconds")

	operation, found := dataPoint.Attributes.Value(attribute.Key("operation"))
	require.True(t, found)
	assert.Equal(t, "save", operation.AsString())
}

func Test_MetricsCollector_IncrementCounter(t *testing.T) {
	collector, reader := newCapturingMetricsCollector()

	labels := map[string]string{"operation": "read", "status": "error"}
	collector.IncrementCounter("entitystore_operation_errors_total", labels)
	collector.IncrementCounter("entitystore_operation_errors_total", labels)

	m := findMetric(t, collectMetrics(t, reader), "entitystore_operation_errors_total")

	sum, ok := m.Data.(metricdata.Sum[int64])
	require.True(t, ok, "counters are sums")
	require.Len(t, sum.DataPoints, 1)
	assert.Equal(t, int64(2), sum.DataPoints[0].Value)
}

func Test_MetricsCollector_RecordValue(t *testing.T) {
	collector, reader := newCapturingMetricsCollector()

	collector.RecordValue("entitystore_property_changes_total", 4, map[string]string{"type_name": "note"})

	m := findMetric(t, collectMetrics(t, reader), "entitystore_property_changes_total")

	gauge, ok := m.Data.(metricdata.Gauge[float64])
	require.True(t, ok, "values are gauges")
	require.Len(t, gauge.DataPoints, 1)
	assert.Equal(t, float64(4), gauge.DataPoints[0].Value)
}

func Test_MetricsCollector_ReusesInstrumentsPerName(t *testing.T) {
	collector, reader := newCapturingMetricsCollector()

	collector.RecordDuration("entitystore_operation_duration_seconds", time.Millisecond, map[string]string{"operation": "read"})
	collector.RecordDurationContext(context.Background(), "entitystore_operation_duration_seconds", time.Millisecond, map[string]string{"operation": "read"})

	m := findMetric(t, collectMetrics(t, reader), "entitystore_operation_duration_seconds")

	histogram, ok := m.Data.(metricdata.Histogram[float64])
	require.True(t, ok)
	require.Len(t, histogram.DataPoints, 1, "same name and labels aggregate into one series")
	assert.Equal(t, uint64(2), histogram.DataPoints[0].Count)
}
