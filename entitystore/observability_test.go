package entitystore_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/corvid-labs/entitystore-go/entitystore"
	"github.com/corvid-labs/entitystore-go/entitystore/memoryengine"
	"github.com/corvid-labs/entitystore-go/testutil/fixtures"
	"github.com/corvid-labs/entitystore-go/testutil/testdoubles"
)

type observedProvider struct {
	provider *entitystore.Provider[*fixtures.Note]
	logger   *testdoubles.ContextualLoggerSpy
	metrics  *testdoubles.MetricsCollectorSpy
	tracing  *testdoubles.TracingCollectorSpy
}

func newObservedProvider(t *testing.T) observedProvider {
	t.Helper()

	observed := observedProvider{
		logger:  testdoubles.NewContextualLoggerSpy(),
		metrics: testdoubles.NewMetricsCollectorSpy(),
		tracing: testdoubles.NewTracingCollectorSpy(),
	}

	observed.provider = newNoteProvider(t, memoryengine.NewBacking(),
		entitystore.WithContextualLogger[*fixtures.Note](observed.logger),
		entitystore.WithMetrics[*fixtures.Note](observed.metrics),
		entitystore.WithTracing[*fixtures.Note](observed.tracing),
	)

	return observed
}

func Test_Provider_SaveInstrumentation(t *testing.T) {
	ctx := context.Background()
	observed := newObservedProvider(t)

	cmd, err := observed.provider.Create(ctx, "n1", "p1")
	require.NoError(t, err)
	require.NoError(t, cmd.Handle().SetProperty("/message", "hello"))
	require.NoError(t, cmd.Handle().SetProperty("/priority", int64(2)))

	receipt, err := cmd.Save(ctx)
	require.NoError(t, err)
	require.True(t, receipt.Validation.Valid())

	spans := observed.tracing.Spans()
	require.Len(t, spans, 1)
	assert.Equal(t, "entitystore.save", spans[0].Name)
	assert.Equal(t, "save", spans[0].StartAttrs["operation"])
	assert.Equal(t, "note", spans[0].StartAttrs["type_name"])
	assert.True(t, spans[0].Finished)
	assert.Equal(t, "success", spans[0].Status)

	durations := observed.metrics.Durations()
	require.Len(t, durations, 1)
	assert.Equal(t, "entitystore_operation_duration_seconds", durations[0].Metric)
	assert.Equal(t, "save", durations[0].Labels["operation"])
	assert.Equal(t, "success", durations[0].Labels["status"])

	values := observed.metrics.Values()
	require.Len(t, values, 1)
	assert.Equal(t, "entitystore_property_changes_total", values[0].Metric)
	assert.Equal(t, float64(2), values[0].Value)

	assert.Positive(t, observed.metrics.ContextCalls(),
		"a contextual collector receives the context-aware calls")

	assert.Contains(t, observed.logger.MessagesAtLevel("info"), "entity batch committed")
}

func Test_Provider_ReadInstrumentation(t *testing.T) {
	ctx := context.Background()
	observed := newObservedProvider(t)
	createNote(t, observed.provider, "n1", "p1", "hello", 1)
	observed.logger.Reset()

	result, err := observed.provider.Read(ctx, "n1", "p1")
	require.NoError(t, err)
	require.NotNil(t, result)

	spans := observed.tracing.Spans()
	readSpan := spans[len(spans)-1]
	assert.Equal(t, "entitystore.read", readSpan.Name)
	assert.Equal(t, "success", readSpan.Status)

	assert.Contains(t, observed.logger.MessagesAtLevel("info"), "entity read completed")

	// An absent record finishes the span as not_found, never as an error.
	_, err = observed.provider.Read(ctx, "ghost", "p1")
	require.NoError(t, err)

	spans = observed.tracing.Spans()
	missSpan := spans[len(spans)-1]
	assert.Equal(t, "entitystore.read", missSpan.Name)
	assert.Equal(t, "not_found", missSpan.Status)

	assert.Empty(t, observed.logger.MessagesAtLevel("error"))
}

func Test_Provider_ConflictInstrumentation(t *testing.T) {
	ctx := context.Background()
	observed := newObservedProvider(t)
	createNote(t, observed.provider, "n1", "p1", "original", 1)

	winner, err := observed.provider.Update(ctx, "n1", "p1")
	require.NoError(t, err)
	stale, err := observed.provider.Update(ctx, "n1", "p1")
	require.NoError(t, err)

	require.NoError(t, winner.Handle().SetProperty("/message", "winner"))
	_, err = winner.Save(ctx)
	require.NoError(t, err)

	observed.logger.Reset()

	require.NoError(t, stale.Handle().SetProperty("/message", "stale"))
	_, err = stale.Save(ctx)

	var saveErr *entitystore.SaveError
	require.ErrorAs(t, err, &saveErr)

	spans := observed.tracing.Spans()
	conflictSpan := spans[len(spans)-1]
	assert.Equal(t, "entitystore.save", conflictSpan.Name)
	assert.Equal(t, "error", conflictSpan.Status)

	assert.Contains(t, observed.logger.MessagesAtLevel("info"), "concurrency conflict detected")
}
