package testdoubles

import (
	"context"
	"sync"
	"time"

	"github.com/corvid-labs/entitystore-go/entitystore"
)

// DurationRecord is one captured duration measurement.
type DurationRecord struct {
	Metric   string
	Duration time.Duration
	Labels   map[string]string
}

// CounterRecord is one captured counter increment.
type CounterRecord struct {
	Metric string
	Labels map[string]string
}

// ValueRecord is one captured value measurement.
type ValueRecord struct {
	Metric string
	Value  float64
	Labels map[string]string
}

// MetricsCollectorSpy captures metrics calls for verification. It implements
// the contextual collector interface, so it also proves the provider prefers
// the context-aware methods.
type MetricsCollectorSpy struct {
	mu        sync.Mutex
	durations []DurationRecord
	counters  []CounterRecord
	values    []ValueRecord

	// ContextCalls counts invocations that arrived through the
	// context-aware methods.
	contextCalls int
}

// NewMetricsCollectorSpy creates an empty spy.
func NewMetricsCollectorSpy() *MetricsCollectorSpy {
	return &MetricsCollectorSpy{}
}

func (s *MetricsCollectorSpy) RecordDuration(metric string, duration time.Duration, labels map[string]string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.durations = append(s.durations, DurationRecord{Metric: metric, Duration: duration, Labels: labels})
}

func (s *MetricsCollectorSpy) IncrementCounter(metric string, labels map[string]string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.counters = append(s.counters, CounterRecord{Metric: metric, Labels: labels})
}

func (s *MetricsCollectorSpy) RecordValue(metric string, value float64, labels map[string]string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.values = append(s.values, ValueRecord{Metric: metric, Value: value, Labels: labels})
}

func (s *MetricsCollectorSpy) RecordDurationContext(_ context.Context, metric string, duration time.Duration, labels map[string]string) {
	s.markContextCall()
	s.RecordDuration(metric, duration, labels)
}

func (s *MetricsCollectorSpy) IncrementCounterContext(_ context.Context, metric string, labels map[string]string) {
	s.markContextCall()
	s.IncrementCounter(metric, labels)
}

func (s *MetricsCollectorSpy) RecordValueContext(_ context.Context, metric string, value float64, labels map[string]string) {
	s.markContextCall()
	s.RecordValue(metric, value, labels)
}

// Durations returns a copy of the captured duration measurements.
func (s *MetricsCollectorSpy) Durations() []DurationRecord {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]DurationRecord, len(s.durations))
	copy(out, s.durations)

	return out
}

// Counters returns a copy of the captured counter increments.
func (s *MetricsCollectorSpy) Counters() []CounterRecord {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]CounterRecord, len(s.counters))
	copy(out, s.counters)

	return out
}

// Values returns a copy of the captured value measurements.
func (s *MetricsCollectorSpy) Values() []ValueRecord {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]ValueRecord, len(s.values))
	copy(out, s.values)

	return out
}

// ContextCalls returns how many calls arrived through the context-aware
// methods.
func (s *MetricsCollectorSpy) ContextCalls() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.contextCalls
}

func (s *MetricsCollectorSpy) markContextCall() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.contextCalls++
}

var _ entitystore.ContextualMetricsCollector = (*MetricsCollectorSpy)(nil)
