package testdoubles

import (
	"context"
	"sync"

	"github.com/corvid-labs/entitystore-go/entitystore"
)

// SpanRecord is one captured span lifecycle.
type SpanRecord struct {
	Name       string
	StartAttrs map[string]string
	Status     string
	EndAttrs   map[string]string
	Finished   bool
}

// SpySpanContext implements entitystore.SpanContext for captured spans.
type SpySpanContext struct {
	spy   *TracingCollectorSpy
	index int
}

func (s *SpySpanContext) SetStatus(status string) {
	s.spy.mu.Lock()
	defer s.spy.mu.Unlock()

	s.spy.spans[s.index].Status = status
}

func (s *SpySpanContext) AddAttribute(key, value string) {
	s.spy.mu.Lock()
	defer s.spy.mu.Unlock()

	if s.spy.spans[s.index].EndAttrs == nil {
		s.spy.spans[s.index].EndAttrs = make(map[string]string)
	}

	s.spy.spans[s.index].EndAttrs[key] = value
}

// TracingCollectorSpy captures span starts and finishes for verification.
type TracingCollectorSpy struct {
	mu    sync.Mutex
	spans []SpanRecord
}

// NewTracingCollectorSpy creates an empty spy.
func NewTracingCollectorSpy() *TracingCollectorSpy {
	return &TracingCollectorSpy{}
}

func (s *TracingCollectorSpy) StartSpan(ctx context.Context, name string, attrs map[string]string) (context.Context, entitystore.SpanContext) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.spans = append(s.spans, SpanRecord{Name: name, StartAttrs: attrs})

	return ctx, &SpySpanContext{spy: s, index: len(s.spans) - 1}
}

func (s *TracingCollectorSpy) FinishSpan(spanCtx entitystore.SpanContext, status string, attrs map[string]string) {
	spy, ok := spanCtx.(*SpySpanContext)
	if !ok {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	record := &s.spans[spy.index]
	record.Status = status
	record.Finished = true
	for key, value := range attrs {
		if record.EndAttrs == nil {
			record.EndAttrs = make(map[string]string)
		}

		record.EndAttrs[key] = value
	}
}

// Spans returns a copy of all captured spans in start order.
func (s *TracingCollectorSpy) Spans() []SpanRecord {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]SpanRecord, len(s.spans))
	copy(out, s.spans)

	return out
}

var _ entitystore.TracingCollector = (*TracingCollectorSpy)(nil)
