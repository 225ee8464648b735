package testdoubles

import (
	"context"
	"sync"

	"github.com/corvid-labs/entitystore-go/entitystore"
)

// LogRecord is one captured log call.
type LogRecord struct {
	Level   string
	Message string
	Args    []any
}

// ContextualLoggerSpy captures contextual logging calls for verification.
type ContextualLoggerSpy struct {
	mu      sync.Mutex
	records []LogRecord
}

// NewContextualLoggerSpy creates an empty spy.
func NewContextualLoggerSpy() *ContextualLoggerSpy {
	return &ContextualLoggerSpy{}
}

func (s *ContextualLoggerSpy) DebugContext(_ context.Context, msg string, args ...any) {
	s.record("debug", msg, args)
}

func (s *ContextualLoggerSpy) InfoContext(_ context.Context, msg string, args ...any) {
	s.record("info", msg, args)
}

func (s *ContextualLoggerSpy) WarnContext(_ context.Context, msg string, args ...any) {
	s.record("warn", msg, args)
}

func (s *ContextualLoggerSpy) ErrorContext(_ context.Context, msg string, args ...any) {
	s.record("error", msg, args)
}

// Records returns a copy of all captured calls in order.
func (s *ContextualLoggerSpy) Records() []LogRecord {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]LogRecord, len(s.records))
	copy(out, s.records)

	return out
}

// MessagesAtLevel returns the captured messages for one level in order.
func (s *ContextualLoggerSpy) MessagesAtLevel(level string) []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []string
	for _, record := range s.records {
		if record.Level == level {
			out = append(out, record.Message)
		}
	}

	return out
}

// Reset clears all captured calls.
func (s *ContextualLoggerSpy) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.records = nil
}

func (s *ContextualLoggerSpy) record(level, msg string, args []any) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.records = append(s.records, LogRecord{Level: level, Message: msg, Args: args})
}

var _ entitystore.ContextualLogger = (*ContextualLoggerSpy)(nil)
