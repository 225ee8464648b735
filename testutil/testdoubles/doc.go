// Package testdoubles provides spy implementations of the entitystore
// observability interfaces.
//
// The spies capture logging, metrics and tracing calls for verification, so
// provider instrumentation can be tested without a telemetry backend:
//   - ContextualLoggerSpy captures structured log calls with their context
//   - MetricsCollectorSpy captures durations, counter increments and values
//   - TracingCollectorSpy captures started and finished spans
package testdoubles
