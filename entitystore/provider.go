package entitystore

import (
	"context"
	"errors"
	"math"
	"time"
)

const (
	logMsgReadCompleted       = "entity read completed"
	logMsgQueryStarted        = "entity query started"
	logMsgBatchCommitted      = "entity batch committed"
	logMsgAdapterReadFailed   = "adapter read failed"
	logMsgAdapterQueryFailed  = "adapter query execution failed"
	logMsgAdapterSaveFailed   = "adapter batch save failed"
	logMsgOutcomeCountWrong   = "adapter violated the save outcome contract"
	logMsgConcurrencyConflict = "concurrency conflict detected"
	logAttrError              = "error"
	logAttrTypeName           = "type_name"
	logAttrEntityID           = "entity_id"
	logAttrPartitionKey       = "partition_key"
	logAttrDurationMS         = "duration_ms"
	logAttrMemberCount        = "member_count"
	logAttrStatus             = "status"

	metricOperationDuration = "entitystore_operation_duration_seconds"
	metricOperationErrors   = "entitystore_operation_errors_total"
	metricChangesRecorded   = "entitystore_property_changes_total"

	spanNameRead  = "entitystore.read"
	spanNameQuery = "entitystore.query"
	spanNameSave  = "entitystore.save"

	spanAttrOperation = "operation"
	spanAttrTypeName  = "type_name"

	operationCreate = "create"
	operationRead   = "read"
	operationUpdate = "update"
	operationDelete = "delete"
	operationQuery  = "query"
	operationSave   = "save"

	statusSuccess  = "success"
	statusNotFound = "not_found"
	statusError    = "error"
)

// Provider is the type-parameterized orchestration engine: it implements
// the full command surface by composing capability gating, validation,
// versioning, soft-delete filtering and delegation to a storage adapter.
//
// A provider is stateless and safe to share across concurrent callers; all
// per-operation mutable state lives in the command and result handles it
// returns, which are not intended to be shared across goroutines.
type Provider[T Entity] struct {
	adapter          Adapter[T]
	schema           *Schema[T]
	capabilities     Capability
	domainValidator  Validator[T]
	logger           Logger
	contextualLogger ContextualLogger
	metricsCollector MetricsCollector
	tracingCollector TracingCollector
	clock            func() time.Time
}

// ProviderOption defines a functional option for configuring a Provider.
type ProviderOption[T Entity] func(*Provider[T]) error

// WithCapabilities sets the capability flags gating create, update and
// delete. The default is CapabilityAll.
func WithCapabilities[T Entity](capabilities Capability) ProviderOption[T] {
	return func(p *Provider[T]) error {
		p.capabilities = capabilities
		return nil
	}
}

// WithValidator sets the domain validator composed with the base validator
// on every save.
func WithValidator[T Entity](validator Validator[T]) ProviderOption[T] {
	return func(p *Provider[T]) error {
		p.domainValidator = validator
		return nil
	}
}

// WithLogger sets the logger for the provider.
func WithLogger[T Entity](logger Logger) ProviderOption[T] {
	return func(p *Provider[T]) error {
		p.logger = logger
		return nil
	}
}

// WithContextualLogger sets the contextual logger for the provider. Log
// messages carry the operation context for automatic trace correlation.
func WithContextualLogger[T Entity](logger ContextualLogger) ProviderOption[T] {
	return func(p *Provider[T]) error {
		p.contextualLogger = logger
		return nil
	}
}

// WithMetrics sets the metrics collector for the provider. The collector
// receives operation durations, outcome counters and change counts.
func WithMetrics[T Entity](collector MetricsCollector) ProviderOption[T] {
	return func(p *Provider[T]) error {
		p.metricsCollector = collector
		return nil
	}
}

// WithTracing sets the tracing collector for the provider. Spans cover
// read, query and save operations including adapter round trips.
func WithTracing[T Entity](collector TracingCollector) ProviderOption[T] {
	return func(p *Provider[T]) error {
		p.tracingCollector = collector
		return nil
	}
}

// WithClock overrides the time source used for timestamps. Intended for
// tests.
func WithClock[T Entity](clock func() time.Time) ProviderOption[T] {
	return func(p *Provider[T]) error {
		p.clock = clock
		return nil
	}
}

// NewProvider creates a provider for one entity type over one storage
// adapter with optional configuration. The schema carries the validated
// discriminator, so no per-operation naming checks happen afterwards.
func NewProvider[T Entity](adapter Adapter[T], schema *Schema[T], options ...ProviderOption[T]) (*Provider[T], error) {
	if adapter == nil {
		return nil, ErrNilAdapter
	}

	if schema == nil {
		return nil, ErrNilSchema
	}

	p := &Provider[T]{
		adapter:      adapter,
		schema:       schema,
		capabilities: CapabilityAll,
		clock:        time.Now,
	}

	for _, option := range options {
		if err := option(p); err != nil {
			return nil, err
		}
	}

	return p, nil
}

// TypeName returns the discriminator this provider operates on.
func (p *Provider[T]) TypeName() string {
	return p.schema.TypeName()
}

// Capabilities returns the configured capability flags.
func (p *Provider[T]) Capabilities() Capability {
	return p.capabilities
}

// Create starts a new entity with version 1, current timestamps and the
// provider's discriminator, wrapped in a Draft save command. It fails with
// ErrUnsupportedOperation when creation is disabled.
func (p *Provider[T]) Create(_ context.Context, id, partitionKey string) (*SaveCommand[T], error) {
	if !p.capabilities.Has(CapabilityCreate) {
		return nil, ErrUnsupportedOperation
	}

	now := p.clock()

	entity := p.schema.NewEntity()
	base := entity.Base()
	base.ID = id
	base.PartitionKey = partitionKey
	base.TypeName = p.schema.TypeName()
	base.Version = 1
	base.CreatedAt = now
	base.UpdatedAt = now

	return p.newSaveCommand(entity, ActionCreated, StateDraft)
}

// Read returns a sealed read result for the record, or nil when it is
// absent or soft-deleted. Absence is never an error.
func (p *Provider[T]) Read(ctx context.Context, id, partitionKey string) (*ReadResult[T], error) {
	ctx, span := p.startSpan(ctx, spanNameRead, map[string]string{
		spanAttrOperation: operationRead,
		spanAttrTypeName:  p.schema.TypeName(),
	})

	start := time.Now()
	entity, found, err := p.readActive(ctx, id, partitionKey)
	duration := time.Since(start)

	if err != nil {
		p.finishSpan(span, statusError)
		p.recordErrorMetrics(ctx, operationRead)

		return nil, err
	}

	if !found {
		p.finishSpan(span, statusNotFound)
		p.recordOperationMetrics(ctx, operationRead, statusNotFound, duration)

		return nil, nil
	}

	handle, err := NewHandle(entity, p.schema, StateSealed)
	if err != nil {
		p.finishSpan(span, statusError)

		return nil, err
	}

	p.finishSpan(span, statusSuccess)
	p.recordOperationMetrics(ctx, operationRead, statusSuccess, duration)
	p.logOperation(ctx, logMsgReadCompleted,
		logAttrTypeName, p.schema.TypeName(),
		logAttrEntityID, id,
		logAttrDurationMS, toMilliseconds(duration))

	return &ReadResult[T]{handle: handle, provider: p}, nil
}

// Update reads the current record and returns a Draft save command for it,
// or nil when the record is absent or soft-deleted. The returned command
// carries the loaded version and concurrency token for the optimistic
// check at save time.
func (p *Provider[T]) Update(ctx context.Context, id, partitionKey string) (*SaveCommand[T], error) {
	if !p.capabilities.Has(CapabilityUpdate) {
		return nil, ErrUnsupportedOperation
	}

	entity, found, err := p.readActive(ctx, id, partitionKey)
	if err != nil {
		return nil, err
	}

	if !found {
		return nil, nil
	}

	entity.Base().UpdatedAt = p.clock()

	return p.newSaveCommand(entity, ActionUpdated, StateDraft)
}

// Delete reads the current record, stamps the soft-delete flags and returns
// a sealed save command pending an explicit Save. Deleting an absent or
// already-deleted record returns nil, not an error.
func (p *Provider[T]) Delete(ctx context.Context, id, partitionKey string) (*SaveCommand[T], error) {
	if !p.capabilities.Has(CapabilityDelete) {
		return nil, ErrUnsupportedOperation
	}

	entity, found, err := p.readActive(ctx, id, partitionKey)
	if err != nil {
		return nil, err
	}

	if !found {
		return nil, nil
	}

	cmd, err := p.newSaveCommand(entity, ActionDeleted, StateSealed)
	if err != nil {
		return nil, err
	}

	entity.Base().markDeleted(p.clock())

	return cmd, nil
}

// Query returns a query builder pre-filtered to this provider's
// discriminator; soft-deleted records are always excluded. Execution is
// delegated to the adapter via ExecuteQuery.
func (p *Provider[T]) Query() EntityQueryBuilder {
	return BuildEntityQuery(p.schema.TypeName())
}

// ExecuteQuery runs a query built by Query and returns a lazily evaluated
// cursor; every yielded entity is wrapped as a sealed QueryResult.
func (p *Provider[T]) ExecuteQuery(ctx context.Context, query Query) (*QueryCursor[T], error) {
	if query.TypeName() != p.schema.TypeName() {
		return nil, ErrForeignQuery
	}

	ctx, span := p.startSpan(ctx, spanNameQuery, map[string]string{
		spanAttrOperation: operationQuery,
		spanAttrTypeName:  p.schema.TypeName(),
	})

	rows, err := p.adapter.Query(ctx, query)
	if err != nil {
		p.finishSpan(span, statusError)
		p.recordErrorMetrics(ctx, operationQuery)
		p.logError(ctx, logMsgAdapterQueryFailed, err, logAttrTypeName, p.schema.TypeName())

		return nil, errors.Join(ErrQueryingEntitiesFailed, err)
	}

	p.finishSpan(span, statusSuccess)
	p.logOperation(ctx, logMsgQueryStarted, logAttrTypeName, p.schema.TypeName())

	return &QueryCursor[T]{rows: rows, provider: p}, nil
}

// Batch returns an empty batch command bound to this provider's batch-save
// primitive.
func (p *Provider[T]) Batch() *BatchCommand[T] {
	return &BatchCommand[T]{provider: p}
}

// readActive reads one record and applies the engine's visibility rules:
// soft-deleted records and records of a foreign discriminator read as
// absent.
func (p *Provider[T]) readActive(ctx context.Context, id, partitionKey string) (T, bool, error) {
	var zero T

	entity, found, err := p.adapter.ReadItem(ctx, id, partitionKey)
	if err != nil {
		p.logError(ctx, logMsgAdapterReadFailed, err,
			logAttrTypeName, p.schema.TypeName(),
			logAttrEntityID, id,
			logAttrPartitionKey, partitionKey)

		return zero, false, errors.Join(ErrReadingEntityFailed, err)
	}

	if !found {
		return zero, false, nil
	}

	base := entity.Base()
	if base.Deleted() || base.TypeName != p.schema.TypeName() {
		return zero, false, nil
	}

	return entity, true, nil
}

// saveBatch is the single persistence funnel: both single saves (a batch of
// one) and batch commits go through here.
func (p *Provider[T]) saveBatch(ctx context.Context, requests []SaveRequest[T]) ([]SaveOutcome[T], error) {
	ctx, span := p.startSpan(ctx, spanNameSave, map[string]string{
		spanAttrOperation: operationSave,
		spanAttrTypeName:  p.schema.TypeName(),
	})

	start := time.Now()
	outcomes, err := p.adapter.SaveBatch(ctx, requests)
	duration := time.Since(start)

	if err != nil {
		p.finishSpan(span, statusError)
		p.recordErrorMetrics(ctx, operationSave)
		p.logError(ctx, logMsgAdapterSaveFailed, err, logAttrMemberCount, len(requests))

		return nil, errors.Join(ErrSavingBatchFailed, err)
	}

	if len(outcomes) != len(requests) {
		p.finishSpan(span, statusError)
		p.logError(ctx, logMsgOutcomeCountWrong, ErrOutcomeLengthMismatch, logAttrMemberCount, len(requests))

		return nil, ErrOutcomeLengthMismatch
	}

	status := statusSuccess
	for _, outcome := range outcomes {
		if outcome.Status == SaveStatusConflict || outcome.Status == SaveStatusPreconditionFailed {
			status = statusError
			p.logOperation(ctx, logMsgConcurrencyConflict,
				logAttrTypeName, p.schema.TypeName(),
				logAttrStatus, outcome.Status.String())

			break
		}

		if outcome.Status != SaveStatusSuccess {
			status = statusError
			break
		}
	}

	p.finishSpan(span, status)
	p.recordOperationMetrics(ctx, operationSave, status, duration)
	p.logOperation(ctx, logMsgBatchCommitted,
		logAttrTypeName, p.schema.TypeName(),
		logAttrMemberCount, len(requests),
		logAttrStatus, status,
		logAttrDurationMS, toMilliseconds(duration))

	return outcomes, nil
}

// logOperation logs operational information at info level if a logger is
// configured, preferring the contextual logger.
func (p *Provider[T]) logOperation(ctx context.Context, msg string, args ...any) {
	if p.contextualLogger != nil {
		p.contextualLogger.InfoContext(ctx, msg, args...)
		return
	}

	if p.logger != nil {
		p.logger.Info(msg, args...)
	}
}

// logError logs error information if a logger is configured.
func (p *Provider[T]) logError(ctx context.Context, msg string, err error, args ...any) {
	allArgs := append([]any{logAttrError, err.Error()}, args...)

	if p.contextualLogger != nil {
		p.contextualLogger.ErrorContext(ctx, msg, allArgs...)
		return
	}

	if p.logger != nil {
		p.logger.Error(msg, allArgs...)
	}
}

func (p *Provider[T]) recordOperationMetrics(ctx context.Context, operation, status string, duration time.Duration) {
	if p.metricsCollector == nil {
		return
	}

	labels := map[string]string{
		spanAttrOperation: operation,
		logAttrStatus:     status,
		spanAttrTypeName:  p.schema.TypeName(),
	}

	if contextual, ok := p.metricsCollector.(ContextualMetricsCollector); ok {
		contextual.RecordDurationContext(ctx, metricOperationDuration, duration, labels)
		return
	}

	p.metricsCollector.RecordDuration(metricOperationDuration, duration, labels)
}

func (p *Provider[T]) recordErrorMetrics(ctx context.Context, operation string) {
	if p.metricsCollector == nil {
		return
	}

	labels := map[string]string{
		spanAttrOperation: operation,
		logAttrStatus:     statusError,
		spanAttrTypeName:  p.schema.TypeName(),
	}

	if contextual, ok := p.metricsCollector.(ContextualMetricsCollector); ok {
		contextual.IncrementCounterContext(ctx, metricOperationErrors, labels)
		return
	}

	p.metricsCollector.IncrementCounter(metricOperationErrors, labels)
}

func (p *Provider[T]) recordChangeCount(ctx context.Context, count int) {
	if p.metricsCollector == nil || count == 0 {
		return
	}

	labels := map[string]string{spanAttrTypeName: p.schema.TypeName()}

	if contextual, ok := p.metricsCollector.(ContextualMetricsCollector); ok {
		contextual.RecordValueContext(ctx, metricChangesRecorded, float64(count), labels)
		return
	}

	p.metricsCollector.RecordValue(metricChangesRecorded, float64(count), labels)
}

func (p *Provider[T]) startSpan(ctx context.Context, name string, attrs map[string]string) (context.Context, SpanContext) {
	if p.tracingCollector == nil {
		return ctx, nil
	}

	return p.tracingCollector.StartSpan(ctx, name, attrs)
}

func (p *Provider[T]) finishSpan(span SpanContext, status string) {
	if p.tracingCollector == nil || span == nil {
		return
	}

	p.tracingCollector.FinishSpan(span, status, nil)
}

// toMilliseconds converts a duration to float64 milliseconds with 3 decimal
// places.
func toMilliseconds(d time.Duration) float64 {
	return math.Round(float64(d.Nanoseconds())/1e6*1000) / 1000
}
