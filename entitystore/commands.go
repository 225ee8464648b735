package entitystore

import (
	"context"
	"encoding/json"
	"strings"
	"sync"

	jsoniter "github.com/json-iterator/go"
)

// SaveReceipt reports the outcome of a single save. When Validation carries
// issues the save never reached storage and Entity/Event are zero; on
// success Entity is the persisted state and Event the audit record that was
// committed alongside it.
type SaveReceipt[T Entity] struct {
	Validation ValidationResult
	Entity     T
	Event      ChangeEvent
}

// SaveCommand is the mutable wrapper produced by Create, Update, Delete,
// ToUpdateCommand and ToDeleteCommand. It carries the handle, the pending
// action, the optimistic-concurrency baseline read from storage and the
// snapshot used for the structural diff fallback. Nothing is persisted
// until Save.
type SaveCommand[T Entity] struct {
	mu             sync.Mutex
	provider       *Provider[T]
	handle         *Handle[T]
	action         SaveAction
	loadedVersion  int64
	loadedToken    string
	beforeSnapshot json.RawMessage
	contextJSON    json.RawMessage
	saved          bool
}

// newSaveCommand wraps an entity in a handle and captures the concurrency
// baseline and the pre-mutation snapshot. For creates the baseline version
// is 0: there is no stored record to protect yet.
func (p *Provider[T]) newSaveCommand(entity T, action SaveAction, state HandleState) (*SaveCommand[T], error) {
	handle, err := NewHandle(entity, p.schema, state)
	if err != nil {
		return nil, err
	}

	base := entity.Base()

	loadedVersion := base.Version
	if action == ActionCreated {
		loadedVersion = 0
	}

	var before json.RawMessage
	if action.TouchesExistingRecord() {
		before, err = SnapshotEntity(entity)
		if err != nil {
			return nil, err
		}
	}

	return &SaveCommand[T]{
		provider:       p,
		handle:         handle,
		action:         action,
		loadedVersion:  loadedVersion,
		loadedToken:    base.ConcurrencyToken,
		beforeSnapshot: before,
		contextJSON:    json.RawMessage(`{}`),
	}, nil
}

// Handle returns the mutation-tracking handle for the pending entity.
func (c *SaveCommand[T]) Handle() *Handle[T] {
	return c.handle
}

// Action returns the kind of mutation this command persists.
func (c *SaveCommand[T]) Action() SaveAction {
	return c.action
}

// WithChangeContext attaches free-form caller context to the change event
// this save will emit. It fails when contextJSON is not valid JSON.
func (c *SaveCommand[T]) WithChangeContext(contextJSON []byte) error {
	if !jsoniter.ConfigFastest.Valid(contextJSON) {
		return ErrInvalidChangeContextJSON
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	c.contextJSON = append(json.RawMessage(nil), contextJSON...)

	return nil
}

// Validate runs the base and domain validators without touching storage.
func (c *SaveCommand[T]) Validate() ValidationResult {
	return c.provider.validate(c.handle.item())
}

// Save validates and persists the pending mutation as a batch of one.
//
// A validation failure is data, not an error: the receipt carries the
// issues, the error is nil, and storage is never reached. A non-success
// adapter outcome surfaces as *SaveError. On success the handle seals and
// further Save calls fail with ErrCommandAlreadySaved.
func (c *SaveCommand[T]) Save(ctx context.Context) (*SaveReceipt[T], error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.saved {
		return nil, ErrCommandAlreadySaved
	}

	if result := c.provider.validate(c.handle.item()); !result.Valid() {
		return &SaveReceipt[T]{Validation: result}, nil
	}

	request, err := c.buildRequest()
	if err != nil {
		return nil, err
	}

	outcomes, err := c.provider.saveBatch(ctx, []SaveRequest[T]{request})
	if err != nil {
		c.revertStamp()
		return nil, err
	}

	outcome := outcomes[0]
	if outcome.Status != SaveStatusSuccess {
		c.revertStamp()
		return nil, &SaveError{Status: outcome.Status}
	}

	c.applyOutcome(outcome)
	c.provider.recordChangeCount(ctx, len(request.Event.Changes))

	return &SaveReceipt[T]{Entity: outcome.Entity, Event: request.Event}, nil
}

// buildRequest stamps the entity for persistence and assembles the storage
// request with its change event. The caller holds c.mu.
func (c *SaveCommand[T]) buildRequest() (SaveRequest[T], error) {
	entity := c.handle.item()
	base := entity.Base()

	if c.action.TouchesExistingRecord() {
		base.Version = c.loadedVersion + 1
	}

	changes, err := c.collectChanges()
	if err != nil {
		return SaveRequest[T]{}, err
	}

	event, err := BuildChangeEvent(c.action, c.provider.clock(), changes, c.contextJSON)
	if err != nil {
		return SaveRequest[T]{}, err
	}

	return SaveRequest[T]{
		Action:           c.action,
		Entity:           entity,
		ExpectedVersion:  c.loadedVersion,
		ConcurrencyToken: c.loadedToken,
		Event:            event,
	}, nil
}

// collectChanges merges the handle's ledger with the snapshot-diff
// fallback. The ledger wins for paths it tracked; the diff contributes
// mutations made outside the property interceptor (through Call). Managed
// and encrypted paths never appear in the result.
func (c *SaveCommand[T]) collectChanges() (PropertyChanges, error) {
	tracked := c.handle.Changes()

	if c.beforeSnapshot == nil {
		return tracked, nil
	}

	after, err := SnapshotEntity(c.handle.item())
	if err != nil {
		return nil, err
	}

	diffed, err := DiffSnapshots(c.beforeSnapshot, after)
	if err != nil {
		return nil, err
	}

	merged := append(PropertyChanges(nil), tracked...)
	for _, change := range diffed {
		if IsManagedPropertyPath(change.Path) {
			continue
		}

		if c.provider.isEncryptedPath(change.Path) {
			continue
		}

		if coveredByLedger(tracked, change.Path) {
			continue
		}

		merged = append(merged, change)
	}

	return merged, nil
}

// revertStamp undoes the version stamp so a failed command leaves the
// in-memory entity at its loaded baseline. The caller holds c.mu.
func (c *SaveCommand[T]) revertStamp() {
	if c.action.TouchesExistingRecord() {
		c.handle.item().Base().Version = c.loadedVersion
	}
}

// applyOutcome copies the persisted managed fields back into the wrapped
// entity, seals the handle and retires the command. The caller holds c.mu.
func (c *SaveCommand[T]) applyOutcome(outcome SaveOutcome[T]) {
	*c.handle.item().Base() = *outcome.Entity.Base()
	c.handle.Seal()
	c.saved = true
}

func (p *Provider[T]) validate(entity T) ValidationResult {
	result := validateBase(entity, p.schema.TypeName())

	if p.domainValidator != nil {
		result = result.Merge(p.domainValidator(entity))
	}

	return result
}

// isEncryptedPath reports whether path addresses a property registered with
// EncryptAtRest, or a descendant of one.
func (p *Provider[T]) isEncryptedPath(path string) bool {
	for _, registered := range p.schema.PropertyPaths() {
		prop, _ := p.schema.Property(registered)
		if !prop.EncryptAtRest {
			continue
		}

		if path == registered || strings.HasPrefix(path, registered+"/") {
			return true
		}
	}

	return false
}

// coveredByLedger reports whether the ledger already tracked path or one of
// its ancestors.
func coveredByLedger(tracked PropertyChanges, path string) bool {
	for _, change := range tracked {
		if path == change.Path || strings.HasPrefix(path, change.Path+"/") {
			return true
		}
	}

	return false
}

// ReadResult is the sealed wrapper returned by Read. Its handle permits
// property gets only.
type ReadResult[T Entity] struct {
	handle   *Handle[T]
	provider *Provider[T]
}

// Handle returns the sealed handle for the stored entity.
func (r *ReadResult[T]) Handle() *Handle[T] {
	return r.handle
}

// Validate runs the validators against the stored state, e.g. after a rule
// change tightened the domain validator.
func (r *ReadResult[T]) Validate() ValidationResult {
	return r.provider.validate(r.handle.item())
}

// QueryResult is the sealed per-row wrapper yielded by a query cursor. It
// can be promoted to an update or delete command without a re-read, reusing
// the version and concurrency token the query returned.
type QueryResult[T Entity] struct {
	handle   *Handle[T]
	provider *Provider[T]
}

// Handle returns the sealed handle for the yielded entity.
func (r *QueryResult[T]) Handle() *Handle[T] {
	return r.handle
}

// Validate runs the validators against the yielded state.
func (r *QueryResult[T]) Validate() ValidationResult {
	return r.provider.validate(r.handle.item())
}

// ToUpdateCommand promotes the result into a Draft update command. The
// optimistic check at save time uses the queried version, so a record
// modified since the query yields a conflict.
func (r *QueryResult[T]) ToUpdateCommand() (*SaveCommand[T], error) {
	if !r.provider.capabilities.Has(CapabilityUpdate) {
		return nil, ErrUnsupportedOperation
	}

	entity := r.handle.item()
	entity.Base().UpdatedAt = r.provider.clock()

	return r.provider.newSaveCommand(entity, ActionUpdated, StateDraft)
}

// ToDeleteCommand promotes the result into a sealed delete command pending
// an explicit Save.
func (r *QueryResult[T]) ToDeleteCommand() (*SaveCommand[T], error) {
	if !r.provider.capabilities.Has(CapabilityDelete) {
		return nil, ErrUnsupportedOperation
	}

	entity := r.handle.item()

	cmd, err := r.provider.newSaveCommand(entity, ActionDeleted, StateSealed)
	if err != nil {
		return nil, err
	}

	entity.Base().markDeleted(r.provider.clock())

	return cmd, nil
}

// QueryCursor lazily enumerates query matches. Rows carrying soft-deleted
// records or a foreign discriminator are skipped rather than yielded.
type QueryCursor[T Entity] struct {
	rows     Rows[T]
	provider *Provider[T]
	current  *QueryResult[T]
	err      error
}

// Next advances to the next yielded result. It returns false at the end of
// the result set or on the first error; Err distinguishes the two.
func (c *QueryCursor[T]) Next() bool {
	if c.err != nil {
		return false
	}

	for c.rows.Next() {
		entity := c.rows.Item()
		base := entity.Base()

		if base.Deleted() || base.TypeName != c.provider.schema.TypeName() {
			continue
		}

		handle, err := NewHandle(entity, c.provider.schema, StateSealed)
		if err != nil {
			c.err = err
			return false
		}

		c.current = &QueryResult[T]{handle: handle, provider: c.provider}

		return true
	}

	return false
}

// Result returns the result the last successful Next yielded.
func (c *QueryCursor[T]) Result() *QueryResult[T] {
	return c.current
}

// Err returns the first error encountered during enumeration.
func (c *QueryCursor[T]) Err() error {
	if c.err != nil {
		return c.err
	}

	return c.rows.Err()
}

// Close releases the underlying storage cursor.
func (c *QueryCursor[T]) Close() error {
	return c.rows.Close()
}

// BatchMemberOutcome reports the fate of one batch member after Commit.
// Validation is only populated for members rejected during the validation
// phase.
type BatchMemberOutcome[T Entity] struct {
	Status     SaveStatus
	Validation ValidationResult
	Entity     T
	Event      ChangeEvent
}

// BatchCommand collects save commands for one atomic commit. All members
// must share one partition key, checked eagerly at Add. Commit is
// all-or-nothing: one failing member fails every member.
type BatchCommand[T Entity] struct {
	mu        sync.Mutex
	provider  *Provider[T]
	members   []*SaveCommand[T]
	committed bool
}

// Add appends a pending command to the batch. It fails eagerly for an
// already-saved command and for a member whose partition key differs from
// the first member's.
func (b *BatchCommand[T]) Add(cmd *SaveCommand[T]) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.committed {
		return ErrCommandAlreadySaved
	}

	cmd.mu.Lock()
	saved := cmd.saved
	cmd.mu.Unlock()

	if saved {
		return ErrCommandAlreadySaved
	}

	if len(b.members) > 0 {
		first := b.members[0].handle.item().Base().PartitionKey
		if cmd.handle.item().Base().PartitionKey != first {
			return ErrMixedPartitionKeys
		}
	}

	b.members = append(b.members, cmd)

	return nil
}

// Len returns the number of collected members.
func (b *BatchCommand[T]) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()

	return len(b.members)
}

// Commit validates every member and persists them in one atomic adapter
// call.
//
// When any member fails validation no storage I/O happens: the invalid
// members report precondition-failed with their issues, all remaining
// members report failed-dependency, and the error is nil. Adapter-level
// member failures come back the same way, statuses assigned by the
// adapter. Only a fully successful commit seals the members and retires
// the batch.
func (b *BatchCommand[T]) Commit(ctx context.Context) ([]BatchMemberOutcome[T], error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.committed {
		return nil, ErrCommandAlreadySaved
	}

	if len(b.members) == 0 {
		return nil, ErrEmptyBatch
	}

	validations := make([]ValidationResult, len(b.members))
	anyInvalid := false
	for i, member := range b.members {
		validations[i] = member.Validate()
		if !validations[i].Valid() {
			anyInvalid = true
		}
	}

	if anyInvalid {
		outcomes := make([]BatchMemberOutcome[T], len(b.members))
		for i := range b.members {
			if !validations[i].Valid() {
				outcomes[i] = BatchMemberOutcome[T]{Status: SaveStatusPreconditionFailed, Validation: validations[i]}
				continue
			}

			outcomes[i] = BatchMemberOutcome[T]{Status: SaveStatusFailedDependency}
		}

		return outcomes, nil
	}

	requests := make([]SaveRequest[T], len(b.members))
	for i, member := range b.members {
		member.mu.Lock()
		request, err := member.buildRequest()
		member.mu.Unlock()
		if err != nil {
			b.revertMembers(i + 1)
			return nil, err
		}

		requests[i] = request
	}

	saved, err := b.provider.saveBatch(ctx, requests)
	if err != nil {
		b.revertMembers(len(b.members))
		return nil, err
	}

	outcomes := make([]BatchMemberOutcome[T], len(b.members))
	allSucceeded := true
	for i, outcome := range saved {
		outcomes[i] = BatchMemberOutcome[T]{
			Status: outcome.Status,
			Entity: outcome.Entity,
			Event:  requests[i].Event,
		}

		if outcome.Status != SaveStatusSuccess {
			allSucceeded = false
		}
	}

	if !allSucceeded {
		b.revertMembers(len(b.members))
		return outcomes, nil
	}

	totalChanges := 0
	for i, member := range b.members {
		member.mu.Lock()
		member.applyOutcome(saved[i])
		member.mu.Unlock()

		totalChanges += len(requests[i].Event.Changes)
	}

	b.committed = true
	b.provider.recordChangeCount(ctx, totalChanges)

	return outcomes, nil
}

// revertMembers undoes the version stamps of the first n members after a
// failed commit. The caller holds b.mu.
func (b *BatchCommand[T]) revertMembers(n int) {
	for _, member := range b.members[:n] {
		member.mu.Lock()
		member.revertStamp()
		member.mu.Unlock()
	}
}
