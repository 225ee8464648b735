// Package memoryengine implements the storage adapter contract on a
// process-local in-memory store. It is the reference adapter: it honors the
// full save-status taxonomy, atomic batch commits and soft-delete
// visibility without any external infrastructure, which makes it the
// backing of choice for tests and for embedding scenarios.
package memoryengine

import (
	"context"
	"encoding/json"
	"strconv"
	"sync"

	"github.com/google/uuid"
	jsoniter "github.com/json-iterator/go"

	"github.com/corvid-labs/entitystore-go/entitystore"
)

// codec keeps numeric payload fields as json.Number so predicate matching
// compares the decimal text, not a float64 rendering.
var codec = jsoniter.Config{
	UseNumber:              true,
	EscapeHTML:             false,
	ValidateJsonRawMessage: true,
}.Froze()

// ChangeRecord is one committed audit entry with its record coordinates.
type ChangeRecord struct {
	PartitionKey string
	EntityID     string
	TypeName     string
	Event        entitystore.ChangeEvent
}

// Backing is the shared store behind one or more engines. Records are held
// as serialized JSON keyed by partition key and id, so providers of
// different entity types can share one backing and see each other's
// records through the discriminator rules.
type Backing struct {
	mu         sync.RWMutex
	partitions map[string]map[string][]byte
	changes    []ChangeRecord
}

// NewBacking creates an empty shared store.
func NewBacking() *Backing {
	return &Backing{partitions: make(map[string]map[string][]byte)}
}

// Changes returns a copy of all committed audit entries in commit order.
func (b *Backing) Changes() []ChangeRecord {
	b.mu.RLock()
	defer b.mu.RUnlock()

	out := make([]ChangeRecord, len(b.changes))
	copy(out, b.changes)

	return out
}

// Len returns the number of stored records, soft-deleted ones included.
func (b *Backing) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()

	n := 0
	for _, partition := range b.partitions {
		n += len(partition)
	}

	return n
}

// Engine is the in-memory adapter for one entity type.
type Engine[T entitystore.Entity] struct {
	backing   *Backing
	newEntity func() T
}

// New creates an engine with its own private backing.
func New[T entitystore.Entity](newEntity func() T) *Engine[T] {
	return NewWithBacking(NewBacking(), newEntity)
}

// NewWithBacking creates an engine over a shared backing. Multiple engines
// of different entity types may share one backing.
func NewWithBacking[T entitystore.Entity](backing *Backing, newEntity func() T) *Engine[T] {
	return &Engine[T]{backing: backing, newEntity: newEntity}
}

// ReadItem returns the stored record for the key, deserialized into a fresh
// entity instance. Soft-deleted records are returned as stored.
func (e *Engine[T]) ReadItem(ctx context.Context, id, partitionKey string) (T, bool, error) {
	var zero T

	if err := ctx.Err(); err != nil {
		return zero, false, err
	}

	e.backing.mu.RLock()
	data, found := e.lookupLocked(id, partitionKey)
	e.backing.mu.RUnlock()

	if !found {
		return zero, false, nil
	}

	entity, err := e.decode(data)
	if err != nil {
		return zero, false, err
	}

	return entity, true, nil
}

// Query snapshots the matching records under a read lock and returns a
// cursor over the snapshot. The cursor checks the context at every row.
func (e *Engine[T]) Query(ctx context.Context, query entitystore.Query) (entitystore.Rows[T], error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	e.backing.mu.RLock()
	defer e.backing.mu.RUnlock()

	var matches []T
	for _, partition := range e.backing.partitions {
		for _, data := range partition {
			match, err := matchesQuery(data, query)
			if err != nil {
				return nil, err
			}

			if !match {
				continue
			}

			entity, err := e.decode(data)
			if err != nil {
				return nil, err
			}

			matches = append(matches, entity)

			if query.Limit() > 0 && uint(len(matches)) == query.Limit() {
				return &sliceRows[T]{ctx: ctx, items: matches}, nil
			}
		}
	}

	return &sliceRows[T]{ctx: ctx, items: matches}, nil
}

// SaveBatch stages every member against a copy-on-write view and applies
// the staging only when all members pass. A failing member keeps its
// specific status, every other member reports failed-dependency, and the
// store is left untouched.
func (e *Engine[T]) SaveBatch(ctx context.Context, requests []entitystore.SaveRequest[T]) ([]entitystore.SaveOutcome[T], error) {
	e.backing.mu.Lock()
	defer e.backing.mu.Unlock()

	staged := make(map[string][]byte, len(requests))
	persisted := make([]T, len(requests))
	outcomes := make([]entitystore.SaveOutcome[T], len(requests))

	for i, request := range requests {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		base := request.Entity.Base()
		key := recordKey(base.ID, base.PartitionKey)

		stored, exists := staged[key]
		if !exists {
			stored, exists = e.lookupLocked(base.ID, base.PartitionKey)
		}

		status := e.checkPrecondition(request, stored, exists)
		if status != entitystore.SaveStatusSuccess {
			return failBatch(outcomes, i, status), nil
		}

		copyEntity, data, err := e.stamp(request.Entity)
		if err != nil {
			return nil, err
		}

		staged[key] = data
		persisted[i] = copyEntity
	}

	for _, request := range requests {
		base := request.Entity.Base()
		key := recordKey(base.ID, base.PartitionKey)

		partition, ok := e.backing.partitions[base.PartitionKey]
		if !ok {
			partition = make(map[string][]byte)
			e.backing.partitions[base.PartitionKey] = partition
		}

		partition[base.ID] = staged[key]

		e.backing.changes = append(e.backing.changes, ChangeRecord{
			PartitionKey: base.PartitionKey,
			EntityID:     base.ID,
			TypeName:     base.TypeName,
			Event:        request.Event,
		})
	}

	for i := range outcomes {
		outcomes[i] = entitystore.SaveOutcome[T]{Status: entitystore.SaveStatusSuccess, Entity: persisted[i]}
	}

	return outcomes, nil
}

// checkPrecondition classifies one member against the stored state:
// create over an existing record conflicts, updates and deletes of absent
// or soft-deleted records read as not-found, a version mismatch conflicts,
// and a token mismatch fails the precondition.
func (e *Engine[T]) checkPrecondition(request entitystore.SaveRequest[T], stored []byte, exists bool) entitystore.SaveStatus {
	if request.Action == entitystore.ActionCreated {
		if exists {
			return entitystore.SaveStatusConflict
		}

		return entitystore.SaveStatusSuccess
	}

	if !exists {
		return entitystore.SaveStatusNotFound
	}

	current, err := e.decode(stored)
	if err != nil {
		return entitystore.SaveStatusInternalError
	}

	base := current.Base()
	if base.Deleted() {
		return entitystore.SaveStatusNotFound
	}

	if base.Version != request.ExpectedVersion {
		return entitystore.SaveStatusConflict
	}

	if request.ConcurrencyToken != base.ConcurrencyToken {
		return entitystore.SaveStatusPreconditionFailed
	}

	return entitystore.SaveStatusSuccess
}

// stamp serializes the entity, re-reads it into a detached copy, assigns a
// fresh concurrency token and returns the copy plus its stored form. The
// caller's entity instance is never mutated.
func (e *Engine[T]) stamp(entity T) (T, []byte, error) {
	var zero T

	data, err := codec.Marshal(entity)
	if err != nil {
		return zero, nil, err
	}

	copyEntity, err := e.decode(data)
	if err != nil {
		return zero, nil, err
	}

	copyEntity.Base().ConcurrencyToken = uuid.NewString()

	stored, err := codec.Marshal(copyEntity)
	if err != nil {
		return zero, nil, err
	}

	return copyEntity, stored, nil
}

func (e *Engine[T]) decode(data []byte) (T, error) {
	entity := e.newEntity()
	if err := codec.Unmarshal(data, entity); err != nil {
		var zero T
		return zero, err
	}

	return entity, nil
}

// lookupLocked requires at least a read lock on the backing.
func (e *Engine[T]) lookupLocked(id, partitionKey string) ([]byte, bool) {
	partition, ok := e.backing.partitions[partitionKey]
	if !ok {
		return nil, false
	}

	data, ok := partition[id]

	return data, ok
}

func failBatch[T entitystore.Entity](outcomes []entitystore.SaveOutcome[T], failedAt int, status entitystore.SaveStatus) []entitystore.SaveOutcome[T] {
	for i := range outcomes {
		outcomes[i] = entitystore.SaveOutcome[T]{Status: entitystore.SaveStatusFailedDependency}
	}

	outcomes[failedAt] = entitystore.SaveOutcome[T]{Status: status}

	return outcomes
}

func recordKey(id, partitionKey string) string {
	return partitionKey + "\x00" + id
}

// matchesQuery applies the discriminator, soft-delete and predicate rules
// to one serialized record. Predicate values compare against the string
// rendering of the record's top-level fields.
func matchesQuery(data []byte, query entitystore.Query) (bool, error) {
	var record map[string]any
	if err := codec.Unmarshal(data, &record); err != nil {
		return false, err
	}

	if asString(record["typeName"]) != query.TypeName() {
		return false, nil
	}

	if deleted, ok := record["isDeleted"].(bool); ok && deleted {
		return false, nil
	}

	predicates := query.Predicates()
	if len(predicates) == 0 {
		return true, nil
	}

	matched := 0
	for _, predicate := range predicates {
		value, ok := record[predicate.Key()]
		if ok && asString(value) == predicate.Val() {
			matched++
		}
	}

	if query.AllPredicatesMustMatch() {
		return matched == len(predicates), nil
	}

	return matched > 0, nil
}

func asString(value any) string {
	switch v := value.(type) {
	case string:
		return v
	case json.Number:
		return v.String()
	case bool:
		return strconv.FormatBool(v)
	default:
		return ""
	}
}

// sliceRows enumerates a pre-materialized result set, honoring the query
// context at every row.
type sliceRows[T entitystore.Entity] struct {
	ctx   context.Context
	items []T
	index int
	err   error
}

func (r *sliceRows[T]) Next() bool {
	if r.err != nil {
		return false
	}

	if err := r.ctx.Err(); err != nil {
		r.err = err
		return false
	}

	if r.index >= len(r.items) {
		return false
	}

	r.index++

	return true
}

func (r *sliceRows[T]) Item() T {
	return r.items[r.index-1]
}

func (r *sliceRows[T]) Err() error {
	return r.err
}

func (r *sliceRows[T]) Close() error {
	return nil
}
