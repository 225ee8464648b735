package entitystore

import (
	"fmt"
	"sync"
)

// HandleState is the access-control state of a command or result handle.
// Draft permits mutations, Sealed is read-only.
type HandleState int

const (
	StateDraft HandleState = iota + 1
	StateSealed
)

func (s HandleState) String() string {
	switch s {
	case StateDraft:
		return "draft"
	case StateSealed:
		return "sealed"
	default:
		return "unknown"
	}
}

// InvocationKind classifies an intercepted call against a handle's facade.
type InvocationKind int

const (
	InvocationGetProperty InvocationKind = iota + 1
	InvocationSetProperty
	InvocationCall
)

// Invocation is one call routed through a handle: a property get, a
// property set, or an arbitrary pass-through call. Path carries the
// property path for gets and sets, and the method identity for calls
// (which may be empty - such calls are forwarded untracked).
type Invocation struct {
	Kind     InvocationKind
	Path     string
	NewValue any
	Call     func(Entity) any
}

// InvocationOutcome reports what the interceptor observed. For a tracked
// setter, OldValue and NewValue carry the property value before and after
// the call regardless of whether they differ; higher layers decide
// materiality. Non-setter calls are forwarded with Tracked=false.
type InvocationOutcome struct {
	Result       any
	Tracked      bool
	PropertyPath string
	OldValue     any
	NewValue     any
}

// Handle wraps exactly one entity instance behind a capability-typed
// facade. Every access goes through Invoke: no direct reference to the
// entity is ever exposed to callers. All invocations on one handle are
// serialized by a private mutex, so concurrent callers sharing a handle
// cannot interleave on the change ledger; two handles over the same record
// are independent.
type Handle[T Entity] struct {
	mu     sync.Mutex
	entity T
	schema *Schema[T]
	state  HandleState
	ledger changeLedger
}

// NewHandle binds a handle to one entity and one schema in the given state.
func NewHandle[T Entity](entity T, schema *Schema[T], state HandleState) (*Handle[T], error) {
	if schema == nil {
		return nil, ErrNilSchema
	}

	return &Handle[T]{
		entity: entity,
		schema: schema,
		state:  state,
	}, nil
}

// State returns the current access-control state.
func (h *Handle[T]) State() HandleState {
	h.mu.Lock()
	defer h.mu.Unlock()

	return h.state
}

// Seal transitions the handle to read-only. Sealing is terminal.
func (h *Handle[T]) Seal() {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.state = StateSealed
}

// GetProperty reads one property through the interceptor.
func (h *Handle[T]) GetProperty(path string) (any, error) {
	outcome, err := h.Invoke(Invocation{Kind: InvocationGetProperty, Path: path})
	if err != nil {
		return nil, err
	}

	return outcome.Result, nil
}

// SetProperty writes one property through the interceptor. It fails on a
// sealed handle and for paths the schema does not register.
func (h *Handle[T]) SetProperty(path string, value any) error {
	_, err := h.Invoke(Invocation{Kind: InvocationSetProperty, Path: path, NewValue: value})

	return err
}

// Call forwards an arbitrary method against the entity. Pass-through calls
// count as mutations for access control: they fail on a sealed handle.
func (h *Handle[T]) Call(method string, call func(Entity) any) (any, error) {
	outcome, err := h.Invoke(Invocation{Kind: InvocationCall, Path: method, Call: call})
	if err != nil {
		return nil, err
	}

	return outcome.Result, nil
}

// Invoke is the single interception point. It enforces the read-only gate,
// classifies the call, captures before/after values for tracked setters,
// and appends materially different changes to the ledger.
func (h *Handle[T]) Invoke(inv Invocation) (InvocationOutcome, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.state == StateSealed && inv.Kind != InvocationGetProperty {
		return InvocationOutcome{}, fmt.Errorf("%w: %s %q", ErrReadOnlyViolation, invocationKindString(inv.Kind), inv.Path)
	}

	switch inv.Kind {
	case InvocationGetProperty:
		prop, ok := h.schema.Property(inv.Path)
		if !ok {
			return InvocationOutcome{}, fmt.Errorf("%w: %q", ErrUnknownProperty, inv.Path)
		}

		return InvocationOutcome{Result: prop.Get(h.entity)}, nil

	case InvocationSetProperty:
		prop, ok := h.schema.Property(inv.Path)
		if !ok {
			return InvocationOutcome{}, fmt.Errorf("%w: %q", ErrUnknownProperty, inv.Path)
		}

		oldValue := prop.Get(h.entity)
		prop.Set(h.entity, inv.NewValue)
		newValue := prop.Get(h.entity)

		tracked := !prop.EncryptAtRest
		if tracked {
			h.ledger.record(inv.Path, oldValue, newValue)
		}

		return InvocationOutcome{
			Tracked:      tracked,
			PropertyPath: inv.Path,
			OldValue:     oldValue,
			NewValue:     newValue,
		}, nil

	case InvocationCall:
		if inv.Call == nil {
			return InvocationOutcome{}, nil
		}

		return InvocationOutcome{Result: inv.Call(h.entity)}, nil

	default:
		return InvocationOutcome{}, fmt.Errorf("%w: unknown invocation kind", ErrUnknownProperty)
	}
}

// Changes returns the accumulated, materially different changes in the
// order they were first observed. Net-zero changes are never reported.
func (h *Handle[T]) Changes() PropertyChanges {
	h.mu.Lock()
	defer h.mu.Unlock()

	return h.ledger.changes()
}

// item exposes the wrapped entity to the provider engine in this package.
func (h *Handle[T]) item() T {
	return h.entity
}

func invocationKindString(kind InvocationKind) string {
	switch kind {
	case InvocationGetProperty:
		return "get"
	case InvocationSetProperty:
		return "set"
	case InvocationCall:
		return "call"
	default:
		return "invoke"
	}
}

// changeLedger accumulates tracked changes ordered by first observation and
// keyed by property path. A later change returning a property to its
// original value removes the entry: callers never see net-zero changes.
type changeLedger struct {
	order   []string
	entries map[string]*PropertyChange
}

func (l *changeLedger) record(path string, oldValue, newValue any) {
	if l.entries == nil {
		l.entries = make(map[string]*PropertyChange)
	}

	if entry, exists := l.entries[path]; exists {
		if equalValues(entry.OldValue, newValue) {
			delete(l.entries, path)
			for i, p := range l.order {
				if p == path {
					l.order = append(l.order[:i], l.order[i+1:]...)
					break
				}
			}

			return
		}

		entry.NewValue = newValue

		return
	}

	if equalValues(oldValue, newValue) {
		return
	}

	l.entries[path] = &PropertyChange{Path: path, OldValue: oldValue, NewValue: newValue}
	l.order = append(l.order, path)
}

func (l *changeLedger) changes() PropertyChanges {
	if len(l.order) == 0 {
		return nil
	}

	out := make(PropertyChanges, 0, len(l.order))
	for _, path := range l.order {
		out = append(out, *l.entries[path])
	}

	return out
}
