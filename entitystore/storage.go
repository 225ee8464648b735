package entitystore

import "context"

// SaveStatus classifies the outcome of persisting one batch member.
type SaveStatus int

const (
	SaveStatusUnspecified SaveStatus = iota
	SaveStatusSuccess
	SaveStatusNotFound
	SaveStatusConflict
	SaveStatusPreconditionFailed
	SaveStatusFailedDependency
	SaveStatusInternalError
)

func (s SaveStatus) String() string {
	switch s {
	case SaveStatusSuccess:
		return "success"
	case SaveStatusNotFound:
		return "not-found"
	case SaveStatusConflict:
		return "conflict"
	case SaveStatusPreconditionFailed:
		return "precondition-failed"
	case SaveStatusFailedDependency:
		return "failed-dependency"
	case SaveStatusInternalError:
		return "internal-error"
	default:
		return "unspecified"
	}
}

// SaveRequest is one member of a batch handed to an adapter. The entity is
// already stamped (version incremented, timestamps set, deletion flags for
// deletes); ExpectedVersion and ConcurrencyToken carry the values read
// before stamping, which the adapter checks to detect lost updates.
type SaveRequest[T Entity] struct {
	Action           SaveAction
	Entity           T
	ExpectedVersion  int64
	ConcurrencyToken string
	Event            ChangeEvent
}

// SaveOutcome is the per-member result of a batch save. Entity is only set
// on success and carries the persisted state including the adapter-assigned
// concurrency token.
type SaveOutcome[T Entity] struct {
	Status SaveStatus
	Entity T
}

// Rows is the cursor an adapter returns for query execution. Adapters must
// honor the query context at every row or page boundary: a mid-enumeration
// cancellation surfaces through Err and leaves no external side effects
// beyond what was already yielded.
type Rows[T Entity] interface {
	Next() bool
	Item() T
	Err() error
	Close() error
}

// Adapter is the storage contract implemented per backing store.
//
// Adapters must guarantee that one SaveBatch call commits all-or-nothing,
// that members are attempted in a deterministic, fail-fast sequential
// order, and that the returned outcomes match the requests in length and
// order. All members of one call share a partition key; the engine never
// hands a mixed batch to an adapter.
type Adapter[T Entity] interface {
	// ReadItem returns the stored entity, or found=false when no record
	// exists for the key. Soft-deleted records are returned as stored; the
	// provider engine applies the not-found semantics.
	ReadItem(ctx context.Context, id, partitionKey string) (entity T, found bool, err error)

	// Query executes a query pre-filtered to the provider's discriminator
	// and to non-deleted records, returning a lazily evaluated cursor.
	Query(ctx context.Context, query Query) (Rows[T], error)

	// SaveBatch atomically persists the requests and their change events.
	// A failing member keeps its specific status; every other member is
	// marked failed-dependency and all storage effects are rolled back.
	// The error return is reserved for infrastructure failures where no
	// per-member classification exists.
	SaveBatch(ctx context.Context, requests []SaveRequest[T]) ([]SaveOutcome[T], error)
}
