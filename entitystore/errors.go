package entitystore

import (
	"errors"
	"fmt"
)

var (
	// ErrNilAdapter is returned when a provider is constructed without a storage adapter.
	ErrNilAdapter = errors.New("nil storage adapter supplied")

	// ErrNilSchema is returned when a provider or handle is constructed without a schema.
	ErrNilSchema = errors.New("nil schema supplied")

	// ErrNilEntityFactory is returned when a schema is constructed without an entity factory.
	ErrNilEntityFactory = errors.New("nil entity factory supplied")

	// ErrInvalidTypeName is returned for discriminators violating the naming rule:
	// lowercase letters and hyphens only, starting and ending with a letter,
	// minimum two characters.
	ErrInvalidTypeName = errors.New("invalid type name")

	// ErrReservedTypeName is returned when a discriminator collides with a reserved system name.
	ErrReservedTypeName = errors.New("type name is reserved")

	// ErrInvalidProperty is returned when a schema property descriptor is incomplete,
	// duplicated, or addresses an engine-managed path.
	ErrInvalidProperty = errors.New("invalid property descriptor")

	// ErrSchemaAlreadyRegistered is returned when a second schema is registered
	// for the same discriminator.
	ErrSchemaAlreadyRegistered = errors.New("a schema is already registered for this type name")

	// ErrUnsupportedOperation is returned before any I/O when the operation is
	// not enabled by the provider's capability flags.
	ErrUnsupportedOperation = errors.New("operation is not enabled by the provider capabilities")

	// ErrReadOnlyViolation is returned when a mutation is attempted through a sealed handle.
	ErrReadOnlyViolation = errors.New("mutation attempted through a sealed handle")

	// ErrUnknownProperty is returned when a property path is not registered in the entity schema.
	ErrUnknownProperty = errors.New("property is not registered in the entity schema")

	// ErrCommandAlreadySaved is returned when Save or Commit is invoked twice on the same command.
	ErrCommandAlreadySaved = errors.New("command was already saved")

	// ErrMixedPartitionKeys is returned when a batch member does not share the
	// partition key of the first member.
	ErrMixedPartitionKeys = errors.New("batch members must share one partition key")

	// ErrEmptyBatch is returned when an empty batch is committed.
	ErrEmptyBatch = errors.New("batch contains no members")

	// ErrForeignQuery is returned when a query built for another discriminator
	// is executed against this provider.
	ErrForeignQuery = errors.New("query was built for a different type name")

	// ErrInvalidChangeContextJSON is returned when a change event context is not valid JSON.
	ErrInvalidChangeContextJSON = errors.New("change event context json is not valid")

	// ErrInvalidSnapshotJSON is returned when an entity snapshot is not valid JSON.
	ErrInvalidSnapshotJSON = errors.New("entity snapshot json is not valid")

	// ErrReadingEntityFailed wraps adapter failures during single-item reads.
	ErrReadingEntityFailed = errors.New("reading entity failed")

	// ErrQueryingEntitiesFailed wraps adapter failures during query execution.
	ErrQueryingEntitiesFailed = errors.New("querying entities failed")

	// ErrSavingBatchFailed wraps adapter failures during batch persistence.
	ErrSavingBatchFailed = errors.New("saving batch failed")

	// ErrOutcomeLengthMismatch is returned when an adapter violates the
	// same-length/same-order contract of SaveBatch.
	ErrOutcomeLengthMismatch = errors.New("adapter returned wrong number of save outcomes")

	// ErrNilDatabaseConnection is returned when a storage engine is constructed
	// without a database connection.
	ErrNilDatabaseConnection = errors.New("nil database connection supplied")

	// ErrEmptyEntityTableName is returned when an empty entity table name is configured.
	ErrEmptyEntityTableName = errors.New("entity table name must not be empty")

	// ErrEmptyChangeTableName is returned when an empty change table name is configured.
	ErrEmptyChangeTableName = errors.New("change table name must not be empty")

	// ErrBuildingQueryFailed wraps SQL generation failures inside storage engines.
	ErrBuildingQueryFailed = errors.New("building database query failed")

	// ErrScanningDBRowFailed wraps row scan failures inside storage engines.
	ErrScanningDBRowFailed = errors.New("scanning database row failed")

	// ErrBeginningTxFailed wraps transaction start failures inside storage engines.
	ErrBeginningTxFailed = errors.New("beginning database transaction failed")
)

// SaveError is the typed failure raised by Save and Commit when the storage
// adapter reports a non-success outcome. It carries the adapter's status.
type SaveError struct {
	Status SaveStatus
	Err    error
}

func (e *SaveError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("save failed with status %s: %v", e.Status, e.Err)
	}

	return fmt.Sprintf("save failed with status %s", e.Status)
}

func (e *SaveError) Unwrap() error {
	return e.Err
}
