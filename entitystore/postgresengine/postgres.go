package postgresengine

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/doug-martin/goqu/v9"
	_ "github.com/doug-martin/goqu/v9/dialect/postgres" // driver import
	"github.com/doug-martin/goqu/v9/exp"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jmoiron/sqlx"
	jsoniter "github.com/json-iterator/go"

	"github.com/corvid-labs/entitystore-go/entitystore"
	"github.com/corvid-labs/entitystore-go/entitystore/postgresengine/internal/adapters"
)

const (
	defaultEntityTableName     = "entities"
	defaultChangeTableName     = "entity_changes"
	logMsgBuildQueryFailed     = "failed to build sql query"
	logMsgDBQueryFailed        = "database query execution failed"
	logMsgDBExecFailed         = "database execution failed during save"
	logMsgBeginTxFailed        = "failed to begin transaction"
	logMsgRollbackFailed       = "failed to roll back transaction"
	logMsgCloseRowsFailed      = "failed to close database rows"
	logMsgScanRowFailed        = "failed to scan database row"
	logMsgRowsAffectedFailed   = "failed to get rows affected count"
	logMsgBatchSaved           = "entity batch saved"
	logMsgConcurrencyConflict  = "concurrency conflict detected"
	logMsgSQLExecuted          = "executed sql for: "
	logMsgOperation            = "entity engine operation: "
	logAttrError               = "error"
	logAttrQuery               = "query"
	logAttrEntityID            = "entity_id"
	logAttrMemberCount         = "member_count"
	logAttrDurationMS          = "duration_ms"
	logAttrExpectedVersion     = "expected_version"
	logAttrStatus              = "status"
	logActionRead              = "read"
	logActionQuery             = "query"
	logActionSave              = "save"
	colID                      = "id"
	colPartitionKey            = "partition_key"
	colTypeName                = "type_name"
	colVersion                 = "version"
	colConcurrencyToken        = "concurrency_token"
	colIsDeleted               = "is_deleted"
	colUpdatedAt               = "updated_at"
	colPayload                 = "payload"
	colEventID                 = "event_id"
	colEntityID                = "entity_id"
	colSaveAction              = "save_action"
	colChanges                 = "changes"
	colContext                 = "context"
	colOccurredAt              = "occurred_at"
	dialectPostgres            = "postgres"
	castJsonb                  = "?::jsonb"
	payloadContainsExprPattern = `%s @> '{"%s": "%s"}'`
)

type (
	sqlQueryString = string
)

// codec keeps numeric payload fields as json.Number so stored payloads
// round-trip without float64 precision loss.
var codec = jsoniter.Config{
	UseNumber:              true,
	EscapeHTML:             false,
	ValidateJsonRawMessage: true,
}.Froze()

// Engine implements the storage adapter contract for one entity type on
// PostgreSQL. It leverages a database adapter and supports customizable
// logging and table configuration.
type Engine[T entitystore.Entity] struct {
	db        adapters.DBAdapter
	newEntity func() T
	cfg       config
}

// NewEngineFromPGXPool creates an engine using a pgx pool with optional
// configuration.
func NewEngineFromPGXPool[T entitystore.Entity](db *pgxpool.Pool, newEntity func() T, options ...Option) (*Engine[T], error) {
	if db == nil {
		return nil, entitystore.ErrNilDatabaseConnection
	}

	return newEngine(adapters.NewPGXAdapter(db), newEntity, options...)
}

// NewEngineFromSQLDB creates an engine using a sql.DB with optional
// configuration.
func NewEngineFromSQLDB[T entitystore.Entity](db *sql.DB, newEntity func() T, options ...Option) (*Engine[T], error) {
	if db == nil {
		return nil, entitystore.ErrNilDatabaseConnection
	}

	return newEngine(adapters.NewSQLAdapter(db), newEntity, options...)
}

// NewEngineFromSQLX creates an engine using a sqlx.DB with optional
// configuration.
func NewEngineFromSQLX[T entitystore.Entity](db *sqlx.DB, newEntity func() T, options ...Option) (*Engine[T], error) {
	if db == nil {
		return nil, entitystore.ErrNilDatabaseConnection
	}

	return newEngine(adapters.NewSQLXAdapter(db), newEntity, options...)
}

func newEngine[T entitystore.Entity](db adapters.DBAdapter, newEntity func() T, options ...Option) (*Engine[T], error) {
	if newEntity == nil {
		return nil, entitystore.ErrNilEntityFactory
	}

	e := &Engine[T]{
		db:        db,
		newEntity: newEntity,
		cfg: config{
			entityTableName: defaultEntityTableName,
			changeTableName: defaultChangeTableName,
		},
	}

	for _, option := range options {
		if err := option(&e.cfg); err != nil {
			return nil, err
		}
	}

	return e, nil
}

// ReadItem retrieves one record by its key. Soft-deleted records are
// returned as stored.
func (e *Engine[T]) ReadItem(ctx context.Context, id, partitionKey string) (T, bool, error) {
	var zero T

	sqlQuery, buildErr := e.buildReadQuery(id, partitionKey)
	if buildErr != nil {
		return zero, false, buildErr
	}

	start := time.Now()
	rows, queryErr := e.db.Query(ctx, sqlQuery)
	e.logQueryWithDuration(sqlQuery, logActionRead, time.Since(start))

	if queryErr != nil {
		e.logError(logMsgDBQueryFailed, queryErr, logAttrQuery, sqlQuery)

		return zero, false, queryErr
	}
	defer e.closeRows(rows)

	if !rows.Next() {
		if err := rows.Err(); err != nil {
			return zero, false, err
		}

		return zero, false, nil
	}

	var payload []byte
	if scanErr := rows.Scan(&payload); scanErr != nil {
		e.logError(logMsgScanRowFailed, scanErr, logAttrEntityID, id)

		return zero, false, errors.Join(entitystore.ErrScanningDBRowFailed, scanErr)
	}

	entity, decodeErr := e.decode(payload)
	if decodeErr != nil {
		return zero, false, decodeErr
	}

	return entity, true, nil
}

// Query executes a query against the entity table and returns a lazily
// scanned cursor over the payload column.
func (e *Engine[T]) Query(ctx context.Context, query entitystore.Query) (entitystore.Rows[T], error) {
	sqlQuery, buildErr := e.buildSelectQuery(query)
	if buildErr != nil {
		return nil, buildErr
	}

	start := time.Now()
	rows, queryErr := e.db.Query(ctx, sqlQuery)
	e.logQueryWithDuration(sqlQuery, logActionQuery, time.Since(start))

	if queryErr != nil {
		e.logError(logMsgDBQueryFailed, queryErr, logAttrQuery, sqlQuery)

		return nil, queryErr
	}

	return &payloadRows[T]{ctx: ctx, rows: rows, decode: e.decode}, nil
}

// SaveBatch persists the requests and their change events in one
// transaction. Members are applied sequentially; the first failing member
// rolls back everything, keeps its specific status and marks every other
// member failed-dependency.
func (e *Engine[T]) SaveBatch(ctx context.Context, requests []entitystore.SaveRequest[T]) ([]entitystore.SaveOutcome[T], error) {
	tx, beginErr := e.db.BeginTx(ctx)
	if beginErr != nil {
		e.logError(logMsgBeginTxFailed, beginErr)

		return nil, errors.Join(entitystore.ErrBeginningTxFailed, beginErr)
	}
	defer e.rollback(ctx, tx)

	start := time.Now()
	outcomes := make([]entitystore.SaveOutcome[T], len(requests))
	persisted := make([]T, len(requests))

	for i, request := range requests {
		copyEntity, payload, stampErr := e.stamp(request.Entity)
		if stampErr != nil {
			return nil, stampErr
		}

		status, applyErr := e.applyMember(ctx, tx, request, copyEntity, payload)
		if applyErr != nil {
			return nil, applyErr
		}

		if status != entitystore.SaveStatusSuccess {
			e.logOperation(logMsgConcurrencyConflict,
				logAttrEntityID, request.Entity.Base().ID,
				logAttrExpectedVersion, request.ExpectedVersion,
				logAttrStatus, status.String())

			return failBatch(outcomes, i, status), nil
		}

		if insertErr := e.insertChangeEvent(ctx, tx, request); insertErr != nil {
			return nil, insertErr
		}

		persisted[i] = copyEntity
	}

	if commitErr := tx.Commit(ctx); commitErr != nil {
		e.logError(logMsgDBExecFailed, commitErr, logAttrMemberCount, len(requests))

		return nil, commitErr
	}

	for i := range outcomes {
		outcomes[i] = entitystore.SaveOutcome[T]{Status: entitystore.SaveStatusSuccess, Entity: persisted[i]}
	}

	e.logOperation(logMsgBatchSaved,
		logAttrMemberCount, len(requests),
		logAttrDurationMS, durationToMilliseconds(time.Since(start)))

	return outcomes, nil
}

// applyMember writes one member inside the transaction and classifies the
// result. Creates insert with ON CONFLICT DO NOTHING; updates and deletes
// run a conditional UPDATE checking version and concurrency token, with a
// follow-up read to tell not-found, conflict and precondition-failed apart
// when no row was hit.
func (e *Engine[T]) applyMember(
	ctx context.Context,
	tx adapters.DBTx,
	request entitystore.SaveRequest[T],
	copyEntity T,
	payload []byte,
) (entitystore.SaveStatus, error) {

	var sqlQuery sqlQueryString
	var buildErr error

	if request.Action == entitystore.ActionCreated {
		sqlQuery, buildErr = e.buildInsertQuery(copyEntity, payload)
	} else {
		sqlQuery, buildErr = e.buildUpdateQuery(request, copyEntity, payload)
	}

	if buildErr != nil {
		return 0, buildErr
	}

	start := time.Now()
	result, execErr := tx.Exec(ctx, sqlQuery)
	e.logQueryWithDuration(sqlQuery, logActionSave, time.Since(start))

	if execErr != nil {
		e.logError(logMsgDBExecFailed, execErr, logAttrQuery, sqlQuery)

		return 0, execErr
	}

	rowsAffected, rowsAffectedErr := result.RowsAffected()
	if rowsAffectedErr != nil {
		e.logError(logMsgRowsAffectedFailed, rowsAffectedErr)

		return 0, rowsAffectedErr
	}

	if rowsAffected == 1 {
		return entitystore.SaveStatusSuccess, nil
	}

	if request.Action == entitystore.ActionCreated {
		return entitystore.SaveStatusConflict, nil
	}

	return e.classifyMissedUpdate(ctx, tx, request)
}

// classifyMissedUpdate re-reads the record inside the transaction to decide
// why a conditional update hit no row.
func (e *Engine[T]) classifyMissedUpdate(
	ctx context.Context,
	tx adapters.DBTx,
	request entitystore.SaveRequest[T],
) (entitystore.SaveStatus, error) {

	base := request.Entity.Base()

	sqlQuery, buildErr := e.buildClassifyQuery(base.ID, base.PartitionKey)
	if buildErr != nil {
		return 0, buildErr
	}

	rows, queryErr := tx.Query(ctx, sqlQuery)
	if queryErr != nil {
		e.logError(logMsgDBQueryFailed, queryErr, logAttrQuery, sqlQuery)

		return 0, queryErr
	}
	defer e.closeRows(rows)

	if !rows.Next() {
		if err := rows.Err(); err != nil {
			return 0, err
		}

		return entitystore.SaveStatusNotFound, nil
	}

	var version int64
	var token string
	var isDeleted bool
	if scanErr := rows.Scan(&version, &token, &isDeleted); scanErr != nil {
		e.logError(logMsgScanRowFailed, scanErr, logAttrEntityID, base.ID)

		return 0, errors.Join(entitystore.ErrScanningDBRowFailed, scanErr)
	}

	switch {
	case isDeleted:
		return entitystore.SaveStatusNotFound, nil
	case version != request.ExpectedVersion:
		return entitystore.SaveStatusConflict, nil
	default:
		return entitystore.SaveStatusPreconditionFailed, nil
	}
}

func (e *Engine[T]) buildReadQuery(id, partitionKey string) (sqlQueryString, error) {
	selectStmt := goqu.Dialect(dialectPostgres).
		From(e.cfg.entityTableName).
		Select(colPayload).
		Where(goqu.Ex{colPartitionKey: partitionKey, colID: id})

	sqlQuery, _, toSQLErr := selectStmt.ToSQL()
	if toSQLErr != nil {
		e.logError(logMsgBuildQueryFailed, toSQLErr, logAttrEntityID, id)

		return "", errors.Join(entitystore.ErrBuildingQueryFailed, toSQLErr)
	}

	return sqlQuery, nil
}

func (e *Engine[T]) buildSelectQuery(query entitystore.Query) (sqlQueryString, error) {
	selectStmt := goqu.Dialect(dialectPostgres).
		From(e.cfg.entityTableName).
		Select(colPayload).
		Where(
			goqu.Ex{colTypeName: query.TypeName()},
			goqu.C(colIsDeleted).IsNotTrue(),
		).
		Order(goqu.I(colPartitionKey).Asc(), goqu.I(colID).Asc())

	if predicates := query.Predicates(); len(predicates) > 0 {
		predicateExpressions := make([]goqu.Expression, 0, len(predicates))

		for _, predicate := range predicates {
			predicateExpressions = append(
				predicateExpressions,
				goqu.L(fmt.Sprintf(payloadContainsExprPattern, colPayload, predicate.Key(), predicate.Val())),
			)
		}

		var predicatesExpressionList exp.ExpressionList

		if query.AllPredicatesMustMatch() {
			predicatesExpressionList = goqu.And(predicateExpressions...)
		} else {
			predicatesExpressionList = goqu.Or(predicateExpressions...)
		}

		selectStmt = selectStmt.Where(predicatesExpressionList)
	}

	if query.Limit() > 0 {
		selectStmt = selectStmt.Limit(query.Limit())
	}

	sqlQuery, _, toSQLErr := selectStmt.ToSQL()
	if toSQLErr != nil {
		e.logError(logMsgBuildQueryFailed, toSQLErr, logAttrQuery, query.TypeName())

		return "", errors.Join(entitystore.ErrBuildingQueryFailed, toSQLErr)
	}

	return sqlQuery, nil
}

func (e *Engine[T]) buildInsertQuery(copyEntity T, payload []byte) (sqlQueryString, error) {
	base := copyEntity.Base()

	insertStmt := goqu.Dialect(dialectPostgres).
		Insert(e.cfg.entityTableName).
		Rows(goqu.Record{
			colPartitionKey:     base.PartitionKey,
			colID:               base.ID,
			colTypeName:         base.TypeName,
			colVersion:          base.Version,
			colConcurrencyToken: base.ConcurrencyToken,
			colIsDeleted:        false,
			colUpdatedAt:        base.UpdatedAt,
			colPayload:          goqu.L(castJsonb, string(payload)),
		}).
		OnConflict(goqu.DoNothing())

	sqlQuery, _, toSQLErr := insertStmt.ToSQL()
	if toSQLErr != nil {
		e.logError(logMsgBuildQueryFailed, toSQLErr, logAttrEntityID, base.ID)

		return "", errors.Join(entitystore.ErrBuildingQueryFailed, toSQLErr)
	}

	return sqlQuery, nil
}

func (e *Engine[T]) buildUpdateQuery(request entitystore.SaveRequest[T], copyEntity T, payload []byte) (sqlQueryString, error) {
	base := copyEntity.Base()

	updateStmt := goqu.Dialect(dialectPostgres).
		Update(e.cfg.entityTableName).
		Set(goqu.Record{
			colVersion:          base.Version,
			colConcurrencyToken: base.ConcurrencyToken,
			colIsDeleted:        base.Deleted(),
			colUpdatedAt:        base.UpdatedAt,
			colPayload:          goqu.L(castJsonb, string(payload)),
		}).
		Where(
			goqu.Ex{
				colPartitionKey: base.PartitionKey,
				colID:           base.ID,
				colVersion:      request.ExpectedVersion,
			},
			goqu.C(colConcurrencyToken).Eq(request.ConcurrencyToken),
			goqu.C(colIsDeleted).IsNotTrue(),
		)

	sqlQuery, _, toSQLErr := updateStmt.ToSQL()
	if toSQLErr != nil {
		e.logError(logMsgBuildQueryFailed, toSQLErr, logAttrEntityID, base.ID)

		return "", errors.Join(entitystore.ErrBuildingQueryFailed, toSQLErr)
	}

	return sqlQuery, nil
}

func (e *Engine[T]) buildClassifyQuery(id, partitionKey string) (sqlQueryString, error) {
	selectStmt := goqu.Dialect(dialectPostgres).
		From(e.cfg.entityTableName).
		Select(colVersion, colConcurrencyToken, colIsDeleted).
		Where(goqu.Ex{colPartitionKey: partitionKey, colID: id})

	sqlQuery, _, toSQLErr := selectStmt.ToSQL()
	if toSQLErr != nil {
		e.logError(logMsgBuildQueryFailed, toSQLErr, logAttrEntityID, id)

		return "", errors.Join(entitystore.ErrBuildingQueryFailed, toSQLErr)
	}

	return sqlQuery, nil
}

func (e *Engine[T]) insertChangeEvent(ctx context.Context, tx adapters.DBTx, request entitystore.SaveRequest[T]) error {
	base := request.Entity.Base()
	event := request.Event

	changesJSON, marshalErr := codec.Marshal(event.Changes)
	if marshalErr != nil {
		return marshalErr
	}

	contextJSON := event.ContextJSON
	if len(contextJSON) == 0 {
		contextJSON = []byte("{}")
	}

	insertStmt := goqu.Dialect(dialectPostgres).
		Insert(e.cfg.changeTableName).
		Rows(goqu.Record{
			colEventID:      event.EventID,
			colPartitionKey: base.PartitionKey,
			colEntityID:     base.ID,
			colTypeName:     base.TypeName,
			colSaveAction:   event.Action.String(),
			colChanges:      goqu.L(castJsonb, string(changesJSON)),
			colContext:      goqu.L(castJsonb, string(contextJSON)),
			colOccurredAt:   event.OccurredAt,
		})

	sqlQuery, _, toSQLErr := insertStmt.ToSQL()
	if toSQLErr != nil {
		e.logError(logMsgBuildQueryFailed, toSQLErr, logAttrEntityID, base.ID)

		return errors.Join(entitystore.ErrBuildingQueryFailed, toSQLErr)
	}

	if _, execErr := tx.Exec(ctx, sqlQuery); execErr != nil {
		e.logError(logMsgDBExecFailed, execErr, logAttrQuery, sqlQuery)

		return execErr
	}

	return nil
}

// stamp serializes the entity into a detached copy carrying a fresh
// concurrency token. The caller's entity instance is never mutated.
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

	payload, err := codec.Marshal(copyEntity)
	if err != nil {
		return zero, nil, err
	}

	return copyEntity, payload, nil
}

func (e *Engine[T]) decode(payload []byte) (T, error) {
	entity := e.newEntity()
	if err := codec.Unmarshal(payload, entity); err != nil {
		var zero T
		return zero, err
	}

	return entity, nil
}

func (e *Engine[T]) rollback(ctx context.Context, tx adapters.DBTx) {
	if rollbackErr := tx.Rollback(ctx); rollbackErr != nil {
		if e.cfg.logger != nil {
			e.cfg.logger.Warn(logMsgRollbackFailed, logAttrError, rollbackErr.Error())
		}
	}
}

// closeRows safely closes database rows and logs any errors.
func (e *Engine[T]) closeRows(rows adapters.DBRows) {
	if closeErr := rows.Close(); closeErr != nil {
		if e.cfg.logger != nil {
			e.cfg.logger.Warn(logMsgCloseRowsFailed, logAttrError, closeErr.Error())
		}
	}
}

// logQueryWithDuration logs SQL queries with execution time at debug level
// if the logger is configured.
func (e *Engine[T]) logQueryWithDuration(sqlQuery, action string, duration time.Duration) {
	if e.cfg.logger != nil {
		e.cfg.logger.Debug(logMsgSQLExecuted+action, logAttrDurationMS, durationToMilliseconds(duration), logAttrQuery, sqlQuery)
	}
}

// logOperation logs operational information at info level if the logger is
// configured.
func (e *Engine[T]) logOperation(action string, args ...any) {
	if e.cfg.logger != nil {
		e.cfg.logger.Info(logMsgOperation+action, args...)
	}
}

func (e *Engine[T]) logError(msg string, err error, args ...any) {
	if e.cfg.logger != nil {
		e.cfg.logger.Error(msg, append([]any{logAttrError, err.Error()}, args...)...)
	}
}

func failBatch[T entitystore.Entity](outcomes []entitystore.SaveOutcome[T], failedAt int, status entitystore.SaveStatus) []entitystore.SaveOutcome[T] {
	for i := range outcomes {
		outcomes[i] = entitystore.SaveOutcome[T]{Status: entitystore.SaveStatusFailedDependency}
	}

	outcomes[failedAt] = entitystore.SaveOutcome[T]{Status: status}

	return outcomes
}

// durationToMilliseconds converts a time.Duration to float64 milliseconds
// with 3 decimal places.
func durationToMilliseconds(d time.Duration) float64 {
	return math.Round(float64(d.Nanoseconds())/1e6*1000) / 1000
}

// payloadRows adapts database rows scanning one jsonb payload column into
// the cursor contract, decoding lazily and honoring the query context at
// every row.
type payloadRows[T entitystore.Entity] struct {
	ctx     context.Context
	rows    adapters.DBRows
	decode  func([]byte) (T, error)
	current T
	err     error
}

func (r *payloadRows[T]) Next() bool {
	if r.err != nil {
		return false
	}

	if err := r.ctx.Err(); err != nil {
		r.err = err
		return false
	}

	if !r.rows.Next() {
		return false
	}

	var payload []byte
	if err := r.rows.Scan(&payload); err != nil {
		r.err = errors.Join(entitystore.ErrScanningDBRowFailed, err)
		return false
	}

	entity, err := r.decode(payload)
	if err != nil {
		r.err = err
		return false
	}

	r.current = entity

	return true
}

func (r *payloadRows[T]) Item() T {
	return r.current
}

func (r *payloadRows[T]) Err() error {
	if r.err != nil {
		return r.err
	}

	return r.rows.Err()
}

func (r *payloadRows[T]) Close() error {
	return r.rows.Close()
}
