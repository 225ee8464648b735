// Package dynamoengine implements the storage adapter contract on Amazon
// DynamoDB.
//
// Records live in an entity table keyed by pk (the partition key) and sk
// (the entity id), carrying the serialized record as a payload attribute
// plus its top-level fields as native attributes for indexing. Each save
// batch executes as one TransactWriteItems call putting the entities and
// their change events together, so commits are all-or-nothing. Optimistic
// concurrency uses condition expressions on version and concurrency token;
// transaction cancellation reasons are mapped back to per-member save
// statuses.
package dynamoengine

import (
	"context"
	"encoding/json"
	"errors"
	"strconv"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/google/uuid"
	jsoniter "github.com/json-iterator/go"

	"github.com/corvid-labs/entitystore-go/entitystore"
)

const (
	attrPK               = "pk"
	attrSK               = "sk"
	attrPayload          = "payload"
	attrTypeName         = "typeName"
	attrVersion          = "version"
	attrConcurrencyToken = "concurrencyToken"
	attrIsDeleted        = "isDeleted"
	attrEventID          = "eventId"
	attrEntityID         = "entityId"
	attrSaveAction       = "saveAction"
	attrChanges          = "changes"
	attrContext          = "context"
	attrOccurredAt       = "occurredAt"

	changeSortKeyPrefix = "EVENT#"

	conditionalCheckFailedCode = "ConditionalCheckFailed"

	// DynamoDB caps one transaction at 100 items; each member costs two.
	maxBatchMembers = 50
)

// ErrTooManyBatchMembers is returned when a batch exceeds what one DynamoDB
// transaction can hold.
var ErrTooManyBatchMembers = errors.New("batch exceeds the DynamoDB transaction item limit")

// Client is the subset of the DynamoDB API the engine uses. *dynamodb.Client
// satisfies it.
type Client interface {
	GetItem(ctx context.Context, params *dynamodb.GetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
	Query(ctx context.Context, params *dynamodb.QueryInput, optFns ...func(*dynamodb.Options)) (*dynamodb.QueryOutput, error)
	TransactWriteItems(ctx context.Context, params *dynamodb.TransactWriteItemsInput, optFns ...func(*dynamodb.Options)) (*dynamodb.TransactWriteItemsOutput, error)
}

// codec keeps numeric payload fields as json.Number so they map to native
// DynamoDB number attributes without float64 precision loss.
var codec = jsoniter.Config{
	UseNumber:              true,
	EscapeHTML:             false,
	ValidateJsonRawMessage: true,
}.Froze()

// Engine implements the storage adapter contract for one entity type on
// DynamoDB.
type Engine[T entitystore.Entity] struct {
	client    Client
	config    Config
	newEntity func() T
}

// New creates a new Engine instance.
func New[T entitystore.Entity](client Client, config Config, newEntity func() T) (*Engine[T], error) {
	if client == nil {
		return nil, entitystore.ErrNilDatabaseConnection
	}

	if newEntity == nil {
		return nil, entitystore.ErrNilEntityFactory
	}

	config.validate()

	return &Engine[T]{client: client, config: config, newEntity: newEntity}, nil
}

// ReadItem retrieves one record with a consistent read. Soft-deleted
// records are returned as stored.
func (e *Engine[T]) ReadItem(ctx context.Context, id, partitionKey string) (T, bool, error) {
	var zero T

	result, err := e.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName:      aws.String(e.config.EntityTable),
		Key:            recordKey(id, partitionKey),
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		return zero, false, err
	}

	if result.Item == nil {
		return zero, false, nil
	}

	entity, err := e.decodeItem(result.Item)
	if err != nil {
		return zero, false, err
	}

	return entity, true, nil
}

// Query runs the query against the typeName GSI with soft-deleted records
// filtered server-side; predicates are matched per page while paginating.
func (e *Engine[T]) Query(ctx context.Context, query entitystore.Query) (entitystore.Rows[T], error) {
	input := &dynamodb.QueryInput{
		TableName:              aws.String(e.config.EntityTable),
		IndexName:              aws.String(e.config.TypeNameIndex),
		KeyConditionExpression: aws.String("#tn = :tn"),
		FilterExpression:       aws.String("attribute_not_exists(#del) OR #del = :false"),
		ExpressionAttributeNames: map[string]string{
			"#tn":  attrTypeName,
			"#del": attrIsDeleted,
		},
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":tn":    &types.AttributeValueMemberS{Value: query.TypeName()},
			":false": &types.AttributeValueMemberBOOL{Value: false},
		},
	}

	return &queryRows[T]{
		ctx:       ctx,
		paginator: dynamodb.NewQueryPaginator(e.client, input),
		query:     query,
		decode:    e.decodeItem,
	}, nil
}

// SaveBatch persists the requests and their change events in one
// TransactWriteItems call. A member rejected by its condition expression
// keeps its classified status and marks every other member
// failed-dependency; the transaction leaves no partial state behind.
func (e *Engine[T]) SaveBatch(ctx context.Context, requests []entitystore.SaveRequest[T]) ([]entitystore.SaveOutcome[T], error) {
	if len(requests) > maxBatchMembers {
		return nil, ErrTooManyBatchMembers
	}

	items := make([]types.TransactWriteItem, 0, len(requests)*2)
	persisted := make([]T, len(requests))

	for i, request := range requests {
		copyEntity, item, err := e.buildEntityItem(request.Entity)
		if err != nil {
			return nil, err
		}

		put := &types.Put{
			TableName: aws.String(e.config.EntityTable),
			Item:      item,
		}

		if request.Action == entitystore.ActionCreated {
			put.ConditionExpression = aws.String("attribute_not_exists(#pk)")
			put.ExpressionAttributeNames = map[string]string{"#pk": attrPK}
		} else {
			put.ConditionExpression = aws.String(
				"#v = :ev AND #ct = :tok AND (attribute_not_exists(#del) OR #del = :false)")
			put.ExpressionAttributeNames = map[string]string{
				"#v":   attrVersion,
				"#ct":  attrConcurrencyToken,
				"#del": attrIsDeleted,
			}
			put.ExpressionAttributeValues = map[string]types.AttributeValue{
				":ev":    &types.AttributeValueMemberN{Value: strconv.FormatInt(request.ExpectedVersion, 10)},
				":tok":   &types.AttributeValueMemberS{Value: request.ConcurrencyToken},
				":false": &types.AttributeValueMemberBOOL{Value: false},
			}
		}

		changeItem, err := buildChangeItem(request)
		if err != nil {
			return nil, err
		}

		items = append(items,
			types.TransactWriteItem{Put: put},
			types.TransactWriteItem{Put: &types.Put{
				TableName: aws.String(e.config.ChangeTable),
				Item:      changeItem,
			}},
		)

		persisted[i] = copyEntity
	}

	_, err := e.client.TransactWriteItems(ctx, &dynamodb.TransactWriteItemsInput{TransactItems: items})
	if err != nil {
		return e.mapTransactionError(ctx, err, requests)
	}

	outcomes := make([]entitystore.SaveOutcome[T], len(requests))
	for i := range outcomes {
		outcomes[i] = entitystore.SaveOutcome[T]{Status: entitystore.SaveStatusSuccess, Entity: persisted[i]}
	}

	return outcomes, nil
}

// mapTransactionError converts a cancelled transaction into per-member save
// outcomes. Cancellation reasons come back in transact item order; entity
// puts sit at even indices, so reason index / 2 is the member index.
func (e *Engine[T]) mapTransactionError(
	ctx context.Context,
	err error,
	requests []entitystore.SaveRequest[T],
) ([]entitystore.SaveOutcome[T], error) {

	var txErr *types.TransactionCanceledException
	if !errors.As(err, &txErr) {
		return nil, err
	}

	for i, reason := range txErr.CancellationReasons {
		if reason.Code == nil || *reason.Code != conditionalCheckFailedCode {
			continue
		}

		member := i / 2
		if member >= len(requests) {
			break
		}

		status, classifyErr := e.classifyFailedMember(ctx, requests[member])
		if classifyErr != nil {
			return nil, classifyErr
		}

		outcomes := make([]entitystore.SaveOutcome[T], len(requests))
		for j := range outcomes {
			outcomes[j] = entitystore.SaveOutcome[T]{Status: entitystore.SaveStatusFailedDependency}
		}

		outcomes[member] = entitystore.SaveOutcome[T]{Status: status}

		return outcomes, nil
	}

	return nil, err
}

// classifyFailedMember re-reads the record to decide why the condition
// expression rejected the member.
func (e *Engine[T]) classifyFailedMember(ctx context.Context, request entitystore.SaveRequest[T]) (entitystore.SaveStatus, error) {
	if request.Action == entitystore.ActionCreated {
		return entitystore.SaveStatusConflict, nil
	}

	base := request.Entity.Base()

	result, err := e.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName:      aws.String(e.config.EntityTable),
		Key:            recordKey(base.ID, base.PartitionKey),
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		return 0, err
	}

	if result.Item == nil {
		return entitystore.SaveStatusNotFound, nil
	}

	if deleted, ok := result.Item[attrIsDeleted].(*types.AttributeValueMemberBOOL); ok && deleted.Value {
		return entitystore.SaveStatusNotFound, nil
	}

	if v, ok := result.Item[attrVersion].(*types.AttributeValueMemberN); ok {
		version, parseErr := strconv.ParseInt(v.Value, 10, 64)
		if parseErr == nil && version != request.ExpectedVersion {
			return entitystore.SaveStatusConflict, nil
		}
	}

	return entitystore.SaveStatusPreconditionFailed, nil
}

// buildEntityItem serializes the entity into a detached copy carrying a
// fresh concurrency token and renders it as a DynamoDB item: the record's
// top-level fields as native attributes plus the canonical payload string.
func (e *Engine[T]) buildEntityItem(entity T) (T, map[string]types.AttributeValue, error) {
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

	var fields map[string]any
	if err = codec.Unmarshal(payload, &fields); err != nil {
		return zero, nil, err
	}

	item, err := attributevalue.MarshalMap(fields)
	if err != nil {
		return zero, nil, err
	}

	base := copyEntity.Base()
	item[attrPK] = &types.AttributeValueMemberS{Value: base.PartitionKey}
	item[attrSK] = &types.AttributeValueMemberS{Value: base.ID}
	item[attrPayload] = &types.AttributeValueMemberS{Value: string(payload)}
	// The version condition compares against an N value, so the attribute
	// must be stored as N rather than whatever the payload rendering chose.
	item[attrVersion] = &types.AttributeValueMemberN{Value: strconv.FormatInt(base.Version, 10)}
	if base.IsDeleted != nil {
		item[attrIsDeleted] = &types.AttributeValueMemberBOOL{Value: *base.IsDeleted}
	}

	return copyEntity, item, nil
}

// buildChangeItem renders one change event as a DynamoDB item, keyed under
// the record's partition key so the event commits in the same transaction
// partition as the entity it describes.
func buildChangeItem[T entitystore.Entity](request entitystore.SaveRequest[T]) (map[string]types.AttributeValue, error) {
	base := request.Entity.Base()
	event := request.Event

	changesJSON, err := codec.Marshal(event.Changes)
	if err != nil {
		return nil, err
	}

	contextJSON := event.ContextJSON
	if len(contextJSON) == 0 {
		contextJSON = []byte("{}")
	}

	return map[string]types.AttributeValue{
		attrPK:         &types.AttributeValueMemberS{Value: base.PartitionKey},
		attrSK:         &types.AttributeValueMemberS{Value: changeSortKeyPrefix + event.EventID},
		attrEventID:    &types.AttributeValueMemberS{Value: event.EventID},
		attrEntityID:   &types.AttributeValueMemberS{Value: base.ID},
		attrTypeName:   &types.AttributeValueMemberS{Value: base.TypeName},
		attrSaveAction: &types.AttributeValueMemberS{Value: event.Action.String()},
		attrChanges:    &types.AttributeValueMemberS{Value: string(changesJSON)},
		attrContext:    &types.AttributeValueMemberS{Value: string(contextJSON)},
		attrOccurredAt: &types.AttributeValueMemberS{Value: event.OccurredAt.UTC().Format(time.RFC3339Nano)},
	}, nil
}

func recordKey(id, partitionKey string) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		attrPK: &types.AttributeValueMemberS{Value: partitionKey},
		attrSK: &types.AttributeValueMemberS{Value: id},
	}
}

func (e *Engine[T]) decodeItem(item map[string]types.AttributeValue) (T, error) {
	var zero T

	payload, ok := item[attrPayload].(*types.AttributeValueMemberS)
	if !ok {
		return zero, entitystore.ErrInvalidSnapshotJSON
	}

	return e.decode([]byte(payload.Value))
}

func (e *Engine[T]) decode(payload []byte) (T, error) {
	entity := e.newEntity()
	if err := codec.Unmarshal(payload, entity); err != nil {
		var zero T
		return zero, err
	}

	return entity, nil
}

// queryRows pulls GSI pages on demand and applies the predicate and limit
// rules client-side, comparing predicate values against the string
// rendering of the record's top-level fields.
type queryRows[T entitystore.Entity] struct {
	ctx       context.Context
	paginator *dynamodb.QueryPaginator
	query     entitystore.Query
	decode    func(map[string]types.AttributeValue) (T, error)
	buffer    []T
	current   T
	yielded   uint
	err       error
}

func (r *queryRows[T]) Next() bool {
	if r.err != nil {
		return false
	}

	if r.query.Limit() > 0 && r.yielded == r.query.Limit() {
		return false
	}

	for {
		if err := r.ctx.Err(); err != nil {
			r.err = err
			return false
		}

		if len(r.buffer) > 0 {
			r.current = r.buffer[0]
			r.buffer = r.buffer[1:]
			r.yielded++

			return true
		}

		if !r.paginator.HasMorePages() {
			return false
		}

		page, err := r.paginator.NextPage(r.ctx)
		if err != nil {
			r.err = err
			return false
		}

		for _, raw := range page.Items {
			entity, decodeErr := r.decode(raw)
			if decodeErr != nil {
				r.err = decodeErr
				return false
			}

			match, matchErr := matchesPredicates(entity, r.query)
			if matchErr != nil {
				r.err = matchErr
				return false
			}

			if match {
				r.buffer = append(r.buffer, entity)
			}
		}
	}
}

func (r *queryRows[T]) Item() T {
	return r.current
}

func (r *queryRows[T]) Err() error {
	return r.err
}

func (r *queryRows[T]) Close() error {
	return nil
}

// matchesPredicates applies the query predicates to the record's top-level
// fields.
func matchesPredicates(entity entitystore.Entity, query entitystore.Query) (bool, error) {
	predicates := query.Predicates()
	if len(predicates) == 0 {
		return true, nil
	}

	data, err := codec.Marshal(entity)
	if err != nil {
		return false, err
	}

	var record map[string]any
	if err = codec.Unmarshal(data, &record); err != nil {
		return false, err
	}

	matched := 0
	for _, predicate := range predicates {
		value, ok := record[predicate.Key()]
		if ok && renderValue(value) == predicate.Val() {
			matched++
		}
	}

	if query.AllPredicatesMustMatch() {
		return matched == len(predicates), nil
	}

	return matched > 0, nil
}

func renderValue(value any) string {
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
