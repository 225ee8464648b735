package entitystore

import (
	"slices"
	"strings"
)

type QueryKeyString = string
type QueryValString = string

// QueryPredicate is one key/value condition on an entity's serialized
// payload. Keys address top-level fields; values compare as strings.
type QueryPredicate struct {
	key QueryKeyString
	val QueryValString
}

// P constructs a QueryPredicate.
func P(key QueryKeyString, val QueryValString) QueryPredicate {
	return QueryPredicate{key: key, val: val}
}

func (p QueryPredicate) Key() QueryKeyString {
	return p.key
}

func (p QueryPredicate) Val() QueryValString {
	return p.val
}

// Query is the criteria handed to an adapter. It is always bound to one
// discriminator and always excludes soft-deleted records; predicates and
// the limit narrow it further.
type Query struct {
	typeName               string
	predicates             []QueryPredicate
	allPredicatesMustMatch bool
	limit                  uint
}

func (q Query) TypeName() string {
	return q.typeName
}

func (q Query) Predicates() []QueryPredicate {
	return q.predicates
}

func (q Query) AllPredicatesMustMatch() bool {
	return q.allPredicatesMustMatch
}

// Limit returns the maximum number of records to yield, 0 meaning no limit.
func (q Query) Limit() uint {
	return q.limit
}

// EntityQueryBuilder builds a Query for one discriminator. It only allows
// the combinations the adapters share: optional predicates (any-of or
// all-of) and an optional limit.
type EntityQueryBuilder interface {
	// AnyPredicateOf adds one or multiple predicates of which ANY must match.
	//
	// It sanitizes the input:
	//	- removing empty/partial predicates (key or val is "")
	//	- sorting the predicates
	//	- removing duplicate predicates
	AnyPredicateOf(predicate QueryPredicate, predicates ...QueryPredicate) CompletedEntityQueryBuilder

	// AllPredicatesOf adds one or multiple predicates of which ALL must match.
	// Input is sanitized the same way as for AnyPredicateOf.
	AllPredicatesOf(predicate QueryPredicate, predicates ...QueryPredicate) CompletedEntityQueryBuilder

	// WithLimit caps the number of yielded records.
	WithLimit(limit uint) EntityQueryBuilder

	// Finalize returns the Query.
	Finalize() Query
}

// CompletedEntityQueryBuilder finalizes a query whose predicates are set.
type CompletedEntityQueryBuilder interface {
	WithLimit(limit uint) CompletedEntityQueryBuilder
	Finalize() Query
}

type entityQueryBuilder struct {
	query Query
}

// BuildEntityQuery creates an EntityQueryBuilder bound to the given
// discriminator, which must eventually be finalized with Finalize().
// Providers pre-seed the discriminator via Provider.Query.
func BuildEntityQuery(typeName string) EntityQueryBuilder {
	return entityQueryBuilder{query: Query{typeName: typeName}}
}

func (b entityQueryBuilder) AnyPredicateOf(
	predicate QueryPredicate,
	predicates ...QueryPredicate,
) CompletedEntityQueryBuilder {

	b.query.predicates = sanitizePredicates(predicate, predicates...)
	b.query.allPredicatesMustMatch = false

	return completedEntityQueryBuilder{query: b.query}
}

func (b entityQueryBuilder) AllPredicatesOf(
	predicate QueryPredicate,
	predicates ...QueryPredicate,
) CompletedEntityQueryBuilder {

	b.query.predicates = sanitizePredicates(predicate, predicates...)
	b.query.allPredicatesMustMatch = true

	return completedEntityQueryBuilder{query: b.query}
}

func (b entityQueryBuilder) WithLimit(limit uint) EntityQueryBuilder {
	b.query.limit = limit

	return b
}

func (b entityQueryBuilder) Finalize() Query {
	return b.query
}

// completedEntityQueryBuilder carries the same state behind the narrower
// staged interface once predicates are set.
type completedEntityQueryBuilder struct {
	query Query
}

func (b completedEntityQueryBuilder) WithLimit(limit uint) CompletedEntityQueryBuilder {
	b.query.limit = limit

	return b
}

func (b completedEntityQueryBuilder) Finalize() Query {
	return b.query
}

func sanitizePredicates(predicate QueryPredicate, predicates ...QueryPredicate) []QueryPredicate {
	all := append([]QueryPredicate{predicate}, predicates...)

	sanitized := make([]QueryPredicate, 0, len(all))
	for _, p := range all {
		if p.key == "" || p.val == "" {
			continue
		}

		sanitized = append(sanitized, p)
	}

	slices.SortFunc(sanitized, func(a, b QueryPredicate) int {
		if c := strings.Compare(a.key, b.key); c != 0 {
			return c
		}

		return strings.Compare(a.val, b.val)
	})

	return slices.Compact(sanitized)
}
