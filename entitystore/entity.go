package entitystore

import (
	"errors"
	"time"
)

var errUnknownSaveAction = errors.New("unknown save action")

// SaveAction identifies the kind of mutation a save persists.
type SaveAction int

const (
	ActionCreated SaveAction = iota + 1
	ActionUpdated
	ActionDeleted
)

const (
	actionCreatedString = "CREATED"
	actionUpdatedString = "UPDATED"
	actionDeletedString = "DELETED"
)

func (a SaveAction) String() string {
	switch a {
	case ActionCreated:
		return actionCreatedString
	case ActionUpdated:
		return actionUpdatedString
	case ActionDeleted:
		return actionDeletedString
	default:
		return "UNKNOWN"
	}
}

// TouchesExistingRecord reports whether the action mutates an already stored
// record. Updates and deletes share versioning and timestamp behavior, so
// callers should branch on this instead of listing both actions.
func (a SaveAction) TouchesExistingRecord() bool {
	return a == ActionUpdated || a == ActionDeleted
}

// MarshalJSON encodes the action as its audit string (CREATED/UPDATED/DELETED).
func (a SaveAction) MarshalJSON() ([]byte, error) {
	return []byte(`"` + a.String() + `"`), nil
}

// UnmarshalJSON decodes the audit string form produced by MarshalJSON.
func (a *SaveAction) UnmarshalJSON(data []byte) error {
	switch string(data) {
	case `"` + actionCreatedString + `"`:
		*a = ActionCreated
	case `"` + actionUpdatedString + `"`:
		*a = ActionUpdated
	case `"` + actionDeletedString + `"`:
		*a = ActionDeleted
	default:
		return errUnknownSaveAction
	}

	return nil
}

// ItemBase carries the managed fields shared by every stored record.
// Concrete entity types embed it and gain the Entity interface through it.
//
// Version is the optimistic-concurrency token: it starts at 1 on create and
// is incremented by exactly one on every update or delete.
// ConcurrencyToken is an opaque engine-assigned value (an ETag equivalent)
// checked on update/delete to detect lost updates.
// IsDeleted is tri-state: absent and false both mean active.
type ItemBase struct {
	ID               string     `json:"id"`
	PartitionKey     string     `json:"partitionKey"`
	TypeName         string     `json:"typeName"`
	Version          int64      `json:"version"`
	ConcurrencyToken string     `json:"concurrencyToken,omitempty"`
	CreatedAt        time.Time  `json:"createdAt"`
	UpdatedAt        time.Time  `json:"updatedAt"`
	DeletedAt        *time.Time `json:"deletedAt,omitempty"`
	IsDeleted        *bool      `json:"isDeleted,omitempty"`
}

// Base returns the managed fields; it makes every embedding type an Entity.
func (b *ItemBase) Base() *ItemBase {
	return b
}

// Deleted reports whether the record is soft-deleted.
func (b *ItemBase) Deleted() bool {
	return b.IsDeleted != nil && *b.IsDeleted
}

// markDeleted stamps the soft-delete flags. The version increment happens at
// save time, not here.
func (b *ItemBase) markDeleted(now time.Time) {
	deleted := true
	b.IsDeleted = &deleted
	b.DeletedAt = &now
	b.UpdatedAt = now
}

// Entity is the base interface for all storable types. It is satisfied by
// embedding ItemBase. Concrete entity types must be pointer types so that
// schema setters and storage engines can populate them.
type Entity interface {
	Base() *ItemBase
}

// managedPropertyPaths are the leaf addresses of the ItemBase fields. They
// are owned by the engine: schemas must not register them and the
// snapshot-diff fallback never reports them as domain changes.
var managedPropertyPaths = map[string]struct{}{
	"/id":               {},
	"/partitionKey":     {},
	"/typeName":         {},
	"/version":          {},
	"/concurrencyToken": {},
	"/createdAt":        {},
	"/updatedAt":        {},
	"/deletedAt":        {},
	"/isDeleted":        {},
}

// IsManagedPropertyPath reports whether path addresses an engine-managed
// ItemBase field (or a descendant of one).
func IsManagedPropertyPath(path string) bool {
	if _, ok := managedPropertyPaths[path]; ok {
		return true
	}

	for managed := range managedPropertyPaths {
		if len(path) > len(managed) && path[:len(managed)] == managed && path[len(managed)] == '/' {
			return true
		}
	}

	return false
}
