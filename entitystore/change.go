package entitystore

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
	jsoniter "github.com/json-iterator/go"
)

// PropertyChange is one leaf-level field change: a JSON-Pointer-style path
// (e.g. "/address/city", "/tags/0") plus the values before and after.
// A change is only recorded when the values differ; OldValue is nil for
// additions and NewValue is nil for removals.
type PropertyChange struct {
	Path     string `json:"path"`
	OldValue any    `json:"oldValue"`
	NewValue any    `json:"newValue"`
}

// PropertyChanges is an alias type for a slice of PropertyChange.
type PropertyChanges = []PropertyChange

// ChangeEvent is the audit record describing one save. It is constructed
// in-memory during the save, persisted atomically alongside the entity, and
// never mutated afterward.
//
// While its properties are exported, it should only be constructed with the
// supplied factory methods:
//   - BuildChangeEvent
//   - BuildChangeEventWithEmptyContext
type ChangeEvent struct {
	EventID     string          `json:"eventId"`
	Action      SaveAction      `json:"saveAction"`
	Changes     PropertyChanges `json:"changes"`
	ContextJSON json.RawMessage `json:"context"`
	OccurredAt  time.Time       `json:"occurredAt"`
}

// BuildChangeEvent is a factory method for ChangeEvent.
//
// ContextJSON is free-form caller context (caller identity, request id, ...).
// Returns an error if contextJSON is not valid JSON.
func BuildChangeEvent(
	action SaveAction,
	occurredAt time.Time,
	changes PropertyChanges,
	contextJSON []byte,
) (ChangeEvent, error) {

	if !jsoniter.ConfigFastest.Valid(contextJSON) {
		return ChangeEvent{}, ErrInvalidChangeContextJSON
	}

	return ChangeEvent{
		EventID:     uuid.NewString(),
		Action:      action,
		Changes:     changes,
		ContextJSON: contextJSON,
		OccurredAt:  occurredAt,
	}, nil
}

// BuildChangeEventWithEmptyContext is a factory method for ChangeEvent which
// supplies valid empty JSON for ContextJSON.
func BuildChangeEventWithEmptyContext(
	action SaveAction,
	occurredAt time.Time,
	changes PropertyChanges,
) (ChangeEvent, error) {

	return BuildChangeEvent(action, occurredAt, changes, []byte("{}"))
}
