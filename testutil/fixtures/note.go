// Package fixtures contains minimal test entities for engine and provider
// testing.
//
// The Note entity exercises the full property surface: scalar and slice
// properties, a numeric property, and an encrypted property that must stay
// out of audit trails. The Task entity exists to test discriminator
// isolation between providers sharing one backing store.
//
// This is testing infrastructure - not production domain code.
package fixtures

import (
	"encoding/json"
	"time"

	"github.com/corvid-labs/entitystore-go/entitystore"
)

// NoteTypeName is the discriminator for note fixtures.
const NoteTypeName = "note"

// TaskTypeName is the discriminator for task fixtures.
const TaskTypeName = "task"

// Note is the primary test entity.
type Note struct {
	entitystore.ItemBase
	Message  string   `json:"message"`
	Priority int64    `json:"priority"`
	Tags     []string `json:"tags,omitempty"`
	Secret   string   `json:"secret,omitempty"`
}

// NewNote is the entity factory for Note schemas and engines.
func NewNote() *Note {
	return &Note{}
}

// BuildNoteSchema creates the Note schema with /message, /priority, /tags
// and the encrypted /secret property.
func BuildNoteSchema() (*entitystore.Schema[*Note], error) {
	return entitystore.NewSchema(NoteTypeName, NewNote,
		entitystore.Property[*Note]{
			Path: "/message",
			Get:  func(n *Note) any { return n.Message },
			Set:  func(n *Note, v any) { n.Message, _ = v.(string) },
		},
		entitystore.Property[*Note]{
			Path: "/priority",
			Get:  func(n *Note) any { return n.Priority },
			Set:  func(n *Note, v any) { n.Priority = toInt64(v) },
		},
		entitystore.Property[*Note]{
			Path: "/tags",
			Get:  func(n *Note) any { return n.Tags },
			Set:  func(n *Note, v any) { n.Tags, _ = v.([]string) },
		},
		entitystore.Property[*Note]{
			Path:          "/secret",
			Get:           func(n *Note) any { return n.Secret },
			Set:           func(n *Note, v any) { n.Secret, _ = v.(string) },
			EncryptAtRest: true,
		},
	)
}

// MustNoteSchema builds the Note schema or panics. For test setup only.
func MustNoteSchema() *entitystore.Schema[*Note] {
	schema, err := BuildNoteSchema()
	if err != nil {
		panic(err)
	}

	return schema
}

// Task is a second entity type for discriminator isolation tests.
type Task struct {
	entitystore.ItemBase
	Title string `json:"title"`
	Done  bool   `json:"done"`
}

// NewTask is the entity factory for Task schemas and engines.
func NewTask() *Task {
	return &Task{}
}

// MustTaskSchema builds the Task schema or panics. For test setup only.
func MustTaskSchema() *entitystore.Schema[*Task] {
	schema, err := entitystore.NewSchema(TaskTypeName, NewTask,
		entitystore.Property[*Task]{
			Path: "/title",
			Get:  func(t *Task) any { return t.Title },
			Set:  func(t *Task, v any) { t.Title, _ = v.(string) },
		},
		entitystore.Property[*Task]{
			Path: "/done",
			Get:  func(t *Task) any { return t.Done },
			Set:  func(t *Task, v any) { t.Done, _ = v.(bool) },
		},
	)
	if err != nil {
		panic(err)
	}

	return schema
}

// FixedClock returns a clock function frozen at the given instant.
func FixedClock(at time.Time) func() time.Time {
	return func() time.Time { return at }
}

func toInt64(v any) int64 {
	switch n := v.(type) {
	case int64:
		return n
	case int:
		return int64(n)
	case json.Number:
		parsed, _ := n.Int64()
		return parsed
	default:
		return 0
	}
}
