package entitystore_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/corvid-labs/entitystore-go/entitystore"
)

func Test_BuildChangeEvent(t *testing.T) {
	occurredAt := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	changes := entitystore.PropertyChanges{
		{Path: "/message", OldValue: "old", NewValue: "new"},
	}

	event, err := entitystore.BuildChangeEvent(entitystore.ActionUpdated, occurredAt, changes, []byte(`{"actor":"tester"}`))

	require.NoError(t, err)
	assert.NotEmpty(t, event.EventID)
	assert.Equal(t, entitystore.ActionUpdated, event.Action)
	assert.Equal(t, changes, event.Changes)
	assert.Equal(t, occurredAt, event.OccurredAt)
	assert.JSONEq(t, `{"actor":"tester"}`, string(event.ContextJSON))

	second, err := entitystore.BuildChangeEvent(entitystore.ActionUpdated, occurredAt, changes, []byte(`{}`))
	require.NoError(t, err)
	assert.NotEqual(t, event.EventID, second.EventID, "every event gets its own identity")
}

func Test_BuildChangeEvent_RejectsInvalidContext(t *testing.T) {
	_, err := entitystore.BuildChangeEvent(entitystore.ActionCreated, time.Now(), nil, []byte(`{not json`))

	assert.ErrorIs(t, err, entitystore.ErrInvalidChangeContextJSON)
}

func Test_BuildChangeEventWithEmptyContext(t *testing.T) {
	event, err := entitystore.BuildChangeEventWithEmptyContext(entitystore.ActionDeleted, time.Now(), nil)

	require.NoError(t, err)
	assert.JSONEq(t, `{}`, string(event.ContextJSON))
}

func Test_SaveAction_AuditStrings(t *testing.T) {
	assert.Equal(t, "CREATED", entitystore.ActionCreated.String())
	assert.Equal(t, "UPDATED", entitystore.ActionUpdated.String())
	assert.Equal(t, "DELETED", entitystore.ActionDeleted.String())

	assert.False(t, entitystore.ActionCreated.TouchesExistingRecord())
	assert.True(t, entitystore.ActionUpdated.TouchesExistingRecord())
	assert.True(t, entitystore.ActionDeleted.TouchesExistingRecord())

	data, err := entitystore.ActionDeleted.MarshalJSON()
	require.NoError(t, err)
	assert.Equal(t, `"DELETED"`, string(data))

	var action entitystore.SaveAction
	require.NoError(t, action.UnmarshalJSON([]byte(`"UPDATED"`)))
	assert.Equal(t, entitystore.ActionUpdated, action)

	assert.Error(t, action.UnmarshalJSON([]byte(`"RENAMED"`)))
}
