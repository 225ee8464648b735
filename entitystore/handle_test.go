package entitystore_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/corvid-labs/entitystore-go/entitystore"
	"github.com/corvid-labs/entitystore-go/testutil/fixtures"
)

func newDraftNoteHandle(t *testing.T) *entitystore.Handle[*fixtures.Note] {
	t.Helper()

	handle, err := entitystore.NewHandle(fixtures.NewNote(), fixtures.MustNoteSchema(), entitystore.StateDraft)
	require.NoError(t, err)

	return handle
}

func Test_Handle_TracksPropertySets(t *testing.T) {
	handle := newDraftNoteHandle(t)

	require.NoError(t, handle.SetProperty("/message", "hello"))
	require.NoError(t, handle.SetProperty("/priority", int64(3)))

	value, err := handle.GetProperty("/message")
	require.NoError(t, err)
	assert.Equal(t, "hello", value)

	changes := handle.Changes()
	require.Len(t, changes, 2)
	assert.Equal(t, entitystore.PropertyChange{Path: "/message", OldValue: "", NewValue: "hello"}, changes[0])
	assert.Equal(t, entitystore.PropertyChange{Path: "/priority", OldValue: int64(0), NewValue: int64(3)}, changes[1])
}

func Test_Handle_CoalescesRepeatedSets(t *testing.T) {
	handle := newDraftNoteHandle(t)

	require.NoError(t, handle.SetProperty("/message", "first"))
	require.NoError(t, handle.SetProperty("/message", "second"))

	changes := handle.Changes()
	require.Len(t, changes, 1)
	assert.Equal(t, "", changes[0].OldValue, "old value stays the original")
	assert.Equal(t, "second", changes[0].NewValue)
}

func Test_Handle_NetZeroChangeDisappears(t *testing.T) {
	handle := newDraftNoteHandle(t)

	require.NoError(t, handle.SetProperty("/message", "temporary"))
	require.NoError(t, handle.SetProperty("/message", ""))

	assert.Empty(t, handle.Changes(), "a property returned to its original value is no change")

	// Setting a property to its current value is never recorded.
	require.NoError(t, handle.SetProperty("/priority", int64(0)))
	assert.Empty(t, handle.Changes())
}

func Test_Handle_EncryptedPropertyStaysOutOfTheLedger(t *testing.T) {
	handle := newDraftNoteHandle(t)

	require.NoError(t, handle.SetProperty("/secret", "hunter2"))

	value, err := handle.GetProperty("/secret")
	require.NoError(t, err)
	assert.Equal(t, "hunter2", value, "encrypted properties stay settable and readable")
	assert.Empty(t, handle.Changes(), "plaintext must never reach the audit trail")
}

func Test_Handle_UnknownPropertyIsRejected(t *testing.T) {
	handle := newDraftNoteHandle(t)

	err := handle.SetProperty("/nonexistent", "x")
	assert.ErrorIs(t, err, entitystore.ErrUnknownProperty)

	_, err = handle.GetProperty("/nonexistent")
	assert.ErrorIs(t, err, entitystore.ErrUnknownProperty)
}

func Test_Handle_SealedGating(t *testing.T) {
	handle := newDraftNoteHandle(t)
	require.NoError(t, handle.SetProperty("/message", "before sealing"))

	assert.Equal(t, entitystore.StateDraft, handle.State())
	handle.Seal()
	assert.Equal(t, entitystore.StateSealed, handle.State())

	err := handle.SetProperty("/message", "after sealing")
	assert.ErrorIs(t, err, entitystore.ErrReadOnlyViolation)

	_, err = handle.Call("touch", func(e entitystore.Entity) any { return nil })
	assert.ErrorIs(t, err, entitystore.ErrReadOnlyViolation, "pass-through calls count as mutations")

	value, getErr := handle.GetProperty("/message")
	require.NoError(t, getErr, "reads stay available on a sealed handle")
	assert.Equal(t, "before sealing", value)

	changes := handle.Changes()
	require.Len(t, changes, 1, "sealing preserves the accumulated ledger")
}

func Test_Handle_CallForwardsUntracked(t *testing.T) {
	handle := newDraftNoteHandle(t)

	result, err := handle.Call("annotate", func(e entitystore.Entity) any {
		note := e.(*fixtures.Note)
		note.Tags = append(note.Tags, "via-call")

		return len(note.Tags)
	})

	require.NoError(t, err)
	assert.Equal(t, 1, result)
	assert.Empty(t, handle.Changes(), "calls bypass the ledger; the snapshot diff catches them at save time")
}

func Test_HandleState_String(t *testing.T) {
	assert.Equal(t, "draft", entitystore.StateDraft.String())
	assert.Equal(t, "sealed", entitystore.StateSealed.String())
}
