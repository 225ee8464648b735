package entitystore

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func Test_ExpandEdits_MoveAndCopy(t *testing.T) {
	move := treeEdit{
		kind:     editMove,
		path:     "/after",
		fromPath: "/before",
		before:   map[string]any{"v": json.Number("7")},
		after:    map[string]any{"v": json.Number("7")},
	}

	changes := expandEdits([]treeEdit{move})

	require.Len(t, changes, 2)
	assert.Equal(t, PropertyChange{Path: "/before/v", OldValue: int64(7)}, changes[0])
	assert.Equal(t, PropertyChange{Path: "/after/v", NewValue: int64(7)}, changes[1])

	cp := treeEdit{kind: editCopy, path: "/copy", fromPath: "/src", before: "x", after: "x"}

	changes = expandEdits([]treeEdit{cp})

	require.Len(t, changes, 2)
	assert.Equal(t, PropertyChange{Path: "/src", OldValue: "x"}, changes[0])
	assert.Equal(t, PropertyChange{Path: "/copy", NewValue: "x"}, changes[1])
}

func Test_PairMoves_MergesMatchingRemoveAddPair(t *testing.T) {
	edits := []treeEdit{
		{kind: editRemove, path: "/old", before: json.Number("3")},
		{kind: editAdd, path: "/new", after: json.Number("3")},
		{kind: editAdd, path: "/other", after: "unrelated"},
	}

	paired := pairMoves(edits)

	require.Len(t, paired, 2)
	assert.Equal(t, editMove, paired[0].kind)
	assert.Equal(t, "/new", paired[0].path)
	assert.Equal(t, "/old", paired[0].fromPath)
	assert.Equal(t, editAdd, paired[1].kind)
}

func Test_PairMoves_LeavesUnmatchedEditsAlone(t *testing.T) {
	edits := []treeEdit{
		{kind: editRemove, path: "/old", before: "a"},
		{kind: editAdd, path: "/new", after: "b"},
	}

	assert.Equal(t, edits, pairMoves(edits))
}

func Test_NormalizeLeaf(t *testing.T) {
	assert.Equal(t, int64(42), normalizeLeaf(json.Number("42")))
	assert.Equal(t, float64(2.5), normalizeLeaf(json.Number("2.5")))
	assert.Equal(t, "text", normalizeLeaf("text"))
	assert.Nil(t, normalizeLeaf(nil))

	// Beyond float64 range the raw decimal text is kept.
	huge := json.Number("1e999")
	assert.Equal(t, huge, normalizeLeaf(huge))
}

func Test_EqualValues_ComparesStructurally(t *testing.T) {
	assert.True(t, equalValues([]string{"a", "b"}, []any{"a", "b"}))
	assert.True(t, equalValues(int64(3), json.Number("3")))
	assert.True(t, equalValues(nil, nil))
	assert.False(t, equalValues(nil, "x"))
	assert.False(t, equalValues([]string{"a"}, []string{"a", "b"}))
}
