package entitystore

import (
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"
)

// The structural diff works on the tree representation produced by
// decodeSnapshotTree. It is a two-stage pipeline: computeEditScript walks
// both trees and emits a minimal edit script, expandEdits decomposes every
// edit into leaf-level property changes, and consolidateChanges merges the
// remove+add pairs that signal array reorders before sorting by path.
//
// Comparison is semantic (value-based), never textual. Array elements are
// matched by position: an insertion or deletion in the middle of an array
// shows up as changes to every subsequent index unless it can be paired
// into a single move.

type editKind int

const (
	editAdd editKind = iota + 1
	editRemove
	editReplace
	editMove
	editCopy
)

// treeEdit is one entry of the edit script. fromPath is only set for move
// and copy edits.
type treeEdit struct {
	kind     editKind
	path     string
	fromPath string
	before   any
	after    any
}

// DiffSnapshots compares two serialized entity snapshots and returns the
// leaf-level property changes between them, sorted by path. Diffing a
// snapshot against itself yields an empty list; swapping the arguments
// swaps old and new values for every path.
func DiffSnapshots(before, after json.RawMessage) (PropertyChanges, error) {
	beforeTree, err := decodeSnapshotTree(before)
	if err != nil {
		return nil, err
	}

	afterTree, err := decodeSnapshotTree(after)
	if err != nil {
		return nil, err
	}

	edits := computeEditScript("", beforeTree, afterTree)

	return consolidateChanges(expandEdits(edits)), nil
}

// computeEditScript recursively compares two trees and emits add, remove,
// replace and move edits. Keys absent on one side become adds/removes,
// matching containers recurse, and everything else is a replace.
func computeEditScript(path string, before, after any) []treeEdit {
	if equalTrees(before, after) {
		return nil
	}

	beforeMap, beforeIsMap := before.(map[string]any)
	afterMap, afterIsMap := after.(map[string]any)
	if beforeIsMap && afterIsMap {
		return diffMaps(path, beforeMap, afterMap)
	}

	beforeArr, beforeIsArr := before.([]any)
	afterArr, afterIsArr := after.([]any)
	if beforeIsArr && afterIsArr {
		return diffArrays(path, beforeArr, afterArr)
	}

	return []treeEdit{{kind: editReplace, path: path, before: before, after: after}}
}

func diffMaps(path string, before, after map[string]any) []treeEdit {
	keys := make([]string, 0, len(before)+len(after))
	for key := range before {
		keys = append(keys, key)
	}
	for key := range after {
		if _, seen := before[key]; !seen {
			keys = append(keys, key)
		}
	}
	sort.Strings(keys)

	var edits []treeEdit

	for _, key := range keys {
		childPath := joinPath(path, key)
		beforeVal, inBefore := before[key]
		afterVal, inAfter := after[key]

		switch {
		case inBefore && !inAfter:
			edits = append(edits, treeEdit{kind: editRemove, path: childPath, before: beforeVal})
		case !inBefore && inAfter:
			edits = append(edits, treeEdit{kind: editAdd, path: childPath, after: afterVal})
		default:
			edits = append(edits, computeEditScript(childPath, beforeVal, afterVal)...)
		}
	}

	return pairMoves(edits)
}

func diffArrays(path string, before, after []any) []treeEdit {
	var edits []treeEdit

	common := len(before)
	if len(after) < common {
		common = len(after)
	}

	for i := 0; i < common; i++ {
		edits = append(edits, computeEditScript(joinPath(path, strconv.Itoa(i)), before[i], after[i])...)
	}

	for i := common; i < len(before); i++ {
		edits = append(edits, treeEdit{kind: editRemove, path: joinPath(path, strconv.Itoa(i)), before: before[i]})
	}

	for i := common; i < len(after); i++ {
		edits = append(edits, treeEdit{kind: editAdd, path: joinPath(path, strconv.Itoa(i)), after: after[i]})
	}

	return edits
}

// pairMoves merges a sibling remove/add pair carrying the same value into a
// single move edit, so a renamed map key is reported as one relocation
// instead of a full delete plus re-create.
func pairMoves(edits []treeEdit) []treeEdit {
	for removeIdx, remove := range edits {
		if remove.kind != editRemove {
			continue
		}

		for addIdx, add := range edits {
			if add.kind != editAdd || !equalTrees(remove.before, add.after) {
				continue
			}

			move := treeEdit{
				kind:     editMove,
				path:     add.path,
				fromPath: remove.path,
				before:   remove.before,
				after:    add.after,
			}

			merged := make([]treeEdit, 0, len(edits)-1)
			for i, e := range edits {
				switch i {
				case removeIdx:
					merged = append(merged, move)
				case addIdx:
					// dropped, folded into the move
				default:
					merged = append(merged, e)
				}
			}

			return pairMoves(merged)
		}
	}

	return edits
}

// expandEdits turns an edit script into leaf-only property changes:
//   - add/remove of a scalar becomes one change with a nil counterpart
//   - add/remove of a container is decomposed into one change per leaf
//   - replace decomposes both sides; matching leaf paths are paired up
//     later by consolidateChanges
//   - move and copy are treated as a remove from the source plus an add at
//     the destination, each independently decomposed
func expandEdits(edits []treeEdit) PropertyChanges {
	var changes PropertyChanges

	appendRemovals := func(path string, value any) {
		decomposeLeaves(path, value, func(leafPath string, leaf any) {
			changes = append(changes, PropertyChange{Path: leafPath, OldValue: leaf})
		})
	}

	appendAdditions := func(path string, value any) {
		decomposeLeaves(path, value, func(leafPath string, leaf any) {
			changes = append(changes, PropertyChange{Path: leafPath, NewValue: leaf})
		})
	}

	for _, edit := range edits {
		switch edit.kind {
		case editAdd:
			appendAdditions(edit.path, edit.after)

		case editRemove:
			appendRemovals(edit.path, edit.before)

		case editReplace:
			if isScalar(edit.before) && isScalar(edit.after) {
				changes = append(changes, PropertyChange{
					Path:     edit.path,
					OldValue: normalizeLeaf(edit.before),
					NewValue: normalizeLeaf(edit.after),
				})

				continue
			}

			appendRemovals(edit.path, edit.before)
			appendAdditions(edit.path, edit.after)

		case editMove, editCopy:
			appendRemovals(edit.fromPath, edit.before)
			appendAdditions(edit.path, edit.after)
		}
	}

	return changes
}

// consolidateChanges groups changes by path and merges each pure-removal /
// pure-addition pair (the signature of an array reorder) into a single
// old/new entry, dropping entries whose merged values turn out equal.
// The result is sorted by path for deterministic comparison.
func consolidateChanges(changes PropertyChanges) PropertyChanges {
	grouped := make(map[string]PropertyChanges)
	var pathOrder []string

	for _, change := range changes {
		if _, seen := grouped[change.Path]; !seen {
			pathOrder = append(pathOrder, change.Path)
		}

		grouped[change.Path] = append(grouped[change.Path], change)
	}

	var out PropertyChanges

	for _, path := range pathOrder {
		entries := grouped[path]

		for len(entries) > 1 {
			removalIdx, additionIdx := findRemovalAdditionPair(entries)
			if removalIdx < 0 {
				break
			}

			merged := PropertyChange{
				Path:     path,
				OldValue: entries[removalIdx].OldValue,
				NewValue: entries[additionIdx].NewValue,
			}

			var remaining PropertyChanges
			for i, entry := range entries {
				if i != removalIdx && i != additionIdx {
					remaining = append(remaining, entry)
				}
			}

			entries = append(remaining, merged)
		}

		for _, entry := range entries {
			if equalTrees(entry.OldValue, entry.NewValue) {
				continue
			}

			out = append(out, entry)
		}
	}

	sort.Slice(out, func(i, j int) bool {
		return out[i].Path < out[j].Path
	})

	return out
}

func findRemovalAdditionPair(entries PropertyChanges) (removalIdx, additionIdx int) {
	removalIdx, additionIdx = -1, -1

	for i, entry := range entries {
		switch {
		case removalIdx < 0 && entry.OldValue != nil && entry.NewValue == nil:
			removalIdx = i
		case additionIdx < 0 && entry.OldValue == nil && entry.NewValue != nil:
			additionIdx = i
		}
	}

	if removalIdx < 0 || additionIdx < 0 {
		return -1, -1
	}

	return removalIdx, additionIdx
}

// decomposeLeaves walks a tree and calls fn for every scalar leaf with its
// full path. A scalar decomposes to itself; empty containers contribute no
// leaves.
func decomposeLeaves(path string, value any, fn func(leafPath string, leaf any)) {
	switch typed := value.(type) {
	case map[string]any:
		keys := make([]string, 0, len(typed))
		for key := range typed {
			keys = append(keys, key)
		}
		sort.Strings(keys)

		for _, key := range keys {
			decomposeLeaves(joinPath(path, key), typed[key], fn)
		}

	case []any:
		for i, element := range typed {
			decomposeLeaves(joinPath(path, strconv.Itoa(i)), element, fn)
		}

	default:
		fn(path, normalizeLeaf(value))
	}
}

func isScalar(value any) bool {
	switch value.(type) {
	case map[string]any, []any:
		return false
	default:
		return true
	}
}

// normalizeLeaf narrows numeric leaves to the narrowest sufficient type:
// integer before floating-point before raw decimal text. Audit records keep
// full precision for integers and for decimals float64 cannot hold.
func normalizeLeaf(value any) any {
	number, ok := value.(json.Number)
	if !ok {
		return value
	}

	if i, err := number.Int64(); err == nil {
		return i
	}

	if f, err := number.Float64(); err == nil {
		return f
	}

	return number
}

// equalTrees is the semantic equality used throughout the diff: numbers
// compare by value regardless of representation, containers compare
// element-wise, everything else compares directly.
func equalTrees(a, b any) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}

	if aMap, ok := a.(map[string]any); ok {
		bMap, ok := b.(map[string]any)
		if !ok || len(aMap) != len(bMap) {
			return false
		}

		for key, aVal := range aMap {
			bVal, exists := bMap[key]
			if !exists || !equalTrees(aVal, bVal) {
				return false
			}
		}

		return true
	}

	if aArr, ok := a.([]any); ok {
		bArr, ok := b.([]any)
		if !ok || len(aArr) != len(bArr) {
			return false
		}

		for i := range aArr {
			if !equalTrees(aArr[i], bArr[i]) {
				return false
			}
		}

		return true
	}

	if isNumeric(a) && isNumeric(b) {
		return equalNumbers(a, b)
	}

	return a == b
}

func isNumeric(value any) bool {
	switch value.(type) {
	case json.Number, int64, float64, int, int32, uint, uint32, uint64, float32:
		return true
	default:
		return false
	}
}

func equalNumbers(a, b any) bool {
	aInt, aIsInt := toInt64(a)
	bInt, bIsInt := toInt64(b)
	if aIsInt && bIsInt {
		return aInt == bInt
	}

	aFloat, aOK := toFloat64(a)
	bFloat, bOK := toFloat64(b)
	if aOK && bOK {
		return aFloat == bFloat
	}

	return fmt.Sprint(a) == fmt.Sprint(b)
}

func toInt64(value any) (int64, bool) {
	switch typed := value.(type) {
	case json.Number:
		i, err := typed.Int64()
		return i, err == nil
	case int64:
		return typed, true
	case int:
		return int64(typed), true
	case int32:
		return int64(typed), true
	case uint32:
		return int64(typed), true
	case uint:
		if typed > uint(1)<<62 {
			return 0, false
		}
		return int64(typed), true
	case uint64:
		if typed > uint64(1)<<62 {
			return 0, false
		}
		return int64(typed), true
	default:
		return 0, false
	}
}

func toFloat64(value any) (float64, bool) {
	switch typed := value.(type) {
	case json.Number:
		f, err := typed.Float64()
		return f, err == nil
	case float64:
		return typed, true
	case float32:
		return float64(typed), true
	default:
		i, ok := toInt64(value)
		return float64(i), ok
	}
}

// equalValues is the semantic equality for arbitrary Go values, used by the
// change ledger where setter values have not gone through a snapshot. Both
// values are round-tripped through the snapshot codec so that structurally
// equal values compare equal regardless of their Go types.
func equalValues(a, b any) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}

	aJSON, aErr := snapshotJSON.Marshal(a)
	bJSON, bErr := snapshotJSON.Marshal(b)
	if aErr != nil || bErr != nil {
		return false
	}

	aTree, aErr := decodeSnapshotTree(aJSON)
	bTree, bErr := decodeSnapshotTree(bJSON)
	if aErr != nil || bErr != nil {
		return false
	}

	return equalTrees(aTree, bTree)
}

// joinPath appends one JSON-Pointer token to a parent path, escaping "~"
// and "/" per RFC 6901.
func joinPath(parent, token string) string {
	token = strings.ReplaceAll(token, "~", "~0")
	token = strings.ReplaceAll(token, "/", "~1")

	return parent + "/" + token
}
