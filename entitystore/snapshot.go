package entitystore

import (
	"encoding/json"
	"errors"

	jsoniter "github.com/json-iterator/go"
)

// snapshotJSON is the codec for entity snapshots. UseNumber keeps numeric
// leaves as their decimal text so the diff engine can pick the narrowest
// sufficient numeric type instead of forcing everything through float64.
// SortMapKeys makes snapshots byte-deterministic for a given entity state.
var snapshotJSON = jsoniter.Config{
	UseNumber:              true,
	SortMapKeys:            true,
	EscapeHTML:             false,
	ValidateJsonRawMessage: true,
}.Froze()

// SnapshotEntity serializes an entity into its canonical JSON snapshot, the
// input format of DiffSnapshots.
func SnapshotEntity(entity Entity) (json.RawMessage, error) {
	data, err := snapshotJSON.Marshal(entity)
	if err != nil {
		return nil, errors.Join(ErrInvalidSnapshotJSON, err)
	}

	return data, nil
}

// decodeSnapshotTree parses a snapshot into the internal tree representation
// the diff engine works on: map[string]any, []any, string, json.Number,
// bool, or nil.
func decodeSnapshotTree(data json.RawMessage) (any, error) {
	if !snapshotJSON.Valid(data) {
		return nil, ErrInvalidSnapshotJSON
	}

	var tree any
	if err := snapshotJSON.Unmarshal(data, &tree); err != nil {
		return nil, errors.Join(ErrInvalidSnapshotJSON, err)
	}

	return tree, nil
}
