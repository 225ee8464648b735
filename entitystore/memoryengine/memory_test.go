package memoryengine_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/corvid-labs/entitystore-go/entitystore"
	"github.com/corvid-labs/entitystore-go/entitystore/memoryengine"
	"github.com/corvid-labs/entitystore-go/testutil/fixtures"
)

func buildNote(id, partitionKey, message string, priority, version int64) *fixtures.Note {
	now := time.Date(2025, 7, 1, 9, 30, 0, 0, time.UTC)

	note := fixtures.NewNote()
	note.ID = id
	note.PartitionKey = partitionKey
	note.TypeName = fixtures.NoteTypeName
	note.Version = version
	note.CreatedAt = now
	note.UpdatedAt = now
	note.Message = message
	note.Priority = priority

	return note
}

func buildRequest(
	t *testing.T,
	action entitystore.SaveAction,
	note *fixtures.Note,
	expectedVersion int64,
	token string,
) entitystore.SaveRequest[*fixtures.Note] {

	t.Helper()

	event, err := entitystore.BuildChangeEventWithEmptyContext(action, time.Now(), nil)
	require.NoError(t, err)

	return entitystore.SaveRequest[*fixtures.Note]{
		Action:           action,
		Entity:           note,
		ExpectedVersion:  expectedVersion,
		ConcurrencyToken: token,
		Event:            event,
	}
}

// seedNote persists one note and returns the stored state with its
// engine-assigned concurrency token.
func seedNote(t *testing.T, engine *memoryengine.Engine[*fixtures.Note], id, partitionKey string) *fixtures.Note {
	t.Helper()

	note := buildNote(id, partitionKey, "seeded", 1, 1)
	outcomes, err := engine.SaveBatch(context.Background(),
		[]entitystore.SaveRequest[*fixtures.Note]{buildRequest(t, entitystore.ActionCreated, note, 0, "")})
	require.NoError(t, err)
	require.Equal(t, entitystore.SaveStatusSuccess, outcomes[0].Status)

	return outcomes[0].Entity
}

func Test_Engine_SaveAssignsAFreshTokenOnADetachedCopy(t *testing.T) {
	engine := memoryengine.New(fixtures.NewNote)
	note := buildNote("n1", "p1", "note", 1, 1)

	outcomes, err := engine.SaveBatch(context.Background(),
		[]entitystore.SaveRequest[*fixtures.Note]{buildRequest(t, entitystore.ActionCreated, note, 0, "")})

	require.NoError(t, err)
	require.Len(t, outcomes, 1)
	assert.Equal(t, entitystore.SaveStatusSuccess, outcomes[0].Status)
	assert.NotEmpty(t, outcomes[0].Entity.ConcurrencyToken)
	assert.Empty(t, note.ConcurrencyToken, "the caller's instance is never mutated")
	assert.NotSame(t, note, outcomes[0].Entity)
}

func Test_Engine_ReadItem(t *testing.T) {
	engine := memoryengine.New(fixtures.NewNote)
	stored := seedNote(t, engine, "n1", "p1")

	read, found, err := engine.ReadItem(context.Background(), "n1", "p1")
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, "seeded", read.Message)
	assert.Equal(t, stored.ConcurrencyToken, read.ConcurrencyToken)
	assert.NotSame(t, stored, read, "every read yields a fresh instance")

	_, found, err = engine.ReadItem(context.Background(), "absent", "p1")
	require.NoError(t, err)
	assert.False(t, found)
}

func Test_Engine_SaveStatusTaxonomy(t *testing.T) {
	tests := []struct {
		name    string
		prepare func(t *testing.T, engine *memoryengine.Engine[*fixtures.Note]) entitystore.SaveRequest[*fixtures.Note]
		want    entitystore.SaveStatus
	}{
		{
			name: "create_over_existing_record_conflicts",
			prepare: func(t *testing.T, engine *memoryengine.Engine[*fixtures.Note]) entitystore.SaveRequest[*fixtures.Note] {
				seedNote(t, engine, "n1", "p1")
				return buildRequest(t, entitystore.ActionCreated, buildNote("n1", "p1", "dupe", 1, 1), 0, "")
			},
			want: entitystore.SaveStatusConflict,
		},
		{
			name: "update_of_absent_record_is_not_found",
			prepare: func(t *testing.T, engine *memoryengine.Engine[*fixtures.Note]) entitystore.SaveRequest[*fixtures.Note] {
				return buildRequest(t, entitystore.ActionUpdated, buildNote("ghost", "p1", "x", 1, 2), 1, "tok")
			},
			want: entitystore.SaveStatusNotFound,
		},
		{
			name: "update_of_soft_deleted_record_is_not_found",
			prepare: func(t *testing.T, engine *memoryengine.Engine[*fixtures.Note]) entitystore.SaveRequest[*fixtures.Note] {
				stored := seedNote(t, engine, "n1", "p1")

				deleted := buildNote("n1", "p1", "seeded", 1, 2)
				isDeleted := true
				deleted.IsDeleted = &isDeleted
				now := time.Now().UTC()
				deleted.DeletedAt = &now

				outcomes, err := engine.SaveBatch(context.Background(),
					[]entitystore.SaveRequest[*fixtures.Note]{
						buildRequest(t, entitystore.ActionDeleted, deleted, 1, stored.ConcurrencyToken),
					})
				require.NoError(t, err)
				require.Equal(t, entitystore.SaveStatusSuccess, outcomes[0].Status)

				return buildRequest(t, entitystore.ActionUpdated, buildNote("n1", "p1", "revive", 1, 3), 2, outcomes[0].Entity.ConcurrencyToken)
			},
			want: entitystore.SaveStatusNotFound,
		},
		{
			name: "version_mismatch_conflicts",
			prepare: func(t *testing.T, engine *memoryengine.Engine[*fixtures.Note]) entitystore.SaveRequest[*fixtures.Note] {
				stored := seedNote(t, engine, "n1", "p1")
				return buildRequest(t, entitystore.ActionUpdated, buildNote("n1", "p1", "x", 1, 10), 9, stored.ConcurrencyToken)
			},
			want: entitystore.SaveStatusConflict,
		},
		{
			name: "token_mismatch_fails_the_precondition",
			prepare: func(t *testing.T, engine *memoryengine.Engine[*fixtures.Note]) entitystore.SaveRequest[*fixtures.Note] {
				seedNote(t, engine, "n1", "p1")
				return buildRequest(t, entitystore.ActionUpdated, buildNote("n1", "p1", "x", 1, 2), 1, "wrong-token")
			},
			want: entitystore.SaveStatusPreconditionFailed,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			engine := memoryengine.New(fixtures.NewNote)
			request := tt.prepare(t, engine)

			outcomes, err := engine.SaveBatch(context.Background(),
				[]entitystore.SaveRequest[*fixtures.Note]{request})

			require.NoError(t, err)
			require.Len(t, outcomes, 1)
			assert.Equal(t, tt.want, outcomes[0].Status)
		})
	}
}

func Test_Engine_FailedBatchRollsBackCompletely(t *testing.T) {
	backing := memoryengine.NewBacking()
	engine := memoryengine.NewWithBacking(backing, fixtures.NewNote)
	seedNote(t, engine, "n1", "p1")

	recordsBefore := backing.Len()
	changesBefore := len(backing.Changes())

	requests := []entitystore.SaveRequest[*fixtures.Note]{
		buildRequest(t, entitystore.ActionCreated, buildNote("n2", "p1", "new", 1, 1), 0, ""),
		buildRequest(t, entitystore.ActionUpdated, buildNote("n1", "p1", "stale", 1, 10), 9, "whatever"),
		buildRequest(t, entitystore.ActionCreated, buildNote("n3", "p1", "new", 1, 1), 0, ""),
	}

	outcomes, err := engine.SaveBatch(context.Background(), requests)

	require.NoError(t, err)
	require.Len(t, outcomes, 3)
	assert.Equal(t, entitystore.SaveStatusFailedDependency, outcomes[0].Status)
	assert.Equal(t, entitystore.SaveStatusConflict, outcomes[1].Status)
	assert.Equal(t, entitystore.SaveStatusFailedDependency, outcomes[2].Status)

	assert.Equal(t, recordsBefore, backing.Len(), "no member of a failed batch is stored")
	assert.Len(t, backing.Changes(), changesBefore)

	_, found, err := engine.ReadItem(context.Background(), "n2", "p1")
	require.NoError(t, err)
	assert.False(t, found)
}

func Test_Engine_BatchSeesItsOwnStagedWrites(t *testing.T) {
	engine := memoryengine.New(fixtures.NewNote)

	// A create followed by a create of the same key in one batch must
	// conflict against the staged state, not the empty store.
	requests := []entitystore.SaveRequest[*fixtures.Note]{
		buildRequest(t, entitystore.ActionCreated, buildNote("n1", "p1", "first", 1, 1), 0, ""),
		buildRequest(t, entitystore.ActionCreated, buildNote("n1", "p1", "second", 1, 1), 0, ""),
	}

	outcomes, err := engine.SaveBatch(context.Background(), requests)

	require.NoError(t, err)
	assert.Equal(t, entitystore.SaveStatusFailedDependency, outcomes[0].Status)
	assert.Equal(t, entitystore.SaveStatusConflict, outcomes[1].Status)
}

func Test_Engine_QueryMatching(t *testing.T) {
	engine := memoryengine.New(fixtures.NewNote)

	for _, seed := range []struct {
		id       string
		message  string
		priority int64
	}{
		{"n1", "alpha", 1},
		{"n2", "beta", 2},
		{"n3", "beta", 3},
	} {
		note := buildNote(seed.id, "p1", seed.message, seed.priority, 1)
		outcomes, err := engine.SaveBatch(context.Background(),
			[]entitystore.SaveRequest[*fixtures.Note]{buildRequest(t, entitystore.ActionCreated, note, 0, "")})
		require.NoError(t, err)
		require.Equal(t, entitystore.SaveStatusSuccess, outcomes[0].Status)
	}

	collect := func(query entitystore.Query) []string {
		rows, err := engine.Query(context.Background(), query)
		require.NoError(t, err)
		defer func() { _ = rows.Close() }()

		var ids []string
		for rows.Next() {
			ids = append(ids, rows.Item().ID)
		}
		require.NoError(t, rows.Err())

		return ids
	}

	all := collect(entitystore.BuildEntityQuery(fixtures.NoteTypeName).Finalize())
	assert.Len(t, all, 3)

	betas := collect(entitystore.BuildEntityQuery(fixtures.NoteTypeName).
		AnyPredicateOf(entitystore.P("message", "beta")).Finalize())
	assert.Len(t, betas, 2)

	exact := collect(entitystore.BuildEntityQuery(fixtures.NoteTypeName).
		AllPredicatesOf(entitystore.P("message", "beta"), entitystore.P("priority", "3")).Finalize())
	assert.Equal(t, []string{"n3"}, exact)

	foreign := collect(entitystore.BuildEntityQuery(fixtures.TaskTypeName).Finalize())
	assert.Empty(t, foreign, "the discriminator always applies")

	limited := collect(entitystore.BuildEntityQuery(fixtures.NoteTypeName).WithLimit(2).Finalize())
	assert.Len(t, limited, 2)
}

func Test_Engine_QueryHonorsContextCancellation(t *testing.T) {
	engine := memoryengine.New(fixtures.NewNote)
	seedNote(t, engine, "n1", "p1")

	ctx, cancel := context.WithCancel(context.Background())

	rows, err := engine.Query(ctx, entitystore.BuildEntityQuery(fixtures.NoteTypeName).Finalize())
	require.NoError(t, err)
	defer func() { _ = rows.Close() }()

	cancel()

	assert.False(t, rows.Next())
	assert.ErrorIs(t, rows.Err(), context.Canceled)

	_, err = engine.Query(ctx, entitystore.BuildEntityQuery(fixtures.NoteTypeName).Finalize())
	assert.ErrorIs(t, err, context.Canceled)
}
