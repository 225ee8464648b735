package entitystore_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/corvid-labs/entitystore-go/entitystore"
	"github.com/corvid-labs/entitystore-go/testutil/fixtures"
)

func Test_NewSchema_BuildsPropertyTable(t *testing.T) {
	schema, err := fixtures.BuildNoteSchema()

	require.NoError(t, err)
	assert.Equal(t, fixtures.NoteTypeName, schema.TypeName())
	assert.Equal(t, []string{"/message", "/priority", "/tags", "/secret"}, schema.PropertyPaths())

	prop, ok := schema.Property("/message")
	require.True(t, ok)
	assert.False(t, prop.EncryptAtRest)

	secret, ok := schema.Property("/secret")
	require.True(t, ok)
	assert.True(t, secret.EncryptAtRest)

	_, ok = schema.Property("/unknown")
	assert.False(t, ok)
}

func Test_NewSchema_RejectsInvalidDefinitions(t *testing.T) {
	get := func(n *fixtures.Note) any { return n.Message }
	set := func(n *fixtures.Note, v any) { n.Message, _ = v.(string) }

	tests := []struct {
		name       string
		typeName   string
		factory    func() *fixtures.Note
		properties []entitystore.Property[*fixtures.Note]
		wantErr    error
	}{
		{
			name:     "invalid_type_name",
			typeName: "Not-Valid",
			factory:  fixtures.NewNote,
			wantErr:  entitystore.ErrInvalidTypeName,
		},
		{
			name:     "reserved_type_name",
			typeName: "schema",
			factory:  fixtures.NewNote,
			wantErr:  entitystore.ErrReservedTypeName,
		},
		{
			name:     "nil_factory",
			typeName: "note",
			factory:  nil,
			wantErr:  entitystore.ErrNilEntityFactory,
		},
		{
			name:     "path_without_leading_slash",
			typeName: "note",
			factory:  fixtures.NewNote,
			properties: []entitystore.Property[*fixtures.Note]{
				{Path: "message", Get: get, Set: set},
			},
			wantErr: entitystore.ErrInvalidProperty,
		},
		{
			name:     "missing_setter",
			typeName: "note",
			factory:  fixtures.NewNote,
			properties: []entitystore.Property[*fixtures.Note]{
				{Path: "/message", Get: get},
			},
			wantErr: entitystore.ErrInvalidProperty,
		},
		{
			name:     "engine_managed_path",
			typeName: "note",
			factory:  fixtures.NewNote,
			properties: []entitystore.Property[*fixtures.Note]{
				{Path: "/version", Get: get, Set: set},
			},
			wantErr: entitystore.ErrInvalidProperty,
		},
		{
			name:     "duplicate_path",
			typeName: "note",
			factory:  fixtures.NewNote,
			properties: []entitystore.Property[*fixtures.Note]{
				{Path: "/message", Get: get, Set: set},
				{Path: "/message", Get: get, Set: set},
			},
			wantErr: entitystore.ErrInvalidProperty,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := entitystore.NewSchema(tt.typeName, tt.factory, tt.properties...)
			assert.ErrorIs(t, err, tt.wantErr)
		})
	}
}

func Test_SchemaRegistry_RoundTrip(t *testing.T) {
	schema, err := entitystore.NewSchema("registry-note", fixtures.NewNote,
		entitystore.Property[*fixtures.Note]{
			Path: "/message",
			Get:  func(n *fixtures.Note) any { return n.Message },
			Set:  func(n *fixtures.Note, v any) { n.Message, _ = v.(string) },
		},
	)
	require.NoError(t, err)

	require.NoError(t, entitystore.RegisterSchema(schema))

	registered, ok := entitystore.RegisteredSchema[*fixtures.Note]("registry-note")
	require.True(t, ok)
	assert.Same(t, schema, registered)

	err = entitystore.RegisterSchema(schema)
	assert.ErrorIs(t, err, entitystore.ErrSchemaAlreadyRegistered)

	_, ok = entitystore.RegisteredSchema[*fixtures.Note]("never-registered")
	assert.False(t, ok)

	// Same discriminator, different entity type parameter.
	_, ok = entitystore.RegisteredSchema[*fixtures.Task]("registry-note")
	assert.False(t, ok)
}

func Test_IsManagedPropertyPath(t *testing.T) {
	assert.True(t, entitystore.IsManagedPropertyPath("/version"))
	assert.True(t, entitystore.IsManagedPropertyPath("/createdAt"))
	assert.False(t, entitystore.IsManagedPropertyPath("/message"))
	assert.False(t, entitystore.IsManagedPropertyPath("/versioned"), "only exact segments count as managed")
}
