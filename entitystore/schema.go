package entitystore

import (
	"fmt"
	"sync"
)

// Property describes one addressable property of an entity type: a leaf
// path, an accessor pair, and whether the value is encrypted at rest.
// Encrypted properties stay settable through a handle but are excluded from
// change tracking so that plaintext never reaches the audit trail.
type Property[T Entity] struct {
	Path          string
	Get           func(T) any
	Set           func(T, any)
	EncryptAtRest bool
}

// Schema is the static per-type descriptor table: the discriminator, the
// entity factory, and every trackable property, resolved once at
// registration time. It replaces any form of runtime type inspection; all
// property dispatch in handles goes through this table.
type Schema[T Entity] struct {
	typeName   string
	newEntity  func() T
	properties map[string]Property[T]
	order      []string
}

// NewSchema builds a schema for one entity type. The discriminator naming
// rule is enforced here, once, so providers and engines can trust it.
func NewSchema[T Entity](typeName string, newEntity func() T, properties ...Property[T]) (*Schema[T], error) {
	if err := ValidateTypeName(typeName); err != nil {
		return nil, err
	}

	if newEntity == nil {
		return nil, ErrNilEntityFactory
	}

	s := &Schema[T]{
		typeName:   typeName,
		newEntity:  newEntity,
		properties: make(map[string]Property[T], len(properties)),
	}

	for _, prop := range properties {
		if len(prop.Path) < 2 || prop.Path[0] != '/' {
			return nil, fmt.Errorf("%w: path %q must be a non-empty pointer starting with '/'", ErrInvalidProperty, prop.Path)
		}

		if prop.Get == nil || prop.Set == nil {
			return nil, fmt.Errorf("%w: %q is missing an accessor", ErrInvalidProperty, prop.Path)
		}

		if IsManagedPropertyPath(prop.Path) {
			return nil, fmt.Errorf("%w: %q addresses an engine-managed field", ErrInvalidProperty, prop.Path)
		}

		if _, exists := s.properties[prop.Path]; exists {
			return nil, fmt.Errorf("%w: duplicate path %q", ErrInvalidProperty, prop.Path)
		}

		s.properties[prop.Path] = prop
		s.order = append(s.order, prop.Path)
	}

	return s, nil
}

// TypeName returns the discriminator this schema describes.
func (s *Schema[T]) TypeName() string {
	return s.typeName
}

// NewEntity returns a fresh zero entity of the schema's type.
func (s *Schema[T]) NewEntity() T {
	return s.newEntity()
}

// Property looks up a property descriptor by its path.
func (s *Schema[T]) Property(path string) (Property[T], bool) {
	prop, ok := s.properties[path]
	return prop, ok
}

// PropertyPaths returns the registered paths in registration order.
func (s *Schema[T]) PropertyPaths() []string {
	paths := make([]string, len(s.order))
	copy(paths, s.order)

	return paths
}

// schemaRegistry is the process-wide schema table, keyed by discriminator.
// It is construction-once/read-many: schemas are registered during program
// initialization and only read afterwards.
var schemaRegistry = struct {
	mu     sync.RWMutex
	byName map[string]any
}{
	byName: make(map[string]any),
}

// RegisterSchema publishes a schema in the process-wide registry.
// Registering a second schema for the same discriminator fails.
func RegisterSchema[T Entity](schema *Schema[T]) error {
	if schema == nil {
		return ErrNilSchema
	}

	schemaRegistry.mu.Lock()
	defer schemaRegistry.mu.Unlock()

	if _, exists := schemaRegistry.byName[schema.typeName]; exists {
		return fmt.Errorf("%w: %q", ErrSchemaAlreadyRegistered, schema.typeName)
	}

	schemaRegistry.byName[schema.typeName] = schema

	return nil
}

// RegisteredSchema looks up a previously registered schema by discriminator.
// The second return value is false when no schema is registered for the
// name, or when it was registered for a different entity type.
func RegisteredSchema[T Entity](typeName string) (*Schema[T], bool) {
	schemaRegistry.mu.RLock()
	defer schemaRegistry.mu.RUnlock()

	stored, ok := schemaRegistry.byName[typeName]
	if !ok {
		return nil, false
	}

	schema, ok := stored.(*Schema[T])

	return schema, ok
}
