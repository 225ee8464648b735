package dynamoengine

// Config holds configuration for the Engine.
type Config struct {
	// EntityTable is the name of the entity table. Its key schema must be
	// pk (partition key, S) and sk (sort key, S).
	// Default: "entities"
	EntityTable string

	// ChangeTable is the name of the change event table. Its key schema
	// must be pk (partition key, S) and sk (sort key, S).
	// Default: "entity_changes"
	ChangeTable string

	// TypeNameIndex is the GSI used for queries, keyed by the typeName
	// attribute.
	// Default: "typeName-index"
	TypeNameIndex string
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		EntityTable:   "entities",
		ChangeTable:   "entity_changes",
		TypeNameIndex: "typeName-index",
	}
}

// validate ensures config values are within acceptable bounds.
func (c *Config) validate() {
	if c.EntityTable == "" {
		c.EntityTable = "entities"
	}
	if c.ChangeTable == "" {
		c.ChangeTable = "entity_changes"
	}
	if c.TypeNameIndex == "" {
		c.TypeNameIndex = "typeName-index"
	}
}
