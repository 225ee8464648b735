// Package adapters provides database adapter implementations for the
// PostgreSQL entity engine.
//
// This package implements the adapter pattern to support multiple PostgreSQL
// database libraries: pgx.Pool, sql.DB, and sqlx.DB. All adapters provide
// equivalent functionality through a common DBAdapter interface, allowing
// the entity engine to work seamlessly with any supported connection type.
//
// Besides plain query and exec, the adapters expose transactions, which the
// engine uses to commit a save batch and its change events atomically.
package adapters
