// Package postgresengine implements the storage adapter contract on
// PostgreSQL.
//
// Records live in an entity table as a jsonb payload plus indexed key
// columns; every save writes its audit entry into a change table within the
// same transaction, so a batch and its change events commit atomically.
// Optimistic concurrency is enforced in SQL: conditional updates checking
// the loaded version and concurrency token, with the rows-affected count
// deciding whether the save won.
//
// The engine works with pgxpool.Pool, sql.DB and sqlx.DB connections
// through an internal adapter layer; pick the constructor matching your
// connection type.
package postgresengine
