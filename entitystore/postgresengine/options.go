package postgresengine

import (
	"github.com/corvid-labs/entitystore-go/entitystore"
)

// config collects the settings shared by all engine instantiations.
type config struct {
	entityTableName string
	changeTableName string
	logger          entitystore.Logger
}

// Option defines a functional option for configuring an Engine.
type Option func(*config) error

// WithEntityTableName sets the table name for entity records.
func WithEntityTableName(tableName string) Option {
	return func(c *config) error {
		if tableName == "" {
			return entitystore.ErrEmptyEntityTableName
		}

		c.entityTableName = tableName

		return nil
	}
}

// WithChangeTableName sets the table name for change events.
func WithChangeTableName(tableName string) Option {
	return func(c *config) error {
		if tableName == "" {
			return entitystore.ErrEmptyChangeTableName
		}

		c.changeTableName = tableName

		return nil
	}
}

// WithLogger sets the logger for the Engine.
// The logger will receive messages at different levels based on the logger's
// configured level:
//
// Debug level: SQL queries with execution timing (development use)
// Info level: batch sizes, durations, concurrency conflicts (production-safe)
// Warn level: non-critical issues like rollback failures
// Error level: critical failures that cause operation failures.
func WithLogger(logger entitystore.Logger) Option {
	return func(c *config) error {
		c.logger = logger
		return nil
	}
}
