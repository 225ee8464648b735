// Command example demonstrates the entitystore command surface on the
// in-memory engine: typed creates with mutation tracking, optimistic
// concurrency, queries, atomic batches and the change events every save
// leaves behind.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/corvid-labs/entitystore-go/entitystore"
	"github.com/corvid-labs/entitystore-go/entitystore/memoryengine"
	"github.com/corvid-labs/entitystore-go/entitystore/oteladapters"
)

// Note is a minimal entity: embed ItemBase, tag the domain fields.
type Note struct {
	entitystore.ItemBase
	Message  string `json:"message"`
	Priority int64  `json:"priority"`
}

func newNote() *Note { return &Note{} }

func noteSchema() (*entitystore.Schema[*Note], error) {
	return entitystore.NewSchema("note", newNote,
		entitystore.Property[*Note]{
			Path: "/message",
			Get:  func(n *Note) any { return n.Message },
			Set:  func(n *Note, v any) { n.Message, _ = v.(string) },
		},
		entitystore.Property[*Note]{
			Path: "/priority",
			Get:  func(n *Note) any { return n.Priority },
			Set: func(n *Note, v any) {
				if p, ok := v.(int64); ok {
					n.Priority = p
				}
			},
		},
	)
}

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func run() error {
	ctx := context.Background()

	schema, err := noteSchema()
	if err != nil {
		return err
	}

	logger := oteladapters.NewSlogBridgeLoggerWithHandler(
		slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))

	backing := memoryengine.NewBacking()
	provider, err := entitystore.NewProvider(
		memoryengine.NewWithBacking(backing, newNote),
		schema,
		entitystore.WithContextualLogger[*Note](logger),
		entitystore.WithValidator[*Note](func(n *Note) entitystore.ValidationResult {
			var result entitystore.ValidationResult
			if n.Message == "" {
				result = result.With("/message", "must not be empty")
			}

			return result
		}),
	)
	if err != nil {
		return err
	}

	// Create a note. Nothing is persisted until Save.
	cmd, err := provider.Create(ctx, "n1", "tenant-a")
	if err != nil {
		return err
	}

	if err = cmd.Handle().SetProperty("/message", "ship the release"); err != nil {
		return err
	}
	if err = cmd.Handle().SetProperty("/priority", int64(1)); err != nil {
		return err
	}
	if err = cmd.WithChangeContext([]byte(`{"actor":"example"}`)); err != nil {
		return err
	}

	receipt, err := cmd.Save(ctx)
	if err != nil {
		return err
	}

	fmt.Printf("created version %d with %d tracked changes\n",
		receipt.Entity.Version, len(receipt.Event.Changes))

	// Update it. The loaded version guards against lost updates.
	update, err := provider.Update(ctx, "n1", "tenant-a")
	if err != nil {
		return err
	}

	if err = update.Handle().SetProperty("/priority", int64(3)); err != nil {
		return err
	}

	if receipt, err = update.Save(ctx); err != nil {
		return err
	}

	fmt.Printf("updated to version %d, change: %+v\n",
		receipt.Entity.Version, receipt.Event.Changes[0])

	// Batch two more notes atomically.
	batch := provider.Batch()
	for i, message := range []string{"write the changelog", "tag the build"} {
		member, createErr := provider.Create(ctx, fmt.Sprintf("n%d", i+2), "tenant-a")
		if createErr != nil {
			return createErr
		}

		if err = member.Handle().SetProperty("/message", message); err != nil {
			return err
		}

		if err = batch.Add(member); err != nil {
			return err
		}
	}

	outcomes, err := batch.Commit(ctx)
	if err != nil {
		return err
	}

	fmt.Printf("batch committed %d members\n", len(outcomes))

	// Query by a top-level payload field.
	cursor, err := provider.ExecuteQuery(ctx, provider.Query().
		AnyPredicateOf(entitystore.P("priority", "3")).Finalize())
	if err != nil {
		return err
	}
	defer func() { _ = cursor.Close() }()

	for cursor.Next() {
		message, getErr := cursor.Result().Handle().GetProperty("/message")
		if getErr != nil {
			return getErr
		}

		fmt.Printf("high priority: %v\n", message)
	}
	if err = cursor.Err(); err != nil {
		return err
	}

	// Every committed save left an audit record behind.
	for _, change := range backing.Changes() {
		fmt.Printf("audit: %s %s %s\n", change.Event.Action, change.TypeName, change.EntityID)
	}

	return nil
}
