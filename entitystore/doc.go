// Package entitystore provides a storage-agnostic entity command engine:
// typed create/read/update/delete/query/batch commands over interchangeable
// backing stores, with a field-level audit trail, optimistic concurrency,
// and atomic multi-record commits.
//
// The package defines the pieces every storage engine shares:
//   - ItemBase / Entity: the managed record shape (identity, partitioning,
//     versioning, soft delete, discriminator)
//   - Schema / Property: the per-type descriptor table resolved once at
//     registration, no runtime reflection
//   - Handle: the capability-scoped facade that intercepts every property
//     access and accumulates the change ledger
//   - DiffSnapshots: the structural diff that turns two serialized snapshots
//     into leaf-level property changes
//   - Provider: the orchestration engine composing validation, versioning,
//     soft-delete filtering and adapter delegation
//   - Adapter: the contract a concrete storage engine implements
//
// Storage engines live in the subpackages postgresengine, dynamoengine and
// memoryengine. OpenTelemetry implementations of the observability
// interfaces live in oteladapters.
//
// Common usage pattern:
//
//	schema, _ := entitystore.NewSchema("note", func() *Note { return &Note{} },
//		entitystore.Property[*Note]{
//			Path: "/message",
//			Get:  func(n *Note) any { return n.Message },
//			Set:  func(n *Note, v any) { n.Message, _ = v.(string) },
//		})
//
//	engine, _ := memoryengine.New(schema)
//	provider, _ := entitystore.NewProvider(engine, schema)
//
//	cmd, _ := provider.Create(ctx, "1", "pk")
//	_ = cmd.Handle().SetProperty("/message", "Hello")
//	receipt, err := cmd.Save(ctx)
package entitystore
