// Package audit records an immutable trail of entity mutations made through
// pkg/uow sessions.
//
// # Overview
//
// An Interceptor is registered on a uow.Manager. Before any session of that
// manager commits, the interceptor inspects the pending mutations, looks each
// entity type up in a Registry, and appends one AuditEvent per audited
// mutation to a RecordStore. Appends run in their own session on the store's
// own database handle, and failures are logged and dropped: the primary
// commit is never blocked or failed by auditing.
//
// # Classification
//
// Types are audited when declared or registered by name:
//
//	registry := audit.NewRegistry(
//		audit.WithDeclarations(
//			audit.Declare[Customer](audit.DefaultPolicy()),
//			audit.Declare[Invoice](audit.Policy{RecordCreates: true}),
//		),
//		audit.WithManualEntities("Supplier", "example.com/app/model.Warehouse"),
//	)
//
// Lookup is by exact type, then manual simple name, then manual qualified
// name. There is no inheritance between types.
//
// # Usage Example
//
//	store, _ := audit.NewDBStore(auditDB, uow.Postgres)
//	_ = store.EnsureSchema(ctx)
//
//	interceptor, _ := audit.NewInterceptor(registry, store,
//		audit.WithActorProvider(audit.ContextActorProvider{}),
//	)
//	manager.AddInterceptor(interceptor)
//
//	queries := audit.NewQueryService(store)
//	for event, err := range queries.FindAll(ctx, &audit.Query{EntityName: "Customer"}) {
//		if err != nil {
//			return err
//		}
//		fmt.Println(event.ActionType, event.Changes.Keys())
//	}
//
// # Retention
//
// Retention purges events older than RetentionPolicy.RetentionDays, first
// uploading them as NDJSON when archiving is enabled. Export supports JSON,
// CSV and NDJSON.
package audit
