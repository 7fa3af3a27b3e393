// Package uow provides a small change-tracking unit-of-work over database/sql.
//
// # Overview
//
// A Manager owns a database handle and the set of save-changes interceptors
// registered for it. Each Session tracks entity instances, detects which of
// them changed, and writes all pending mutations in one transaction on Commit.
// Interceptors run immediately before that transaction is opened and see the
// full set of pending entries.
//
// # Entities
//
// Entities are pointers to structs. Columns are derived from `db` struct tags:
//
//	type Customer struct {
//		ID             int64  `db:"id,pk,auto"`
//		CustomerNumber string `db:"customer_number"`
//		Notes          string `db:"-"`
//	}
//
// Untagged exported fields map to their snake_case name. The primary key is the
// field tagged `pk`, or a field named ID/Id when no tag is present. `auto` marks
// a database-assigned key which is written back after insert. Table names come
// from a TableName() method, falling back to the pluralized snake_case type name.
//
// # Usage Example
//
//	manager, _ := uow.NewManager(db, uow.Postgres)
//	manager.AddInterceptor(auditInterceptor)
//
//	session := manager.NewSession()
//	session.Add(&Customer{CustomerNumber: "AB12CD34"})
//	if _, err := session.Commit(ctx); err != nil {
//		return err
//	}
//
// # Lifecycle States
//
// Detached: not tracked
// Unchanged: tracked, matches the last snapshot
// Added: will be inserted
// Modified: will be updated
// Deleted: will be deleted
//
// Sessions are not safe for concurrent use; open one session per goroutine.
// Managers are safe to share.
package uow
