// Package storage opens the external resources chronicle runs against.
//
// # Databases
//
// Open returns a Connections value with two pooled handles: Primary for the
// application's unit-of-work sessions and Audit for the audit record store.
// The audit handle is always opened separately, even when both point at the
// same database URL:
//
//	conns, err := storage.Open(ctx, cfg, logger)
//	if err != nil {
//		return err
//	}
//	defer conns.Close()
//
//	manager, _ := uow.NewManager(conns.Primary, conns.Dialect)
//	store, _ := audit.NewDBStore(conns.Audit, conns.Dialect)
//
// Supported drivers are "postgres" (lib/pq) and "sqlite3" (mattn/go-sqlite3).
//
// # Redis
//
// NewRedisClient parses a redis:// URL, applies pool overrides and pings the
// server. The client backs session-based actor lookup and the readiness check.
//
// # S3
//
// S3Client uploads retention archives. It works against AWS or any
// S3-compatible endpoint such as MinIO (set S3UsePathStyle). NewS3Client
// creates the bucket when it does not exist yet.
package storage
