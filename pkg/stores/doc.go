// Package stores provides the persistence layer for deployment history.
// It includes SQLite-based storage with WAL mode, embedded schema
// migrations, and CRUD operations for deployment runs, per-layer
// states, and the created-resource ledger consumed by the destroy
// sweep.
package stores
