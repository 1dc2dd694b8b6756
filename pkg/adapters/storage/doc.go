// Package storage provides activity log and recent activity implementations.
//
// Implementations:
//   - sqlstore: PostgreSQL or SQLite activity log with dedup keys
//   - redis: capped Redis list of the latest activity views
//   - memory: in-memory log and cache for testing
package storage
