// Package store provides persistent storage for messages and the directory
// data that authorization decisions read.
//
// # Backends
//
// The Store interface has two implementations selected by configuration:
//
//   - SQLiteStore (modernc.org/sqlite): single-file deployments and tests
//   - PostgresStore (pgx): shared deployments
//
// Both create their schema on startup and behave identically at the
// interface; the tests run against SQLite in memory.
//
// # Data model
//
//   - Message: one chat message, direct (receiver set) or group (group set).
//     Ids are ULIDs, so lexicographic id order is creation order and list
//     cursors compare ids directly.
//   - Group and group membership: tenant-scoped multi-party conversations.
//   - Friendship: a pending or accepted link between two subjects; only an
//     accepted friendship authorizes a direct conversation.
//   - Tenant membership: which subjects belong to which workspace.
//
// # List semantics
//
// Message list operations return newest-first, capped at a limit, and
// optionally restricted to ids greater than a caller-held cursor. They are
// the poll source for delivery reconciliation, so they must stay cheap and
// idempotent.
package store
