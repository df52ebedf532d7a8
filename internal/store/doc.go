// Package store is the persistent backend of the gateway core.
//
// One Store holds the state of every session: registered users, resolved
// entities, message/thread correlations and the group message archive.
// Every row is scoped by session id; nothing is shared across sessions.
//
// # Backends
//
// Open dispatches on the DSN scheme:
//   - plain path, file:, sqlite:// : SQLite via mattn/go-sqlite3 (default)
//   - memory:// : private in-memory SQLite, never reports a stable archive
//   - postgres://, postgresql:// : PostgreSQL via lib/pq
//
// SQLite connections are configured with:
//   - WAL mode: concurrent reads during writes
//   - synchronous=NORMAL: balance durability/performance
//   - busy_timeout=5000: wait for locks up to 5 seconds
//   - foreign_keys=ON
//   - a single open connection (one writer)
//
// # Conventions
//
//   - Every multi-row read has a deterministic ORDER BY
//   - Reads buffer their rows and return empty slices, never nil
//   - Inserts are idempotent (ON CONFLICT DO NOTHING) where the record is immutable
//   - Timestamps are stored as UTC microseconds
//   - Driver failures surface as TRANSIENT_BACKEND, missing rows as NOT_FOUND
//
// # Transactions
//
// WithTx runs a function with a transaction carried in its context; every
// Store method called with that context joins it. Because SQLite runs with
// one connection, code inside WithTx must only use the context it was
// given, never a fresh one.
package store
