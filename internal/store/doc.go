// Package store runs compiled queries against SQLite.
//
// A store creates the tables a mapping describes, loads fixture rows from
// YAML and executes statements, returning their rows. It is the boundary
// where generated SQL meets a real database, used by the CLI and by the
// end-to-end tests of the compiler.
//
// # Database Configuration
//
//   - WAL mode: Concurrent reads during writes
//   - synchronous=NORMAL: Balance durability/performance
//   - busy_timeout=5000: Wait for locks up to 5 seconds
//   - foreign_keys=ON: Enforce referential integrity
//
// Every executed statement gets a UUIDv7 id that ties its log lines
// together.
package store
