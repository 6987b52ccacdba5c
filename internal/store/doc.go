// Copyright (c) 2026 Keymaster Team
// drivecfg - desktop client configuration core
// This source code is licensed under the MIT license found in the LICENSE file.

// Package store is the configuration DAO: a durable key/value store with
// typed accessors, all-or-nothing batches and an explicit open/dispose
// lifecycle.
//
// Layout
//   - One store per configuration root: `<root>/manager.db` (SQLite through
//     Bun and the pure Go modernc driver) guarded by an advisory process lock
//     on `<root>/manager.db.lock`.
//   - The table layout itself is created by the embedded SQL files under
//     `schema/<dialect>` and tracked in `schema_migrations`. Application level
//     data migrations are not handled here, see package migration.
//
// Concurrency
//   - Readers take a shared lock, `Set`, `Delete` and `Batch` take the
//     exclusive lock, so at most one mutation is in flight per handle.
//   - A second process opening the same root waits briefly for the lock and
//     then fails with ErrStoreUnavailable.
//
// Testing notes
//   - Prefer `Open(ctx, t.TempDir())` in tests; it exercises the same code
//     path as production including locking and schema setup.
package store
