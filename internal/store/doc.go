// Package store provides persistent storage for the gateway using SQLite.
//
// # Overview
//
// The store backs the builtin task tool pack. It is deliberately small: a
// single tasks table scoped by owner, behind the Store interface so the
// gateway and tests can wire the SQLite implementation without touching SQL.
//
// # Data Model
//
//   - Task: title with status (pending, in_progress, completed), priority
//     (low, medium, high), optional notes and due date, and the owner
//     identity ID
//
// Timestamps and due dates are stored as RFC3339 strings. Status and
// priority are CHECK-constrained to the compiled-in value sets.
//
// # SQLite Configuration
//
// The store uses modernc.org/sqlite (pure Go, no cgo) with WAL mode for
// concurrent reads:
//
//	PRAGMA journal_mode=WAL;
//	PRAGMA foreign_keys=ON;
//
// The schema is created automatically on open. Parent directories of the
// database path are created if needed. ":memory:" is supported for tests.
//
// # Ownership
//
// Every task row carries the identity ID that created it, and ListTasks
// only ever returns rows for one owner. Cross-owner access control is the
// caller's responsibility; the builtin handlers enforce it by comparing the
// row's owner against the requesting identity.
//
// # Error Handling
//
// ErrNotFound is returned when a requested entity does not exist. All
// methods accept context.Context for cancellation support.
package store
