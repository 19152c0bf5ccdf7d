// Package queue persists identity validation runs in SQLite and exposes
// helpers for driving their lifecycle.
//
// One row exists per identity run. Items move pending → preflighting →
// training → generating → scoring → completed, with failed and review as the
// terminal failure states. The database is transient state for in-flight and
// recently finished runs rather than a long-term archive; schema changes bump
// schemaVersion and users clear the database to adopt the new schema.
package queue
