// Package storage persists devotional content, the audio metadata attached to
// it, and an append-only audit log.
//
// Two SQL backends are supported through database/sql: SQLite (modernc,
// pure Go) and Postgres (pgx). The schema is managed by embedded goose
// migrations that run on Open.
package storage
