// Package storage persists postings, destinations and users.
//
// The same SQL runs on SQLite (modernc, pure Go) and PostgreSQL (pgx) through
// sqlx. Uniqueness constraints on the posting fingerprint and destination id
// make concurrent inserts safe without application-level locking.
package storage
