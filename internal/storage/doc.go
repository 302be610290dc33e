// Package storage is the persistence layer of the relay.
//
// It keeps three tables:
//   - recipients: everyone who ever sent /start, keyed by user id
//   - resources:  uploaded files made shareable, unique on fingerprint
//   - audit:      one row per operator action (upload, broadcast)
//
// Two drivers sit behind the same Store: SQLite (modernc, pure Go) for single
// host deployments and PostgreSQL (pgx) when DATABASE_URL is a postgres URL.
// The schema is created by goose from embedded migrations on Open.
//
// All writes are single-row statements; registration of a recipient is an
// atomic conditional insert, so concurrent first contacts never duplicate.
package storage
