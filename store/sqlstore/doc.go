// Package sqlstore persists lockguard user records in a single SQL table
// through database/sql. PostgreSQL (pgx stdlib driver) and SQLite (modernc)
// are supported.
//
// Column names come from lockguard.UserFieldConfig plus one column per custom
// field. Timestamps are stored as BIGINT Unix nanoseconds so both dialects
// round-trip them exactly; decimal custom values are kept as their text.
// Empty tokens and a missing email are written as NULL.
//
// Save is a compare-and-set on the version column:
//
//	UPDATE users SET ... , version = version+1 WHERE id = ? AND version = ?
//
// Zero affected rows is resolved into ErrRecordNotFound or ErrVersionConflict
// with one follow-up read.
package sqlstore
