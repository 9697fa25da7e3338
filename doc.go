// Package lockguard is an account-security policy engine. It decides, for a
// user record and an event (login attempt, verification request, reset
// request), what the next persisted state is and which error the caller sees.
//
// Persistence is delegated to a [Store]; implementations live under store/.
// Password hashing is delegated to a password.Hasher selected from
// security.hash_password and security.hash_algorithm.
//
// # Lazy expiry
//
// Nothing runs in the background. A lock whose account_locked_until has passed,
// or a failed-attempt counter older than reset_attempts_after_minutes, stays in
// the store until the next operation that reads the record clears it. Between
// those two points a direct store read can show a stale lock or counter; the
// engine never acts on one.
//
// # Concurrency
//
// Every write is a read-modify-write of one record. Stores reject a Save whose
// Version is stale with ErrVersionConflict; the engine then reloads the record
// and re-applies the same change, up to security.conflict_retries times. Two
// concurrent failed logins therefore both count.
//
// # What this package must NOT do
//
//   - Issue sessions or access tokens.
//   - Rate limit by IP or network origin.
//   - Create or migrate storage schemas.
package lockguard
