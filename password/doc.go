// Package password implements the credential hashers used by the engine.
//
// [Bcrypt] is the default; its cost maps to security.hash_salt_factor.
// [Argon2] produces PHC strings:
//
//	$argon2id$v=19$m=<memory>,t=<time>,p=<threads>$<salt>$<hash>
//
// [Plaintext] backs security.hash_password = false.
//
// Both real hashers implement [Rehasher]; the engine uses it to upgrade a
// stored hash after a successful login.
//
// # What this package must NOT do
//
//   - Store or retrieve passwords. Callers supply plaintext and receive hashes.
//   - Import any other lockguard package.
//   - Log plaintext passwords or hash parameters at runtime.
package password
