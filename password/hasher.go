package password

import "errors"

// ErrMalformedHash is returned by Verify when the stored hash cannot be parsed
// by the hasher that was asked to check it.
var ErrMalformedHash = errors.New("malformed password hash")

// Hasher turns plaintext into an opaque stored string and checks a plaintext
// against one. Implementations must be safe for concurrent use.
type Hasher interface {
	Hash(password string) (string, error)
	// Verify reports a mismatch as (false, nil); errors are reserved for
	// unusable stored values or hashing failures.
	Verify(password, encodedHash string) (bool, error)
}

// Rehasher is implemented by hashers whose cost can be raised after hashes
// were stored. The engine checks it after a correct password and replaces
// stale hashes.
type Rehasher interface {
	NeedsRehash(encodedHash string) (bool, error)
}

var (
	_ Hasher   = (*Bcrypt)(nil)
	_ Hasher   = (*Argon2)(nil)
	_ Hasher   = Plaintext{}
	_ Rehasher = (*Bcrypt)(nil)
	_ Rehasher = (*Argon2)(nil)
)
