package password

import "crypto/subtle"

// Plaintext stores passwords as given. It exists for deployments that set
// security.hash_password = false and must not be used otherwise.
type Plaintext struct{}

func (Plaintext) Hash(password string) (string, error) {
	return password, nil
}

func (Plaintext) Verify(password, stored string) (bool, error) {
	return subtle.ConstantTimeCompare([]byte(password), []byte(stored)) == 1, nil
}
