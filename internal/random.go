package internal

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
)

// TokenBytes is the entropy of verification and reset tokens. Hex encoding
// doubles it to 40 characters.
const TokenBytes = 20

// NewHexToken returns n random bytes from crypto/rand, hex encoded.
func NewHexToken(n int) (string, error) {
	if n <= 0 {
		return "", errors.New("token size must be positive")
	}
	buf := make([]byte, n)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return hex.EncodeToString(buf), nil
}

// NewToken is NewHexToken(TokenBytes).
func NewToken() (string, error) {
	return NewHexToken(TokenBytes)
}
