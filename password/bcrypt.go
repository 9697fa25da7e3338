package password

import (
	"errors"
	"fmt"

	"golang.org/x/crypto/bcrypt"
)

// Bcrypt is the default hasher. Cost is the adaptive work factor; values below
// bcrypt.MinCost are raised to it.
type Bcrypt struct {
	cost int
}

// NewBcrypt rejects costs above bcrypt.MaxCost.
func NewBcrypt(cost int) (*Bcrypt, error) {
	if cost > bcrypt.MaxCost {
		return nil, fmt.Errorf("bcrypt cost must be <= %d", bcrypt.MaxCost)
	}
	if cost < bcrypt.MinCost {
		cost = bcrypt.MinCost
	}
	return &Bcrypt{cost: cost}, nil
}

// Cost returns the effective work factor.
func (b *Bcrypt) Cost() int {
	return b.cost
}

// Hash implements [Hasher]. Passwords longer than 72 bytes are rejected by
// bcrypt itself.
func (b *Bcrypt) Hash(password string) (string, error) {
	out, err := bcrypt.GenerateFromPassword([]byte(password), b.cost)
	if err != nil {
		return "", err
	}
	return string(out), nil
}

// Verify implements [Hasher].
func (b *Bcrypt) Verify(password, encodedHash string) (bool, error) {
	err := bcrypt.CompareHashAndPassword([]byte(encodedHash), []byte(password))
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, bcrypt.ErrMismatchedHashAndPassword),
		errors.Is(err, bcrypt.ErrPasswordTooLong):
		// an over-long candidate can never match a stored bcrypt hash
		return false, nil
	default:
		return false, fmt.Errorf("%w: %v", ErrMalformedHash, err)
	}
}

// NeedsRehash implements [Rehasher]: true when encodedHash used a lower cost than b.
func (b *Bcrypt) NeedsRehash(encodedHash string) (bool, error) {
	cost, err := bcrypt.Cost([]byte(encodedHash))
	if err != nil {
		return false, fmt.Errorf("%w: %v", ErrMalformedHash, err)
	}
	return cost < b.cost, nil
}
