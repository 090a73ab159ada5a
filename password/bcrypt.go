package password

import (
	"crypto/sha256"
	"errors"
	"fmt"

	"golang.org/x/crypto/bcrypt"
)

// DefaultBcryptCost is the work factor used when none is configured.
const DefaultBcryptCost = 12

// Bcrypt hashes passwords with bcrypt. The plaintext is pre-hashed with
// SHA-256 so passwords longer than bcrypt's 72-byte input limit still
// contribute all their entropy.
type Bcrypt struct {
	cost int
}

// NewBcrypt returns a bcrypt hasher with the given cost. A cost of 0 selects
// [DefaultBcryptCost]; out-of-range costs are rejected.
func NewBcrypt(cost int) (*Bcrypt, error) {
	if cost == 0 {
		cost = DefaultBcryptCost
	}
	if cost < bcrypt.MinCost || cost > bcrypt.MaxCost {
		return nil, fmt.Errorf("password: bcrypt cost must be between %d and %d", bcrypt.MinCost, bcrypt.MaxCost)
	}
	return &Bcrypt{cost: cost}, nil
}

// Hash implements [Hasher].
func (b *Bcrypt) Hash(password string) (string, error) {
	sum := sha256.Sum256([]byte(password))
	hash, err := bcrypt.GenerateFromPassword(sum[:], b.cost)
	if err != nil {
		return "", err
	}
	return string(hash), nil
}

// Verify implements [Hasher]. bcrypt compares in constant time internally.
func (b *Bcrypt) Verify(password, encodedHash string) (bool, error) {
	sum := sha256.Sum256([]byte(password))
	err := bcrypt.CompareHashAndPassword([]byte(encodedHash), sum[:])
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, bcrypt.ErrMismatchedHashAndPassword):
		return false, nil
	default:
		return false, fmt.Errorf("%w: %v", ErrInvalidHash, err)
	}
}

// NeedsRehash implements [Hasher].
func (b *Bcrypt) NeedsRehash(encodedHash string) bool {
	cost, err := bcrypt.Cost([]byte(encodedHash))
	if err != nil {
		return false
	}
	return cost < b.cost
}
