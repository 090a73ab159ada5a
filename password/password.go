package password

import "errors"

// ErrInvalidHash is returned when a stored hash cannot be parsed or was
// produced by an algorithm the hasher does not recognize.
var ErrInvalidHash = errors.New("password: invalid stored hash")

// Hasher is the credential hashing contract consumed by the engine.
type Hasher interface {
	// Hash derives a salted, encoded hash from the plaintext password.
	Hash(password string) (string, error)

	// Verify reports whether password matches encodedHash. A mismatch is
	// (false, nil); an error is returned only for a malformed encodedHash.
	// Implementations must compare in constant time.
	Verify(password, encodedHash string) (bool, error)

	// NeedsRehash reports whether encodedHash was produced with weaker
	// parameters than currently configured, so callers can transparently
	// upgrade on the next successful verification.
	NeedsRehash(encodedHash string) bool
}
