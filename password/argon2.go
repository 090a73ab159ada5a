package password

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"fmt"
	"io"
	"strings"

	"golang.org/x/crypto/argon2"
)

const argon2ID = "argon2id"

// Argon2Config tunes the argon2id work factors. Zero fields are filled from
// [DefaultArgon2Config].
type Argon2Config struct {
	Memory      uint32 // KiB
	Time        uint32
	Parallelism uint8
	SaltLength  uint32
	KeyLength   uint32
}

// DefaultArgon2Config is a moderate interactive-login profile.
func DefaultArgon2Config() Argon2Config {
	return Argon2Config{
		Memory:      64 * 1024,
		Time:        1,
		Parallelism: 4,
		SaltLength:  16,
		KeyLength:   32,
	}
}

// Argon2 hashes passwords with argon2id and encodes parameters in PHC string
// format, so stored hashes remain verifiable after the configuration changes.
type Argon2 struct {
	config Argon2Config
}

// NewArgon2 validates the configuration and returns the hasher.
func NewArgon2(cfg Argon2Config) (*Argon2, error) {
	def := DefaultArgon2Config()
	if cfg.Memory == 0 {
		cfg.Memory = def.Memory
	}
	if cfg.Time == 0 {
		cfg.Time = def.Time
	}
	if cfg.Parallelism == 0 {
		cfg.Parallelism = def.Parallelism
	}
	if cfg.SaltLength == 0 {
		cfg.SaltLength = def.SaltLength
	}
	if cfg.KeyLength == 0 {
		cfg.KeyLength = def.KeyLength
	}

	if cfg.Memory < 8*1024 {
		return nil, fmt.Errorf("password: argon2 memory must be >= 8192 KiB")
	}
	if cfg.SaltLength < 16 {
		return nil, fmt.Errorf("password: argon2 salt length must be >= 16")
	}
	if cfg.KeyLength < 16 {
		return nil, fmt.Errorf("password: argon2 key length must be >= 16")
	}
	return &Argon2{config: cfg}, nil
}

// Hash implements [Hasher].
func (a *Argon2) Hash(password string) (string, error) {
	salt := make([]byte, a.config.SaltLength)
	if _, err := io.ReadFull(rand.Reader, salt); err != nil {
		return "", err
	}

	key := argon2.IDKey([]byte(password), salt, a.config.Time, a.config.Memory, a.config.Parallelism, a.config.KeyLength)

	return fmt.Sprintf("$%s$v=%d$m=%d,t=%d,p=%d$%s$%s",
		argon2ID,
		argon2.Version,
		a.config.Memory,
		a.config.Time,
		a.config.Parallelism,
		base64.RawStdEncoding.EncodeToString(salt),
		base64.RawStdEncoding.EncodeToString(key),
	), nil
}

// Verify implements [Hasher].
func (a *Argon2) Verify(password, encodedHash string) (bool, error) {
	parsed, err := parseArgon2Hash(encodedHash)
	if err != nil {
		return false, err
	}

	computed := argon2.IDKey([]byte(password), parsed.salt, parsed.time, parsed.memory, parsed.parallelism, uint32(len(parsed.key)))
	return subtle.ConstantTimeCompare(computed, parsed.key) == 1, nil
}

// NeedsRehash implements [Hasher].
func (a *Argon2) NeedsRehash(encodedHash string) bool {
	parsed, err := parseArgon2Hash(encodedHash)
	if err != nil {
		return false
	}
	return parsed.memory < a.config.Memory ||
		parsed.time < a.config.Time ||
		parsed.parallelism < a.config.Parallelism ||
		uint32(len(parsed.key)) != a.config.KeyLength
}

type argon2Hash struct {
	memory      uint32
	time        uint32
	parallelism uint8
	salt        []byte
	key         []byte
}

func parseArgon2Hash(encodedHash string) (*argon2Hash, error) {
	parts := strings.Split(encodedHash, "$")
	if len(parts) != 6 || parts[0] != "" || parts[1] != argon2ID {
		return nil, fmt.Errorf("%w: not a PHC argon2id string", ErrInvalidHash)
	}

	var version int
	if _, err := fmt.Sscanf(parts[2], "v=%d", &version); err != nil || version != argon2.Version {
		return nil, fmt.Errorf("%w: unsupported argon2 version", ErrInvalidHash)
	}

	var parsed argon2Hash
	if _, err := fmt.Sscanf(parts[3], "m=%d,t=%d,p=%d", &parsed.memory, &parsed.time, &parsed.parallelism); err != nil {
		return nil, fmt.Errorf("%w: bad parameter block", ErrInvalidHash)
	}
	if parsed.memory == 0 || parsed.time == 0 || parsed.parallelism == 0 {
		return nil, fmt.Errorf("%w: zero parameter", ErrInvalidHash)
	}

	salt, err := base64.RawStdEncoding.DecodeString(parts[4])
	if err != nil || len(salt) < 8 {
		return nil, fmt.Errorf("%w: bad salt", ErrInvalidHash)
	}
	key, err := base64.RawStdEncoding.DecodeString(parts[5])
	if err != nil || len(key) == 0 {
		return nil, fmt.Errorf("%w: bad key", ErrInvalidHash)
	}

	parsed.salt = salt
	parsed.key = key
	return &parsed, nil
}
