package tokens

import (
	"crypto/ed25519"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// SigningMethod selects the JWT signature algorithm.
type SigningMethod string

const (
	// MethodHS256 signs with a shared secret.
	MethodHS256 SigningMethod = "hs256"
	// MethodEd25519 signs with an Ed25519 key pair.
	MethodEd25519 SigningMethod = "ed25519"
)

const (
	typeAccess  = "access"
	typeRefresh = "refresh"
)

var (
	// ErrExpired is returned for a well-formed, correctly signed token whose
	// expiry has passed.
	ErrExpired = errors.New("tokens: token expired")
	// ErrInvalid is returned for malformed, tampered, mistyped, or otherwise
	// unverifiable tokens.
	ErrInvalid = errors.New("tokens: token invalid")
)

// Config holds the signing material and lifetimes for a [Manager].
type Config struct {
	SigningMethod SigningMethod
	// Secret is the HS256 shared secret.
	Secret []byte
	// PrivateKey is an Ed25519 seed (32 bytes) or private key (64 bytes).
	PrivateKey []byte
	// PublicKey is the Ed25519 public key; derived from PrivateKey when
	// omitted.
	PublicKey []byte

	AccessTTL  time.Duration
	RefreshTTL time.Duration

	Issuer   string
	Audience string
	// Leeway tolerates small clock skew during verification, capped at two
	// minutes.
	Leeway time.Duration

	// Now supplies the clock; defaults to time.Now. Injected so expiry
	// behavior is testable without sleeping.
	Now func() time.Time
}

// Claims is the payload carried by both tokens of a pair.
type Claims struct {
	UserID    string `json:"uid"`
	SessionID string `json:"sid"`
	TokenType string `json:"tkn"`
	// SessionToken is the session's current opaque token, carried by refresh
	// tokens only. Refresh rotation swaps the stored value, which is what
	// makes a rotated refresh token unreplayable.
	SessionToken string         `json:"stk,omitempty"`
	Extra        map[string]any `json:"ext,omitempty"`
	jwt.RegisteredClaims
}

// Pair is one issued access/refresh token pair.
type Pair struct {
	AccessToken  string
	RefreshToken string
}

// Manager issues and verifies token pairs. It is immutable after
// construction and safe for concurrent use.
type Manager struct {
	config     Config
	signKey    any
	verifyKey  any
	signMethod jwt.SigningMethod
	now        func() time.Time
}

// NewManager validates the configuration and returns a ready Manager.
func NewManager(cfg Config) (*Manager, error) {
	if cfg.AccessTTL <= 0 || cfg.RefreshTTL <= 0 {
		return nil, errors.New("tokens: access and refresh TTL must be positive")
	}
	if cfg.RefreshTTL < cfg.AccessTTL {
		return nil, errors.New("tokens: refresh TTL must not be shorter than access TTL")
	}
	if cfg.Leeway < 0 || cfg.Leeway > 2*time.Minute {
		return nil, errors.New("tokens: leeway out of range")
	}

	m := &Manager{config: cfg, now: cfg.Now}
	if m.now == nil {
		m.now = time.Now
	}

	switch cfg.SigningMethod {
	case MethodHS256, "":
		if len(cfg.Secret) == 0 {
			return nil, errors.New("tokens: hs256 requires a secret")
		}
		m.signMethod = jwt.SigningMethodHS256
		m.signKey = cfg.Secret
		m.verifyKey = cfg.Secret
	case MethodEd25519:
		priv, err := parseEdPrivateKey(cfg.PrivateKey)
		if err != nil {
			return nil, err
		}
		pub := priv.Public().(ed25519.PublicKey)
		if len(cfg.PublicKey) > 0 {
			provided, err := parseEdPublicKey(cfg.PublicKey)
			if err != nil {
				return nil, err
			}
			if !pub.Equal(provided) {
				return nil, errors.New("tokens: public key does not match private key")
			}
		}
		m.signMethod = jwt.SigningMethodEdDSA
		m.signKey = priv
		m.verifyKey = pub
	default:
		return nil, fmt.Errorf("tokens: unsupported signing method %q", cfg.SigningMethod)
	}

	return m, nil
}

// IssueTokens mints a new access/refresh pair bound to (userID, sessionID).
// sessionToken is embedded in the refresh token only; extra is copied into
// both tokens under the "ext" claim.
func (m *Manager) IssueTokens(userID, sessionID, sessionToken string, extra map[string]any) (Pair, error) {
	access, err := m.sign(userID, sessionID, typeAccess, "", m.config.AccessTTL, extra)
	if err != nil {
		return Pair{}, err
	}
	refresh, err := m.sign(userID, sessionID, typeRefresh, sessionToken, m.config.RefreshTTL, extra)
	if err != nil {
		return Pair{}, err
	}
	return Pair{AccessToken: access, RefreshToken: refresh}, nil
}

// VerifyAccess checks signature, expiry, and token type of an access token.
func (m *Manager) VerifyAccess(token string) (*Claims, error) {
	return m.verify(token, typeAccess)
}

// VerifyRefresh checks signature, expiry, and token type of a refresh token.
func (m *Manager) VerifyRefresh(token string) (*Claims, error) {
	return m.verify(token, typeRefresh)
}

// ParseUnverifiedExpiry decodes a token without enforcing expiry, still
// requiring a valid signature and the expected type. Used at refresh time,
// where the paired access token has typically already expired.
func (m *Manager) ParseUnverifiedExpiry(token, wantType string) (*Claims, error) {
	claims, err := m.verify(token, wantType)
	if errors.Is(err, ErrExpired) {
		return claims, nil
	}
	return claims, err
}

// TypeAccess and TypeRefresh name the two halves of a pair for
// [Manager.ParseUnverifiedExpiry].
const (
	TypeAccess  = typeAccess
	TypeRefresh = typeRefresh
)

func (m *Manager) sign(userID, sessionID, tokenType, sessionToken string, ttl time.Duration, extra map[string]any) (string, error) {
	now := m.now()
	claims := Claims{
		UserID:       userID,
		SessionID:    sessionID,
		TokenType:    tokenType,
		SessionToken: sessionToken,
		Extra:        extra,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.NewString(),
			Subject:   userID,
			Issuer:    m.config.Issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	if m.config.Audience != "" {
		claims.Audience = jwt.ClaimStrings{m.config.Audience}
	}

	return jwt.NewWithClaims(m.signMethod, claims).SignedString(m.signKey)
}

func (m *Manager) verify(token, wantType string) (*Claims, error) {
	options := []jwt.ParserOption{
		jwt.WithValidMethods([]string{m.signMethod.Alg()}),
		jwt.WithTimeFunc(m.now),
		jwt.WithIssuedAt(),
	}
	if m.config.Leeway > 0 {
		options = append(options, jwt.WithLeeway(m.config.Leeway))
	}
	if m.config.Issuer != "" {
		options = append(options, jwt.WithIssuer(m.config.Issuer))
	}
	if m.config.Audience != "" {
		options = append(options, jwt.WithAudience(m.config.Audience))
	}

	var claims Claims
	parsed, err := jwt.ParseWithClaims(token, &claims, func(*jwt.Token) (any, error) {
		return m.verifyKey, nil
	}, options...)

	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			// Expiry is only meaningful when everything else checks out.
			if claims.TokenType != wantType {
				return nil, fmt.Errorf("%w: wrong token type", ErrInvalid)
			}
			return &claims, fmt.Errorf("%w: %v", ErrExpired, err)
		}
		return nil, fmt.Errorf("%w: %v", ErrInvalid, err)
	}
	if !parsed.Valid {
		return nil, ErrInvalid
	}
	if claims.TokenType != wantType {
		return nil, fmt.Errorf("%w: wrong token type", ErrInvalid)
	}
	if claims.UserID == "" || claims.SessionID == "" {
		return nil, fmt.Errorf("%w: missing uid or sid", ErrInvalid)
	}
	return &claims, nil
}

func parseEdPrivateKey(key []byte) (ed25519.PrivateKey, error) {
	switch len(key) {
	case ed25519.SeedSize:
		return ed25519.NewKeyFromSeed(key), nil
	case ed25519.PrivateKeySize:
		return ed25519.PrivateKey(key), nil
	default:
		return nil, errors.New("tokens: ed25519 private key must be a 32-byte seed or 64-byte key")
	}
}

func parseEdPublicKey(key []byte) (ed25519.PublicKey, error) {
	if len(key) != ed25519.PublicKeySize {
		return nil, errors.New("tokens: ed25519 public key must be 32 bytes")
	}
	return ed25519.PublicKey(key), nil
}
