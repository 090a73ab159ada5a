// Package store defines the persistence contract consumed by the accounts
// engine. The engine never talks to a database directly; everything it knows
// about users, credentials, and sessions goes through [Store].
//
// Two reference implementations ship with this module: store/memory (maps
// behind a mutex, used by the test suites and examples) and store/redisstore
// (Redis hashes with secondary indexes). Production deployments typically
// supply their own adapter.
package store

import (
	"context"
	"errors"
	"time"
)

// Sentinel errors returned by Store implementations. Adapters must map their
// backend's failures onto these values so the engine can classify outcomes
// without knowing the backend.
var (
	// ErrNotFound is returned when the requested user, session, or service
	// record does not exist.
	ErrNotFound = errors.New("store: record not found")

	// ErrTokenMismatch is returned by RotateSessionToken when the stored
	// session token no longer matches the expected value. Exactly one of two
	// racing rotations observes success; the other observes this error.
	ErrTokenMismatch = errors.New("store: session token mismatch")

	// ErrUnavailable wraps backend failures (connection loss, timeout). The
	// engine surfaces these as retryable.
	ErrUnavailable = errors.New("store: backend unavailable")
)

// Email is one address attached to a user.
type Email struct {
	Address  string `json:"address"`
	Verified bool   `json:"verified"`
}

// User is the account record owned by the storage layer. The engine holds
// users only by ID between calls.
type User struct {
	ID          string          `json:"id"`
	Username    string          `json:"username,omitempty"`
	Emails      []Email         `json:"emails,omitempty"`
	Services    []ServiceRecord `json:"services,omitempty"`
	Profile     map[string]any  `json:"profile,omitempty"`
	Deactivated bool            `json:"deactivated,omitempty"`
}

// EmailAddresses returns the plain addresses of all emails on the user.
func (u *User) EmailAddresses() []string {
	out := make([]string, 0, len(u.Emails))
	for _, e := range u.Emails {
		out = append(out, e.Address)
	}
	return out
}

// Service returns the service record of the given kind, or nil.
func (u *User) Service(kind ServiceKind) *ServiceRecord {
	for i := range u.Services {
		if u.Services[i].Kind == kind {
			return &u.Services[i]
		}
	}
	return nil
}

// Session records one authenticated device. Token is an opaque random value
// independent of any signed token material; refresh rotation swaps it via
// [Store.RotateSessionToken].
type Session struct {
	ID        string         `json:"id"`
	UserID    string         `json:"userId"`
	Token     string         `json:"token"`
	UserAgent string         `json:"userAgent,omitempty"`
	IP        string         `json:"ip,omitempty"`
	Extra     map[string]any `json:"extra,omitempty"`
	Valid     bool           `json:"valid"`
	CreatedAt time.Time      `json:"createdAt"`
	UpdatedAt time.Time      `json:"updatedAt"`
}

// Connection is the device metadata captured at session creation and refresh.
type Connection struct {
	UserAgent string
	IP        string
}

// NewUser is the input to [Store.CreateUser]. At least one of Username or
// Email must be set; PasswordHash may be empty for passwordless accounts.
type NewUser struct {
	Username     string
	Email        string
	PasswordHash string
	Profile      map[string]any
}

// Store is the narrow persistence contract required by the engine.
//
// Every method is atomic per entity; reads reflect the most recent committed
// write. No method spans entities transactionally, and the engine does not
// assume cross-entity atomicity. Implementations must honor ctx cancellation
// on any call that can block.
type Store interface {
	// FindUserByID returns the user or ErrNotFound.
	FindUserByID(ctx context.Context, userID string) (*User, error)
	// FindUserByEmail matches case-insensitively on the stored address.
	FindUserByEmail(ctx context.Context, email string) (*User, error)
	FindUserByUsername(ctx context.Context, username string) (*User, error)
	// FindUserByServiceID resolves a user through an external service
	// identifier (e.g. an OAuth provider user id) recorded on a service.
	FindUserByServiceID(ctx context.Context, kind ServiceKind, serviceID string) (*User, error)
	// FindUserByServiceToken resolves a user through the single-use token on
	// a service record (password reset, email verification).
	FindUserByServiceToken(ctx context.Context, kind ServiceKind, token string) (*User, error)

	// CreateUser stores a new user and returns its generated ID. A non-empty
	// Email is stored unverified; a non-empty PasswordHash is stored as a
	// KindPassword service record.
	CreateUser(ctx context.Context, user NewUser) (string, error)
	SetUsername(ctx context.Context, userID, username string) error
	// SetProfile replaces the stored profile wholesale.
	SetProfile(ctx context.Context, userID string, profile map[string]any) error
	SetUserDeactivated(ctx context.Context, userID string, deactivated bool) error

	AddEmail(ctx context.Context, userID, address string, verified bool) error
	// RemoveEmail returns ErrNotFound when the address is not on the user.
	RemoveEmail(ctx context.Context, userID, address string) error
	// VerifyEmail flips the verified flag on the given address.
	VerifyEmail(ctx context.Context, userID, address string) error

	// GetService returns the user's record of the given kind or ErrNotFound.
	GetService(ctx context.Context, userID string, kind ServiceKind) (*ServiceRecord, error)
	// SetService upserts the record for (user, record.Kind). At most one
	// record per kind is kept.
	SetService(ctx context.Context, userID string, record ServiceRecord) error
	// UnsetService removes the record of the given kind. Removing an absent
	// record is a no-op, not an error.
	UnsetService(ctx context.Context, userID string, kind ServiceKind) error

	FindSessionByID(ctx context.Context, sessionID string) (*Session, error)
	FindSessionByToken(ctx context.Context, token string) (*Session, error)
	// CreateSession stores a new valid session and returns its generated ID.
	CreateSession(ctx context.Context, userID, token string, conn Connection, extra map[string]any) (string, error)
	// UpdateSession refreshes device metadata and the UpdatedAt stamp.
	UpdateSession(ctx context.Context, sessionID string, conn Connection) error
	// RotateSessionToken atomically swaps the session token from oldToken to
	// newToken. It fails with ErrTokenMismatch when the stored token is not
	// oldToken, and with ErrNotFound when the session is gone or invalid.
	RotateSessionToken(ctx context.Context, sessionID, oldToken, newToken string) error
	// InvalidateSession marks the session invalid. Invalidating an already
	// invalid session is a no-op.
	InvalidateSession(ctx context.Context, sessionID string) error
	InvalidateAllSessions(ctx context.Context, userID string) error
}
