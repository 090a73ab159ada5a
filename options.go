package accounts

import (
	"errors"
	"time"

	"github.com/apollo-accounts/graphql-accounts/tokens"
)

const (
	defaultResetTokenTTL        = 3 * 24 * time.Hour
	defaultVerificationTokenTTL = 3 * 24 * time.Hour
)

// Options is the engine configuration. Zero values select the documented
// defaults; the struct is validated once at [Builder.Build] and immutable
// afterwards.
type Options struct {
	// Tokens configures signing material and token lifetimes.
	Tokens tokens.Config

	// AmbiguousErrorMessages, when set, makes account-enumeration-sensitive
	// operations (reset and verification sends) report success for unknown
	// emails. The real outcome is still logged at Warn and audited.
	AmbiguousErrorMessages bool

	// EnableRefreshTokenRotation invalidates the previous refresh token on
	// every refresh. Two racing refresh calls then resolve to exactly one
	// winner; the loser observes ErrTokenInvalid.
	EnableRefreshTokenRotation bool

	// KeepSessionsOnPasswordReset leaves other active sessions alive after a
	// password reset. The default (false) invalidates them all, so a stolen
	// session does not survive the very action a victim takes to evict it.
	KeepSessionsOnPasswordReset bool

	// ResetTokenTTL bounds the life of password reset tokens. Default 3
	// days.
	ResetTokenTTL time.Duration

	// VerificationTokenTTL bounds the life of email verification tokens.
	// Default 3 days.
	VerificationTokenTTL time.Duration

	// Audit configures the asynchronous audit dispatcher.
	Audit AuditOptions
}

// AuditOptions tunes audit event delivery.
type AuditOptions struct {
	Enabled    bool
	BufferSize int
	// DropIfFull drops events instead of blocking when the buffer is full.
	DropIfFull bool
}

func (o *Options) applyDefaults() {
	if o.ResetTokenTTL <= 0 {
		o.ResetTokenTTL = defaultResetTokenTTL
	}
	if o.VerificationTokenTTL <= 0 {
		o.VerificationTokenTTL = defaultVerificationTokenTTL
	}
}

func (o *Options) validate() error {
	if o.ResetTokenTTL <= 0 || o.VerificationTokenTTL <= 0 {
		return errors.New("accounts: token TTLs must be positive")
	}
	return nil
}
