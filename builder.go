package accounts

import (
	"errors"
	"io"
	"log/slog"
	"time"

	"github.com/apollo-accounts/graphql-accounts/password"
	"github.com/apollo-accounts/graphql-accounts/store"
	"github.com/apollo-accounts/graphql-accounts/tokens"
)

// ServicePassword is the name the built-in password service is registered
// under.
const ServicePassword = "password"

// Builder assembles an [Engine]. A Builder is single-use; Build fails on the
// second call.
type Builder struct {
	options Options
	store   store.Store
	hasher  password.Hasher
	manager *tokens.Manager

	services                map[string]AuthenticationService
	loginValidator          LoginValidator
	impersonationAuthorizer ImpersonationAuthorizer

	logger    *slog.Logger
	auditSink AuditSink
	now       func() time.Time

	built bool
}

// New returns a Builder with default options.
func New() *Builder {
	return &Builder{
		services: make(map[string]AuthenticationService),
	}
}

// WithOptions replaces the engine options.
func (b *Builder) WithOptions(opts Options) *Builder {
	b.options = opts
	return b
}

// WithStore sets the persistence adapter. Required.
func (b *Builder) WithStore(s store.Store) *Builder {
	b.store = s
	return b
}

// WithHasher overrides the credential hasher. Default: bcrypt at
// [password.DefaultBcryptCost].
func (b *Builder) WithHasher(h password.Hasher) *Builder {
	b.hasher = h
	return b
}

// WithTokenManager supplies a prebuilt token manager, overriding
// Options.Tokens.
func (b *Builder) WithTokenManager(m *tokens.Manager) *Builder {
	b.manager = m
	return b
}

// WithService registers an additional authentication service under the given
// name. Registering ServicePassword replaces the built-in one.
func (b *Builder) WithService(name string, svc AuthenticationService) *Builder {
	b.services[name] = svc
	return b
}

// WithLoginValidator installs a post-credential login policy hook.
func (b *Builder) WithLoginValidator(v LoginValidator) *Builder {
	b.loginValidator = v
	return b
}

// WithImpersonationAuthorizer installs the impersonation policy hook.
// Without one, every impersonation attempt fails with ErrUnauthorized.
func (b *Builder) WithImpersonationAuthorizer(a ImpersonationAuthorizer) *Builder {
	b.impersonationAuthorizer = a
	return b
}

// WithLogger sets the structured logger. Default discards.
func (b *Builder) WithLogger(l *slog.Logger) *Builder {
	b.logger = l
	return b
}

// WithAuditSink sets the audit event sink; events flow only when
// Options.Audit.Enabled is also set.
func (b *Builder) WithAuditSink(sink AuditSink) *Builder {
	b.auditSink = sink
	return b
}

// WithClock overrides the wall-clock source used for token expiry and
// service-record timestamps. Test hook.
func (b *Builder) WithClock(now func() time.Time) *Builder {
	b.now = now
	return b
}

// Build validates the configuration and returns the engine.
func (b *Builder) Build() (*Engine, error) {
	if b.built {
		return nil, errors.New("accounts: builder already used")
	}
	b.built = true

	if b.store == nil {
		return nil, errors.New("accounts: store is required")
	}

	opts := b.options
	opts.applyDefaults()
	if err := opts.validate(); err != nil {
		return nil, err
	}

	now := b.now
	if now == nil {
		now = time.Now
	}

	manager := b.manager
	if manager == nil {
		cfg := opts.Tokens
		if cfg.Now == nil {
			cfg.Now = now
		}
		var err error
		manager, err = tokens.NewManager(cfg)
		if err != nil {
			return nil, err
		}
	}

	hasher := b.hasher
	if hasher == nil {
		var err error
		hasher, err = password.NewBcrypt(0)
		if err != nil {
			return nil, err
		}
	}

	logger := b.logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}

	e := &Engine{
		options:                 opts,
		store:                   b.store,
		tokens:                  manager,
		hasher:                  hasher,
		services:                make(map[string]AuthenticationService, len(b.services)+1),
		loginValidator:          b.loginValidator,
		impersonationAuthorizer: b.impersonationAuthorizer,
		logger:                  logger,
		audit:                   newAuditDispatcher(opts.Audit, b.auditSink),
		now:                     now,
	}

	e.services[ServicePassword] = &passwordService{engine: e}
	for name, svc := range b.services {
		if name == "" || svc == nil {
			return nil, errors.New("accounts: service registrations need a name and an implementation")
		}
		e.services[name] = svc
	}

	return e, nil
}
