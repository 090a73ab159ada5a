package accounts

import (
	"context"

	"github.com/apollo-accounts/graphql-accounts/store"
	"github.com/apollo-accounts/graphql-accounts/tokens"
)

// ConnectionInfo is the device metadata a transport layer captures for a
// request. It ends up on the session record.
type ConnectionInfo struct {
	UserAgent string
	IP        string
}

func (c ConnectionInfo) storeConnection() store.Connection {
	return store.Connection{UserAgent: c.UserAgent, IP: c.IP}
}

// LoginResult is returned by [Engine.Authenticate] and
// [Engine.RefreshTokens].
type LoginResult struct {
	User      *store.User
	SessionID string
	Tokens    tokens.Pair
}

// ImpersonationResult is returned by [Engine.Impersonate]. The tokens are
// scoped to a brand-new session owned by the target user; the impersonator's
// own session is untouched.
type ImpersonationResult struct {
	User      *store.User
	SessionID string
	Tokens    tokens.Pair
}

// ImpersonationTarget selects the user to impersonate. Exactly one field
// should be set; they are tried in declaration order.
type ImpersonationTarget struct {
	UserID   string
	Username string
	Email    string
}

// CreateUserParams is the input to [Engine.CreateUser]. At least one of
// Username or Email is required.
type CreateUserParams struct {
	Username string
	Email    string
	Password string
	Profile  map[string]any
}

// AuthenticateParams carries the credentials handed to an authentication
// service. The built-in password service reads Email or Username plus
// Password; pluggable services read Extra.
type AuthenticateParams struct {
	Email    string
	Username string
	Password string
	Extra    map[string]any
}

// AuthenticationService verifies credentials for one named service and
// resolves the user they belong to. The built-in "password" service is
// registered automatically; others are added via [Builder.WithService].
type AuthenticationService interface {
	Authenticate(ctx context.Context, params AuthenticateParams) (*store.User, error)
}

// LoginValidator is consulted after credentials check out but before a
// session is created. Returning an error aborts the login; the error is
// surfaced unchanged so policies can pick their own failure kind.
type LoginValidator interface {
	ValidateLogin(ctx context.Context, user *store.User, conn ConnectionInfo) error
}

// LoginValidatorFunc adapts a function to [LoginValidator].
type LoginValidatorFunc func(ctx context.Context, user *store.User, conn ConnectionInfo) error

// ValidateLogin implements [LoginValidator].
func (f LoginValidatorFunc) ValidateLogin(ctx context.Context, user *store.User, conn ConnectionInfo) error {
	return f(ctx, user, conn)
}

// ImpersonationAuthorizer decides whether impersonator may act as target.
// The default authorizer denies everything.
type ImpersonationAuthorizer interface {
	AuthorizeImpersonation(ctx context.Context, impersonator, target *store.User) (bool, error)
}

// ImpersonationAuthorizerFunc adapts a function to
// [ImpersonationAuthorizer].
type ImpersonationAuthorizerFunc func(ctx context.Context, impersonator, target *store.User) (bool, error)

// AuthorizeImpersonation implements [ImpersonationAuthorizer].
func (f ImpersonationAuthorizerFunc) AuthorizeImpersonation(ctx context.Context, impersonator, target *store.User) (bool, error) {
	return f(ctx, impersonator, target)
}
