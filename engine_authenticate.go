package accounts

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/apollo-accounts/graphql-accounts/store"
)

// Authenticate verifies credentials through the named authentication service
// and, on success, creates a session and issues a token pair.
//
// Failure kinds: ErrServiceNotFound for an unregistered service,
// ErrUserNotFound / ErrIncorrectPassword from the password service,
// ErrUserDeactivated for deactivated accounts, plus whatever the configured
// LoginValidator returns.
func (e *Engine) Authenticate(ctx context.Context, serviceName string, params AuthenticateParams, conn ConnectionInfo) (*LoginResult, error) {
	result, err := e.authenticate(ctx, serviceName, params, conn)

	var userID, sessionID string
	if result != nil {
		userID, sessionID = result.User.ID, result.SessionID
	}
	e.auditOutcome(ctx, AuditLogin, userID, sessionID, conn, err)
	return result, err
}

func (e *Engine) authenticate(ctx context.Context, serviceName string, params AuthenticateParams, conn ConnectionInfo) (*LoginResult, error) {
	svc, ok := e.services[serviceName]
	if !ok {
		return nil, fmt.Errorf("%w: no authentication service %q", ErrServiceNotFound, serviceName)
	}

	user, err := svc.Authenticate(ctx, params)
	if err != nil {
		return nil, err
	}
	if user.Deactivated {
		return nil, ErrUserDeactivated
	}

	if e.loginValidator != nil {
		if err := e.loginValidator.ValidateLogin(ctx, user, conn); err != nil {
			return nil, err
		}
	}

	return e.loginUser(ctx, user, conn, nil)
}

// loginUser creates a session for an already-authenticated user and issues
// its first token pair.
func (e *Engine) loginUser(ctx context.Context, user *store.User, conn ConnectionInfo, extra map[string]any) (*LoginResult, error) {
	sessionToken, err := newSecretToken()
	if err != nil {
		return nil, err
	}

	sessionID, err := e.store.CreateSession(ctx, user.ID, sessionToken, conn.storeConnection(), extra)
	if err != nil {
		return nil, storeErr(err, ErrUserNotFound)
	}

	pair, err := e.tokens.IssueTokens(user.ID, sessionID, sessionToken, nil)
	if err != nil {
		return nil, err
	}

	return &LoginResult{User: user, SessionID: sessionID, Tokens: pair}, nil
}

// passwordService is the built-in "password" authentication service: resolve
// the user by email or username, then verify against the stored hash.
type passwordService struct {
	engine *Engine
}

func (s *passwordService) Authenticate(ctx context.Context, params AuthenticateParams) (*store.User, error) {
	e := s.engine

	if params.Password == "" || (params.Email == "" && params.Username == "") {
		return nil, fmt.Errorf("%w: password login needs an email or username and a password", ErrInvalidInput)
	}

	user, err := e.findUserByIdentifier(ctx, params.Email, params.Username)
	if err != nil {
		return nil, err
	}

	rec := user.Service(store.KindPassword)
	if rec == nil {
		return nil, fmt.Errorf("%w: user has no password service", ErrServiceNotFound)
	}
	opts, ok := rec.Options.(store.PasswordOptions)
	if !ok || opts.Hash == "" {
		return nil, fmt.Errorf("%w: user has no password hash", ErrServiceNotFound)
	}

	match, err := e.hasher.Verify(params.Password, opts.Hash)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}
	if !match {
		return nil, ErrIncorrectPassword
	}

	// Opportunistic work-factor upgrade; a failure here must not block the
	// login.
	if e.hasher.NeedsRehash(opts.Hash) {
		if newHash, err := e.hasher.Hash(params.Password); err == nil {
			if err := e.store.SetService(ctx, user.ID, store.ServiceRecord{
				Kind:    store.KindPassword,
				Options: store.PasswordOptions{Hash: newHash},
			}); err != nil {
				e.logger.Warn("password rehash upgrade failed", "user_id", user.ID, "error", err)
			}
		}
	}

	return user, nil
}

func (e *Engine) findUserByIdentifier(ctx context.Context, email, username string) (*store.User, error) {
	var (
		user *store.User
		err  error
	)
	switch {
	case email != "":
		user, err = e.store.FindUserByEmail(ctx, email)
	default:
		user, err = e.store.FindUserByUsername(ctx, username)
	}
	return user, storeErr(err, ErrUserNotFound)
}

// CreateUser registers a new account. At least one of Username or Email is
// required; the password, when present, is hashed before it reaches the
// store.
func (e *Engine) CreateUser(ctx context.Context, params CreateUserParams) (string, error) {
	userID, err := e.createUser(ctx, params)
	e.auditOutcome(ctx, AuditUserCreate, userID, "", ConnectionInfo{}, err)
	return userID, err
}

func (e *Engine) createUser(ctx context.Context, params CreateUserParams) (string, error) {
	params.Email = strings.TrimSpace(params.Email)
	params.Username = strings.TrimSpace(params.Username)
	if params.Email == "" && params.Username == "" {
		return "", fmt.Errorf("%w: a username or an email is required", ErrInvalidInput)
	}

	if params.Email != "" {
		if _, err := e.store.FindUserByEmail(ctx, params.Email); err == nil {
			return "", ErrEmailAlreadyExists
		} else if !errors.Is(err, store.ErrNotFound) {
			return "", storeErr(err, ErrUserNotFound)
		}
	}
	if params.Username != "" {
		if _, err := e.store.FindUserByUsername(ctx, params.Username); err == nil {
			return "", ErrUsernameAlreadyExists
		} else if !errors.Is(err, store.ErrNotFound) {
			return "", storeErr(err, ErrUserNotFound)
		}
	}

	newUser := store.NewUser{
		Username: params.Username,
		Email:    params.Email,
		Profile:  params.Profile,
	}
	if params.Password != "" {
		hash, err := e.hasher.Hash(params.Password)
		if err != nil {
			return "", err
		}
		newUser.PasswordHash = hash
	}

	userID, err := e.store.CreateUser(ctx, newUser)
	return userID, storeErr(err, ErrUserNotFound)
}
