package accounts

import (
	"context"
	"fmt"

	"github.com/apollo-accounts/graphql-accounts/store"
)

// Impersonate lets an authorized caller obtain tokens scoped to another
// user. A brand-new session is created for the target; the caller's own
// session and tokens stay untouched, so dropping the impersonated tokens
// ends the impersonation.
//
// Authorization is delegated to the ImpersonationAuthorizer configured at
// build time; without one every attempt fails with ErrUnauthorized.
func (e *Engine) Impersonate(ctx context.Context, accessToken string, target ImpersonationTarget, conn ConnectionInfo) (*ImpersonationResult, error) {
	result, err := e.impersonate(ctx, accessToken, target, conn)

	var userID, sessionID string
	if result != nil {
		userID, sessionID = result.User.ID, result.SessionID
	}
	e.auditOutcome(ctx, AuditImpersonate, userID, sessionID, conn, err)
	return result, err
}

func (e *Engine) impersonate(ctx context.Context, accessToken string, target ImpersonationTarget, conn ConnectionInfo) (*ImpersonationResult, error) {
	claims, err := e.tokens.VerifyAccess(accessToken)
	if err != nil {
		return nil, tokenErr(err)
	}

	session, err := e.store.FindSessionByID(ctx, claims.SessionID)
	if err != nil {
		return nil, storeErr(err, ErrSessionInvalidated)
	}
	if !session.Valid {
		return nil, ErrSessionInvalidated
	}

	impersonator, err := e.store.FindUserByID(ctx, session.UserID)
	if err != nil {
		return nil, storeErr(err, ErrUserNotFound)
	}

	targetUser, err := e.resolveImpersonationTarget(ctx, target)
	if err != nil {
		return nil, err
	}
	if targetUser.Deactivated {
		return nil, ErrUserDeactivated
	}

	if e.impersonationAuthorizer == nil {
		return nil, fmt.Errorf("%w: impersonation is not configured", ErrUnauthorized)
	}
	allowed, err := e.impersonationAuthorizer.AuthorizeImpersonation(ctx, impersonator, targetUser)
	if err != nil {
		return nil, err
	}
	if !allowed {
		return nil, fmt.Errorf("%w: user %s may not impersonate %s", ErrUnauthorized, impersonator.ID, targetUser.ID)
	}

	login, err := e.loginUser(ctx, targetUser, conn, map[string]any{
		"impersonatorUserId": impersonator.ID,
	})
	if err != nil {
		return nil, err
	}

	return &ImpersonationResult{
		User:      login.User,
		SessionID: login.SessionID,
		Tokens:    login.Tokens,
	}, nil
}

func (e *Engine) resolveImpersonationTarget(ctx context.Context, target ImpersonationTarget) (*store.User, error) {
	var (
		user *store.User
		err  error
	)
	switch {
	case target.UserID != "":
		user, err = e.store.FindUserByID(ctx, target.UserID)
	case target.Username != "":
		user, err = e.store.FindUserByUsername(ctx, target.Username)
	case target.Email != "":
		user, err = e.store.FindUserByEmail(ctx, target.Email)
	default:
		return nil, fmt.Errorf("%w: an impersonation target is required", ErrInvalidInput)
	}
	return user, storeErr(err, ErrUserNotFound)
}
