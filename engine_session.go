package accounts

import (
	"context"
	"errors"
	"fmt"

	"github.com/apollo-accounts/graphql-accounts/store"
	"github.com/apollo-accounts/graphql-accounts/tokens"
)

// RefreshTokens exchanges a valid refresh token (plus its paired access
// token, which may already be expired) for a fresh pair on the same session.
//
// When rotation is enabled, the presented refresh token is consumed: of two
// concurrent calls with the same token, exactly one succeeds and the other
// fails with ErrTokenInvalid. A logged-out or revoked session fails with
// ErrSessionInvalidated.
func (e *Engine) RefreshTokens(ctx context.Context, accessToken, refreshToken string, conn ConnectionInfo) (*LoginResult, error) {
	result, err := e.refreshTokens(ctx, accessToken, refreshToken, conn)

	var userID, sessionID string
	if result != nil {
		userID, sessionID = result.User.ID, result.SessionID
	}
	e.auditOutcome(ctx, AuditRefresh, userID, sessionID, conn, err)
	return result, err
}

func (e *Engine) refreshTokens(ctx context.Context, accessToken, refreshToken string, conn ConnectionInfo) (*LoginResult, error) {
	if accessToken == "" || refreshToken == "" {
		return nil, fmt.Errorf("%w: an access and refresh token are required", ErrInvalidInput)
	}

	refreshClaims, err := e.tokens.VerifyRefresh(refreshToken)
	if err != nil {
		return nil, tokenErr(err)
	}

	// The access token is past its useful life here; require only that it is
	// genuine and belongs to the same session.
	accessClaims, err := e.tokens.ParseUnverifiedExpiry(accessToken, tokens.TypeAccess)
	if err != nil {
		return nil, tokenErr(err)
	}
	if accessClaims.SessionID != refreshClaims.SessionID || accessClaims.UserID != refreshClaims.UserID {
		return nil, fmt.Errorf("%w: token pair mismatch", ErrTokenInvalid)
	}

	session, err := e.store.FindSessionByID(ctx, refreshClaims.SessionID)
	if err != nil {
		return nil, storeErr(err, ErrSessionInvalidated)
	}
	if !session.Valid {
		return nil, ErrSessionInvalidated
	}

	user, err := e.store.FindUserByID(ctx, session.UserID)
	if err != nil {
		return nil, storeErr(err, ErrUserNotFound)
	}
	if user.Deactivated {
		return nil, ErrUserDeactivated
	}

	sessionToken := session.Token
	if e.options.EnableRefreshTokenRotation {
		next, err := newSecretToken()
		if err != nil {
			return nil, err
		}
		err = e.store.RotateSessionToken(ctx, session.ID, refreshClaims.SessionToken, next)
		switch {
		case errors.Is(err, store.ErrTokenMismatch):
			return nil, fmt.Errorf("%w: refresh token already rotated", ErrTokenInvalid)
		case err != nil:
			return nil, storeErr(err, ErrSessionInvalidated)
		}
		sessionToken = next
	} else if session.Token != refreshClaims.SessionToken {
		return nil, fmt.Errorf("%w: refresh token does not match session", ErrTokenInvalid)
	}

	if err := e.store.UpdateSession(ctx, session.ID, conn.storeConnection()); err != nil {
		return nil, storeErr(err, ErrSessionInvalidated)
	}

	pair, err := e.tokens.IssueTokens(user.ID, session.ID, sessionToken, nil)
	if err != nil {
		return nil, err
	}

	return &LoginResult{User: user, SessionID: session.ID, Tokens: pair}, nil
}

// Logout invalidates the session referenced by the access token. Logging out
// of an already-invalid session is a no-op, not an error.
func (e *Engine) Logout(ctx context.Context, accessToken string) error {
	err := e.logout(ctx, accessToken)
	e.auditOutcome(ctx, AuditLogout, "", "", ConnectionInfo{}, err)
	return err
}

func (e *Engine) logout(ctx context.Context, accessToken string) error {
	claims, err := e.tokens.VerifyAccess(accessToken)
	if err != nil {
		return tokenErr(err)
	}

	session, err := e.store.FindSessionByID(ctx, claims.SessionID)
	if err != nil {
		return storeErr(err, ErrSessionInvalidated)
	}
	if !session.Valid {
		return nil // already logged out
	}

	return storeErr(e.store.InvalidateSession(ctx, session.ID), ErrSessionInvalidated)
}

// ResumeSession verifies an access token and returns the user it belongs to,
// provided the session is still active. This is what transport middleware
// calls on every authenticated request.
func (e *Engine) ResumeSession(ctx context.Context, accessToken string) (*store.User, error) {
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

	user, err := e.store.FindUserByID(ctx, session.UserID)
	if err != nil {
		return nil, storeErr(err, ErrUserNotFound)
	}
	if user.Deactivated {
		return nil, ErrUserDeactivated
	}
	return user, nil
}

// InvalidateAllSessions revokes every active session of the user, e.g. after
// an account takeover report.
func (e *Engine) InvalidateAllSessions(ctx context.Context, userID string) error {
	if _, err := e.store.FindUserByID(ctx, userID); err != nil {
		return storeErr(err, ErrUserNotFound)
	}
	return storeErr(e.store.InvalidateAllSessions(ctx, userID), ErrUserNotFound)
}
