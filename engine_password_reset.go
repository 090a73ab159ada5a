package accounts

import (
	"context"
	"fmt"
	"strings"

	"github.com/apollo-accounts/graphql-accounts/store"
)

// SendResetPasswordToken issues a single-use password reset token bound to
// (user, email, reason) and records it as the user's password.reset service.
// The token is returned to the caller for delivery; the engine never sends
// mail.
//
// With AmbiguousErrorMessages enabled an unknown email reports success with
// an empty token; the real outcome is logged and audited.
func (e *Engine) SendResetPasswordToken(ctx context.Context, email, reason string) (string, error) {
	token, userID, err := e.sendResetPasswordToken(ctx, email, reason)
	e.auditOutcome(ctx, AuditPasswordResetReq, userID, "", ConnectionInfo{}, err)

	if err != nil && e.suppressEnumeration(err) {
		e.logger.Warn("password reset requested for unknown email",
			"email", email, "error", err)
		return "", nil
	}
	return token, err
}

func (e *Engine) sendResetPasswordToken(ctx context.Context, email, reason string) (token, userID string, err error) {
	email = strings.TrimSpace(email)
	if email == "" {
		return "", "", fmt.Errorf("%w: an email is required", ErrInvalidInput)
	}

	user, err := e.store.FindUserByEmail(ctx, email)
	if err != nil {
		return "", "", storeErr(err, ErrUserNotFound)
	}

	token, err = newSecretToken()
	if err != nil {
		return "", user.ID, err
	}

	err = e.store.SetService(ctx, user.ID, store.ServiceRecord{
		Kind:  store.KindPasswordReset,
		Token: token,
		Options: store.ResetOptions{
			Address: strings.ToLower(email),
			When:    e.now().UTC(),
			Reason:  reason,
		},
	})
	if err != nil {
		return "", user.ID, storeErr(err, ErrUserNotFound)
	}
	return token, user.ID, nil
}

// ResetPassword consumes a reset token: verifies it, installs the new
// password hash, removes the token record, and (unless configured otherwise)
// invalidates every other active session of the user.
//
// A consumed or unknown token fails with ErrTokenInvalid; a token older than
// ResetTokenTTL fails with ErrTokenExpired. Either way the token can never
// set a password twice.
func (e *Engine) ResetPassword(ctx context.Context, token, newPassword string, conn ConnectionInfo) error {
	userID, err := e.resetPassword(ctx, token, newPassword)
	e.auditOutcome(ctx, AuditPasswordReset, userID, "", conn, err)
	return err
}

func (e *Engine) resetPassword(ctx context.Context, token, newPassword string) (string, error) {
	if token == "" || newPassword == "" {
		return "", fmt.Errorf("%w: a token and a new password are required", ErrInvalidInput)
	}

	user, err := e.store.FindUserByServiceToken(ctx, store.KindPasswordReset, token)
	if err != nil {
		return "", storeErr(err, ErrTokenInvalid)
	}

	rec := user.Service(store.KindPasswordReset)
	if rec == nil || rec.Token != token {
		return user.ID, fmt.Errorf("%w: reset token no longer active", ErrTokenInvalid)
	}
	opts, ok := rec.Options.(store.ResetOptions)
	if !ok {
		return user.ID, fmt.Errorf("%w: malformed reset record", ErrTokenInvalid)
	}
	if e.now().Sub(opts.When) > e.options.ResetTokenTTL {
		return user.ID, fmt.Errorf("%w: reset token older than %s", ErrTokenExpired, e.options.ResetTokenTTL)
	}

	hash, err := e.hasher.Hash(newPassword)
	if err != nil {
		return user.ID, err
	}

	// Consume the token before installing the hash. The store gives no
	// cross-entity transaction; if the operation dies between the two
	// writes, the failure mode is "request a new reset", never "token can be
	// replayed".
	if err := e.store.UnsetService(ctx, user.ID, store.KindPasswordReset); err != nil {
		return user.ID, storeErr(err, ErrUserNotFound)
	}

	err = e.store.SetService(ctx, user.ID, store.ServiceRecord{
		Kind:    store.KindPassword,
		Options: store.PasswordOptions{Hash: hash},
	})
	if err != nil {
		return user.ID, storeErr(err, ErrUserNotFound)
	}

	if !e.options.KeepSessionsOnPasswordReset {
		if err := e.store.InvalidateAllSessions(ctx, user.ID); err != nil {
			return user.ID, storeErr(err, ErrUserNotFound)
		}
	}
	return user.ID, nil
}

// suppressEnumeration reports whether the error should be hidden behind a
// generic success under AmbiguousErrorMessages.
func (e *Engine) suppressEnumeration(err error) bool {
	return e.options.AmbiguousErrorMessages && errorIs(err, ErrUserNotFound, ErrEmailNotFound)
}
