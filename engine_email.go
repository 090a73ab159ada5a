package accounts

import (
	"context"
	"fmt"
	"strings"

	"github.com/apollo-accounts/graphql-accounts/store"
)

// SendVerificationEmail issues a single-use email verification token for an
// unverified address and records it as the user's email.verificationTokens
// service. The token is returned for delivery.
//
// Under AmbiguousErrorMessages an unknown email reports success with an
// empty token, logged and audited like the reset flow.
func (e *Engine) SendVerificationEmail(ctx context.Context, email string) (string, error) {
	token, userID, err := e.sendVerificationEmail(ctx, email)
	e.auditOutcome(ctx, AuditEmailVerifyReq, userID, "", ConnectionInfo{}, err)

	if err != nil && e.suppressEnumeration(err) {
		e.logger.Warn("email verification requested for unknown email",
			"email", email, "error", err)
		return "", nil
	}
	return token, err
}

func (e *Engine) sendVerificationEmail(ctx context.Context, email string) (token, userID string, err error) {
	email = strings.ToLower(strings.TrimSpace(email))
	if email == "" {
		return "", "", fmt.Errorf("%w: an email is required", ErrInvalidInput)
	}

	user, err := e.store.FindUserByEmail(ctx, email)
	if err != nil {
		return "", "", storeErr(err, ErrUserNotFound)
	}

	var record *store.Email
	for i := range user.Emails {
		if user.Emails[i].Address == email {
			record = &user.Emails[i]
			break
		}
	}
	if record == nil {
		return "", user.ID, ErrEmailNotFound
	}
	if record.Verified {
		return "", user.ID, fmt.Errorf("%w: email is already verified", ErrInvalidInput)
	}

	token, err = newSecretToken()
	if err != nil {
		return "", user.ID, err
	}

	err = e.store.SetService(ctx, user.ID, store.ServiceRecord{
		Kind:  store.KindEmailVerification,
		Token: token,
		Options: store.VerificationOptions{
			Address: email,
			When:    e.now().UTC(),
		},
	})
	if err != nil {
		return "", user.ID, storeErr(err, ErrUserNotFound)
	}
	return token, user.ID, nil
}

// VerifyEmail consumes a verification token: marks the bound address
// verified and removes the token record. Unknown or consumed tokens fail
// with ErrTokenInvalid; tokens older than VerificationTokenTTL with
// ErrTokenExpired.
func (e *Engine) VerifyEmail(ctx context.Context, token string) error {
	userID, err := e.verifyEmail(ctx, token)
	e.auditOutcome(ctx, AuditEmailVerify, userID, "", ConnectionInfo{}, err)
	return err
}

func (e *Engine) verifyEmail(ctx context.Context, token string) (string, error) {
	if token == "" {
		return "", fmt.Errorf("%w: a token is required", ErrInvalidInput)
	}

	user, err := e.store.FindUserByServiceToken(ctx, store.KindEmailVerification, token)
	if err != nil {
		return "", storeErr(err, ErrTokenInvalid)
	}

	rec := user.Service(store.KindEmailVerification)
	if rec == nil || rec.Token != token {
		return user.ID, fmt.Errorf("%w: verification token no longer active", ErrTokenInvalid)
	}
	opts, ok := rec.Options.(store.VerificationOptions)
	if !ok {
		return user.ID, fmt.Errorf("%w: malformed verification record", ErrTokenInvalid)
	}
	if e.now().Sub(opts.When) > e.options.VerificationTokenTTL {
		return user.ID, fmt.Errorf("%w: verification token older than %s", ErrTokenExpired, e.options.VerificationTokenTTL)
	}

	if err := e.store.VerifyEmail(ctx, user.ID, opts.Address); err != nil {
		return user.ID, storeErr(err, ErrEmailNotFound)
	}
	return user.ID, storeErr(e.store.UnsetService(ctx, user.ID, store.KindEmailVerification), ErrUserNotFound)
}

// AddEmail attaches a new, unverified address to the user.
func (e *Engine) AddEmail(ctx context.Context, userID, email string) error {
	email = strings.TrimSpace(email)
	if email == "" {
		return fmt.Errorf("%w: an email is required", ErrInvalidInput)
	}
	return storeErr(e.store.AddEmail(ctx, userID, email, false), ErrUserNotFound)
}

// RemoveEmail detaches an address from the user. Fails with ErrEmailNotFound
// when the address is not on the user.
func (e *Engine) RemoveEmail(ctx context.Context, userID, email string) error {
	if _, err := e.store.FindUserByID(ctx, userID); err != nil {
		return storeErr(err, ErrUserNotFound)
	}
	return storeErr(e.store.RemoveEmail(ctx, userID, email), ErrEmailNotFound)
}

// MarkEmailVerified flips the verified flag directly, without a token.
// Administrative operation.
func (e *Engine) MarkEmailVerified(ctx context.Context, userID, email string) error {
	if _, err := e.store.FindUserByID(ctx, userID); err != nil {
		return storeErr(err, ErrUserNotFound)
	}
	return storeErr(e.store.VerifyEmail(ctx, userID, email), ErrEmailNotFound)
}
