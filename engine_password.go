package accounts

import (
	"context"
	"fmt"

	"github.com/apollo-accounts/graphql-accounts/store"
)

// SetPassword installs a new password hash for the user, replacing any
// existing one. Administrative operation; no old-password check.
func (e *Engine) SetPassword(ctx context.Context, userID, newPassword string) error {
	if newPassword == "" {
		return fmt.Errorf("%w: a new password is required", ErrInvalidInput)
	}

	if _, err := e.store.FindUserByID(ctx, userID); err != nil {
		return storeErr(err, ErrUserNotFound)
	}

	hash, err := e.hasher.Hash(newPassword)
	if err != nil {
		return err
	}
	return storeErr(e.store.SetService(ctx, userID, store.ServiceRecord{
		Kind:    store.KindPassword,
		Options: store.PasswordOptions{Hash: hash},
	}), ErrUserNotFound)
}

// ChangePassword verifies the old password before installing the new one.
// Fails with ErrIncorrectPassword on mismatch and ErrServiceNotFound when
// the account has no password credential.
func (e *Engine) ChangePassword(ctx context.Context, userID, oldPassword, newPassword string) error {
	err := e.changePassword(ctx, userID, oldPassword, newPassword)
	e.auditOutcome(ctx, AuditPasswordChange, userID, "", ConnectionInfo{}, err)
	return err
}

func (e *Engine) changePassword(ctx context.Context, userID, oldPassword, newPassword string) error {
	if newPassword == "" {
		return fmt.Errorf("%w: a new password is required", ErrInvalidInput)
	}

	rec, err := e.store.GetService(ctx, userID, store.KindPassword)
	if err != nil {
		return storeErr(err, ErrServiceNotFound)
	}
	opts, ok := rec.Options.(store.PasswordOptions)
	if !ok || opts.Hash == "" {
		return fmt.Errorf("%w: user has no password hash", ErrServiceNotFound)
	}

	match, err := e.hasher.Verify(oldPassword, opts.Hash)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}
	if !match {
		return ErrIncorrectPassword
	}

	return e.SetPassword(ctx, userID, newPassword)
}
