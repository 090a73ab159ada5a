package accounts

import (
	"context"
	"fmt"
	"strings"
)

// SetUsername changes the user's username. Fails with
// ErrUsernameAlreadyExists when another user holds it.
func (e *Engine) SetUsername(ctx context.Context, userID, username string) error {
	username = strings.TrimSpace(username)
	if username == "" {
		return fmt.Errorf("%w: a username is required", ErrInvalidInput)
	}

	if existing, err := e.store.FindUserByUsername(ctx, username); err == nil {
		if existing.ID == userID {
			return nil
		}
		return ErrUsernameAlreadyExists
	}

	return storeErr(e.store.SetUsername(ctx, userID, username), ErrUserNotFound)
}

// SetProfile replaces the user's profile wholesale.
func (e *Engine) SetProfile(ctx context.Context, userID string, profile map[string]any) error {
	return storeErr(e.store.SetProfile(ctx, userID, profile), ErrUserNotFound)
}

// UpdateProfile merges the given fields into the existing profile, leaving
// unmentioned keys untouched.
func (e *Engine) UpdateProfile(ctx context.Context, userID string, fields map[string]any) (map[string]any, error) {
	user, err := e.store.FindUserByID(ctx, userID)
	if err != nil {
		return nil, storeErr(err, ErrUserNotFound)
	}

	merged := make(map[string]any, len(user.Profile)+len(fields))
	for k, v := range user.Profile {
		merged[k] = v
	}
	for k, v := range fields {
		merged[k] = v
	}

	if err := e.store.SetProfile(ctx, userID, merged); err != nil {
		return nil, storeErr(err, ErrUserNotFound)
	}
	return merged, nil
}

// SetUserDeactivated toggles the deactivated flag. Deactivating also revokes
// every active session, so existing tokens stop resuming immediately rather
// than at their next refresh.
func (e *Engine) SetUserDeactivated(ctx context.Context, userID string, deactivated bool) error {
	err := e.setUserDeactivated(ctx, userID, deactivated)
	if deactivated {
		e.auditOutcome(ctx, AuditUserDeactivate, userID, "", ConnectionInfo{}, err)
	}
	return err
}

func (e *Engine) setUserDeactivated(ctx context.Context, userID string, deactivated bool) error {
	if err := e.store.SetUserDeactivated(ctx, userID, deactivated); err != nil {
		return storeErr(err, ErrUserNotFound)
	}
	if deactivated {
		return storeErr(e.store.InvalidateAllSessions(ctx, userID), ErrUserNotFound)
	}
	return nil
}
