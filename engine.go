package accounts

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/apollo-accounts/graphql-accounts/password"
	"github.com/apollo-accounts/graphql-accounts/store"
	"github.com/apollo-accounts/graphql-accounts/tokens"
)

// Engine orchestrates credential verification, token issuing, and session
// state transitions. Construct it through [Builder]; it is immutable and
// safe for concurrent use afterwards. All mutable state lives in the
// [store.Store].
type Engine struct {
	options Options
	store   store.Store
	tokens  *tokens.Manager
	hasher  password.Hasher

	services                map[string]AuthenticationService
	loginValidator          LoginValidator
	impersonationAuthorizer ImpersonationAuthorizer

	logger *slog.Logger
	audit  *auditDispatcher
	now    func() time.Time
}

// Close flushes and stops the audit dispatcher. The engine must not be used
// after Close.
func (e *Engine) Close() {
	if e == nil {
		return
	}
	e.audit.Close()
}

// Store exposes the configured store, mainly for transport bindings that
// need read access to user records.
func (e *Engine) Store() store.Store { return e.store }

// TokenManager exposes the configured token manager so middleware can verify
// access tokens without round-tripping through the engine.
func (e *Engine) TokenManager() *tokens.Manager { return e.tokens }

// AuditDropped reports how many audit events were discarded because the
// buffer was full.
func (e *Engine) AuditDropped() uint64 { return e.audit.Dropped() }

const sessionTokenBytes = 32

// newSecretToken returns a 32-byte random value in padless base64url, used
// for session tokens and single-use reset/verification tokens.
func newSecretToken() (string, error) {
	buf := make([]byte, sessionTokenBytes)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}

// storeErr maps store sentinel failures to engine sentinels: ErrNotFound
// becomes notFound, backend failures become ErrStoreUnavailable. Other
// errors pass through.
func storeErr(err, notFound error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, store.ErrNotFound):
		return notFound
	case errors.Is(err, store.ErrUnavailable):
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	default:
		return err
	}
}

// errorIs reports whether err matches any of the given sentinels.
func errorIs(err error, targets ...error) bool {
	for _, target := range targets {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}

// tokenErr maps token manager failures to engine sentinels.
func tokenErr(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, tokens.ErrExpired):
		return fmt.Errorf("%w: %v", ErrTokenExpired, err)
	default:
		return fmt.Errorf("%w: %v", ErrTokenInvalid, err)
	}
}

func (e *Engine) emitAudit(ctx context.Context, event AuditEvent) {
	if e.audit == nil {
		return
	}
	event.Timestamp = e.now().UTC()
	e.audit.Emit(ctx, event)
}

func (e *Engine) auditOutcome(ctx context.Context, eventType, userID, sessionID string, conn ConnectionInfo, err error) {
	event := AuditEvent{
		EventType: eventType,
		UserID:    userID,
		SessionID: sessionID,
		IP:        conn.IP,
		Success:   err == nil,
	}
	if err != nil {
		event.Error = err.Error()
	}
	e.emitAudit(ctx, event)
}
