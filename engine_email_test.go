package accounts

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestEmailVerificationFlow(t *testing.T) {
	env := newTestEngine(t, Options{}, nil)
	ctx := context.Background()
	createTestUser(t, env.engine)

	token, err := env.engine.SendVerificationEmail(ctx, "alice@example.com")
	if err != nil {
		t.Fatalf("SendVerificationEmail failed: %v", err)
	}
	if token == "" {
		t.Fatal("expected a verification token")
	}

	if err := env.engine.VerifyEmail(ctx, token); err != nil {
		t.Fatalf("VerifyEmail failed: %v", err)
	}

	user, err := env.store.FindUserByEmail(ctx, "alice@example.com")
	if err != nil {
		t.Fatalf("FindUserByEmail failed: %v", err)
	}
	if !user.Emails[0].Verified {
		t.Fatal("expected the address to be verified")
	}

	// the token is single-use
	if err := env.engine.VerifyEmail(ctx, token); !errors.Is(err, ErrTokenInvalid) {
		t.Fatalf("expected replayed token to fail with ErrTokenInvalid, got %v", err)
	}

	// an already-verified address cannot request another token
	if _, err := env.engine.SendVerificationEmail(ctx, "alice@example.com"); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput for a verified address, got %v", err)
	}
}

func TestEmailVerificationTokenExpiry(t *testing.T) {
	env := newTestEngine(t, Options{VerificationTokenTTL: time.Hour}, nil)
	ctx := context.Background()
	createTestUser(t, env.engine)

	token, err := env.engine.SendVerificationEmail(ctx, "alice@example.com")
	if err != nil {
		t.Fatalf("SendVerificationEmail failed: %v", err)
	}

	env.clock.Advance(2 * time.Hour)

	if err := env.engine.VerifyEmail(ctx, token); !errors.Is(err, ErrTokenExpired) {
		t.Fatalf("expected ErrTokenExpired, got %v", err)
	}
}

func TestEmailVerificationUnknownEmail(t *testing.T) {
	env := newTestEngine(t, Options{}, nil)
	ctx := context.Background()

	if _, err := env.engine.SendVerificationEmail(ctx, "nobody@example.com"); !errors.Is(err, ErrUserNotFound) {
		t.Fatalf("expected ErrUserNotFound, got %v", err)
	}

	ambiguous := newTestEngine(t, Options{AmbiguousErrorMessages: true}, nil)
	token, err := ambiguous.engine.SendVerificationEmail(ctx, "nobody@example.com")
	if err != nil {
		t.Fatalf("expected enumeration-safe success, got %v", err)
	}
	if token != "" {
		t.Fatal("expected an empty token for an unknown email")
	}
}

func TestVerificationTokenBindsToAddress(t *testing.T) {
	env := newTestEngine(t, Options{}, nil)
	ctx := context.Background()
	userID := createTestUser(t, env.engine)

	if err := env.engine.AddEmail(ctx, userID, "Second@Example.com"); err != nil {
		t.Fatalf("AddEmail failed: %v", err)
	}

	token, err := env.engine.SendVerificationEmail(ctx, "second@example.com")
	if err != nil {
		t.Fatalf("SendVerificationEmail failed: %v", err)
	}
	if err := env.engine.VerifyEmail(ctx, token); err != nil {
		t.Fatalf("VerifyEmail failed: %v", err)
	}

	user, err := env.store.FindUserByID(ctx, userID)
	if err != nil {
		t.Fatalf("FindUserByID failed: %v", err)
	}
	for _, e := range user.Emails {
		switch e.Address {
		case "second@example.com":
			if !e.Verified {
				t.Fatal("expected second@example.com to be verified")
			}
		case "alice@example.com":
			if e.Verified {
				t.Fatal("the token must only verify the address it was issued for")
			}
		}
	}
}

func TestAddRemoveEmail(t *testing.T) {
	env := newTestEngine(t, Options{}, nil)
	ctx := context.Background()
	userID := createTestUser(t, env.engine)

	if err := env.engine.AddEmail(ctx, userID, "second@example.com"); err != nil {
		t.Fatalf("AddEmail failed: %v", err)
	}
	if err := env.engine.AddEmail(ctx, userID, ""); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput for an empty address, got %v", err)
	}
	if err := env.engine.AddEmail(ctx, "ghost", "x@example.com"); !errors.Is(err, ErrUserNotFound) {
		t.Fatalf("expected ErrUserNotFound, got %v", err)
	}

	if err := env.engine.RemoveEmail(ctx, userID, "second@example.com"); err != nil {
		t.Fatalf("RemoveEmail failed: %v", err)
	}
	if err := env.engine.RemoveEmail(ctx, userID, "second@example.com"); !errors.Is(err, ErrEmailNotFound) {
		t.Fatalf("expected ErrEmailNotFound, got %v", err)
	}
	if err := env.engine.RemoveEmail(ctx, "ghost", "x@example.com"); !errors.Is(err, ErrUserNotFound) {
		t.Fatalf("expected ErrUserNotFound, got %v", err)
	}
}

func TestMarkEmailVerified(t *testing.T) {
	env := newTestEngine(t, Options{}, nil)
	ctx := context.Background()
	userID := createTestUser(t, env.engine)

	if err := env.engine.MarkEmailVerified(ctx, userID, "alice@example.com"); err != nil {
		t.Fatalf("MarkEmailVerified failed: %v", err)
	}
	user, err := env.store.FindUserByID(ctx, userID)
	if err != nil {
		t.Fatalf("FindUserByID failed: %v", err)
	}
	if !user.Emails[0].Verified {
		t.Fatal("expected the address to be verified")
	}

	if err := env.engine.MarkEmailVerified(ctx, userID, "ghost@example.com"); !errors.Is(err, ErrEmailNotFound) {
		t.Fatalf("expected ErrEmailNotFound, got %v", err)
	}
}
