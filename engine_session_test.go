package accounts

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

func TestRefreshTokensIssuesNewPair(t *testing.T) {
	env := newTestEngine(t, Options{}, nil)
	ctx := context.Background()
	createTestUser(t, env.engine)
	login := loginTestUser(t, env.engine)

	env.clock.Advance(time.Minute)

	refreshed, err := env.engine.RefreshTokens(ctx, login.Tokens.AccessToken, login.Tokens.RefreshToken, testConn())
	if err != nil {
		t.Fatalf("RefreshTokens failed: %v", err)
	}
	if refreshed.SessionID != login.SessionID {
		t.Fatalf("refresh must stay on the same session, got %s want %s", refreshed.SessionID, login.SessionID)
	}
	if refreshed.Tokens.AccessToken == login.Tokens.AccessToken {
		t.Fatal("expected a new access token")
	}
	if _, err := env.engine.ResumeSession(ctx, refreshed.Tokens.AccessToken); err != nil {
		t.Fatalf("ResumeSession on refreshed access token failed: %v", err)
	}
}

func TestRefreshTokensAcceptsExpiredAccessToken(t *testing.T) {
	env := newTestEngine(t, Options{}, nil)
	ctx := context.Background()
	createTestUser(t, env.engine)
	login := loginTestUser(t, env.engine)

	// past the access TTL, inside the refresh TTL
	env.clock.Advance(time.Hour)

	if _, err := env.engine.ResumeSession(ctx, login.Tokens.AccessToken); !errors.Is(err, ErrTokenExpired) {
		t.Fatalf("expected ErrTokenExpired resuming with a stale access token, got %v", err)
	}

	refreshed, err := env.engine.RefreshTokens(ctx, login.Tokens.AccessToken, login.Tokens.RefreshToken, testConn())
	if err != nil {
		t.Fatalf("RefreshTokens with expired access token failed: %v", err)
	}
	if refreshed.Tokens.AccessToken == "" {
		t.Fatal("expected a fresh access token")
	}
}

func TestRefreshTokensExpiredRefreshToken(t *testing.T) {
	env := newTestEngine(t, Options{}, nil)
	createTestUser(t, env.engine)
	login := loginTestUser(t, env.engine)

	env.clock.Advance(8 * 24 * time.Hour)

	_, err := env.engine.RefreshTokens(context.Background(), login.Tokens.AccessToken, login.Tokens.RefreshToken, testConn())
	if !errors.Is(err, ErrTokenExpired) {
		t.Fatalf("expected ErrTokenExpired, got %v", err)
	}
}

func TestRefreshTokensMismatchedPair(t *testing.T) {
	env := newTestEngine(t, Options{}, nil)
	ctx := context.Background()
	createTestUser(t, env.engine)
	first := loginTestUser(t, env.engine)
	second := loginTestUser(t, env.engine)

	_, err := env.engine.RefreshTokens(ctx, first.Tokens.AccessToken, second.Tokens.RefreshToken, testConn())
	if !errors.Is(err, ErrTokenInvalid) {
		t.Fatalf("expected ErrTokenInvalid for a cross-session pair, got %v", err)
	}

	_, err = env.engine.RefreshTokens(ctx, first.Tokens.RefreshToken, first.Tokens.RefreshToken, testConn())
	if !errors.Is(err, ErrTokenInvalid) {
		t.Fatalf("expected ErrTokenInvalid when the access slot holds a refresh token, got %v", err)
	}

	_, err = env.engine.RefreshTokens(ctx, first.Tokens.AccessToken, "garbage", testConn())
	if !errors.Is(err, ErrTokenInvalid) {
		t.Fatalf("expected ErrTokenInvalid for garbage, got %v", err)
	}
}

func TestRefreshTokenRotationConsumesOldToken(t *testing.T) {
	env := newTestEngine(t, Options{EnableRefreshTokenRotation: true}, nil)
	ctx := context.Background()
	createTestUser(t, env.engine)
	login := loginTestUser(t, env.engine)

	refreshed, err := env.engine.RefreshTokens(ctx, login.Tokens.AccessToken, login.Tokens.RefreshToken, testConn())
	if err != nil {
		t.Fatalf("RefreshTokens failed: %v", err)
	}

	// replaying the consumed refresh token must fail
	_, err = env.engine.RefreshTokens(ctx, login.Tokens.AccessToken, login.Tokens.RefreshToken, testConn())
	if !errors.Is(err, ErrTokenInvalid) {
		t.Fatalf("expected ErrTokenInvalid on replay, got %v", err)
	}

	// the rotated pair keeps working
	again, err := env.engine.RefreshTokens(ctx, refreshed.Tokens.AccessToken, refreshed.Tokens.RefreshToken, testConn())
	if err != nil {
		t.Fatalf("RefreshTokens on rotated pair failed: %v", err)
	}
	if again.SessionID != login.SessionID {
		t.Fatal("rotation must not move the session")
	}
}

func TestRefreshWithoutRotationIsReplayable(t *testing.T) {
	env := newTestEngine(t, Options{}, nil)
	ctx := context.Background()
	createTestUser(t, env.engine)
	login := loginTestUser(t, env.engine)

	for i := 0; i < 3; i++ {
		if _, err := env.engine.RefreshTokens(ctx, login.Tokens.AccessToken, login.Tokens.RefreshToken, testConn()); err != nil {
			t.Fatalf("refresh %d failed: %v", i, err)
		}
	}
}

func TestConcurrentRotationSingleWinner(t *testing.T) {
	env := newTestEngine(t, Options{EnableRefreshTokenRotation: true}, nil)
	ctx := context.Background()
	createTestUser(t, env.engine)
	login := loginTestUser(t, env.engine)

	const racers = 8
	start := make(chan struct{})
	results := make(chan error, racers)
	var wg sync.WaitGroup
	for i := 0; i < racers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			_, err := env.engine.RefreshTokens(ctx, login.Tokens.AccessToken, login.Tokens.RefreshToken, testConn())
			results <- err
		}()
	}
	close(start)
	wg.Wait()
	close(results)

	wins := 0
	for err := range results {
		if err == nil {
			wins++
			continue
		}
		if !errors.Is(err, ErrTokenInvalid) {
			t.Fatalf("expected nil or ErrTokenInvalid, got %v", err)
		}
	}
	if wins != 1 {
		t.Fatalf("expected exactly one winning refresh, got %d", wins)
	}
}

func TestLogoutInvalidatesSession(t *testing.T) {
	env := newTestEngine(t, Options{}, nil)
	ctx := context.Background()
	createTestUser(t, env.engine)
	login := loginTestUser(t, env.engine)

	if err := env.engine.Logout(ctx, login.Tokens.AccessToken); err != nil {
		t.Fatalf("Logout failed: %v", err)
	}

	if _, err := env.engine.ResumeSession(ctx, login.Tokens.AccessToken); !errors.Is(err, ErrSessionInvalidated) {
		t.Fatalf("expected ErrSessionInvalidated after logout, got %v", err)
	}
	if _, err := env.engine.RefreshTokens(ctx, login.Tokens.AccessToken, login.Tokens.RefreshToken, testConn()); !errors.Is(err, ErrSessionInvalidated) {
		t.Fatalf("expected ErrSessionInvalidated refreshing after logout, got %v", err)
	}

	// logout is idempotent
	if err := env.engine.Logout(ctx, login.Tokens.AccessToken); err != nil {
		t.Fatalf("second Logout should be a no-op, got %v", err)
	}
}

func TestResumeSession(t *testing.T) {
	env := newTestEngine(t, Options{}, nil)
	ctx := context.Background()
	userID := createTestUser(t, env.engine)
	login := loginTestUser(t, env.engine)

	user, err := env.engine.ResumeSession(ctx, login.Tokens.AccessToken)
	if err != nil {
		t.Fatalf("ResumeSession failed: %v", err)
	}
	if user.ID != userID {
		t.Fatalf("expected user %s, got %s", userID, user.ID)
	}

	if _, err := env.engine.ResumeSession(ctx, login.Tokens.RefreshToken); !errors.Is(err, ErrTokenInvalid) {
		t.Fatalf("a refresh token must not resume a session, got %v", err)
	}
	if _, err := env.engine.ResumeSession(ctx, "garbage"); !errors.Is(err, ErrTokenInvalid) {
		t.Fatalf("expected ErrTokenInvalid for garbage, got %v", err)
	}
}

func TestResumeSessionDeactivatedUser(t *testing.T) {
	env := newTestEngine(t, Options{}, nil)
	ctx := context.Background()
	userID := createTestUser(t, env.engine)
	login := loginTestUser(t, env.engine)

	if err := env.engine.SetUserDeactivated(ctx, userID, true); err != nil {
		t.Fatalf("SetUserDeactivated failed: %v", err)
	}

	// deactivation revoked the session, so the session check trips first
	if _, err := env.engine.ResumeSession(ctx, login.Tokens.AccessToken); !errors.Is(err, ErrSessionInvalidated) {
		t.Fatalf("expected ErrSessionInvalidated, got %v", err)
	}
}

func TestInvalidateAllSessions(t *testing.T) {
	env := newTestEngine(t, Options{}, nil)
	ctx := context.Background()
	userID := createTestUser(t, env.engine)
	first := loginTestUser(t, env.engine)
	second := loginTestUser(t, env.engine)

	if err := env.engine.InvalidateAllSessions(ctx, userID); err != nil {
		t.Fatalf("InvalidateAllSessions failed: %v", err)
	}

	for _, login := range []*LoginResult{first, second} {
		if _, err := env.engine.ResumeSession(ctx, login.Tokens.AccessToken); !errors.Is(err, ErrSessionInvalidated) {
			t.Fatalf("expected ErrSessionInvalidated, got %v", err)
		}
	}

	if err := env.engine.InvalidateAllSessions(ctx, "ghost"); !errors.Is(err, ErrUserNotFound) {
		t.Fatalf("expected ErrUserNotFound, got %v", err)
	}
}
