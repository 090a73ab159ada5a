package accounts

import (
	"context"
	"strings"
	"testing"

	"github.com/apollo-accounts/graphql-accounts/password"
	"github.com/apollo-accounts/graphql-accounts/store"
	"github.com/apollo-accounts/graphql-accounts/store/memory"
)

func TestBuildRequiresStore(t *testing.T) {
	_, err := New().WithOptions(Options{Tokens: testTokenConfig()}).Build()
	if err == nil {
		t.Fatal("expected Build to fail without a store")
	}
}

func TestBuildRejectsBadTokenConfig(t *testing.T) {
	_, err := New().WithStore(memory.New()).Build()
	if err == nil {
		t.Fatal("expected Build to fail without signing material")
	}
}

func TestBuilderIsSingleUse(t *testing.T) {
	b := New().WithStore(memory.New()).WithOptions(Options{Tokens: testTokenConfig()})
	engine, err := b.Build()
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}
	defer engine.Close()

	if _, err := b.Build(); err == nil {
		t.Fatal("expected the second Build to fail")
	}
}

func TestBuildRejectsAnonymousService(t *testing.T) {
	b := New().
		WithStore(memory.New()).
		WithOptions(Options{Tokens: testTokenConfig()}).
		WithService("", &stubService{})
	if _, err := b.Build(); err == nil {
		t.Fatal("expected Build to reject a nameless service")
	}
}

func TestCustomPasswordServiceOverridesBuiltin(t *testing.T) {
	var svc stubService
	env := newTestEngine(t, Options{}, func(b *Builder) {
		b.WithService(ServicePassword, &svc)
	})
	svc.userID = createTestUser(t, env.engine)
	svc.store = env.store

	// the stock email/password credentials now go through the override
	_, err := env.engine.Authenticate(context.Background(), ServicePassword, AuthenticateParams{
		Email:    "alice@example.com",
		Password: "correct-horse-battery",
	}, testConn())
	if err == nil {
		t.Fatal("expected the override to reject stock credentials")
	}

	result, err := env.engine.Authenticate(context.Background(), ServicePassword, AuthenticateParams{
		Extra: map[string]any{"magic": "open-sesame"},
	}, testConn())
	if err != nil {
		t.Fatalf("Authenticate through override failed: %v", err)
	}
	if result.User.ID != svc.userID {
		t.Fatalf("expected %s, got %s", svc.userID, result.User.ID)
	}
}

func TestCustomHasherIsUsedForNewCredentials(t *testing.T) {
	cfg := password.DefaultArgon2Config()
	cfg.Memory = 8 * 1024 // keep the test cheap
	hasher, err := password.NewArgon2(cfg)
	if err != nil {
		t.Fatalf("NewArgon2 failed: %v", err)
	}

	env := newTestEngine(t, Options{}, func(b *Builder) {
		b.WithHasher(hasher)
	})
	ctx := context.Background()
	userID := createTestUser(t, env.engine)

	user, err := env.store.FindUserByID(ctx, userID)
	if err != nil {
		t.Fatalf("FindUserByID failed: %v", err)
	}
	rec := user.Service(store.KindPassword)
	if rec == nil {
		t.Fatal("expected a password service record")
	}
	opts, ok := rec.Options.(store.PasswordOptions)
	if !ok || !strings.HasPrefix(opts.Hash, "$argon2id$") {
		t.Fatalf("expected an argon2id hash, got %+v", rec.Options)
	}

	loginTestUser(t, env.engine)
}
