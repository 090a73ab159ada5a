package accounts

import (
	"context"
	"sync"
	"testing"
	"time"

	"golang.org/x/crypto/bcrypt"

	"github.com/apollo-accounts/graphql-accounts/password"
	"github.com/apollo-accounts/graphql-accounts/store/memory"
	"github.com/apollo-accounts/graphql-accounts/tokens"
)

// testClock is a controllable wall clock shared by the engine, the token
// manager, and the store under test.
type testClock struct {
	mu sync.Mutex
	t  time.Time
}

func newTestClock() *testClock {
	return &testClock{t: time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

func testTokenConfig() tokens.Config {
	return tokens.Config{
		SigningMethod: tokens.MethodHS256,
		Secret:        []byte("engine-test-secret"),
		AccessTTL:     15 * time.Minute,
		RefreshTTL:    7 * 24 * time.Hour,
		Issuer:        "accounts-test",
	}
}

type testEnv struct {
	engine *Engine
	store  *memory.Store
	clock  *testClock
}

// newTestEngine builds an engine over an in-memory store with a minimum-cost
// bcrypt hasher and a controllable clock. configure, when non-nil, tweaks the
// builder before Build.
func newTestEngine(t *testing.T, opts Options, configure func(*Builder)) *testEnv {
	t.Helper()

	clock := newTestClock()
	mem := memory.New()
	mem.SetClock(clock.Now)

	hasher, err := password.NewBcrypt(bcrypt.MinCost)
	if err != nil {
		t.Fatalf("NewBcrypt failed: %v", err)
	}

	if opts.Tokens.Secret == nil && opts.Tokens.PrivateKey == nil {
		opts.Tokens = testTokenConfig()
	}

	b := New().
		WithOptions(opts).
		WithStore(mem).
		WithHasher(hasher).
		WithClock(clock.Now)
	if configure != nil {
		configure(b)
	}

	engine, err := b.Build()
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}
	t.Cleanup(engine.Close)

	return &testEnv{engine: engine, store: mem, clock: clock}
}

// createTestUser registers alice with a known password and returns her user
// ID.
func createTestUser(t *testing.T, e *Engine) string {
	t.Helper()
	userID, err := e.CreateUser(context.Background(), CreateUserParams{
		Username: "alice",
		Email:    "alice@example.com",
		Password: "correct-horse-battery",
		Profile:  map[string]any{"name": "Alice"},
	})
	if err != nil {
		t.Fatalf("CreateUser failed: %v", err)
	}
	return userID
}

// loginTestUser authenticates alice through the password service.
func loginTestUser(t *testing.T, e *Engine) *LoginResult {
	t.Helper()
	result, err := e.Authenticate(context.Background(), ServicePassword, AuthenticateParams{
		Email:    "alice@example.com",
		Password: "correct-horse-battery",
	}, ConnectionInfo{UserAgent: "test-agent", IP: "192.0.2.1"})
	if err != nil {
		t.Fatalf("Authenticate failed: %v", err)
	}
	return result
}

func testConn() ConnectionInfo {
	return ConnectionInfo{UserAgent: "test-agent", IP: "192.0.2.1"}
}
