package tokens

import (
	"crypto/ed25519"
	"crypto/rand"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// testClock is a mutable clock shared between issue and verify paths.
type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func newTestClock() *testClock {
	return &testClock{now: time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func newTestManager(t *testing.T, clock *testClock) *Manager {
	t.Helper()
	m, err := NewManager(Config{
		SigningMethod: MethodHS256,
		Secret:        []byte("test-secret"),
		AccessTTL:     15 * time.Minute,
		RefreshTTL:    7 * 24 * time.Hour,
		Issuer:        "accounts-test",
		Now:           clock.Now,
	})
	require.NoError(t, err)
	return m
}

func TestIssueAndVerifyRoundtrip(t *testing.T) {
	clock := newTestClock()
	m := newTestManager(t, clock)

	pair, err := m.IssueTokens("user-1", "sess-1", "opaque-token", map[string]any{"k": "v"})
	require.NoError(t, err)
	require.NotEmpty(t, pair.AccessToken)
	require.NotEmpty(t, pair.RefreshToken)
	assert.NotEqual(t, pair.AccessToken, pair.RefreshToken)

	access, err := m.VerifyAccess(pair.AccessToken)
	require.NoError(t, err)
	assert.Equal(t, "user-1", access.UserID)
	assert.Equal(t, "sess-1", access.SessionID)
	assert.Empty(t, access.SessionToken, "access tokens must not leak the session token")

	refresh, err := m.VerifyRefresh(pair.RefreshToken)
	require.NoError(t, err)
	assert.Equal(t, "user-1", refresh.UserID)
	assert.Equal(t, "sess-1", refresh.SessionID)
	assert.Equal(t, "opaque-token", refresh.SessionToken)
	assert.Equal(t, "v", refresh.Extra["k"])
}

func TestTokenTypesAreNotInterchangeable(t *testing.T) {
	m := newTestManager(t, newTestClock())

	pair, err := m.IssueTokens("user-1", "sess-1", "tok", nil)
	require.NoError(t, err)

	_, err = m.VerifyAccess(pair.RefreshToken)
	assert.ErrorIs(t, err, ErrInvalid)

	_, err = m.VerifyRefresh(pair.AccessToken)
	assert.ErrorIs(t, err, ErrInvalid)
}

func TestExpiredTokenFailsWithErrExpired(t *testing.T) {
	clock := newTestClock()
	m := newTestManager(t, clock)

	pair, err := m.IssueTokens("user-1", "sess-1", "tok", nil)
	require.NoError(t, err)

	clock.Advance(16 * time.Minute)
	_, err = m.VerifyAccess(pair.AccessToken)
	assert.ErrorIs(t, err, ErrExpired)
	assert.NotErrorIs(t, err, ErrInvalid, "expiry must be distinguishable from tampering")

	// refresh token is still inside its longer TTL
	_, err = m.VerifyRefresh(pair.RefreshToken)
	assert.NoError(t, err)

	clock.Advance(8 * 24 * time.Hour)
	_, err = m.VerifyRefresh(pair.RefreshToken)
	assert.ErrorIs(t, err, ErrExpired)
}

func TestTamperedTokenFailsWithErrInvalid(t *testing.T) {
	m := newTestManager(t, newTestClock())

	pair, err := m.IssueTokens("user-1", "sess-1", "tok", nil)
	require.NoError(t, err)

	parts := strings.Split(pair.AccessToken, ".")
	require.Len(t, parts, 3)
	tampered := parts[0] + "." + parts[1] + "." + strings.Repeat("A", len(parts[2]))

	_, err = m.VerifyAccess(tampered)
	assert.ErrorIs(t, err, ErrInvalid)

	_, err = m.VerifyAccess("not-a-jwt")
	assert.ErrorIs(t, err, ErrInvalid)
}

func TestWrongKeyFailsWithErrInvalid(t *testing.T) {
	clock := newTestClock()
	m := newTestManager(t, clock)

	other, err := NewManager(Config{
		SigningMethod: MethodHS256,
		Secret:        []byte("a-different-secret"),
		AccessTTL:     15 * time.Minute,
		RefreshTTL:    7 * 24 * time.Hour,
		Issuer:        "accounts-test",
		Now:           clock.Now,
	})
	require.NoError(t, err)

	pair, err := other.IssueTokens("user-1", "sess-1", "tok", nil)
	require.NoError(t, err)

	_, err = m.VerifyAccess(pair.AccessToken)
	assert.ErrorIs(t, err, ErrInvalid)
}

func TestParseUnverifiedExpiryAcceptsExpiredAccessToken(t *testing.T) {
	clock := newTestClock()
	m := newTestManager(t, clock)

	pair, err := m.IssueTokens("user-1", "sess-1", "tok", nil)
	require.NoError(t, err)

	clock.Advance(time.Hour)
	claims, err := m.ParseUnverifiedExpiry(pair.AccessToken, TypeAccess)
	require.NoError(t, err)
	assert.Equal(t, "sess-1", claims.SessionID)

	// still rejects tampering and wrong type
	_, err = m.ParseUnverifiedExpiry(pair.RefreshToken, TypeAccess)
	assert.ErrorIs(t, err, ErrInvalid)
}

func TestEd25519Roundtrip(t *testing.T) {
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	require.NoError(t, err)

	clock := newTestClock()
	m, err := NewManager(Config{
		SigningMethod: MethodEd25519,
		PrivateKey:    priv,
		PublicKey:     pub,
		AccessTTL:     15 * time.Minute,
		RefreshTTL:    24 * time.Hour,
		Now:           clock.Now,
	})
	require.NoError(t, err)

	pair, err := m.IssueTokens("user-1", "sess-1", "tok", nil)
	require.NoError(t, err)

	claims, err := m.VerifyAccess(pair.AccessToken)
	require.NoError(t, err)
	assert.Equal(t, "user-1", claims.UserID)

	// seed-only private key works too
	seeded, err := NewManager(Config{
		SigningMethod: MethodEd25519,
		PrivateKey:    priv.Seed(),
		AccessTTL:     15 * time.Minute,
		RefreshTTL:    24 * time.Hour,
		Now:           clock.Now,
	})
	require.NoError(t, err)
	_, err = seeded.VerifyAccess(pair.AccessToken)
	require.NoError(t, err)
}

func TestManagerConfigValidation(t *testing.T) {
	cases := []struct {
		name string
		cfg  Config
	}{
		{"missing TTLs", Config{SigningMethod: MethodHS256, Secret: []byte("s")}},
		{"refresh shorter than access", Config{
			SigningMethod: MethodHS256, Secret: []byte("s"),
			AccessTTL: time.Hour, RefreshTTL: time.Minute,
		}},
		{"hs256 without secret", Config{
			SigningMethod: MethodHS256,
			AccessTTL:     time.Minute, RefreshTTL: time.Hour,
		}},
		{"ed25519 with bad key", Config{
			SigningMethod: MethodEd25519, PrivateKey: []byte("short"),
			AccessTTL: time.Minute, RefreshTTL: time.Hour,
		}},
		{"unsupported method", Config{
			SigningMethod: "rs256", Secret: []byte("s"),
			AccessTTL: time.Minute, RefreshTTL: time.Hour,
		}},
		{"excessive leeway", Config{
			SigningMethod: MethodHS256, Secret: []byte("s"),
			AccessTTL: time.Minute, RefreshTTL: time.Hour, Leeway: time.Hour,
		}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := NewManager(tc.cfg)
			assert.Error(t, err)
		})
	}
}
