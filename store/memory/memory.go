// Package memory provides an in-memory [store.Store] used by the test suites
// and examples. All state lives in maps behind a single mutex; every method
// is atomic per entity, which is exactly the consistency the engine is
// allowed to assume from any adapter.
package memory

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/apollo-accounts/graphql-accounts/store"
)

// Store is an in-memory store.Store implementation. The zero value is not
// usable; construct with [New].
type Store struct {
	mu       sync.RWMutex
	users    map[string]*store.User
	sessions map[string]*store.Session

	// secondary indexes, all keyed by lowercased values
	byUsername     map[string]string
	byEmail        map[string]string
	bySessionToken map[string]string

	now func() time.Time
}

var _ store.Store = (*Store)(nil)

// New returns an empty Store.
func New() *Store {
	return &Store{
		users:          make(map[string]*store.User),
		sessions:       make(map[string]*store.Session),
		byUsername:     make(map[string]string),
		byEmail:        make(map[string]string),
		bySessionToken: make(map[string]string),
		now:            time.Now,
	}
}

// SetClock overrides the timestamp source. Test hook.
func (s *Store) SetClock(now func() time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.now = now
}

func (s *Store) FindUserByID(ctx context.Context, userID string) (*store.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	u, ok := s.users[userID]
	if !ok {
		return nil, store.ErrNotFound
	}
	return cloneUser(u), nil
}

func (s *Store) FindUserByEmail(ctx context.Context, email string) (*store.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.byEmail[strings.ToLower(email)]
	if !ok {
		return nil, store.ErrNotFound
	}
	return cloneUser(s.users[id]), nil
}

func (s *Store) FindUserByUsername(ctx context.Context, username string) (*store.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.byUsername[strings.ToLower(username)]
	if !ok {
		return nil, store.ErrNotFound
	}
	return cloneUser(s.users[id]), nil
}

func (s *Store) FindUserByServiceID(ctx context.Context, kind store.ServiceKind, serviceID string) (*store.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, u := range s.users {
		if svc := u.Service(kind); svc != nil && svc.ServiceID == serviceID && serviceID != "" {
			return cloneUser(u), nil
		}
	}
	return nil, store.ErrNotFound
}

func (s *Store) FindUserByServiceToken(ctx context.Context, kind store.ServiceKind, token string) (*store.User, error) {
	if token == "" {
		return nil, store.ErrNotFound
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, u := range s.users {
		if svc := u.Service(kind); svc != nil && svc.Token == token {
			return cloneUser(u), nil
		}
	}
	return nil, store.ErrNotFound
}

func (s *Store) CreateUser(ctx context.Context, user store.NewUser) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	u := &store.User{
		ID:      uuid.NewString(),
		Profile: cloneMap(user.Profile),
	}
	if user.Username != "" {
		u.Username = user.Username
		s.byUsername[strings.ToLower(user.Username)] = u.ID
	}
	if user.Email != "" {
		addr := strings.ToLower(user.Email)
		u.Emails = append(u.Emails, store.Email{Address: addr})
		s.byEmail[addr] = u.ID
	}
	if user.PasswordHash != "" {
		u.Services = append(u.Services, store.ServiceRecord{
			Kind:    store.KindPassword,
			Options: store.PasswordOptions{Hash: user.PasswordHash},
		})
	}

	s.users[u.ID] = u
	return u.ID, nil
}

func (s *Store) SetUsername(ctx context.Context, userID, username string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[userID]
	if !ok {
		return store.ErrNotFound
	}
	if u.Username != "" {
		delete(s.byUsername, strings.ToLower(u.Username))
	}
	u.Username = username
	if username != "" {
		s.byUsername[strings.ToLower(username)] = userID
	}
	return nil
}

func (s *Store) SetProfile(ctx context.Context, userID string, profile map[string]any) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[userID]
	if !ok {
		return store.ErrNotFound
	}
	u.Profile = cloneMap(profile)
	return nil
}

func (s *Store) SetUserDeactivated(ctx context.Context, userID string, deactivated bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[userID]
	if !ok {
		return store.ErrNotFound
	}
	u.Deactivated = deactivated
	return nil
}

func (s *Store) AddEmail(ctx context.Context, userID, address string, verified bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[userID]
	if !ok {
		return store.ErrNotFound
	}
	addr := strings.ToLower(address)
	for _, e := range u.Emails {
		if e.Address == addr {
			return nil // already present
		}
	}
	u.Emails = append(u.Emails, store.Email{Address: addr, Verified: verified})
	s.byEmail[addr] = userID
	return nil
}

func (s *Store) RemoveEmail(ctx context.Context, userID, address string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[userID]
	if !ok {
		return store.ErrNotFound
	}
	addr := strings.ToLower(address)
	for i, e := range u.Emails {
		if e.Address == addr {
			u.Emails = append(u.Emails[:i], u.Emails[i+1:]...)
			delete(s.byEmail, addr)
			return nil
		}
	}
	return store.ErrNotFound
}

func (s *Store) VerifyEmail(ctx context.Context, userID, address string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[userID]
	if !ok {
		return store.ErrNotFound
	}
	addr := strings.ToLower(address)
	for i := range u.Emails {
		if u.Emails[i].Address == addr {
			u.Emails[i].Verified = true
			return nil
		}
	}
	return store.ErrNotFound
}

func (s *Store) GetService(ctx context.Context, userID string, kind store.ServiceKind) (*store.ServiceRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	u, ok := s.users[userID]
	if !ok {
		return nil, store.ErrNotFound
	}
	svc := u.Service(kind)
	if svc == nil {
		return nil, store.ErrNotFound
	}
	rec := *svc
	return &rec, nil
}

func (s *Store) SetService(ctx context.Context, userID string, record store.ServiceRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[userID]
	if !ok {
		return store.ErrNotFound
	}
	for i := range u.Services {
		if u.Services[i].Kind == record.Kind {
			u.Services[i] = record
			return nil
		}
	}
	u.Services = append(u.Services, record)
	return nil
}

func (s *Store) UnsetService(ctx context.Context, userID string, kind store.ServiceKind) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[userID]
	if !ok {
		return store.ErrNotFound
	}
	for i := range u.Services {
		if u.Services[i].Kind == kind {
			u.Services = append(u.Services[:i], u.Services[i+1:]...)
			return nil
		}
	}
	return nil // absent record: no-op
}

func (s *Store) FindSessionByID(ctx context.Context, sessionID string) (*store.Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sess, ok := s.sessions[sessionID]
	if !ok {
		return nil, store.ErrNotFound
	}
	return cloneSession(sess), nil
}

func (s *Store) FindSessionByToken(ctx context.Context, token string) (*store.Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.bySessionToken[token]
	if !ok {
		return nil, store.ErrNotFound
	}
	return cloneSession(s.sessions[id]), nil
}

func (s *Store) CreateSession(ctx context.Context, userID, token string, conn store.Connection, extra map[string]any) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.users[userID]; !ok {
		return "", store.ErrNotFound
	}
	now := s.now()
	sess := &store.Session{
		ID:        uuid.NewString(),
		UserID:    userID,
		Token:     token,
		UserAgent: conn.UserAgent,
		IP:        conn.IP,
		Extra:     cloneMap(extra),
		Valid:     true,
		CreatedAt: now,
		UpdatedAt: now,
	}
	s.sessions[sess.ID] = sess
	s.bySessionToken[token] = sess.ID
	return sess.ID, nil
}

func (s *Store) UpdateSession(ctx context.Context, sessionID string, conn store.Connection) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[sessionID]
	if !ok {
		return store.ErrNotFound
	}
	sess.UserAgent = conn.UserAgent
	sess.IP = conn.IP
	sess.UpdatedAt = s.now()
	return nil
}

func (s *Store) RotateSessionToken(ctx context.Context, sessionID, oldToken, newToken string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[sessionID]
	if !ok || !sess.Valid {
		return store.ErrNotFound
	}
	if sess.Token != oldToken {
		return store.ErrTokenMismatch
	}
	delete(s.bySessionToken, oldToken)
	sess.Token = newToken
	sess.UpdatedAt = s.now()
	s.bySessionToken[newToken] = sessionID
	return nil
}

func (s *Store) InvalidateSession(ctx context.Context, sessionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[sessionID]
	if !ok {
		return store.ErrNotFound
	}
	sess.Valid = false
	sess.UpdatedAt = s.now()
	return nil
}

func (s *Store) InvalidateAllSessions(ctx context.Context, userID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, sess := range s.sessions {
		if sess.UserID == userID && sess.Valid {
			sess.Valid = false
			sess.UpdatedAt = s.now()
		}
	}
	return nil
}

func cloneUser(u *store.User) *store.User {
	if u == nil {
		return nil
	}
	out := *u
	out.Emails = append([]store.Email(nil), u.Emails...)
	out.Services = append([]store.ServiceRecord(nil), u.Services...)
	out.Profile = cloneMap(u.Profile)
	return &out
}

func cloneSession(sess *store.Session) *store.Session {
	if sess == nil {
		return nil
	}
	out := *sess
	out.Extra = cloneMap(sess.Extra)
	return &out
}

func cloneMap(m map[string]any) map[string]any {
	if m == nil {
		return nil
	}
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
