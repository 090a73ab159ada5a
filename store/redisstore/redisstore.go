// Package redisstore implements [store.Store] on Redis.
//
// Records are JSON blobs under namespaced string keys with secondary index
// keys for the lookups the engine performs (email, username, session token,
// service token). Conditional updates (token rotation, read-modify-write on
// users) run inside optimistic WATCH/MULTI transactions with a bounded retry
// loop, so two racing refresh calls resolve to exactly one winner.
package redisstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/apollo-accounts/graphql-accounts/store"
)

const (
	defaultPrefix = "acc"
	maxTxRetries  = 8
)

// Store is a Redis-backed store.Store.
type Store struct {
	rdb    redis.UniversalClient
	prefix string
	now    func() time.Time
}

var _ store.Store = (*Store)(nil)

// Option configures a Store.
type Option func(*Store)

// WithPrefix overrides the key namespace (default "acc").
func WithPrefix(prefix string) Option {
	return func(s *Store) { s.prefix = prefix }
}

// WithClock overrides the timestamp source. Test hook.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// New returns a Store on the given client.
func New(rdb redis.UniversalClient, opts ...Option) *Store {
	s := &Store{rdb: rdb, prefix: defaultPrefix, now: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Store) userKey(id string) string    { return s.prefix + ":user:" + id }
func (s *Store) sessionKey(id string) string { return s.prefix + ":sess:" + id }
func (s *Store) userSessionsKey(userID string) string {
	return s.prefix + ":usersess:" + userID
}
func (s *Store) usernameKey(username string) string {
	return s.prefix + ":idx:username:" + strings.ToLower(username)
}
func (s *Store) emailKey(address string) string {
	return s.prefix + ":idx:email:" + strings.ToLower(address)
}
func (s *Store) serviceIDKey(kind store.ServiceKind, serviceID string) string {
	return s.prefix + ":idx:svcid:" + string(kind) + ":" + serviceID
}
func (s *Store) serviceTokenKey(kind store.ServiceKind, token string) string {
	return s.prefix + ":idx:svctok:" + string(kind) + ":" + token
}
func (s *Store) sessionTokenKey(token string) string {
	return s.prefix + ":idx:sesstok:" + token
}

func wrapErr(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, redis.Nil) {
		return store.ErrNotFound
	}
	return fmt.Errorf("%w: %v", store.ErrUnavailable, err)
}

func (s *Store) getUser(ctx context.Context, userID string) (*store.User, error) {
	data, err := s.rdb.Get(ctx, s.userKey(userID)).Bytes()
	if err != nil {
		return nil, wrapErr(err)
	}
	var u store.User
	if err := json.Unmarshal(data, &u); err != nil {
		return nil, fmt.Errorf("%w: corrupt user record: %v", store.ErrUnavailable, err)
	}
	return &u, nil
}

func (s *Store) getUserByIndex(ctx context.Context, indexKey string) (*store.User, error) {
	userID, err := s.rdb.Get(ctx, indexKey).Result()
	if err != nil {
		return nil, wrapErr(err)
	}
	return s.getUser(ctx, userID)
}

func (s *Store) FindUserByID(ctx context.Context, userID string) (*store.User, error) {
	return s.getUser(ctx, userID)
}

func (s *Store) FindUserByEmail(ctx context.Context, email string) (*store.User, error) {
	return s.getUserByIndex(ctx, s.emailKey(email))
}

func (s *Store) FindUserByUsername(ctx context.Context, username string) (*store.User, error) {
	return s.getUserByIndex(ctx, s.usernameKey(username))
}

func (s *Store) FindUserByServiceID(ctx context.Context, kind store.ServiceKind, serviceID string) (*store.User, error) {
	if serviceID == "" {
		return nil, store.ErrNotFound
	}
	return s.getUserByIndex(ctx, s.serviceIDKey(kind, serviceID))
}

func (s *Store) FindUserByServiceToken(ctx context.Context, kind store.ServiceKind, token string) (*store.User, error) {
	if token == "" {
		return nil, store.ErrNotFound
	}
	return s.getUserByIndex(ctx, s.serviceTokenKey(kind, token))
}

func (s *Store) CreateUser(ctx context.Context, user store.NewUser) (string, error) {
	u := store.User{
		ID:      uuid.NewString(),
		Profile: user.Profile,
	}
	if user.Username != "" {
		u.Username = user.Username
	}
	if user.Email != "" {
		u.Emails = append(u.Emails, store.Email{Address: strings.ToLower(user.Email)})
	}
	if user.PasswordHash != "" {
		u.Services = append(u.Services, store.ServiceRecord{
			Kind:    store.KindPassword,
			Options: store.PasswordOptions{Hash: user.PasswordHash},
		})
	}

	data, err := json.Marshal(&u)
	if err != nil {
		return "", err
	}

	_, err = s.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, s.userKey(u.ID), data, 0)
		if u.Username != "" {
			pipe.Set(ctx, s.usernameKey(u.Username), u.ID, 0)
		}
		for _, e := range u.Emails {
			pipe.Set(ctx, s.emailKey(e.Address), u.ID, 0)
		}
		return nil
	})
	if err != nil {
		return "", wrapErr(err)
	}
	return u.ID, nil
}

// updateUser applies fn to the user record inside a WATCH transaction. fn
// returns the index commands to queue alongside the record write.
func (s *Store) updateUser(ctx context.Context, userID string, fn func(u *store.User, pipe redis.Pipeliner) error) error {
	key := s.userKey(userID)

	for i := 0; i < maxTxRetries; i++ {
		err := s.rdb.Watch(ctx, func(tx *redis.Tx) error {
			data, err := tx.Get(ctx, key).Bytes()
			if err != nil {
				return err
			}
			var u store.User
			if err := json.Unmarshal(data, &u); err != nil {
				return fmt.Errorf("%w: corrupt user record: %v", store.ErrUnavailable, err)
			}

			_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
				if err := fn(&u, pipe); err != nil {
					return err
				}
				updated, err := json.Marshal(&u)
				if err != nil {
					return err
				}
				pipe.Set(ctx, key, updated, 0)
				return nil
			})
			return err
		}, key)

		switch {
		case err == nil:
			return nil
		case errors.Is(err, redis.TxFailedErr):
			continue
		case errors.Is(err, redis.Nil):
			return store.ErrNotFound
		case errors.Is(err, store.ErrNotFound), errors.Is(err, store.ErrTokenMismatch):
			return err
		default:
			return wrapErr(err)
		}
	}
	return fmt.Errorf("%w: user update contention", store.ErrUnavailable)
}

func (s *Store) SetUsername(ctx context.Context, userID, username string) error {
	return s.updateUser(ctx, userID, func(u *store.User, pipe redis.Pipeliner) error {
		if u.Username != "" {
			pipe.Del(ctx, s.usernameKey(u.Username))
		}
		u.Username = username
		if username != "" {
			pipe.Set(ctx, s.usernameKey(username), userID, 0)
		}
		return nil
	})
}

func (s *Store) SetProfile(ctx context.Context, userID string, profile map[string]any) error {
	return s.updateUser(ctx, userID, func(u *store.User, pipe redis.Pipeliner) error {
		u.Profile = profile
		return nil
	})
}

func (s *Store) SetUserDeactivated(ctx context.Context, userID string, deactivated bool) error {
	return s.updateUser(ctx, userID, func(u *store.User, pipe redis.Pipeliner) error {
		u.Deactivated = deactivated
		return nil
	})
}

func (s *Store) AddEmail(ctx context.Context, userID, address string, verified bool) error {
	addr := strings.ToLower(address)
	return s.updateUser(ctx, userID, func(u *store.User, pipe redis.Pipeliner) error {
		for _, e := range u.Emails {
			if e.Address == addr {
				return nil
			}
		}
		u.Emails = append(u.Emails, store.Email{Address: addr, Verified: verified})
		pipe.Set(ctx, s.emailKey(addr), userID, 0)
		return nil
	})
}

func (s *Store) RemoveEmail(ctx context.Context, userID, address string) error {
	addr := strings.ToLower(address)
	return s.updateUser(ctx, userID, func(u *store.User, pipe redis.Pipeliner) error {
		for i, e := range u.Emails {
			if e.Address == addr {
				u.Emails = append(u.Emails[:i], u.Emails[i+1:]...)
				pipe.Del(ctx, s.emailKey(addr))
				return nil
			}
		}
		return store.ErrNotFound
	})
}

func (s *Store) VerifyEmail(ctx context.Context, userID, address string) error {
	addr := strings.ToLower(address)
	return s.updateUser(ctx, userID, func(u *store.User, pipe redis.Pipeliner) error {
		for i := range u.Emails {
			if u.Emails[i].Address == addr {
				u.Emails[i].Verified = true
				return nil
			}
		}
		return store.ErrNotFound
	})
}

func (s *Store) GetService(ctx context.Context, userID string, kind store.ServiceKind) (*store.ServiceRecord, error) {
	u, err := s.getUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	svc := u.Service(kind)
	if svc == nil {
		return nil, store.ErrNotFound
	}
	rec := *svc
	return &rec, nil
}

func (s *Store) SetService(ctx context.Context, userID string, record store.ServiceRecord) error {
	return s.updateUser(ctx, userID, func(u *store.User, pipe redis.Pipeliner) error {
		if prev := u.Service(record.Kind); prev != nil {
			s.dropServiceIndexes(ctx, pipe, prev)
			*prev = record
		} else {
			u.Services = append(u.Services, record)
		}
		if record.Token != "" {
			pipe.Set(ctx, s.serviceTokenKey(record.Kind, record.Token), userID, 0)
		}
		if record.ServiceID != "" {
			pipe.Set(ctx, s.serviceIDKey(record.Kind, record.ServiceID), userID, 0)
		}
		return nil
	})
}

func (s *Store) UnsetService(ctx context.Context, userID string, kind store.ServiceKind) error {
	return s.updateUser(ctx, userID, func(u *store.User, pipe redis.Pipeliner) error {
		for i := range u.Services {
			if u.Services[i].Kind == kind {
				s.dropServiceIndexes(ctx, pipe, &u.Services[i])
				u.Services = append(u.Services[:i], u.Services[i+1:]...)
				return nil
			}
		}
		return nil // absent record: no-op
	})
}

func (s *Store) dropServiceIndexes(ctx context.Context, pipe redis.Pipeliner, rec *store.ServiceRecord) {
	if rec.Token != "" {
		pipe.Del(ctx, s.serviceTokenKey(rec.Kind, rec.Token))
	}
	if rec.ServiceID != "" {
		pipe.Del(ctx, s.serviceIDKey(rec.Kind, rec.ServiceID))
	}
}

func (s *Store) getSession(ctx context.Context, sessionID string) (*store.Session, error) {
	data, err := s.rdb.Get(ctx, s.sessionKey(sessionID)).Bytes()
	if err != nil {
		return nil, wrapErr(err)
	}
	var sess store.Session
	if err := json.Unmarshal(data, &sess); err != nil {
		return nil, fmt.Errorf("%w: corrupt session record: %v", store.ErrUnavailable, err)
	}
	return &sess, nil
}

func (s *Store) FindSessionByID(ctx context.Context, sessionID string) (*store.Session, error) {
	return s.getSession(ctx, sessionID)
}

func (s *Store) FindSessionByToken(ctx context.Context, token string) (*store.Session, error) {
	sessionID, err := s.rdb.Get(ctx, s.sessionTokenKey(token)).Result()
	if err != nil {
		return nil, wrapErr(err)
	}
	return s.getSession(ctx, sessionID)
}

func (s *Store) CreateSession(ctx context.Context, userID, token string, conn store.Connection, extra map[string]any) (string, error) {
	if exists, err := s.rdb.Exists(ctx, s.userKey(userID)).Result(); err != nil {
		return "", wrapErr(err)
	} else if exists == 0 {
		return "", store.ErrNotFound
	}

	now := s.now().UTC()
	sess := store.Session{
		ID:        uuid.NewString(),
		UserID:    userID,
		Token:     token,
		UserAgent: conn.UserAgent,
		IP:        conn.IP,
		Extra:     extra,
		Valid:     true,
		CreatedAt: now,
		UpdatedAt: now,
	}
	data, err := json.Marshal(&sess)
	if err != nil {
		return "", err
	}

	_, err = s.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, s.sessionKey(sess.ID), data, 0)
		pipe.Set(ctx, s.sessionTokenKey(token), sess.ID, 0)
		pipe.SAdd(ctx, s.userSessionsKey(userID), sess.ID)
		return nil
	})
	if err != nil {
		return "", wrapErr(err)
	}
	return sess.ID, nil
}

// updateSession mirrors updateUser for session records.
func (s *Store) updateSession(ctx context.Context, sessionID string, fn func(sess *store.Session, pipe redis.Pipeliner) error) error {
	key := s.sessionKey(sessionID)

	for i := 0; i < maxTxRetries; i++ {
		err := s.rdb.Watch(ctx, func(tx *redis.Tx) error {
			data, err := tx.Get(ctx, key).Bytes()
			if err != nil {
				return err
			}
			var sess store.Session
			if err := json.Unmarshal(data, &sess); err != nil {
				return fmt.Errorf("%w: corrupt session record: %v", store.ErrUnavailable, err)
			}

			_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
				if err := fn(&sess, pipe); err != nil {
					return err
				}
				sess.UpdatedAt = s.now().UTC()
				updated, err := json.Marshal(&sess)
				if err != nil {
					return err
				}
				pipe.Set(ctx, key, updated, 0)
				return nil
			})
			return err
		}, key)

		switch {
		case err == nil:
			return nil
		case errors.Is(err, redis.TxFailedErr):
			continue
		case errors.Is(err, redis.Nil):
			return store.ErrNotFound
		case errors.Is(err, store.ErrNotFound), errors.Is(err, store.ErrTokenMismatch):
			return err
		default:
			return wrapErr(err)
		}
	}
	return fmt.Errorf("%w: session update contention", store.ErrUnavailable)
}

func (s *Store) UpdateSession(ctx context.Context, sessionID string, conn store.Connection) error {
	return s.updateSession(ctx, sessionID, func(sess *store.Session, pipe redis.Pipeliner) error {
		sess.UserAgent = conn.UserAgent
		sess.IP = conn.IP
		return nil
	})
}

func (s *Store) RotateSessionToken(ctx context.Context, sessionID, oldToken, newToken string) error {
	return s.updateSession(ctx, sessionID, func(sess *store.Session, pipe redis.Pipeliner) error {
		if !sess.Valid {
			return store.ErrNotFound
		}
		if sess.Token != oldToken {
			return store.ErrTokenMismatch
		}
		sess.Token = newToken
		pipe.Del(ctx, s.sessionTokenKey(oldToken))
		pipe.Set(ctx, s.sessionTokenKey(newToken), sessionID, 0)
		return nil
	})
}

func (s *Store) InvalidateSession(ctx context.Context, sessionID string) error {
	return s.updateSession(ctx, sessionID, func(sess *store.Session, pipe redis.Pipeliner) error {
		sess.Valid = false
		return nil
	})
}

func (s *Store) InvalidateAllSessions(ctx context.Context, userID string) error {
	ids, err := s.rdb.SMembers(ctx, s.userSessionsKey(userID)).Result()
	if err != nil {
		return wrapErr(err)
	}
	for _, id := range ids {
		if err := s.InvalidateSession(ctx, id); err != nil && !errors.Is(err, store.ErrNotFound) {
			return err
		}
	}
	return nil
}
