// Package memory is a process-local store for development and tests.
package memory

import (
	"context"
	"maps"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/example/sessionauth/internal/models"
	"github.com/example/sessionauth/internal/store"
)

type DB struct {
	mu      sync.Mutex
	users   map[string]*models.User
	byEmail map[string]string
	tokens  map[string]*models.Token
	now     func() time.Time
}

var _ store.Store = (*DB)(nil)

func New() *DB {
	return &DB{
		users:   map[string]*models.User{},
		byEmail: map[string]string{},
		tokens:  map[string]*models.Token{},
		now:     time.Now,
	}
}

func (m *DB) CreateUser(ctx context.Context, u models.User) (*models.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.createUser(u)
}

func (m *DB) UserByEmail(ctx context.Context, email string) (*models.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.userByEmail(email)
}

func (m *DB) UserByID(ctx context.Context, id string) (*models.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.userByID(id)
}

func (m *DB) UpdatePassword(ctx context.Context, id, passwordHash string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.updatePassword(id, passwordHash)
}

func (m *DB) DeleteUser(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.deleteUser(id)
}

func (m *DB) SaveToken(ctx context.Context, userID, value string) (*models.Token, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.saveToken(userID, value)
}

func (m *DB) ValidTokens(ctx context.Context, userID string) ([]models.Token, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.validTokens(userID), nil
}

func (m *DB) RevokeAll(ctx context.Context, userID string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.revokeAll(userID), nil
}

func (m *DB) TokenByValue(ctx context.Context, value string) (*models.Token, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.tokenByValue(value)
}

func (m *DB) RevokeToken(ctx context.Context, value string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.revokeToken(value)
}

func (m *DB) DeleteTokens(ctx context.Context, userID string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.deleteTokens(userID), nil
}

func (m *DB) PurgeRevoked(ctx context.Context) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.purgeRevoked(), nil
}

// WithTx holds the store lock for the whole of fn, so transactions are
// serialized with every other call. On error the maps are restored from a
// snapshot taken before fn ran.
func (m *DB) WithTx(ctx context.Context, fn func(ctx context.Context, tx store.Store) error) (err error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	snap := m.snapshot()
	defer func() {
		if p := recover(); p != nil {
			m.restore(snap)
			panic(p)
		}
		if err != nil {
			m.restore(snap)
		}
	}()

	return fn(ctx, &txView{db: m})
}

func (m *DB) Ping(ctx context.Context) error { return nil }
func (m *DB) Close() error                   { return nil }

type snapshot struct {
	users   map[string]*models.User
	byEmail map[string]string
	tokens  map[string]*models.Token
}

func (m *DB) snapshot() snapshot {
	s := snapshot{
		users:   make(map[string]*models.User, len(m.users)),
		byEmail: maps.Clone(m.byEmail),
		tokens:  make(map[string]*models.Token, len(m.tokens)),
	}
	for k, u := range m.users {
		cp := *u
		s.users[k] = &cp
	}
	for k, t := range m.tokens {
		cp := *t
		s.tokens[k] = &cp
	}
	return s
}

func (m *DB) restore(s snapshot) {
	m.users = s.users
	m.byEmail = s.byEmail
	m.tokens = s.tokens
}

// Unlocked operations. Callers hold m.mu.

func (m *DB) createUser(u models.User) (*models.User, error) {
	if _, ok := m.byEmail[u.Email]; ok {
		return nil, store.ErrUserExists
	}
	if u.ID == "" {
		u.ID = uuid.NewString()
	}
	if u.CreatedAt.IsZero() {
		u.CreatedAt = m.now().UTC()
	}
	m.users[u.ID] = &u
	m.byEmail[u.Email] = u.ID
	out := u
	return &out, nil
}

func (m *DB) userByEmail(email string) (*models.User, error) {
	id, ok := m.byEmail[email]
	if !ok {
		return nil, store.ErrUserNotFound
	}
	return m.userByID(id)
}

func (m *DB) userByID(id string) (*models.User, error) {
	u, ok := m.users[id]
	if !ok {
		return nil, store.ErrUserNotFound
	}
	out := *u
	return &out, nil
}

func (m *DB) updatePassword(id, passwordHash string) error {
	u, ok := m.users[id]
	if !ok {
		return store.ErrUserNotFound
	}
	u.Password = passwordHash
	return nil
}

func (m *DB) deleteUser(id string) error {
	u, ok := m.users[id]
	if !ok {
		return store.ErrUserNotFound
	}
	delete(m.byEmail, u.Email)
	delete(m.users, id)
	return nil
}

func (m *DB) saveToken(userID, value string) (*models.Token, error) {
	if _, ok := m.tokens[value]; ok {
		return nil, store.ErrDuplicateCredential
	}
	t := &models.Token{
		ID:        uuid.NewString(),
		Value:     value,
		UserID:    userID,
		CreatedAt: m.now().UTC(),
	}
	m.tokens[value] = t
	out := *t
	return &out, nil
}

func (m *DB) validTokens(userID string) []models.Token {
	var out []models.Token
	for _, t := range m.tokens {
		if t.UserID == userID && !t.Revoked {
			out = append(out, *t)
		}
	}
	return out
}

func (m *DB) revokeAll(userID string) int64 {
	var n int64
	for _, t := range m.tokens {
		if t.UserID == userID && !t.Revoked {
			t.Revoked = true
			n++
		}
	}
	return n
}

func (m *DB) tokenByValue(value string) (*models.Token, error) {
	t, ok := m.tokens[value]
	if !ok {
		return nil, store.ErrTokenNotFound
	}
	out := *t
	return &out, nil
}

func (m *DB) revokeToken(value string) error {
	t, ok := m.tokens[value]
	if !ok {
		return store.ErrTokenNotFound
	}
	t.Revoked = true
	return nil
}

func (m *DB) deleteTokens(userID string) int64 {
	var n int64
	for k, t := range m.tokens {
		if t.UserID == userID {
			delete(m.tokens, k)
			n++
		}
	}
	return n
}

func (m *DB) purgeRevoked() int64 {
	var n int64
	for k, t := range m.tokens {
		if t.Revoked {
			delete(m.tokens, k)
			n++
		}
	}
	return n
}
