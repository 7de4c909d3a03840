package auth

import (
	"context"
	"sync"
	"time"

	"github.com/afyatrack/afyatrack-api/internal/model"
	"github.com/afyatrack/afyatrack-api/internal/queue"
	"github.com/afyatrack/afyatrack-api/internal/repository"
)

type memUsers struct {
	mu     sync.Mutex
	nextID uint64
	byID   map[uint64]model.User
}

func newMemUsers() *memUsers { return &memUsers{byID: map[uint64]model.User{}} }

func (m *memUsers) Create(_ context.Context, u *model.User) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	u.Email = repository.NormalizeEmail(u.Email)
	for _, x := range m.byID {
		if x.Email == u.Email {
			return repository.ErrEmailExists
		}
	}
	m.nextID++
	u.ID = m.nextID
	m.byID[u.ID] = *u
	return nil
}

func (m *memUsers) GetByEmail(_ context.Context, email string) (model.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	email = repository.NormalizeEmail(email)
	for _, x := range m.byID {
		if x.Email == email {
			return x, nil
		}
	}
	return model.User{}, repository.ErrNotFound
}

func (m *memUsers) GetByID(_ context.Context, id uint64) (model.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.byID[id]
	if !ok {
		return model.User{}, repository.ErrNotFound
	}
	return u, nil
}

func (m *memUsers) mutate(id uint64, fn func(*model.User)) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.byID[id]
	if !ok {
		return repository.ErrNotFound
	}
	fn(&u)
	m.byID[id] = u
	return nil
}

func (m *memUsers) TouchLastLogin(_ context.Context, id uint64, at time.Time) error {
	return m.mutate(id, func(u *model.User) { u.LastLoginAt = &at })
}

func (m *memUsers) UpdatePassword(_ context.Context, id uint64, hash string) error {
	return m.mutate(id, func(u *model.User) { u.PasswordHash = hash })
}

func (m *memUsers) UpdateProfile(_ context.Context, id uint64, first, last string) error {
	return m.mutate(id, func(u *model.User) { u.FirstName, u.LastName = first, last })
}

func (m *memUsers) SetActive(_ context.Context, id uint64, active bool) error {
	return m.mutate(id, func(u *model.User) { u.IsActive = active })
}

// memTokens mirrors the SQL store semantics under one mutex.
type memTokens struct {
	mu     sync.Mutex
	nextID uint64
	rows   map[string]*model.RefreshToken
}

func newMemTokens() *memTokens { return &memTokens{rows: map[string]*model.RefreshToken{}} }

func (m *memTokens) Create(_ context.Context, t *model.RefreshToken) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.insert(t)
}

func (m *memTokens) insert(t *model.RefreshToken) error {
	if _, dup := m.rows[t.TokenHash]; dup {
		return repository.ErrConflict
	}
	m.nextID++
	t.ID = m.nextID
	cp := *t
	m.rows[t.TokenHash] = &cp
	return nil
}

func (m *memTokens) Rotate(_ context.Context, oldHash string, now time.Time, ip string, next *model.RefreshToken) (uint64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	old, ok := m.rows[oldHash]
	if !ok || !old.Usable(now) {
		return 0, repository.ErrNotFound
	}
	old.Revoked = true
	old.RevokedAt = &now
	old.RevokedByIP = ip
	next.UserID = old.UserID
	if err := m.insert(next); err != nil {
		return 0, err
	}
	return old.UserID, nil
}

func (m *memTokens) Revoke(_ context.Context, hash string, now time.Time, ip string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.rows[hash]
	if !ok {
		return repository.ErrNotFound
	}
	if !t.Revoked {
		t.Revoked = true
		t.RevokedAt = &now
		t.RevokedByIP = ip
	}
	return nil
}

func (m *memTokens) RevokeAllForUser(_ context.Context, userID uint64, now time.Time, ip string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	for _, t := range m.rows {
		if t.UserID == userID && !t.Revoked {
			t.Revoked = true
			t.RevokedAt = &now
			t.RevokedByIP = ip
			n++
		}
	}
	return n, nil
}

func (m *memTokens) DeleteInactive(_ context.Context, now time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	for h, t := range m.rows {
		if t.Revoked || !now.Before(t.ExpiresAt) {
			delete(m.rows, h)
			n++
		}
	}
	return n, nil
}

func (m *memTokens) GetByHash(_ context.Context, hash string) (model.RefreshToken, error) {
	t, ok := m.get(hash)
	if !ok {
		return model.RefreshToken{}, repository.ErrNotFound
	}
	return t, nil
}

func (m *memTokens) get(hash string) (model.RefreshToken, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.rows[hash]
	if !ok {
		return model.RefreshToken{}, false
	}
	return *t, true
}

func (m *memTokens) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.rows)
}

type memEvents struct {
	mu     sync.Mutex
	events []queue.AuthEvent
}

func (m *memEvents) Publish(_ context.Context, ev queue.AuthEvent) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, ev)
	return nil
}

func (m *memEvents) types() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, 0, len(m.events))
	for _, e := range m.events {
		out = append(out, e.Type)
	}
	return out
}
