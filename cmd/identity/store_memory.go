package identity

import (
	"context"
	"strings"
	"sync"
	"time"

	"turnstile/cmd/identity/ids"
)

// MemoryStore is an in-process Store for development and tests.
type MemoryStore struct {
	mu      sync.RWMutex
	byID    map[string]*User
	byEmail map[string]string
}

// NewMemoryStore returns an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		byID:    make(map[string]*User),
		byEmail: make(map[string]string),
	}
}

func (s *MemoryStore) FindUserByEmail(ctx context.Context, email string) (User, error) {
	u, err := s.FindUserAuthByEmail(ctx, email)
	if err != nil {
		return User{}, err
	}
	return u.Public(), nil
}

func (s *MemoryStore) FindUserAuthByEmail(ctx context.Context, email string) (User, error) {
	const op = "identity.FindUserByEmail"
	if err := ctx.Err(); err != nil {
		return User{}, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	id, ok := s.byEmail[NormalizeEmail(email)]
	if !ok {
		return User{}, notFound(op, "email")
	}
	return cloneUser(s.byID[id]), nil
}

func (s *MemoryStore) FindUserByID(ctx context.Context, id string) (User, error) {
	const op = "identity.FindUserByID"
	if err := ctx.Err(); err != nil {
		return User{}, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	u, ok := s.byID[id]
	if !ok {
		return User{}, notFound(op, "id")
	}
	return u.Public(), nil
}

func (s *MemoryStore) CreateUser(ctx context.Context, in CreateUserInput) (User, error) {
	const op = "identity.CreateUser"
	if err := ctx.Err(); err != nil {
		return User{}, err
	}

	email := NormalizeEmail(in.Email)
	if email == "" {
		return User{}, invalid(op, "email")
	}
	if strings.TrimSpace(in.PasswordHash) == "" {
		return User{}, invalid(op, "password hash")
	}

	now := in.Now
	if now.IsZero() {
		now = time.Now().UTC()
	}
	id, err := ids.NewUserID(now)
	if err != nil {
		return User{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, taken := s.byEmail[email]; taken {
		return User{}, conflict(op, "email")
	}

	u := &User{ID: id, Email: email, CreatedAt: now, PasswordHash: in.PasswordHash}
	s.byID[id] = u
	s.byEmail[email] = id

	return u.Public(), nil
}

func (s *MemoryStore) PersistHashedRefreshToken(ctx context.Context, userID string, hash *string) error {
	const op = "identity.PersistHashedRefreshToken"
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	u, ok := s.byID[userID]
	if !ok {
		return notFound(op, "id")
	}
	u.HashedRefreshToken = cloneString(hash)
	return nil
}

func (s *MemoryStore) LoadHashedRefreshToken(ctx context.Context, userID string) (*string, error) {
	const op = "identity.LoadHashedRefreshToken"
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	u, ok := s.byID[userID]
	if !ok {
		return nil, notFound(op, "id")
	}
	return cloneString(u.HashedRefreshToken), nil
}

func cloneUser(u *User) User {
	out := *u
	out.HashedRefreshToken = cloneString(u.HashedRefreshToken)
	return out
}

func cloneString(p *string) *string {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}
