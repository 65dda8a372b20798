package auth

import (
	"context"
	"strings"
	"sync"
)

// UserStore describes persistence operations required by the auth subsystem.
type UserStore interface {
	Create(ctx context.Context, u *User) error
	Find(ctx context.Context, id string) (*User, error)
	FindByEmail(ctx context.Context, email string) (*User, error)
}

// InMemoryUsers is a map-backed UserStore for tests and single-node runs.
type InMemoryUsers struct {
	mu      sync.RWMutex
	byID    map[string]User
	byEmail map[string]string
}

// NewInMemoryUsers initialises an empty user store.
func NewInMemoryUsers() *InMemoryUsers {
	return &InMemoryUsers{
		byID:    make(map[string]User),
		byEmail: make(map[string]string),
	}
}

func (s *InMemoryUsers) Create(ctx context.Context, u *User) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	email := strings.ToLower(strings.TrimSpace(u.Email))
	if _, ok := s.byEmail[email]; ok {
		return ErrAlreadyExists
	}
	s.byID[u.ID] = *u
	s.byEmail[email] = u.ID
	return nil
}

func (s *InMemoryUsers) Find(ctx context.Context, id string) (*User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	u, ok := s.byID[id]
	if !ok {
		return nil, ErrNotFound
	}
	out := u
	return &out, nil
}

func (s *InMemoryUsers) FindByEmail(ctx context.Context, email string) (*User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.byEmail[strings.ToLower(strings.TrimSpace(email))]
	if !ok {
		return nil, ErrNotFound
	}
	u := s.byID[id]
	out := u
	return &out, nil
}
