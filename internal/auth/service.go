package auth

import (
	"context"
	"errors"
	"fmt"
	"net/mail"
	"strings"
	"time"

	"bidflow.org/internal/ids"
)

const (
	defaultTokenTTL   = 24 * time.Hour
	minPasswordLength = 8
)

// Service registers and authenticates buyer accounts.
type Service struct {
	users UserStore
	now   func() time.Time
	ttl   time.Duration
}

// NewService constructs the account service.
func NewService(users UserStore) *Service {
	return &Service{
		users: users,
		now:   func() time.Time { return time.Now().UTC() },
		ttl:   defaultTokenTTL,
	}
}

// RegisterInput carries a new buyer registration.
type RegisterInput struct {
	Email    string
	Name     string
	Company  string
	Password string
}

// Session is the result of a successful login or registration.
type Session struct {
	Token     string
	ExpiresAt time.Time
	User      User
}

// Register creates a buyer account and returns a live session.
func (s *Service) Register(ctx context.Context, in RegisterInput) (Session, error) {
	email := strings.ToLower(strings.TrimSpace(in.Email))
	if _, err := mail.ParseAddress(email); err != nil {
		return Session{}, fmt.Errorf("%w: invalid email", ErrInvalidInput)
	}
	if len(in.Password) < minPasswordLength {
		return Session{}, fmt.Errorf("%w: password must be at least %d characters", ErrInvalidInput, minPasswordLength)
	}
	hash, err := HashPassword(in.Password)
	if err != nil {
		return Session{}, err
	}

	now := s.now()
	u := &User{
		ID:           ids.New(),
		Email:        email,
		Name:         strings.TrimSpace(in.Name),
		Company:      strings.TrimSpace(in.Company),
		PasswordHash: hash,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := s.users.Create(ctx, u); err != nil {
		return Session{}, err
	}
	return s.session(u)
}

// Login authenticates credentials and returns a live session. Failures
// are reported uniformly so the response never reveals whether the
// account exists.
func (s *Service) Login(ctx context.Context, email, password string) (Session, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	if email == "" || password == "" {
		return Session{}, ErrUnauthorized
	}
	u, err := s.users.FindByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return Session{}, ErrUnauthorized
		}
		return Session{}, err
	}
	if err := VerifyPassword(u.PasswordHash, password); err != nil {
		return Session{}, ErrUnauthorized
	}
	return s.session(u)
}

// UserByID loads a buyer account.
func (s *Service) UserByID(ctx context.Context, id string) (User, error) {
	u, err := s.users.Find(ctx, id)
	if err != nil {
		return User{}, err
	}
	return *u, nil
}

func (s *Service) session(u *User) (Session, error) {
	token, err := GenerateToken(u.ID, s.ttl)
	if err != nil {
		return Session{}, err
	}
	return Session{
		Token:     token,
		ExpiresAt: s.now().Add(s.ttl),
		User:      *u,
	}, nil
}
