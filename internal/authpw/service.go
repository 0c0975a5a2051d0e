// Package authpw handles password verification and hashing for sign-in.
package authpw

import (
	"context"
	"errors"
	"fmt"

	"golang.org/x/crypto/bcrypt"

	"stagedir/api/internal/store"
)

// ErrBadCredentials covers unknown email, wrong password and deactivated
// accounts alike; callers must not be able to tell them apart.
var ErrBadCredentials = errors.New("invalid email or password")

// UserStore is the slice of storage sign-in needs.
type UserStore interface {
	GetByEmail(ctx context.Context, email string) (store.User, error)
}

type Service struct {
	users UserStore
}

func NewService(users UserStore) *Service {
	return &Service{users: users}
}

// Authenticate checks an email/password pair and returns the user on
// success.
func (s *Service) Authenticate(ctx context.Context, email, password string) (store.User, error) {
	if email == "" || password == "" {
		return store.User{}, ErrBadCredentials
	}

	user, err := s.users.GetByEmail(ctx, email)
	if errors.Is(err, store.ErrNotFound) {
		// Burn a comparison anyway so timing does not reveal which emails
		// exist.
		_ = bcrypt.CompareHashAndPassword([]byte("$2a$10$0000000000000000000000"), []byte(password))
		return store.User{}, ErrBadCredentials
	}
	if err != nil {
		return store.User{}, fmt.Errorf("load user: %w", err)
	}

	if err := bcrypt.CompareHashAndPassword([]byte(user.HashedPassword), []byte(password)); err != nil {
		return store.User{}, ErrBadCredentials
	}
	if !user.IsActive {
		return store.User{}, ErrBadCredentials
	}
	return user, nil
}

// HashPassword produces a bcrypt hash for storage.
func HashPassword(password string) (string, error) {
	if len(password) < 8 {
		return "", errors.New("password must be at least 8 characters")
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", fmt.Errorf("hash password: %w", err)
	}
	return string(hash), nil
}
