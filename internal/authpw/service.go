// Package authpw provides email/password sign-in for the site owner. There
// is no public signup: the one admin account is seeded at startup and
// everyone else arrives through OAuth.
package authpw

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/IsHereZahin/isherezahin.me-sub002/internal/store"
	"github.com/IsHereZahin/isherezahin.me-sub002/internal/util"
	"golang.org/x/crypto/bcrypt"
)

var ErrInvalidCredentials = errors.New("invalid email or password")

// UserStore defines the storage interface for password auth.
type UserStore interface {
	GetUserByEmail(ctx context.Context, email string) (store.User, error)
	CreateUser(ctx context.Context, user store.User) error
}

type Service struct {
	store UserStore
}

func NewService(store UserStore) *Service {
	return &Service{store: store}
}

// SignIn checks an email/password pair against the stored hash. Accounts
// without a password hash (OAuth-only) can never sign in here.
func (s *Service) SignIn(ctx context.Context, email, password string) (store.User, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	if email == "" || password == "" {
		return store.User{}, ErrInvalidCredentials
	}

	user, err := s.store.GetUserByEmail(ctx, email)
	if err != nil {
		// Same failure for unknown email and bad password.
		return store.User{}, ErrInvalidCredentials
	}
	if user.PasswordHash == "" {
		return store.User{}, ErrInvalidCredentials
	}
	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)); err != nil {
		return store.User{}, ErrInvalidCredentials
	}
	return user, nil
}

// SeedAdmin creates the admin account if it does not exist yet. Called once
// at bootstrap; a no-op when the email is already registered.
func (s *Service) SeedAdmin(ctx context.Context, email, password, name string) error {
	email = strings.ToLower(strings.TrimSpace(email))
	if email == "" || password == "" {
		return nil
	}

	_, err := s.store.GetUserByEmail(ctx, email)
	if err == nil {
		return nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("lookup admin: %w", err)
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return fmt.Errorf("hash admin password: %w", err)
	}

	admin := store.User{
		ID:           util.NewID("usr"),
		Name:         name,
		Email:        email,
		Role:         "admin",
		PasswordHash: string(hash),
	}
	if err := s.store.CreateUser(ctx, admin); err != nil {
		return fmt.Errorf("seed admin: %w", err)
	}
	return nil
}
