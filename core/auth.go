package core

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

// Roles stored on user records.
const (
	RoleAdmin = "ADMIN"
	RoleUser  = "USER"
)

// Authorities derived from the stored role. ADMIN implies both.
const (
	AuthorityAdmin = "ROLE_ADMIN"
	AuthorityUser  = "ROLE_USER"
)

// User represents an authenticated principal returned to handlers.
type User struct {
	ID        uuid.UUID
	Login     string
	Email     string
	Role      string
	CreatedAt time.Time
}

// Authorities derives the capability set from the stored role.
func (u User) Authorities() []string {
	if u.Role == RoleAdmin {
		return []string{AuthorityAdmin, AuthorityUser}
	}
	return []string{AuthorityUser}
}

// HasAuthority reports whether the principal holds the given capability.
func (u User) HasAuthority(authority string) bool {
	for _, a := range u.Authorities() {
		if a == authority {
			return true
		}
	}
	return false
}

var (
	// ErrInvalidCredentials is returned when login/password is wrong.
	// The caller must not reveal which of the two failed.
	ErrInvalidCredentials = errors.New("invalid credentials")
	// ErrDuplicateLogin is returned when registration hits an existing login.
	ErrDuplicateLogin = errors.New("login already registered")
)

// AuthService defines authentication and registration behaviour.
type AuthService interface {
	Authenticate(ctx context.Context, login, password string) (User, error)
	Register(ctx context.Context, login, email, password string) (User, error)
}
