package core

import (
	"context"
	"strings"

	"golang.org/x/crypto/bcrypt"
)

// RepositoryAuthService implements AuthService over a UserRepository with bcrypt hashing.
type RepositoryAuthService struct {
	users UserRepository
}

func NewRepositoryAuthService(users UserRepository) *RepositoryAuthService {
	return &RepositoryAuthService{users: users}
}

// Authenticate checks a login/password pair against the stored hash.
// It never reveals whether the login or the password was wrong.
func (s *RepositoryAuthService) Authenticate(ctx context.Context, login, password string) (User, error) {
	if strings.TrimSpace(login) == "" || password == "" {
		return User{}, ErrInvalidCredentials
	}

	u, err := s.users.FindByLogin(ctx, login)
	if err != nil || u == nil {
		return User{}, ErrInvalidCredentials
	}

	if bcrypt.CompareHashAndPassword([]byte(u.PasswordHash), []byte(password)) != nil {
		return User{}, ErrInvalidCredentials
	}
	return User{
		ID:        u.ID,
		Login:     u.Login,
		Email:     u.Email,
		Role:      u.Role,
		CreatedAt: u.CreatedAt,
	}, nil
}

// Register creates a new USER-role account with a bcrypt-hashed password.
func (s *RepositoryAuthService) Register(ctx context.Context, login, email, password string) (User, error) {
	login = strings.TrimSpace(login)
	email = strings.TrimSpace(email)
	if login == "" || email == "" || password == "" {
		return User{}, ErrInvalidCredentials
	}

	if existing, err := s.users.FindByLogin(ctx, login); err == nil && existing != nil {
		return User{}, ErrDuplicateLogin
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return User{}, err
	}

	id, err := s.users.Create(ctx, login, email, string(hash), RoleUser)
	if err != nil {
		return User{}, err
	}

	return User{ID: id, Login: login, Email: email, Role: RoleUser}, nil
}
