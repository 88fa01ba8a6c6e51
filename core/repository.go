package core

import (
	"context"
	"errors"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// UserRecord represents the user projection stored in persistence layer.
type UserRecord struct {
	ID           uuid.UUID
	Login        string
	Email        string
	PasswordHash string
	Role         string
	CreatedAt    time.Time
}

// AdminUserListItem is a projection for admin user listing (no password hash).
type AdminUserListItem struct {
	ID        uuid.UUID `json:"id"`
	Login     string    `json:"login"`
	Email     string    `json:"email"`
	Role      string    `json:"role"`
	CreatedAt time.Time `json:"created_at"`
}

// UserUpdateInput carries a partial user update. Nil fields stay unchanged.
type UserUpdateInput struct {
	Email        *string
	PasswordHash *string
	Role         *string
}

// UserRepository defines persistence operations for users.
type UserRepository interface {
	FindByLogin(ctx context.Context, login string) (*UserRecord, error)
	FindByID(ctx context.Context, id uuid.UUID) (*UserRecord, error)
	Create(ctx context.Context, login, email, passwordHash, role string) (uuid.UUID, error)
	Update(ctx context.Context, id uuid.UUID, input UserUpdateInput) error
	ExistsByID(ctx context.Context, id uuid.UUID) (bool, error)
	DeleteByID(ctx context.Context, id uuid.UUID) error
	HasAdmin(ctx context.Context) (bool, error)
	List(ctx context.Context, page, perPage int) ([]AdminUserListItem, int, error)
}

// PgUserRepository implements UserRepository using pgxpool.
type PgUserRepository struct {
	db *pgxpool.Pool
}

func NewPgUserRepository(db *pgxpool.Pool) *PgUserRepository {
	return &PgUserRepository{db: db}
}

func (r *PgUserRepository) FindByLogin(ctx context.Context, login string) (*UserRecord, error) {
	const q = `SELECT id, login, email, password_hash, role, created_at FROM users WHERE login=$1`
	var u UserRecord
	if err := r.db.QueryRow(ctx, q, login).Scan(&u.ID, &u.Login, &u.Email, &u.PasswordHash, &u.Role, &u.CreatedAt); err != nil {
		return nil, err
	}
	return &u, nil
}

func (r *PgUserRepository) FindByID(ctx context.Context, id uuid.UUID) (*UserRecord, error) {
	const q = `SELECT id, login, email, password_hash, role, created_at FROM users WHERE id=$1`
	var u UserRecord
	if err := r.db.QueryRow(ctx, q, id).Scan(&u.ID, &u.Login, &u.Email, &u.PasswordHash, &u.Role, &u.CreatedAt); err != nil {
		return nil, err
	}
	return &u, nil
}

func (r *PgUserRepository) Create(ctx context.Context, login, email, passwordHash, role string) (uuid.UUID, error) {
	id := uuid.New()
	const q = `INSERT INTO users (id, login, email, password_hash, role) VALUES ($1,$2,$3,$4,$5)`
	if _, err := r.db.Exec(ctx, q, id, login, email, passwordHash, role); err != nil {
		return uuid.Nil, err
	}
	return id, nil
}

// Update applies a partial user update built from non-nil fields.
func (r *PgUserRepository) Update(ctx context.Context, id uuid.UUID, input UserUpdateInput) error {
	var sets []string
	var args []any

	if input.Email != nil {
		sets = append(sets, "email=$"+strconv.Itoa(len(args)+1))
		args = append(args, strings.TrimSpace(*input.Email))
	}
	if input.PasswordHash != nil {
		sets = append(sets, "password_hash=$"+strconv.Itoa(len(args)+1))
		args = append(args, *input.PasswordHash)
	}
	if input.Role != nil {
		role := strings.ToUpper(strings.TrimSpace(*input.Role))
		if role != RoleAdmin && role != RoleUser {
			return errors.New("role must be ADMIN or USER")
		}
		sets = append(sets, "role=$"+strconv.Itoa(len(args)+1))
		args = append(args, role)
	}

	if len(sets) == 0 {
		return nil
	}
	args = append(args, id)
	q := "UPDATE users SET " + strings.Join(sets, ", ") + " WHERE id=$" + strconv.Itoa(len(args))
	_, err := r.db.Exec(ctx, q, args...)
	return err
}

func (r *PgUserRepository) ExistsByID(ctx context.Context, id uuid.UUID) (bool, error) {
	const q = `SELECT 1 FROM users WHERE id=$1`
	var one int
	if err := r.db.QueryRow(ctx, q, id).Scan(&one); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

func (r *PgUserRepository) DeleteByID(ctx context.Context, id uuid.UUID) error {
	_, err := r.db.Exec(ctx, `DELETE FROM users WHERE id=$1`, id)
	return err
}

func (r *PgUserRepository) HasAdmin(ctx context.Context) (bool, error) {
	const q = `SELECT 1 FROM users WHERE role=$1 LIMIT 1`
	var one int
	if err := r.db.QueryRow(ctx, q, RoleAdmin).Scan(&one); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

// List returns paginated users without password hash.
func (r *PgUserRepository) List(ctx context.Context, page, perPage int) ([]AdminUserListItem, int, error) {
	if page <= 0 || perPage <= 0 {
		return nil, 0, errors.New("invalid pagination")
	}
	const countQ = `SELECT COUNT(*) FROM users`
	var total int
	if err := r.db.QueryRow(ctx, countQ).Scan(&total); err != nil {
		return nil, 0, err
	}
	rows, err := r.db.Query(ctx, `SELECT id, login, email, role, created_at FROM users ORDER BY created_at, id LIMIT $1 OFFSET $2`, perPage, (page-1)*perPage)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()
	items := make([]AdminUserListItem, 0, perPage)
	for rows.Next() {
		var u AdminUserListItem
		if err := rows.Scan(&u.ID, &u.Login, &u.Email, &u.Role, &u.CreatedAt); err != nil {
			return nil, 0, err
		}
		items = append(items, u)
	}
	return items, total, rows.Err()
}
