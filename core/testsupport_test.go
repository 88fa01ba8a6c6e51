package core

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

// memUserRepo is an in-memory UserRepository for tests.
type memUserRepo struct {
	mu    sync.Mutex
	users map[string]*UserRecord // keyed by login
}

func newMemUserRepo() *memUserRepo {
	return &memUserRepo{users: make(map[string]*UserRecord)}
}

func (r *memUserRepo) FindByLogin(_ context.Context, login string) (*UserRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	u, ok := r.users[login]
	if !ok {
		return nil, pgx.ErrNoRows
	}
	cp := *u
	return &cp, nil
}

func (r *memUserRepo) FindByID(_ context.Context, id uuid.UUID) (*UserRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, u := range r.users {
		if u.ID == id {
			cp := *u
			return &cp, nil
		}
	}
	return nil, pgx.ErrNoRows
}

func (r *memUserRepo) Create(_ context.Context, login, email, passwordHash, role string) (uuid.UUID, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	id := uuid.New()
	r.users[login] = &UserRecord{
		ID:           id,
		Login:        login,
		Email:        email,
		PasswordHash: passwordHash,
		Role:         role,
		CreatedAt:    time.Now(),
	}
	return id, nil
}

func (r *memUserRepo) Update(_ context.Context, id uuid.UUID, input UserUpdateInput) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, u := range r.users {
		if u.ID != id {
			continue
		}
		if input.Email != nil {
			u.Email = *input.Email
		}
		if input.PasswordHash != nil {
			u.PasswordHash = *input.PasswordHash
		}
		if input.Role != nil {
			u.Role = *input.Role
		}
		return nil
	}
	return nil
}

func (r *memUserRepo) ExistsByID(_ context.Context, id uuid.UUID) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, u := range r.users {
		if u.ID == id {
			return true, nil
		}
	}
	return false, nil
}

func (r *memUserRepo) DeleteByID(_ context.Context, id uuid.UUID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for login, u := range r.users {
		if u.ID == id {
			delete(r.users, login)
			return nil
		}
	}
	return nil
}

func (r *memUserRepo) HasAdmin(_ context.Context) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, u := range r.users {
		if u.Role == RoleAdmin {
			return true, nil
		}
	}
	return false, nil
}

func (r *memUserRepo) List(_ context.Context, page, perPage int) ([]AdminUserListItem, int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	items := make([]AdminUserListItem, 0, len(r.users))
	for _, u := range r.users {
		items = append(items, AdminUserListItem{ID: u.ID, Login: u.Login, Email: u.Email, Role: u.Role, CreatedAt: u.CreatedAt})
	}
	return items, len(items), nil
}

// memBookRepo is an in-memory BookRepository. The mutex around the
// conditional decrement/increment mirrors the per-row serialization the
// SQL implementation gets from its single-statement updates.
type memBookRepo struct {
	mu    sync.Mutex
	books map[uuid.UUID]*Livro
	order []uuid.UUID
}

func newMemBookRepo() *memBookRepo {
	return &memBookRepo{books: make(map[uuid.UUID]*Livro)}
}

func (r *memBookRepo) Exists(_ context.Context, id uuid.UUID) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.books[id]
	return ok, nil
}

func (r *memBookRepo) Find(_ context.Context, id uuid.UUID) (*Livro, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	l, ok := r.books[id]
	if !ok {
		return nil, pgx.ErrNoRows
	}
	cp := *l
	return &cp, nil
}

func (r *memBookRepo) List(_ context.Context) ([]Livro, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.snapshot(), nil
}

func (r *memBookRepo) snapshot() []Livro {
	items := make([]Livro, 0, len(r.order))
	for _, id := range r.order {
		items = append(items, *r.books[id])
	}
	return items
}

func (r *memBookRepo) ListCatalog(_ context.Context) ([]LivroCatalogItem, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	items := make([]LivroCatalogItem, 0, len(r.order))
	for _, id := range r.order {
		l := r.books[id]
		items = append(items, LivroCatalogItem{
			ID:                   l.ID,
			Titulo:               l.Titulo,
			Autor:                l.Autor,
			CaminhoImagemCapa:    l.CaminhoImagemCapa,
			Status:               l.Status,
			QuantidadeDisponivel: l.QuantidadeDisponivel,
			QuantidadeTotal:      l.QuantidadeTotal,
		})
	}
	return items, nil
}

func (r *memBookRepo) Create(_ context.Context, input LivroCreateInput) (uuid.UUID, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	id := uuid.New()
	now := time.Now()
	r.books[id] = &Livro{
		ID:                   id,
		Titulo:               input.Titulo,
		Autor:                input.Autor,
		Genero:               input.Genero,
		AnoPublicacao:        input.AnoPublicacao,
		QuantidadeDisponivel: input.QuantidadeDisponivel,
		QuantidadeTotal:      input.QuantidadeDisponivel,
		ISBN:                 input.ISBN,
		CaminhoImagemCapa:    input.CaminhoImagemCapa,
		Tags:                 input.Tags,
		Status:               deriveStatus(input.QuantidadeDisponivel),
		CreatedAt:            now,
		UpdatedAt:            now,
	}
	r.order = append(r.order, id)
	return id, nil
}

func (r *memBookRepo) Update(_ context.Context, id uuid.UUID, input LivroUpdateInput) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	l, ok := r.books[id]
	if !ok {
		return nil
	}
	if input.Titulo != nil {
		l.Titulo = *input.Titulo
	}
	if input.Autor != nil {
		l.Autor = *input.Autor
	}
	if input.Genero != nil {
		l.Genero = *input.Genero
	}
	if input.AnoPublicacao != nil {
		l.AnoPublicacao = *input.AnoPublicacao
	}
	if input.QuantidadeDisponivel != nil {
		l.QuantidadeDisponivel = *input.QuantidadeDisponivel
		l.Status = deriveStatus(l.QuantidadeDisponivel)
	}
	if input.ISBN != nil {
		l.ISBN = *input.ISBN
	}
	if input.CaminhoImagemCapa != nil {
		l.CaminhoImagemCapa = *input.CaminhoImagemCapa
	}
	if input.Tags != nil {
		l.Tags = *input.Tags
	}
	l.UpdatedAt = time.Now()
	return nil
}

func (r *memBookRepo) DeleteByID(_ context.Context, id uuid.UUID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.books, id)
	for i, oid := range r.order {
		if oid == id {
			r.order = append(r.order[:i], r.order[i+1:]...)
			break
		}
	}
	return nil
}

func (r *memBookRepo) Search(_ context.Context, termo string) ([]Livro, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	termo = strings.ToLower(strings.TrimSpace(termo))
	if termo == "" {
		return r.snapshot(), nil
	}
	var items []Livro
	for _, id := range r.order {
		l := r.books[id]
		haystack := strings.ToLower(l.Titulo + " " + l.Autor + " " + l.Genero + " " + l.Tags)
		if strings.Contains(haystack, termo) {
			items = append(items, *l)
		}
	}
	return items, nil
}

func (r *memBookRepo) SearchByTag(_ context.Context, tag string) ([]Livro, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	tag = strings.ToLower(strings.TrimSpace(tag))
	if tag == "" {
		return r.snapshot(), nil
	}
	var items []Livro
	for _, id := range r.order {
		l := r.books[id]
		if strings.Contains(strings.ToLower(l.Tags), tag) {
			items = append(items, *l)
		}
	}
	return items, nil
}

func (r *memBookRepo) DecrementAvailable(_ context.Context, id uuid.UUID) (*Livro, bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	l, ok := r.books[id]
	if !ok || l.QuantidadeDisponivel <= 0 {
		return nil, false, nil
	}
	l.QuantidadeDisponivel--
	l.Status = deriveStatus(l.QuantidadeDisponivel)
	l.UpdatedAt = time.Now()
	cp := *l
	return &cp, true, nil
}

func (r *memBookRepo) IncrementAvailable(_ context.Context, id uuid.UUID) (*Livro, bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	l, ok := r.books[id]
	if !ok || l.QuantidadeDisponivel >= l.QuantidadeTotal {
		return nil, false, nil
	}
	l.QuantidadeDisponivel++
	l.Status = deriveStatus(l.QuantidadeDisponivel)
	l.UpdatedAt = time.Now()
	cp := *l
	return &cp, true, nil
}
