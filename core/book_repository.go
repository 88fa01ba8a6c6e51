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

// Book status values shown to clients. Derived from the available count.
const (
	StatusDisponivel = "Disponível"
	StatusEmprestado = "Emprestado"
)

// deriveStatus recomputes the status field from the available count.
func deriveStatus(quantidadeDisponivel int) string {
	if quantidadeDisponivel > 0 {
		return StatusDisponivel
	}
	return StatusEmprestado
}

// Livro is a catalog record.
type Livro struct {
	ID                    uuid.UUID `json:"id"`
	Titulo                string    `json:"titulo"`
	Autor                 string    `json:"autor"`
	Genero                string    `json:"genero,omitempty"`
	AnoPublicacao         int       `json:"ano_publicacao"`
	QuantidadeDisponivel  int       `json:"quantidade_disponivel"`
	QuantidadeTotal       int       `json:"quantidade_total"`
	ISBN                  string    `json:"isbn,omitempty"`
	CaminhoImagemCapa     string    `json:"caminho_imagem_capa,omitempty"`
	Tags                  string    `json:"tags,omitempty"`
	Status                string    `json:"status"`
	CreatedAt             time.Time `json:"created_at"`
	UpdatedAt             time.Time `json:"updated_at"`
}

// LivroCatalogItem is the read-only catalog projection. Internal fields
// (isbn, tags, timestamps) are intentionally absent.
type LivroCatalogItem struct {
	ID                   uuid.UUID `json:"id"`
	Titulo               string    `json:"titulo"`
	Autor                string    `json:"autor"`
	CaminhoImagemCapa    string    `json:"caminho_imagem_capa,omitempty"`
	Status               string    `json:"status"`
	QuantidadeDisponivel int       `json:"quantidade_disponivel"`
	QuantidadeTotal      int       `json:"quantidade_total"`
}

// LivroCreateInput represents a new book. The total stock is initialized
// from the supplied available count.
type LivroCreateInput struct {
	Titulo               string
	Autor                string
	Genero               string
	AnoPublicacao        int
	QuantidadeDisponivel int
	ISBN                 string
	CaminhoImagemCapa    string
	Tags                 string
}

// LivroUpdateInput carries a partial book update. Nil fields stay
// unchanged; the total stock is never updatable here.
type LivroUpdateInput struct {
	Titulo               *string
	Autor                *string
	Genero               *string
	AnoPublicacao        *int
	QuantidadeDisponivel *int
	ISBN                 *string
	CaminhoImagemCapa    *string
	Tags                 *string
}

// BookRepository defines persistence operations for the catalog.
// DecrementAvailable and IncrementAvailable are atomic conditional
// read-modify-writes: concurrent calls for the same id are serialized by
// the store so the available count can never leave [0, total].
type BookRepository interface {
	Exists(ctx context.Context, id uuid.UUID) (bool, error)
	Find(ctx context.Context, id uuid.UUID) (*Livro, error)
	List(ctx context.Context) ([]Livro, error)
	ListCatalog(ctx context.Context) ([]LivroCatalogItem, error)
	Create(ctx context.Context, input LivroCreateInput) (uuid.UUID, error)
	Update(ctx context.Context, id uuid.UUID, input LivroUpdateInput) error
	DeleteByID(ctx context.Context, id uuid.UUID) error
	Search(ctx context.Context, termo string) ([]Livro, error)
	SearchByTag(ctx context.Context, tag string) ([]Livro, error)
	DecrementAvailable(ctx context.Context, id uuid.UUID) (*Livro, bool, error)
	IncrementAvailable(ctx context.Context, id uuid.UUID) (*Livro, bool, error)
}

// PgBookRepository implements BookRepository using pgxpool.
type PgBookRepository struct {
	db *pgxpool.Pool
}

func NewPgBookRepository(db *pgxpool.Pool) *PgBookRepository {
	return &PgBookRepository{db: db}
}

const livroColumns = `id, titulo, autor, COALESCE(genero,''), COALESCE(ano_publicacao,0),
quantidade_disponivel, quantidade_total, COALESCE(isbn,''), COALESCE(caminho_imagem_capa,''),
COALESCE(tags,''), status, created_at, updated_at`

func scanLivro(row pgx.Row) (*Livro, error) {
	var l Livro
	if err := row.Scan(&l.ID, &l.Titulo, &l.Autor, &l.Genero, &l.AnoPublicacao,
		&l.QuantidadeDisponivel, &l.QuantidadeTotal, &l.ISBN, &l.CaminhoImagemCapa,
		&l.Tags, &l.Status, &l.CreatedAt, &l.UpdatedAt); err != nil {
		return nil, err
	}
	return &l, nil
}

func (r *PgBookRepository) Exists(ctx context.Context, id uuid.UUID) (bool, error) {
	const q = `SELECT 1 FROM livros WHERE id=$1`
	var one int
	if err := r.db.QueryRow(ctx, q, id).Scan(&one); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

func (r *PgBookRepository) Find(ctx context.Context, id uuid.UUID) (*Livro, error) {
	return scanLivro(r.db.QueryRow(ctx, `SELECT `+livroColumns+` FROM livros WHERE id=$1`, id))
}

func (r *PgBookRepository) List(ctx context.Context) ([]Livro, error) {
	rows, err := r.db.Query(ctx, `SELECT `+livroColumns+` FROM livros ORDER BY created_at, id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectLivros(rows)
}

func (r *PgBookRepository) ListCatalog(ctx context.Context) ([]LivroCatalogItem, error) {
	rows, err := r.db.Query(ctx, `
SELECT id, titulo, autor, COALESCE(caminho_imagem_capa,''), status, quantidade_disponivel, quantidade_total
FROM livros
ORDER BY created_at, id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	items := make([]LivroCatalogItem, 0)
	for rows.Next() {
		var it LivroCatalogItem
		if err := rows.Scan(&it.ID, &it.Titulo, &it.Autor, &it.CaminhoImagemCapa,
			&it.Status, &it.QuantidadeDisponivel, &it.QuantidadeTotal); err != nil {
			return nil, err
		}
		items = append(items, it)
	}
	return items, rows.Err()
}

func (r *PgBookRepository) Create(ctx context.Context, input LivroCreateInput) (uuid.UUID, error) {
	if strings.TrimSpace(input.Titulo) == "" || strings.TrimSpace(input.Autor) == "" {
		return uuid.Nil, errors.New("titulo and autor are required")
	}
	if input.QuantidadeDisponivel < 0 {
		return uuid.Nil, errors.New("quantidade_disponivel must be >= 0")
	}

	id := uuid.New()
	const q = `
INSERT INTO livros (id, titulo, autor, genero, ano_publicacao, quantidade_disponivel,
                    quantidade_total, isbn, caminho_imagem_capa, tags, status)
VALUES ($1,$2,$3,NULLIF($4,''),NULLIF($5,0),$6,$7,NULLIF($8,''),NULLIF($9,''),NULLIF($10,''),$11)`
	_, err := r.db.Exec(ctx, q, id, strings.TrimSpace(input.Titulo), strings.TrimSpace(input.Autor),
		input.Genero, input.AnoPublicacao, input.QuantidadeDisponivel, input.QuantidadeDisponivel,
		input.ISBN, input.CaminhoImagemCapa, input.Tags, deriveStatus(input.QuantidadeDisponivel))
	if err != nil {
		return uuid.Nil, err
	}
	return id, nil
}

// Update applies a partial update built from non-nil fields. The status is
// recomputed in the same statement whenever the available count changes.
func (r *PgBookRepository) Update(ctx context.Context, id uuid.UUID, input LivroUpdateInput) error {
	var sets []string
	var args []any

	add := func(col string, val any) {
		sets = append(sets, col+"=$"+strconv.Itoa(len(args)+1))
		args = append(args, val)
	}

	if input.Titulo != nil {
		add("titulo", strings.TrimSpace(*input.Titulo))
	}
	if input.Autor != nil {
		add("autor", strings.TrimSpace(*input.Autor))
	}
	if input.Genero != nil {
		add("genero", *input.Genero)
	}
	if input.AnoPublicacao != nil {
		add("ano_publicacao", *input.AnoPublicacao)
	}
	if input.QuantidadeDisponivel != nil {
		if *input.QuantidadeDisponivel < 0 {
			return errors.New("quantidade_disponivel must be >= 0")
		}
		add("quantidade_disponivel", *input.QuantidadeDisponivel)
		add("status", deriveStatus(*input.QuantidadeDisponivel))
	}
	if input.ISBN != nil {
		add("isbn", *input.ISBN)
	}
	if input.CaminhoImagemCapa != nil {
		add("caminho_imagem_capa", *input.CaminhoImagemCapa)
	}
	if input.Tags != nil {
		add("tags", *input.Tags)
	}

	if len(sets) == 0 {
		return nil
	}
	sets = append(sets, "updated_at=now()")
	args = append(args, id)
	q := "UPDATE livros SET " + strings.Join(sets, ", ") + " WHERE id=$" + strconv.Itoa(len(args))
	_, err := r.db.Exec(ctx, q, args...)
	return err
}

func (r *PgBookRepository) DeleteByID(ctx context.Context, id uuid.UUID) error {
	_, err := r.db.Exec(ctx, `DELETE FROM livros WHERE id=$1`, id)
	return err
}

// Search matches a substring case-insensitively over titulo, autor,
// genero and tags. An empty term returns the full list.
func (r *PgBookRepository) Search(ctx context.Context, termo string) ([]Livro, error) {
	termo = strings.TrimSpace(termo)
	if termo == "" {
		return r.List(ctx)
	}
	rows, err := r.db.Query(ctx, `
SELECT `+livroColumns+`
FROM livros
WHERE titulo ILIKE $1 OR autor ILIKE $1 OR genero ILIKE $1 OR tags ILIKE $1
ORDER BY created_at, id`, "%"+termo+"%")
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectLivros(rows)
}

func (r *PgBookRepository) SearchByTag(ctx context.Context, tag string) ([]Livro, error) {
	tag = strings.TrimSpace(tag)
	if tag == "" {
		return r.List(ctx)
	}
	rows, err := r.db.Query(ctx, `
SELECT `+livroColumns+`
FROM livros
WHERE tags ILIKE $1
ORDER BY created_at, id`, "%"+tag+"%")
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectLivros(rows)
}

// DecrementAvailable takes one copy when at least one is available.
// The conditional single-statement update serializes concurrent loans on
// the same row; it returns ok=false when no copy was left to take.
func (r *PgBookRepository) DecrementAvailable(ctx context.Context, id uuid.UUID) (*Livro, bool, error) {
	const q = `
UPDATE livros
SET quantidade_disponivel = quantidade_disponivel - 1,
    status = CASE WHEN quantidade_disponivel - 1 > 0 THEN $2 ELSE $3 END,
    updated_at = now()
WHERE id = $1 AND quantidade_disponivel > 0
RETURNING ` + livroColumns
	l, err := scanLivro(r.db.QueryRow(ctx, q, id, StatusDisponivel, StatusEmprestado))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, false, nil
		}
		return nil, false, err
	}
	return l, true, nil
}

// IncrementAvailable restores one copy, bounded by the total stock.
func (r *PgBookRepository) IncrementAvailable(ctx context.Context, id uuid.UUID) (*Livro, bool, error) {
	const q = `
UPDATE livros
SET quantidade_disponivel = quantidade_disponivel + 1,
    status = $2,
    updated_at = now()
WHERE id = $1 AND quantidade_disponivel < quantidade_total
RETURNING ` + livroColumns
	l, err := scanLivro(r.db.QueryRow(ctx, q, id, StatusDisponivel))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, false, nil
		}
		return nil, false, err
	}
	return l, true, nil
}

func collectLivros(rows pgx.Rows) ([]Livro, error) {
	items := make([]Livro, 0)
	for rows.Next() {
		l, err := scanLivro(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, *l)
	}
	return items, rows.Err()
}
