package core

import (
	"context"
	"errors"
	"log"
	"mime/multipart"

	"github.com/google/uuid"
)

var (
	// ErrNotFound is returned when a referenced catalog entity is absent.
	ErrNotFound = errors.New("not found")
	// ErrNoCopiesAvailable is returned when a loan hits zero inventory.
	ErrNoCopiesAvailable = errors.New("no copies available")
	// ErrAllCopiesPresent is returned when a return would exceed the total stock.
	ErrAllCopiesPresent = errors.New("all copies already present")
)

// CatalogService owns the book-catalog business rules: stock invariants
// on create/update, the loan/return decrement-restore cycle, status
// derivation and cover-image housekeeping.
type CatalogService struct {
	books   BookRepository
	covers  *CoverStorage
	metrics *MetricsService
}

// NewCatalogService wires the catalog core. metrics may be nil.
func NewCatalogService(books BookRepository, covers *CoverStorage, metrics *MetricsService) *CatalogService {
	return &CatalogService{books: books, covers: covers, metrics: metrics}
}

// CreateLivro registers a new book. The total stock is initialized from
// the supplied available count and the status derived from it.
func (s *CatalogService) CreateLivro(ctx context.Context, input LivroCreateInput, cover *multipart.FileHeader) (uuid.UUID, error) {
	if s.covers != nil && cover != nil {
		storedName, err := s.covers.Save(cover)
		if err != nil {
			return uuid.Nil, err
		}
		input.CaminhoImagemCapa = storedName
	}
	return s.books.Create(ctx, input)
}

// GetLivro returns a single book or ErrNotFound.
func (s *CatalogService) GetLivro(ctx context.Context, id uuid.UUID) (*Livro, error) {
	l, err := s.books.Find(ctx, id)
	if err != nil {
		return nil, ErrNotFound
	}
	return l, nil
}

// ListLivros returns all books in insertion order.
func (s *CatalogService) ListLivros(ctx context.Context) ([]Livro, error) {
	return s.books.List(ctx)
}

// ListForCatalog returns the public catalog projection.
func (s *CatalogService) ListForCatalog(ctx context.Context) ([]LivroCatalogItem, error) {
	return s.books.ListCatalog(ctx)
}

// Search runs the general substring search across titulo, autor, genero and tags.
func (s *CatalogService) Search(ctx context.Context, termo string) ([]Livro, error) {
	return s.books.Search(ctx, termo)
}

// SearchByTag runs the tag-only substring search.
func (s *CatalogService) SearchByTag(ctx context.Context, tag string) ([]Livro, error) {
	return s.books.SearchByTag(ctx, tag)
}

// UpdateLivro applies a partial update. Fields absent from the patch keep
// their stored value; the total stock is never altered here. A new cover
// replaces (and deletes) the previous one.
func (s *CatalogService) UpdateLivro(ctx context.Context, id uuid.UUID, patch LivroUpdateInput, cover *multipart.FileHeader) error {
	current, err := s.books.Find(ctx, id)
	if err != nil {
		return ErrNotFound
	}

	if patch.QuantidadeDisponivel != nil {
		if *patch.QuantidadeDisponivel < 0 || *patch.QuantidadeDisponivel > current.QuantidadeTotal {
			return errors.New("quantidade_disponivel must stay within [0, quantidade_total]")
		}
	}

	if s.covers != nil && cover != nil && cover.Size > 0 {
		storedName, err := s.covers.Save(cover)
		if err != nil {
			return err
		}
		if current.CaminhoImagemCapa != "" {
			s.covers.Delete(current.CaminhoImagemCapa)
		}
		patch.CaminhoImagemCapa = &storedName
	}

	return s.books.Update(ctx, id, patch)
}

// DeleteLivro removes a book and its stored cover image.
func (s *CatalogService) DeleteLivro(ctx context.Context, id uuid.UUID) error {
	current, err := s.books.Find(ctx, id)
	if err != nil {
		return ErrNotFound
	}
	if err := s.books.DeleteByID(ctx, id); err != nil {
		return err
	}
	if s.covers != nil && current.CaminhoImagemCapa != "" {
		s.covers.Delete(current.CaminhoImagemCapa)
	}
	return nil
}

// RequestLoan takes one copy of the book. The decrement is an atomic
// conditional write in the repository, so two simultaneous loans on the
// last copy cannot both succeed.
func (s *CatalogService) RequestLoan(ctx context.Context, id uuid.UUID) (*Livro, error) {
	l, ok, err := s.books.DecrementAvailable(ctx, id)
	if err != nil {
		return nil, err
	}
	if !ok {
		exists, err := s.books.Exists(ctx, id)
		if err != nil {
			return nil, err
		}
		if !exists {
			return nil, ErrNotFound
		}
		s.recordLoanDenied(ctx, id)
		return nil, ErrNoCopiesAvailable
	}
	s.recordLoan(ctx, l)
	return l, nil
}

// ReturnLivro restores one copy, bounded by the total stock.
func (s *CatalogService) ReturnLivro(ctx context.Context, id uuid.UUID) (*Livro, error) {
	l, ok, err := s.books.IncrementAvailable(ctx, id)
	if err != nil {
		return nil, err
	}
	if !ok {
		exists, err := s.books.Exists(ctx, id)
		if err != nil {
			return nil, err
		}
		if !exists {
			return nil, ErrNotFound
		}
		return nil, ErrAllCopiesPresent
	}
	return l, nil
}

// ReserveLivro acknowledges a reservation without touching inventory.
// Reservation semantics are still undefined product-side; only existence
// is checked so the boundary can 404 on unknown ids.
func (s *CatalogService) ReserveLivro(ctx context.Context, id uuid.UUID) error {
	exists, err := s.books.Exists(ctx, id)
	if err != nil {
		return err
	}
	if !exists {
		return ErrNotFound
	}
	log.Printf("reservation acknowledged for livro %s (no inventory effect)", id)
	return nil
}

// Metrics are best-effort: a counter failure must never fail a loan.

func (s *CatalogService) recordLoan(ctx context.Context, l *Livro) {
	if s.metrics == nil {
		return
	}
	s.metrics.RecordLoan(ctx, l.ID.String(), l.Titulo)
}

func (s *CatalogService) recordLoanDenied(ctx context.Context, id uuid.UUID) {
	if s.metrics == nil {
		return
	}
	s.metrics.RecordLoanDenied(ctx, id.String())
}
