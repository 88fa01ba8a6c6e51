package core

import (
	"errors"
	"fmt"
	"io"
	"log"
	"mime/multipart"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
)

// CoverStorage stores uploaded cover images on disk under a base
// directory. Stored names are opaque (uuid + original extension) so two
// uploads with the same name never collide.
type CoverStorage struct {
	baseDir string
}

// NewCoverStorage ensures the base directory exists and returns the store.
func NewCoverStorage(baseDir string) (*CoverStorage, error) {
	if strings.TrimSpace(baseDir) == "" {
		return nil, errors.New("empty upload dir")
	}
	abs, err := filepath.Abs(baseDir)
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(abs, 0o755); err != nil {
		return nil, fmt.Errorf("failed to ensure upload dir %s: %w", abs, err)
	}
	return &CoverStorage{baseDir: abs}, nil
}

// BaseDir returns the absolute storage directory, for static serving.
func (s *CoverStorage) BaseDir() string {
	return s.baseDir
}

// Save writes the uploaded file and returns the stored file name.
// A nil file header is not an error: it returns an empty name.
func (s *CoverStorage) Save(file *multipart.FileHeader) (string, error) {
	if file == nil || file.Size == 0 {
		return "", nil
	}

	// Only the extension of the client-supplied name survives; everything
	// else is replaced to keep path traversal out of the storage dir.
	ext := strings.ToLower(filepath.Ext(filepath.Base(file.Filename)))
	storedName := uuid.New().String() + ext

	src, err := file.Open()
	if err != nil {
		return "", err
	}
	defer src.Close()

	dst, err := os.Create(filepath.Join(s.baseDir, storedName))
	if err != nil {
		return "", err
	}
	defer dst.Close()

	if _, err := io.Copy(dst, src); err != nil {
		_ = os.Remove(dst.Name())
		return "", err
	}
	return storedName, nil
}

// Delete removes a stored cover. Failure is logged, never fatal: a
// leftover file must not block catalog operations.
func (s *CoverStorage) Delete(storedName string) {
	if strings.TrimSpace(storedName) == "" {
		return
	}
	path := filepath.Join(s.baseDir, filepath.Base(storedName))
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		log.Printf("failed to delete cover image %s: %v", storedName, err)
	}
}
