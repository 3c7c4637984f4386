package document

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"strings"
)

// ErrNotFound is returned when a stored object does not exist.
var ErrNotFound = errors.New("document not found")

// Store persists rendered artifacts. Put must never overwrite an existing
// object; it returns the location the object can be retrieved from. Delete
// of a missing key is not an error.
type Store interface {
	Put(ctx context.Context, key string, data []byte, contentType string) (string, error)
	Get(ctx context.Context, key string) ([]byte, error)
	Delete(ctx context.Context, key string) error
}

// FileStore stores documents below a base directory on the local filesystem.
type FileStore struct {
	basePath string
}

// NewFileStore creates a new FileStore and ensures the base directory exists.
func NewFileStore(basePath string) (*FileStore, error) {
	if err := os.MkdirAll(basePath, 0755); err != nil {
		return nil, fmt.Errorf("failed to create storage directory %s: %w", basePath, err)
	}
	return &FileStore{basePath: basePath}, nil
}

// Root returns the base directory.
func (s *FileStore) Root() string {
	return s.basePath
}

func (s *FileStore) pathFor(key string) (string, error) {
	clean := path.Clean("/" + key)
	if clean == "/" || strings.HasSuffix(key, "/") {
		return "", fmt.Errorf("invalid document key %q", key)
	}
	return filepath.Join(s.basePath, filepath.FromSlash(clean)), nil
}

// Put writes data to a new file. An existing file with the same key is an error.
func (s *FileStore) Put(ctx context.Context, key string, data []byte, contentType string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	filePath, err := s.pathFor(key)
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(filepath.Dir(filePath), 0755); err != nil {
		return "", fmt.Errorf("failed to create directory for %s: %w", key, err)
	}

	f, err := os.OpenFile(filePath, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0644)
	if err != nil {
		return "", fmt.Errorf("failed to create document file: %w", err)
	}
	if _, err := f.Write(data); err != nil {
		f.Close()
		os.Remove(filePath)
		return "", fmt.Errorf("failed to write document file: %w", err)
	}
	if err := f.Close(); err != nil {
		os.Remove(filePath)
		return "", fmt.Errorf("failed to close document file: %w", err)
	}
	return filePath, nil
}

// Get reads a stored file.
func (s *FileStore) Get(ctx context.Context, key string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	filePath, err := s.pathFor(key)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(filePath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%s: %w", key, ErrNotFound)
		}
		return nil, fmt.Errorf("failed to read document file: %w", err)
	}
	return data, nil
}

// Delete removes the file stored under key.
func (s *FileStore) Delete(ctx context.Context, key string) error {
	filePath, err := s.pathFor(key)
	if err != nil {
		return err
	}
	if err := os.Remove(filePath); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to delete document file: %w", err)
	}
	return nil
}

// Exists checks if a document is stored under key.
func (s *FileStore) Exists(key string) bool {
	filePath, err := s.pathFor(key)
	if err != nil {
		return false
	}
	_, err = os.Stat(filePath)
	return err == nil
}
