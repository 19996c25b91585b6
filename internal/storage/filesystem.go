package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"videojobs/internal/domain"
)

// FileStore persists uploaded objects onto the local filesystem. It stands in
// for object storage in development and tests.
type FileStore struct {
	basePath string
}

// NewFileStore initializes a FileStore rooted at basePath.
func NewFileStore(basePath string) (*FileStore, error) {
	basePath = strings.TrimSpace(basePath)
	if basePath == "" {
		return nil, errors.New("storage: base path is required")
	}
	if err := os.MkdirAll(basePath, 0o755); err != nil {
		return nil, fmt.Errorf("storage: ensure base path: %w", err)
	}
	return &FileStore{basePath: basePath}, nil
}

// BasePath returns the configured root directory.
func (s *FileStore) BasePath() string {
	if s == nil {
		return ""
	}
	return s.basePath
}

// Write persists the provided bytes at the given relative key and returns the
// canonicalized storage key.
func (s *FileStore) Write(ctx context.Context, key string, data []byte) (string, error) {
	return s.put(ctx, key, func(f *os.File) (int64, error) {
		n, err := f.Write(data)
		return int64(n), err
	})
}

// WriteFrom streams r into key, refusing bodies larger than maxBytes when
// maxBytes is positive. The object becomes visible only once fully written.
func (s *FileStore) WriteFrom(ctx context.Context, key string, r io.Reader, maxBytes int64) (string, int64, error) {
	var written int64
	cleanKey, err := s.put(ctx, key, func(f *os.File) (int64, error) {
		src := r
		if maxBytes > 0 {
			src = io.LimitReader(r, maxBytes+1)
		}
		n, err := io.Copy(f, src)
		if err != nil {
			return n, err
		}
		if maxBytes > 0 && n > maxBytes {
			return n, fmt.Errorf("%w: object exceeds %d bytes", domain.ErrInvalidInput, maxBytes)
		}
		written = n
		return n, nil
	})
	if err != nil {
		return "", 0, err
	}
	return cleanKey, written, nil
}

func (s *FileStore) put(ctx context.Context, key string, fill func(*os.File) (int64, error)) (string, error) {
	if s == nil {
		return "", errors.New("storage: no store configured")
	}
	if err := ctx.Err(); err != nil {
		return "", err
	}
	cleanKey, err := sanitizeKey(key)
	if err != nil {
		return "", err
	}
	fullPath := filepath.Join(s.basePath, filepath.FromSlash(cleanKey))
	if err := os.MkdirAll(filepath.Dir(fullPath), 0o755); err != nil {
		return "", fmt.Errorf("storage: ensure directory: %w", err)
	}
	tmp, err := os.CreateTemp(filepath.Dir(fullPath), ".upload-*")
	if err != nil {
		return "", fmt.Errorf("storage: create temp file: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := fill(tmp); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
		if errors.Is(err, domain.ErrInvalidInput) {
			return "", err
		}
		return "", fmt.Errorf("storage: write file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpName)
		return "", fmt.Errorf("storage: close file: %w", err)
	}
	if err := os.Rename(tmpName, fullPath); err != nil {
		_ = os.Remove(tmpName)
		return "", fmt.Errorf("storage: publish file: %w", err)
	}
	return cleanKey, nil
}

// Stat reports the size of a stored object. The bucket is ignored; a
// FileStore has a single namespace.
func (s *FileStore) Stat(ctx context.Context, _ string, key string) (ObjectInfo, error) {
	if err := ctx.Err(); err != nil {
		return ObjectInfo{}, err
	}
	cleanKey, err := sanitizeKey(key)
	if err != nil {
		return ObjectInfo{}, fmt.Errorf("%w: %v", domain.ErrInvalidInput, err)
	}
	info, err := os.Stat(filepath.Join(s.basePath, filepath.FromSlash(cleanKey)))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return ObjectInfo{}, fmt.Errorf("storage: %s: %w", cleanKey, domain.ErrNotFound)
		}
		return ObjectInfo{}, fmt.Errorf("storage: stat: %w", domain.Transient(err))
	}
	return ObjectInfo{Key: cleanKey, Size: info.Size(), LastModified: info.ModTime().UTC()}, nil
}

// sanitizeKey normalizes a key and prevents escaping the storage root.
func sanitizeKey(key string) (string, error) {
	key = strings.TrimSpace(key)
	if key == "" {
		return "", errors.New("storage: key is required")
	}
	key = strings.ReplaceAll(key, "\\", "/")
	key = strings.TrimPrefix(key, "./")
	key = strings.TrimLeft(key, "/")
	cleaned := filepath.ToSlash(filepath.Clean(key))
	if cleaned == "." || cleaned == ".." || strings.HasPrefix(cleaned, "../") {
		return "", errors.New("storage: invalid key")
	}
	return cleaned, nil
}
