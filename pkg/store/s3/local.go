package s3

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// LocalStore writes audio blobs under a directory tree, mirroring object
// keys as relative paths. Used in development when no bucket is set.
type LocalStore struct {
	root string
}

// NewLocal creates a local audio store rooted at dir.
func NewLocal(dir string) (*LocalStore, error) {
	if dir == "" {
		return nil, fmt.Errorf("local store: dir is required")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("local store: %w", err)
	}
	return &LocalStore{root: dir}, nil
}

// Upload writes the blob to disk at the key's relative path.
func (l *LocalStore) Upload(ctx context.Context, key string, data []byte, contentType string) error {
	clean := filepath.Clean(key)
	if strings.HasPrefix(clean, "..") || filepath.IsAbs(clean) {
		return fmt.Errorf("local store: invalid key %q", key)
	}
	path := filepath.Join(l.root, clean)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("local store: mkdir for %s: %w", key, err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("local store: write %s: %w", key, err)
	}
	return nil
}

// BuildURL returns a file URL for the stored key.
func (l *LocalStore) BuildURL(key string) string {
	return "file://" + filepath.Join(l.root, filepath.Clean(key))
}
