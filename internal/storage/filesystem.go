package storage

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// ErrObjectNotFound is returned by Get when no object exists at the path.
var ErrObjectNotFound = errors.New("storage: object not found")

// ObjectStore is the bucket/path object storage the preview cache writes to.
type ObjectStore interface {
	Put(ctx context.Context, bucket, path string, data []byte, contentType string) error
	Get(ctx context.Context, bucket, path string) ([]byte, error)
	Delete(ctx context.Context, bucket, path string) error
	SignURL(bucket, path string, ttl time.Duration) (string, error)
}

// FileStore persists objects onto the local filesystem, one directory per
// bucket. URLs are signed by the attached Signer and served back by the
// objects handler.
type FileStore struct {
	basePath string
	signer   *Signer
}

// NewFileStore initializes a FileStore rooted at basePath.
func NewFileStore(basePath string, signer *Signer) (*FileStore, error) {
	basePath = strings.TrimSpace(basePath)
	if basePath == "" {
		return nil, errors.New("storage: base path is required")
	}
	if err := os.MkdirAll(basePath, 0o755); err != nil {
		return nil, fmt.Errorf("storage: ensure base path: %w", err)
	}
	return &FileStore{basePath: basePath, signer: signer}, nil
}

// BasePath returns the configured root directory.
func (s *FileStore) BasePath() string {
	if s == nil {
		return ""
	}
	return s.basePath
}

// Put writes data at bucket/path, replacing any previous object.
func (s *FileStore) Put(ctx context.Context, bucket, path string, data []byte, _ string) error {
	fullPath, err := s.resolve(ctx, bucket, path)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(fullPath), 0o755); err != nil {
		return fmt.Errorf("storage: ensure directory: %w", err)
	}
	// Write then rename so readers never observe a partial object. Each
	// writer gets its own temp file so concurrent puts of one path cannot
	// interleave their bytes.
	tmp, err := os.CreateTemp(filepath.Dir(fullPath), filepath.Base(fullPath)+".*.tmp")
	if err != nil {
		return fmt.Errorf("storage: create temp file: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
		return fmt.Errorf("storage: write file: %w", err)
	}
	if err := tmp.Chmod(0o644); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
		return fmt.Errorf("storage: chmod file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("storage: close file: %w", err)
	}
	if err := os.Rename(tmpName, fullPath); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("storage: commit file: %w", err)
	}
	return nil
}

// Get reads the object at bucket/path.
func (s *FileStore) Get(ctx context.Context, bucket, path string) ([]byte, error) {
	fullPath, err := s.resolve(ctx, bucket, path)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(fullPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, ErrObjectNotFound
		}
		return nil, fmt.Errorf("storage: read file: %w", err)
	}
	return data, nil
}

// Delete removes the object. Missing objects are not an error.
func (s *FileStore) Delete(ctx context.Context, bucket, path string) error {
	fullPath, err := s.resolve(ctx, bucket, path)
	if err != nil {
		return err
	}
	if err := os.Remove(fullPath); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("storage: delete file: %w", err)
	}
	return nil
}

// SignURL returns a time-limited URL for bucket/path.
func (s *FileStore) SignURL(bucket, path string, ttl time.Duration) (string, error) {
	if s == nil || s.signer == nil {
		return "", errors.New("storage: no signer configured")
	}
	cleanBucket, err := sanitizeBucket(bucket)
	if err != nil {
		return "", err
	}
	cleanKey, err := sanitizeKey(path)
	if err != nil {
		return "", err
	}
	return s.signer.Sign(cleanBucket, cleanKey, ttl)
}

func (s *FileStore) resolve(ctx context.Context, bucket, path string) (string, error) {
	if s == nil {
		return "", errors.New("storage: no store configured")
	}
	if err := ctx.Err(); err != nil {
		return "", err
	}
	cleanBucket, err := sanitizeBucket(bucket)
	if err != nil {
		return "", err
	}
	cleanKey, err := sanitizeKey(path)
	if err != nil {
		return "", err
	}
	return filepath.Join(s.basePath, cleanBucket, filepath.FromSlash(cleanKey)), nil
}

func sanitizeBucket(bucket string) (string, error) {
	bucket = strings.TrimSpace(bucket)
	if bucket == "" || strings.ContainsAny(bucket, `/\.`) {
		return "", errors.New("storage: invalid bucket")
	}
	return bucket, nil
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
	cleaned := filepath.Clean(key)
	cleaned = strings.ReplaceAll(cleaned, "\\", "/")
	if cleaned == "." || cleaned == ".." || strings.HasPrefix(cleaned, "../") {
		return "", errors.New("storage: invalid key")
	}
	return cleaned, nil
}

var _ ObjectStore = (*FileStore)(nil)
