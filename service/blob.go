package service

import (
	"context"
	"fmt"
	"net/url"
	"sync"
	"time"

	"github.com/bobby854854854/LexiSense/config"
	"github.com/google/uuid"
)

// Blob metadata keys
const (
	MetaOrganizationID   = "organization-id"
	MetaOriginalFilename = "original-filename"
)

// BlobStore persists uploaded contract bytes.
type BlobStore interface {
	Put(ctx context.Context, key string, data []byte, contentType string, metadata map[string]string) error
	Get(ctx context.Context, key string) ([]byte, error)
	Delete(ctx context.Context, key string) error
	Exists(ctx context.Context, key string) (bool, error)
	SignedURL(ctx context.Context, key string, ttl time.Duration) (string, error)
}

// StorageKey builds a fresh key for a tenant's upload of the given type.
func StorageKey(tenantID, mimeType string) string {
	return fmt.Sprintf("contracts/%s/%s.%s", tenantID, uuid.NewString(), Extension(mimeType))
}

// NewBlobStore creates the backend selected by cfg.Storage.Backend.
func NewBlobStore(ctx context.Context, cfg *config.Config) (BlobStore, error) {
	switch cfg.Storage.Backend {
	case "minio":
		store, err := NewMinioService(&cfg.Minio)
		if err != nil {
			return nil, err
		}
		if err := store.EnsureBucket(ctx); err != nil {
			return nil, err
		}
		return store, nil
	case "s3":
		return NewS3Store(ctx, &cfg.S3)
	case "gcs":
		return NewGCSStore(ctx, &cfg.GCS)
	case "memory":
		return NewMemoryBlobStore(), nil
	}
	return nil, fmt.Errorf("unsupported storage backend: %s", cfg.Storage.Backend)
}

type memoryBlob struct {
	data        []byte
	contentType string
	metadata    map[string]string
}

// MemoryBlobStore keeps blobs in process, for tests and local runs.
type MemoryBlobStore struct {
	mu    sync.RWMutex
	blobs map[string]memoryBlob
}

func NewMemoryBlobStore() *MemoryBlobStore {
	return &MemoryBlobStore{blobs: make(map[string]memoryBlob)}
}

func (s *MemoryBlobStore) Put(_ context.Context, key string, data []byte, contentType string, metadata map[string]string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.blobs[key] = memoryBlob{
		data:        append([]byte(nil), data...),
		contentType: contentType,
		metadata:    metadata,
	}
	return nil
}

func (s *MemoryBlobStore) Get(_ context.Context, key string) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	b, ok := s.blobs[key]
	if !ok {
		return nil, fmt.Errorf("%s: %w", key, ErrBlobNotFound)
	}
	return append([]byte(nil), b.data...), nil
}

func (s *MemoryBlobStore) Delete(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.blobs, key)
	return nil
}

func (s *MemoryBlobStore) Exists(_ context.Context, key string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.blobs[key]
	return ok, nil
}

func (s *MemoryBlobStore) SignedURL(_ context.Context, key string, ttl time.Duration) (string, error) {
	s.mu.RLock()
	_, ok := s.blobs[key]
	s.mu.RUnlock()
	if !ok {
		return "", fmt.Errorf("%s: %w", key, ErrBlobNotFound)
	}
	q := url.Values{}
	q.Set("expires", time.Now().Add(ttl).UTC().Format(time.RFC3339))
	return "memory://" + key + "?" + q.Encode(), nil
}

// Metadata returns the metadata stored with key.
func (s *MemoryBlobStore) Metadata(key string) map[string]string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.blobs[key].metadata
}

// Len returns the number of stored blobs.
func (s *MemoryBlobStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.blobs)
}
