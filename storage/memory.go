package storage

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"sync"
	"time"
)

// MemoryStore is an in-process ArtifactStore used by tests and local
// development. It keeps every object in a map.
type MemoryStore struct {
	mu      sync.Mutex
	objects map[string][]byte

	// FailPuts makes every Put fail with a retryable StorageError when > 0,
	// decrementing per call. Tests use it to exercise upload retry paths.
	FailPuts int
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{objects: make(map[string][]byte)}
}

// Put stores data under key.
func (s *MemoryStore) Put(ctx context.Context, key string, data io.Reader, size int64, contentType string) (string, error) {
	buf, err := io.ReadAll(data)
	if err != nil {
		return "", fmt.Errorf("failed to read object data: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.FailPuts > 0 {
		s.FailPuts--
		return "", &StorageError{Kind: Unavailable, Op: "put", Ref: key, Err: fmt.Errorf("injected failure")}
	}
	s.objects[key] = buf
	return key, nil
}

// PutFile stores a local file under key.
func (s *MemoryStore) PutFile(ctx context.Context, key, localPath string) (string, error) {
	f, err := os.Open(localPath)
	if err != nil {
		return "", fmt.Errorf("failed to open %s: %w", localPath, err)
	}
	defer f.Close()
	return s.Put(ctx, key, f, -1, inferContentType(localPath))
}

// Get opens the object at ref.
func (s *MemoryStore) Get(ctx context.Context, ref string) (io.ReadCloser, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	buf, ok := s.objects[ref]
	if !ok {
		return nil, &StorageError{Kind: Unavailable, Op: "get", Ref: ref, Err: fmt.Errorf("no such object")}
	}
	return io.NopCloser(bytes.NewReader(buf)), nil
}

// PresignedURL returns a fake URL for ref.
func (s *MemoryStore) PresignedURL(ctx context.Context, ref string, ttl time.Duration) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.objects[ref]; !ok {
		return "", &StorageError{Kind: Unavailable, Op: "presign", Ref: ref, Err: fmt.Errorf("no such object")}
	}
	return "memory://" + ref, nil
}

// Object returns a stored object's bytes, for test assertions.
func (s *MemoryStore) Object(ref string) ([]byte, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	buf, ok := s.objects[ref]
	return buf, ok
}

// Len returns the number of stored objects.
func (s *MemoryStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.objects)
}
