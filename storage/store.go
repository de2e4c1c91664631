package storage

import (
	"context"
	"fmt"
	"io"
	"time"
)

// StorageErrorKind classifies artifact store failures.
type StorageErrorKind int

const (
	// Unavailable covers network errors, timeouts and any failure the caller
	// may reasonably retry.
	Unavailable StorageErrorKind = iota
	// PermissionDenied covers credential and policy failures; retrying does
	// not help.
	PermissionDenied
)

func (k StorageErrorKind) String() string {
	switch k {
	case Unavailable:
		return "unavailable"
	case PermissionDenied:
		return "permission denied"
	default:
		return "unknown"
	}
}

// StorageError wraps an object storage failure with its classification.
type StorageError struct {
	Kind StorageErrorKind
	Op   string // "put", "get", "presign"
	Ref  string
	Err  error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("storage %s %q: %s: %v", e.Op, e.Ref, e.Kind, e.Err)
}

func (e *StorageError) Unwrap() error { return e.Err }

// Retryable reports whether the failure class is worth retrying.
func (e *StorageError) Retryable() bool { return e.Kind == Unavailable }

// ArtifactStore moves files between local scratch space and durable object
// storage. Implementations must be safe for concurrent use.
type ArtifactStore interface {
	// Put uploads data under key and returns the durable storage ref.
	Put(ctx context.Context, key string, data io.Reader, size int64, contentType string) (string, error)
	// PutFile uploads a local file under key and returns the storage ref.
	PutFile(ctx context.Context, key, localPath string) (string, error)
	// Get opens the object at ref for reading. The caller closes it.
	Get(ctx context.Context, ref string) (io.ReadCloser, error)
	// PresignedURL returns a time-limited URL for direct client access to ref.
	PresignedURL(ctx context.Context, ref string, ttl time.Duration) (string, error)
}
