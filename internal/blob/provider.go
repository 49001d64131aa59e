// Package blob defines the object store holding hosted assets and archives.
package blob

import (
	"context"
	"io"
	"net/http"
	"time"
)

// Object describes a stored blob.
type Object struct {
	Key         string    `json:"key"`
	ContentType string    `json:"content_type"`
	Size        int64     `json:"size"`
	ETag        string    `json:"etag,omitempty"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// Provider is a key/value blob store with presigned URLs. Missing keys are
// reported as apperr.ErrNotFound.
type Provider interface {
	// Put stores the content of r under key, replacing any existing object.
	Put(ctx context.Context, key string, r io.Reader, contentType string) (Object, error)
	// Get opens the object for reading. The caller closes the reader.
	Get(ctx context.Context, key string) (io.ReadCloser, Object, error)
	// Stat returns the object metadata.
	Stat(ctx context.Context, key string) (Object, error)
	// Delete removes the object.
	Delete(ctx context.Context, key string) error
	// SignedURL returns a URL granting method on key until ttl elapses.
	SignedURL(ctx context.Context, key, method string, ttl time.Duration) (string, error)
}

// Methods a signed URL can grant.
const (
	MethodGet = http.MethodGet
	MethodPut = http.MethodPut
)
