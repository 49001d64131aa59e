package blob

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"time"

	"cloud.google.com/go/storage"
	"google.golang.org/api/option"

	"github.com/starford/tapestry/internal/apperr"
)

// GCS implements Provider on a Google Cloud Storage bucket.
type GCS struct {
	client *storage.Client
	bucket string
}

// NewGCS connects to bucket. credentialsFile may be empty to use the
// application default credentials.
func NewGCS(ctx context.Context, bucket, credentialsFile string) (*GCS, error) {
	var opts []option.ClientOption
	if credentialsFile != "" {
		opts = append(opts, option.WithCredentialsFile(credentialsFile))
	}
	client, err := storage.NewClient(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("blob: create gcs client: %w", err)
	}
	return &GCS{client: client, bucket: bucket}, nil
}

// Close releases the client.
func (g *GCS) Close() error {
	return g.client.Close()
}

func (g *GCS) object(key string) *storage.ObjectHandle {
	return g.client.Bucket(g.bucket).Object(key)
}

// Put uploads the object.
func (g *GCS) Put(ctx context.Context, key string, r io.Reader, contentType string) (Object, error) {
	var w *storage.Writer
	open := func(wctx context.Context) io.WriteCloser {
		w = g.object(key).NewWriter(wctx)
		w.ContentType = contentType
		return w
	}
	if err := copyObject(ctx, open, r); err != nil {
		return Object{}, fmt.Errorf("blob: put gs://%s/%s: %w", g.bucket, key, err)
	}
	return fromAttrs(w.Attrs()), nil
}

// copyObject streams r into the writer returned by open. The writer only
// commits on Close, so a failed copy cancels its context instead, which
// aborts the upload and leaves no partial object behind.
func copyObject(ctx context.Context, open func(context.Context) io.WriteCloser, r io.Reader) error {
	wctx, cancel := context.WithCancel(ctx)
	defer cancel()

	w := open(wctx)
	if _, err := io.Copy(w, r); err != nil {
		cancel()
		return fmt.Errorf("upload: %w", err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("finish upload: %w", err)
	}
	return nil
}

// Get opens the object for reading.
func (g *GCS) Get(ctx context.Context, key string) (io.ReadCloser, Object, error) {
	rc, err := g.object(key).NewReader(ctx)
	if err != nil {
		return nil, Object{}, gcsError(key, err)
	}
	return rc, Object{
		Key:         key,
		ContentType: rc.Attrs.ContentType,
		Size:        rc.Attrs.Size,
		UpdatedAt:   rc.Attrs.LastModified,
	}, nil
}

// Stat returns the object metadata.
func (g *GCS) Stat(ctx context.Context, key string) (Object, error) {
	attrs, err := g.object(key).Attrs(ctx)
	if err != nil {
		return Object{}, gcsError(key, err)
	}
	return fromAttrs(attrs), nil
}

// Delete removes the object.
func (g *GCS) Delete(ctx context.Context, key string) error {
	if err := g.object(key).Delete(ctx); err != nil {
		return gcsError(key, err)
	}
	return nil
}

// SignedURL returns a V4 signed URL for the object.
func (g *GCS) SignedURL(_ context.Context, key, method string, ttl time.Duration) (string, error) {
	u, err := g.client.Bucket(g.bucket).SignedURL(key, &storage.SignedURLOptions{
		Scheme:  storage.SigningSchemeV4,
		Method:  method,
		Expires: time.Now().Add(ttl),
	})
	if err != nil {
		return "", fmt.Errorf("blob: sign gs://%s/%s: %w", g.bucket, key, err)
	}
	return u, nil
}

func fromAttrs(a *storage.ObjectAttrs) Object {
	if a == nil {
		return Object{}
	}
	return Object{
		Key:         a.Name,
		ContentType: a.ContentType,
		Size:        a.Size,
		ETag:        hex.EncodeToString(a.MD5),
		UpdatedAt:   a.Updated,
	}
}

func gcsError(key string, err error) error {
	if errors.Is(err, storage.ErrObjectNotExist) {
		return fmt.Errorf("blob: %s: %w", key, apperr.ErrNotFound)
	}
	return fmt.Errorf("blob: %s: %w", key, err)
}
